package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Recorder tracks per-operation call counts and latencies for the bridge.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	log *zap.Logger

	mu  sync.Mutex
	ops map[string]*opStats
}

type opStats struct {
	calls     uint64
	failures  uint64
	cancelled uint64
	total     time.Duration
	max       time.Duration
}

// OpSnapshot is an immutable view of one operation's totals.
type OpSnapshot struct {
	Calls     uint64
	Failures  uint64
	Cancelled uint64
	Total     time.Duration
	Max       time.Duration
}

// Mean returns the average latency of completed calls.
func (s OpSnapshot) Mean() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Calls)
}

type Snapshot map[string]OpSnapshot

func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		log: logger.With(zap.String("component", "telemetry")),
		ops: make(map[string]*opStats),
	}
}

// RecordCall stores the outcome of one native call and emits a benchmark record.
func (r *Recorder) RecordCall(op string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}

	r.mu.Lock()
	stats := r.statsLocked(op)
	stats.calls++
	stats.total += elapsed
	if elapsed > stats.max {
		stats.max = elapsed
	}
	if err != nil {
		stats.failures++
	}
	r.mu.Unlock()

	r.log.Debug("benchmark",
		zap.String("op", op),
		zap.Int64("elapsed_ms", elapsed.Milliseconds()),
		zap.Bool("ok", err == nil),
	)
}

// RecordCancelled counts requests dropped before they reached the engine.
func (r *Recorder) RecordCancelled(op string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.statsLocked(op).cancelled++
	r.mu.Unlock()
}

func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(Snapshot, len(r.ops))
	for op, stats := range r.ops {
		out[op] = OpSnapshot{
			Calls:     stats.calls,
			Failures:  stats.failures,
			Cancelled: stats.cancelled,
			Total:     stats.total,
			Max:       stats.max,
		}
	}
	return out
}

// LogSummary writes one line per operation with its totals.
func (r *Recorder) LogSummary() {
	if r == nil {
		return
	}
	for op, s := range r.Snapshot() {
		r.log.Info("benchmark summary",
			zap.String("op", op),
			zap.Uint64("calls", s.Calls),
			zap.Uint64("failures", s.Failures),
			zap.Uint64("cancelled", s.Cancelled),
			zap.Int64("mean_ms", s.Mean().Milliseconds()),
			zap.Int64("max_ms", s.Max.Milliseconds()),
		)
	}
}

func (r *Recorder) statsLocked(op string) *opStats {
	stats, ok := r.ops[op]
	if !ok {
		stats = &opStats{}
		r.ops[op] = stats
	}
	return stats
}
