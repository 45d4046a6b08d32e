// Package bridge owns a single native inference handle and serializes every
// operation on it through one worker goroutine.
//
// Callers submit requests asynchronously and receive exactly one Response per
// request, or a closed channel when the request was cancelled by Shutdown.
// Requests execute in submission order and never overlap on the engine.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/armhack/whisperbridge/internal/telemetry"
	"go.uber.org/zap"
)

// Engine is the native boundary the bridge drives. Implementations need not
// be safe for concurrent use; the bridge never calls them concurrently.
type Engine interface {
	Init(ctx context.Context, modelPath string) (bool, error)
	Transcribe(ctx context.Context, audioPath, language string) (string, error)
	Free(ctx context.Context) error
}

// State is where the bridge is in its handle lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Bridge. The zero value is usable.
type Options struct {
	Logger   *zap.Logger
	Recorder *telemetry.Recorder
	// CallTimeout bounds each native call. Zero means no deadline.
	CallTimeout time.Duration
}

type job struct {
	req   Request
	reply chan Response
}

// Bridge owns one engine handle and runs every call on it from a single worker.
type Bridge struct {
	engine      Engine
	log         *zap.Logger
	recorder    *telemetry.Recorder
	callTimeout time.Duration

	mu      sync.Mutex
	live    bool
	closing bool
	queue   []*job

	wake        chan struct{}
	done        chan struct{}
	shutdownErr error
}

// New starts the worker for engine. Call Shutdown to stop it and free the handle.
func New(engine Engine, opts Options) (*Bridge, error) {
	if engine == nil {
		return nil, errors.New("bridge: engine is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bridge{
		engine:      engine,
		log:         logger.With(zap.String("component", "bridge")),
		recorder:    opts.Recorder,
		callTimeout: opts.CallTimeout,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	go b.run()
	return b, nil
}

// Submit queues req and returns immediately. The returned channel yields one
// Response and is then closed; it is closed without a value if the request is
// cancelled by Shutdown before it starts or finishes after Shutdown began.
func (b *Bridge) Submit(req Request) <-chan Response {
	reply := make(chan Response, 1)

	req, verr := req.validate()
	if verr != nil {
		reply <- Response{Op: req.Op, Err: verr}
		close(reply)
		return reply
	}

	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		reply <- Response{Op: req.Op, Err: newError(KindClosed, req.Op, "bridge is shut down")}
		close(reply)
		return reply
	}
	b.queue = append(b.queue, &job{req: req, reply: reply})
	b.mu.Unlock()

	b.signal()
	return reply
}

func (b *Bridge) Initialize(ctx context.Context, modelPath string) (bool, error) {
	resp, err := b.await(ctx, OpInitialize, b.Submit(Initialize(modelPath)))
	if err != nil {
		return false, err
	}
	return resp.Loaded, resp.Err
}

func (b *Bridge) Transcribe(ctx context.Context, audioPath, language string) (string, error) {
	resp, err := b.await(ctx, OpTranscribe, b.Submit(Transcribe(audioPath, language)))
	if err != nil {
		return "", err
	}
	return resp.Text, resp.Err
}

func (b *Bridge) Release(ctx context.Context) error {
	resp, err := b.await(ctx, OpRelease, b.Submit(Release()))
	if err != nil {
		return err
	}
	return resp.Err
}

// Shutdown cancels queued requests, waits for the in-flight call to finish,
// frees any live handle and stops the worker. Later calls wait for the same
// completion and return the same result.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if !b.closing {
		b.closing = true
		pending := b.queue
		b.queue = nil
		b.mu.Unlock()

		for _, j := range pending {
			b.recorder.RecordCancelled(j.req.Op.String())
			close(j.reply)
		}
		if len(pending) > 0 {
			b.log.Info("cancelled queued requests", zap.Int("count", len(pending)))
		}
		b.signal()
	} else {
		b.mu.Unlock()
	}

	select {
	case <-b.done:
		return b.shutdownErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the worker has exited and any live handle was released.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.closing:
		return StateClosed
	case b.live:
		return StateReady
	default:
		return StateUninitialized
	}
}

func (b *Bridge) Snapshot() telemetry.Snapshot {
	return b.recorder.Snapshot()
}

func (b *Bridge) await(ctx context.Context, op Op, replies <-chan Response) (Response, error) {
	select {
	case resp, ok := <-replies:
		if !ok {
			return Response{}, newError(KindClosed, op, "request cancelled by shutdown")
		}
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (b *Bridge) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) run() {
	defer close(b.done)

	for {
		j, ok := b.next()
		if !ok {
			break
		}
		b.deliver(j, b.execute(j.req))
	}

	b.releaseOnShutdown()
	b.recorder.LogSummary()
	b.log.Info("bridge stopped")
}

func (b *Bridge) next() (*job, bool) {
	for {
		b.mu.Lock()
		if b.closing {
			b.mu.Unlock()
			return nil, false
		}
		if len(b.queue) > 0 {
			j := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return j, true
		}
		b.mu.Unlock()
		<-b.wake
	}
}

// deliver holds the lock while sending so a result can never slip out after
// Shutdown marked the bridge closed. The send never blocks: the reply channel
// is buffered and has a single sender.
func (b *Bridge) deliver(j *job, resp Response) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closing {
		b.log.Debug("discarding result of request finished during shutdown", zap.Stringer("op", j.req.Op))
		close(j.reply)
		return
	}
	j.reply <- resp
	close(j.reply)
}

func (b *Bridge) execute(req Request) Response {
	switch req.Op {
	case OpInitialize:
		return b.initialize(req)
	case OpTranscribe:
		return b.transcribe(req)
	case OpRelease:
		return b.release()
	default:
		return Response{Op: req.Op, Err: newError(KindUnknownCall, req.Op, "unsupported operation")}
	}
}

func (b *Bridge) initialize(req Request) Response {
	resp := Response{Op: OpInitialize}
	if b.isLive() {
		resp.Err = newError(KindAlreadyInitialized, OpInitialize, "a model is already loaded; free it first")
		return resp
	}

	b.log.Info("loading model", zap.String("model", req.ModelPath))
	var loaded bool
	err := b.call(OpInitialize, func(ctx context.Context) error {
		var err error
		loaded, err = b.engine.Init(ctx, req.ModelPath)
		return err
	})
	if err != nil {
		b.log.Warn("initialize failed", zap.String("model", req.ModelPath), zap.Error(err))
		resp.Err = wrapError(KindInitFailed, OpInitialize, err)
		return resp
	}
	if !loaded {
		b.log.Warn("engine rejected model", zap.String("model", req.ModelPath))
		return resp
	}

	b.setLive(true)
	resp.Loaded = true
	b.log.Info("model loaded", zap.String("model", req.ModelPath))
	return resp
}

func (b *Bridge) transcribe(req Request) Response {
	resp := Response{Op: OpTranscribe}
	if !b.isLive() {
		resp.Err = newError(KindInvalidState, OpTranscribe, "no model loaded; initialize first")
		return resp
	}

	b.log.Debug("transcribing", zap.String("audio", req.AudioPath), zap.String("language", req.Language))
	err := b.call(OpTranscribe, func(ctx context.Context) error {
		var err error
		resp.Text, err = b.engine.Transcribe(ctx, req.AudioPath, req.Language)
		return err
	})
	if err != nil {
		b.log.Warn("transcribe failed", zap.String("audio", req.AudioPath), zap.Error(err))
		resp.Text = ""
		resp.Err = wrapError(KindTranscribeFailed, OpTranscribe, err)
	}
	return resp
}

func (b *Bridge) release() Response {
	resp := Response{Op: OpRelease}
	if !b.isLive() {
		b.log.Debug("release without live handle")
		return resp
	}

	if err := b.call(OpRelease, b.engine.Free); err != nil {
		b.log.Warn("release failed; handle kept", zap.Error(err))
		resp.Err = wrapError(KindFreeFailed, OpRelease, err)
		return resp
	}

	b.setLive(false)
	b.log.Info("model released")
	return resp
}

func (b *Bridge) releaseOnShutdown() {
	if !b.isLive() {
		return
	}

	if err := b.call(OpRelease, b.engine.Free); err != nil {
		b.log.Error("failed to release native handle on shutdown", zap.Error(err))
		b.shutdownErr = wrapError(KindFreeFailed, OpRelease, err)
		return
	}
	b.setLive(false)
	b.log.Info("released native handle on shutdown")
}

// call runs fn with the per-call deadline and converts a panic in the engine
// into an error.
func (b *Bridge) call(op Op, fn func(context.Context) error) (err error) {
	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if b.callTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, b.callTimeout)
	}
	defer cancel()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
		b.recorder.RecordCall(op.String(), time.Since(started), err)
	}()

	return fn(ctx)
}

func (b *Bridge) isLive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

func (b *Bridge) setLive(live bool) {
	b.mu.Lock()
	b.live = live
	b.mu.Unlock()
}
