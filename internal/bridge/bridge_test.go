package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/armhack/whisperbridge/internal/telemetry"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu         sync.Mutex
	inits      int
	transcribe int
	frees      int
	languages  []string
	deadlines  []bool

	initResult    bool
	initErr       error
	transcribeErr error
	freeErr       error
	panicOn       string
	text          string

	// gate, when set, blocks Transcribe until it is closed.
	gate    chan struct{}
	started chan string

	inFlight   atomic.Int32
	overlapped atomic.Bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		initResult: true,
		text:       "hello world",
		started:    make(chan string, 64),
	}
}

func (f *fakeEngine) enter(op string) {
	if f.inFlight.Add(1) > 1 {
		f.overlapped.Store(true)
	}
	f.started <- op
}

func (f *fakeEngine) leave() {
	f.inFlight.Add(-1)
}

func (f *fakeEngine) Init(ctx context.Context, _ string) (bool, error) {
	f.enter("init")
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	if f.panicOn == "init" {
		panic("corrupt model")
	}
	return f.initResult, f.initErr
}

func (f *fakeEngine) Transcribe(ctx context.Context, _ string, language string) (string, error) {
	f.enter("transcribe")
	defer f.leave()

	if f.gate != nil {
		<-f.gate
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcribe++
	f.languages = append(f.languages, language)
	_, hasDeadline := ctx.Deadline()
	f.deadlines = append(f.deadlines, hasDeadline)
	if f.panicOn == "transcribe" {
		panic("decoder exploded")
	}
	if f.transcribeErr != nil {
		return "", f.transcribeErr
	}
	return f.text, nil
}

func (f *fakeEngine) Free(context.Context) error {
	f.enter("free")
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.frees++
	return f.freeErr
}

func (f *fakeEngine) counts() (inits, transcribes, frees int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits, f.transcribe, f.frees
}

func newTestBridge(t *testing.T, engine Engine, opts Options) *Bridge {
	t.Helper()

	b, err := New(engine, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
	})
	return b
}

func TestNewRequiresEngine(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Options{})
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	b := newTestBridge(t, engine, Options{})
	ctx := context.Background()

	loaded, err := b.Initialize(ctx, "model.bin")
	require.NoError(t, err)
	require.True(t, loaded)
	require.Equal(t, StateReady, b.State())

	text, err := b.Transcribe(ctx, "a.wav", "en")
	require.NoError(t, err)
	require.Equal(t, "hello world", text)

	require.NoError(t, b.Release(ctx))
	require.Equal(t, StateUninitialized, b.State())

	_, err = b.Transcribe(ctx, "a.wav", "en")
	require.ErrorIs(t, err, ErrInvalidState)

	inits, transcribes, frees := engine.counts()
	require.Equal(t, 1, inits)
	require.Equal(t, 1, transcribes)
	require.Equal(t, 1, frees)
}

func TestTranscribeBeforeInitializeNeverReachesEngine(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	b := newTestBridge(t, engine, Options{})

	_, err := b.Transcribe(context.Background(), "a.wav", "en")
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, KindInvalidState, KindOf(err))
	require.Equal(t, "INVALID_STATE", KindOf(err).Code())

	_, transcribes, _ := engine.counts()
	require.Zero(t, transcribes)
}

func TestDoubleInitializeIsRejectedWithoutLeak(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	b := newTestBridge(t, engine, Options{})
	ctx := context.Background()

	loaded, err := b.Initialize(ctx, "model.bin")
	require.NoError(t, err)
	require.True(t, loaded)

	loaded, err = b.Initialize(ctx, "other.bin")
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	require.False(t, loaded)
	require.Equal(t, StateReady, b.State())

	text, err := b.Transcribe(ctx, "a.wav", "")
	require.NoError(t, err)
	require.Equal(t, "hello world", text)

	inits, _, frees := engine.counts()
	require.Equal(t, 1, inits)
	require.Zero(t, frees)
}

func TestInitializeRejectedModelAllowsRetry(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.initResult = false
	b := newTestBridge(t, engine, Options{})
	ctx := context.Background()

	loaded, err := b.Initialize(ctx, "missing.bin")
	require.NoError(t, err)
	require.False(t, loaded)
	require.Equal(t, StateUninitialized, b.State())

	engine.mu.Lock()
	engine.initResult = true
	engine.mu.Unlock()

	loaded, err = b.Initialize(ctx, "model.bin")
	require.NoError(t, err)
	require.True(t, loaded)
	require.Equal(t, StateReady, b.State())
}

func TestInitializeFailureWrapsEngineMessage(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.initErr = errors.New("invalid model file: bad magic")
	b := newTestBridge(t, engine, Options{})

	_, err := b.Initialize(context.Background(), "model.bin")
	require.ErrorIs(t, err, ErrInitFailed)
	require.Contains(t, err.Error(), "bad magic")
	require.Equal(t, StateUninitialized, b.State())

	var bridgeErr *Error
	require.ErrorAs(t, err, &bridgeErr)
	require.Equal(t, "invalid model file: bad magic", bridgeErr.Message())
	require.Equal(t, "INIT_FAILED", bridgeErr.Kind.Code())
}

func TestEnginePanicBecomesStructuredFailure(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.panicOn = "transcribe"
	b := newTestBridge(t, engine, Options{})
	ctx := context.Background()

	_, err := b.Initialize(ctx, "model.bin")
	require.NoError(t, err)

	_, err = b.Transcribe(ctx, "a.wav", "en")
	require.ErrorIs(t, err, ErrTranscribeFailed)
	require.Contains(t, err.Error(), "decoder exploded")
	require.Equal(t, StateReady, b.State())
}

func TestTranscribeFailureKeepsHandle(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.transcribeErr = errors.New("cannot open wav")
	b := newTestBridge(t, engine, Options{})
	ctx := context.Background()

	_, err := b.Initialize(ctx, "model.bin")
	require.NoError(t, err)

	text, err := b.Transcribe(ctx, "missing.wav", "de")
	require.ErrorIs(t, err, ErrTranscribeFailed)
	require.Empty(t, text)
	require.Equal(t, StateReady, b.State())
}

func TestReleaseWithoutHandleIsNoop(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	b := newTestBridge(t, engine, Options{})

	require.NoError(t, b.Release(context.Background()))
	require.NoError(t, b.Release(context.Background()))

	_, _, frees := engine.counts()
	require.Zero(t, frees)
}

func TestReleaseFailureKeepsHandleForRetry(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.freeErr = errors.New("device busy")
	b := newTestBridge(t, engine, Options{})
	ctx := context.Background()

	_, err := b.Initialize(ctx, "model.bin")
	require.NoError(t, err)

	err = b.Release(ctx)
	require.ErrorIs(t, err, ErrFreeFailed)
	require.Equal(t, "FREE_FAILED", KindOf(err).Code())
	require.Equal(t, StateReady, b.State())

	engine.mu.Lock()
	engine.freeErr = nil
	engine.mu.Unlock()

	require.NoError(t, b.Release(ctx))
	require.Equal(t, StateUninitialized, b.State())

	_, _, frees := engine.counts()
	require.Equal(t, 2, frees)
}

func TestSubmitValidatesArgumentsBeforeQueueing(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	b := newTestBridge(t, engine, Options{})

	resp := <-b.Submit(Initialize("  "))
	require.ErrorIs(t, resp.Err, ErrInvalidArgument)
	require.Contains(t, resp.Err.Error(), "modelPath is required")

	resp = <-b.Submit(Transcribe("", "en"))
	require.ErrorIs(t, resp.Err, ErrInvalidArgument)
	require.Contains(t, resp.Err.Error(), "audioPath is required")

	resp = <-b.Submit(Request{Op: Op(42)})
	require.ErrorIs(t, resp.Err, ErrUnknownCall)

	inits, transcribes, _ := engine.counts()
	require.Zero(t, inits)
	require.Zero(t, transcribes)
}

func TestTranscribeDefaultsLanguage(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	b := newTestBridge(t, engine, Options{})
	ctx := context.Background()

	_, err := b.Initialize(ctx, "model.bin")
	require.NoError(t, err)
	_, err = b.Transcribe(ctx, "a.wav", "")
	require.NoError(t, err)
	_, err = b.Transcribe(ctx, "a.wav", " DE ")
	require.NoError(t, err)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Equal(t, []string{"en", "de"}, engine.languages)
}

func TestSubmissionOrderIsPreserved(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	b := newTestBridge(t, engine, Options{})

	initReply := b.Submit(Initialize("model.bin"))
	transcribeReply := b.Submit(Transcribe("a.wav", "en"))
	releaseReply := b.Submit(Release())
	afterReply := b.Submit(Transcribe("a.wav", "en"))

	require.True(t, (<-initReply).Loaded)
	require.Equal(t, "hello world", (<-transcribeReply).Text)
	require.NoError(t, (<-releaseReply).Err)
	require.ErrorIs(t, (<-afterReply).Err, ErrInvalidState)
}

func TestConcurrentSubmissionsAreSerialized(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.started = make(chan string, 256)
	b := newTestBridge(t, engine, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Initialize(ctx, "model.bin")
		}()
	}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Transcribe(ctx, "a.wav", "en")
		}()
	}
	wg.Wait()

	require.False(t, engine.overlapped.Load(), "engine saw overlapping native calls")

	inits, _, _ := engine.counts()
	require.Equal(t, 1, inits)
}

func TestShutdownCancelsQueuedAndDiscardsInFlight(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.gate = make(chan struct{})
	b, err := New(engine, Options{})
	require.NoError(t, err)

	_, err = b.Initialize(context.Background(), "model.bin")
	require.NoError(t, err)
	require.Equal(t, "init", <-engine.started)

	inFlight := b.Submit(Transcribe("a.wav", "en"))
	require.Equal(t, "transcribe", <-engine.started)
	queued := b.Submit(Transcribe("b.wav", "en"))

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- b.Shutdown(context.Background())
	}()

	_, ok := <-queued
	require.False(t, ok, "queued request must be cancelled, not delivered")

	close(engine.gate)

	_, ok = <-inFlight
	require.False(t, ok, "in-flight result must be discarded after shutdown")

	require.NoError(t, <-shutdownDone)
	require.Equal(t, StateClosed, b.State())

	inits, transcribes, frees := engine.counts()
	require.Equal(t, 1, inits)
	require.Equal(t, 1, transcribes)
	require.Equal(t, 1, frees, "live handle must be released on shutdown")
}

func TestShutdownReleasesLiveHandleAndRejectsNewWork(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	b, err := New(engine, Options{})
	require.NoError(t, err)

	_, err = b.Initialize(context.Background(), "model.bin")
	require.NoError(t, err)

	require.NoError(t, b.Shutdown(context.Background()))
	require.NoError(t, b.Shutdown(context.Background()))

	_, _, frees := engine.counts()
	require.Equal(t, 1, frees)

	_, err = b.Transcribe(context.Background(), "a.wav", "en")
	require.ErrorIs(t, err, ErrClosed)
	require.Equal(t, "CLOSED", KindOf(err).Code())

	select {
	case <-b.Done():
	default:
		t.Fatal("worker should have stopped")
	}
}

func TestShutdownWithoutHandleDoesNotFree(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	b, err := New(engine, Options{})
	require.NoError(t, err)

	require.NoError(t, b.Shutdown(context.Background()))

	_, _, frees := engine.counts()
	require.Zero(t, frees)
}

func TestShutdownReportsFinalReleaseFailure(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.freeErr = errors.New("still referenced")
	b, err := New(engine, Options{})
	require.NoError(t, err)

	_, err = b.Initialize(context.Background(), "model.bin")
	require.NoError(t, err)

	err = b.Shutdown(context.Background())
	require.ErrorIs(t, err, ErrFreeFailed)
	require.ErrorIs(t, b.Shutdown(context.Background()), ErrFreeFailed)
}

func TestShutdownHonoursContextWhileCallInFlight(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.gate = make(chan struct{})
	b, err := New(engine, Options{})
	require.NoError(t, err)

	_, err = b.Initialize(context.Background(), "model.bin")
	require.NoError(t, err)
	<-engine.started

	_ = b.Submit(Transcribe("a.wav", "en"))
	<-engine.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, b.Shutdown(ctx), context.DeadlineExceeded)

	close(engine.gate)
	<-b.Done()
	_, _, frees := engine.counts()
	require.Equal(t, 1, frees)
}

func TestAwaitHonoursCallerContext(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.gate = make(chan struct{})
	b := newTestBridge(t, engine, Options{})

	_, err := b.Initialize(context.Background(), "model.bin")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Transcribe(ctx, "a.wav", "en")
	require.ErrorIs(t, err, context.Canceled)

	close(engine.gate)
}

func TestCallTimeoutIsAppliedToNativeCalls(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	b := newTestBridge(t, engine, Options{CallTimeout: time.Minute})
	ctx := context.Background()

	_, err := b.Initialize(ctx, "model.bin")
	require.NoError(t, err)
	_, err = b.Transcribe(ctx, "a.wav", "en")
	require.NoError(t, err)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Equal(t, []bool{true}, engine.deadlines)
}

func TestRecorderCountsNativeCalls(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	recorder := telemetry.NewRecorder(nil)
	b := newTestBridge(t, engine, Options{Recorder: recorder})
	ctx := context.Background()

	_, err := b.Initialize(ctx, "model.bin")
	require.NoError(t, err)
	_, err = b.Transcribe(ctx, "a.wav", "en")
	require.NoError(t, err)
	_, err = b.Transcribe(ctx, "b.wav", "en")
	require.NoError(t, err)

	snap := b.Snapshot()
	require.Equal(t, uint64(1), snap["initialize"].Calls)
	require.Equal(t, uint64(2), snap["transcribe"].Calls)
}
