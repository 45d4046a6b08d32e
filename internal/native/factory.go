package native

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type Options struct {
	// Executable is the whisper-cli binary for the cli engine.
	Executable  string
	LibraryDirs []string
	Threads     int
	UseGPU      bool

	StubText       string
	AcceptAnyModel bool

	// Runtime defaults to the process-wide runtime.
	Runtime *Runtime
}

// New builds the engine named by kind. The native library runtime is
// initialized first for the cli and whispercpp engines.
func New(kind string, opts Options, logger *zap.Logger) (Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" || kind == KindAuto {
		kind = KindCLI
		if WhisperCPPAvailable() {
			kind = KindWhisperCPP
		}
		logger.Debug("selected engine", zap.String("engine", kind))
	}

	switch kind {
	case KindStub:
		return NewStubEngine(StubOptions{Text: opts.StubText, AcceptAnyModel: opts.AcceptAnyModel, Logger: logger}), nil
	case KindCLI:
		libs, err := opts.runtime().Init(RuntimeOptions{LibraryDirs: opts.LibraryDirs, Logger: logger})
		if err != nil {
			if !errors.Is(err, ErrEngineLibraryMissing) {
				return nil, err
			}
			logger.Warn("engine library not found; assuming whisper-cli is statically linked", zap.Error(err))
		}
		return NewCLIEngine(CLIOptions{
			Executable:  opts.Executable,
			LibraryDirs: opts.LibraryDirs,
			Libraries:   libs,
			Threads:     opts.Threads,
			Logger:      logger,
		})
	case KindWhisperCPP:
		if !WhisperCPPAvailable() {
			return nil, ErrUnavailable
		}
		if _, err := opts.runtime().Init(RuntimeOptions{LibraryDirs: opts.LibraryDirs, Logger: logger}); err != nil {
			return nil, err
		}
		return NewWhisperCPPEngine(WhisperCPPOptions{Threads: opts.Threads, UseGPU: opts.UseGPU, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown engine %q (want one of %s)", kind, strings.Join(Kinds(), ", "))
	}
}

func (o Options) runtime() *Runtime {
	if o.Runtime != nil {
		return o.Runtime
	}
	return &defaultRuntime
}
