//go:build !whispercpp

package native

import (
	"context"

	"go.uber.org/zap"
)

// WhisperCPPAvailable reports whether the in-process backend is compiled in.
func WhisperCPPAvailable() bool { return false }

type WhisperCPPOptions struct {
	Threads int
	UseGPU  bool
	Logger  *zap.Logger
}

// WhisperCPPEngine satisfies Engine when the backend is absent.
type WhisperCPPEngine struct{}

func NewWhisperCPPEngine(WhisperCPPOptions) (*WhisperCPPEngine, error) {
	return nil, ErrUnavailable
}

func (e *WhisperCPPEngine) Init(context.Context, string) (bool, error) {
	return false, ErrUnavailable
}

func (e *WhisperCPPEngine) Transcribe(context.Context, string, string) (string, error) {
	return "", ErrUnavailable
}

func (e *WhisperCPPEngine) Free(context.Context) error { return nil }
