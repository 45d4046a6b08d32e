// Package native adapts speech-recognition engines to the three-call boundary
// the bridge drives: load a model, transcribe a WAV file, free the model.
package native

import (
	"context"
	"errors"
)

var (
	ErrUnavailable          = errors.New("native: whisper.cpp backend not compiled in")
	ErrNotLoaded            = errors.New("native: no model loaded")
	ErrRuntimeNotReady      = errors.New("native: runtime not initialized")
	ErrEngineLibraryMissing = errors.New("native: engine library not found")
)

// Engine loads at most one model at a time. Implementations are not safe for
// concurrent use.
type Engine interface {
	Init(ctx context.Context, modelPath string) (bool, error)
	Transcribe(ctx context.Context, audioPath, language string) (string, error)
	Free(ctx context.Context) error
}

const (
	KindAuto       = "auto"
	KindStub       = "stub"
	KindCLI        = "cli"
	KindWhisperCPP = "whispercpp"
)

func Kinds() []string {
	return []string{KindAuto, KindStub, KindCLI, KindWhisperCPP}
}
