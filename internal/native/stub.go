package native

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

const DefaultStubText = "hello world"

type StubOptions struct {
	// Text is returned by every Transcribe call.
	Text string
	// AcceptAnyModel makes Init succeed without the model file existing.
	AcceptAnyModel bool
	Logger         *zap.Logger
}

// StubEngine produces a canned transcript without loading any native code.
type StubEngine struct {
	text      string
	acceptAny bool
	log       *zap.Logger

	model string
}

func NewStubEngine(opts StubOptions) *StubEngine {
	if opts.Text == "" {
		opts.Text = DefaultStubText
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &StubEngine{
		text:      opts.Text,
		acceptAny: opts.AcceptAnyModel,
		log:       opts.Logger.With(zap.String("component", "engine.stub")),
	}
}

func (e *StubEngine) Init(ctx context.Context, modelPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !e.acceptAny {
		if _, err := os.Stat(modelPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				e.log.Warn("model file not found", zap.String("model", modelPath))
				return false, nil
			}
			return false, fmt.Errorf("stat model: %w", err)
		}
	}

	e.model = modelPath
	e.log.Debug("stub model loaded", zap.String("model", modelPath))
	return true, nil
}

func (e *StubEngine) Transcribe(ctx context.Context, audioPath, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if e.model == "" {
		return "", ErrNotLoaded
	}
	e.log.Debug("stub transcript", zap.String("audio", audioPath), zap.String("language", language))
	return e.text, nil
}

func (e *StubEngine) Free(context.Context) error {
	e.model = ""
	return nil
}
