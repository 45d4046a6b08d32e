//go:build whispercpp

package native

/*
#cgo LDFLAGS: -lwhisper -lggml -lstdc++ -lm

#include <stdlib.h>
#include <whisper.h>
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unsafe"

	"github.com/armhack/whisperbridge/internal/audio"
	"go.uber.org/zap"
)

const defaultThreads = 4

func WhisperCPPAvailable() bool { return true }

type WhisperCPPOptions struct {
	Threads int
	UseGPU  bool
	Logger  *zap.Logger
}

// WhisperCPPEngine runs whisper.cpp in-process through its C API.
type WhisperCPPEngine struct {
	threads int
	useGPU  bool
	log     *zap.Logger

	ctx *C.struct_whisper_context
}

func NewWhisperCPPEngine(opts WhisperCPPOptions) (*WhisperCPPEngine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = defaultThreads
	}
	return &WhisperCPPEngine{
		threads: threads,
		useGPU:  opts.UseGPU,
		log:     logger.With(zap.String("component", "engine.whispercpp")),
	}, nil
}

// Init replaces any loaded context. A model whisper.cpp cannot parse is
// reported as not loaded rather than as an error.
func (e *WhisperCPPEngine) Init(ctx context.Context, modelPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := os.Stat(modelPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.log.Warn("model file not found", zap.String("model", modelPath))
			return false, nil
		}
		return false, fmt.Errorf("stat model: %w", err)
	}

	e.release()

	cPath := C.CString(modelPath)
	defer C.free(unsafe.Pointer(cPath))
	params := C.whisper_context_default_params()
	params.use_gpu = C.bool(e.useGPU)

	wctx := C.whisper_init_from_file_with_params(cPath, params)
	if wctx == nil {
		e.log.Warn("whisper.cpp rejected model", zap.String("model", modelPath))
		return false, nil
	}
	e.ctx = wctx
	return true, nil
}

func (e *WhisperCPPEngine) Transcribe(ctx context.Context, audioPath, language string) (string, error) {
	if e.ctx == nil {
		return "", ErrNotLoaded
	}

	pcm, err := audio.ReadWAV(audioPath)
	if err != nil {
		return "", fmt.Errorf("decode audio: %w", err)
	}
	if pcm.Format.SampleRate != audio.WhisperSampleRate {
		return "", fmt.Errorf("audio must be sampled at %d Hz, got %d Hz", audio.WhisperSampleRate, pcm.Format.SampleRate)
	}
	if len(pcm.Samples) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := C.whisper_full_default_params(C.WHISPER_SAMPLING_GREEDY)
	params.print_progress = C.bool(false)
	params.print_realtime = C.bool(false)
	params.print_timestamps = C.bool(false)
	params.translate = C.bool(false)
	params.no_context = C.bool(true)
	params.n_threads = C.int(e.threads)

	lang := strings.TrimSpace(language)
	if lang == "" {
		lang = "auto"
	}
	cLang := C.CString(lang)
	defer C.free(unsafe.Pointer(cLang))
	params.language = cLang

	samples := (*C.float)(unsafe.Pointer(&pcm.Samples[0]))
	if ret := C.whisper_full(e.ctx, params, samples, C.int(len(pcm.Samples))); ret != 0 {
		return "", fmt.Errorf("whisper.cpp inference failed with code %d", int(ret))
	}

	count := int(C.whisper_full_n_segments(e.ctx))
	var b strings.Builder
	for i := 0; i < count; i++ {
		b.WriteString(C.GoString(C.whisper_full_get_segment_text(e.ctx, C.int(i))))
	}
	return strings.TrimSpace(b.String()), nil
}

func (e *WhisperCPPEngine) Free(context.Context) error {
	e.release()
	return nil
}

func (e *WhisperCPPEngine) release() {
	if e.ctx != nil {
		C.whisper_free(e.ctx)
		e.ctx = nil
	}
}
