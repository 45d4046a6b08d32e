package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/armhack/whisperbridge/internal/audio"
	"github.com/armhack/whisperbridge/internal/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type transcribeOptions struct {
	silenceGate bool
	silenceDBFS float64
}

func newTranscribeCmd(app *appState) *cobra.Command {
	opts := &transcribeOptions{silenceGate: true, silenceDBFS: -65}

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe a WAV file once through a local bridge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transcript, err := app.transcribeFile(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), transcript)
			if isBlankTranscript(transcript) {
				app.log().Warn(noSpeechHint())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.silenceGate, "silence-gate", opts.silenceGate, "Detect near-silent WAV audio and skip transcription")
	cmd.Flags().Float64Var(&opts.silenceDBFS, "silence-threshold-dbfs", opts.silenceDBFS, "Silence gate threshold in dBFS")
	return cmd
}

// transcribeFile runs initialize, transcribe and release on a bridge that
// lives for this call only.
func (a *appState) transcribeFile(ctx context.Context, audioPath string, opts *transcribeOptions) (string, error) {
	audioPath = filepath.Clean(audioPath)
	if _, err := os.Stat(audioPath); err != nil {
		return "", fmt.Errorf("audio file not found: %w", err)
	}

	a.warnOnFormat(audioPath)
	if transcript, skipped := a.silenceGateTranscript(audioPath, opts); skipped {
		return transcript, nil
	}

	resolved, err := a.ensureModel(ctx)
	if err != nil {
		return "", err
	}

	b, err := a.newBridge()
	if err != nil {
		return "", err
	}
	defer a.shutdownBridge(b, shutdownTimeout)

	loaded, err := b.Initialize(ctx, resolved.Path)
	if err != nil {
		return "", err
	}
	if !loaded {
		return "", fmt.Errorf("engine could not load model %s", resolved.Path)
	}

	a.log().Info("transcribing...",
		zap.String("audio", audioPath),
		zap.String("model", resolved.Path),
		zap.String("language", a.cfg.Language))
	stopSpinner := startSpinner(os.Stderr, a.progressEnabled(), "Transcribing")
	started := time.Now()

	transcript, err := b.Transcribe(ctx, audioPath, a.cfg.Language)
	stopSpinner()
	if err != nil {
		a.log().Warn("transcription failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return "", err
	}
	a.log().Info("transcription finished", zap.Duration("elapsed", time.Since(started)))

	if err := b.Release(ctx); err != nil {
		a.log().Warn("release failed", zap.Error(err))
	}
	return transcript, nil
}

// ensureModel resolves the configured model and downloads a missing named
// model when auto-download is on.
func (a *appState) ensureModel(ctx context.Context) (models.Resolved, error) {
	modelDir := ""
	if !looksLikeModelPath(a.cfg.Model) {
		dir, err := a.modelStorageDir()
		if err != nil {
			return models.Resolved{}, err
		}
		modelDir = dir
	}

	resolved, err := models.Resolve(a.cfg.Model, modelDir)
	if err != nil {
		return models.Resolved{}, err
	}
	if !resolved.NeedsDownload {
		return resolved, nil
	}

	if !a.cfg.AutoDownload {
		return models.Resolved{}, fmt.Errorf("model %q is missing at %s; run `whisperbridge setup --model %s` or use --auto-download=true", resolved.Name, resolved.Path, resolved.Name)
	}

	if _, err := models.Ensure(ctx, resolved, models.EnsureOptions{
		NoProgress: !a.progressEnabled(),
		Logger:     a.log(),
	}); err != nil {
		return models.Resolved{}, err
	}
	resolved.NeedsDownload = false
	return resolved, nil
}

func looksLikeModelPath(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	_, named := models.Lookup(ref)
	return !named
}

func (a *appState) warnOnFormat(audioPath string) {
	if !strings.EqualFold(filepath.Ext(audioPath), ".wav") {
		return
	}

	format, err := audio.Inspect(audioPath)
	if err != nil {
		if errors.Is(err, audio.ErrInvalidWAV) || errors.Is(err, audio.ErrUnsupportedWAV) {
			a.log().Warn("audio is not a readable PCM WAV file", zap.String("audio", audioPath), zap.Error(err))
		}
		return
	}
	if err := audio.CheckWhisperFormat(format); err != nil {
		a.log().Warn("audio is not 16 kHz mono; results may be poor", zap.String("audio", audioPath), zap.Error(err))
	}
}

func (a *appState) silenceGateTranscript(audioPath string, opts *transcribeOptions) (string, bool) {
	if opts == nil || !opts.silenceGate {
		return "", false
	}
	if !strings.EqualFold(filepath.Ext(audioPath), ".wav") {
		return "", false
	}

	silent, metrics, err := audio.IsSilentWAV(audioPath, opts.silenceDBFS)
	if err != nil {
		a.log().Warn("silence gate analysis failed; continuing transcription", zap.Error(err), zap.String("audio", audioPath))
		return "", false
	}
	if !silent {
		return "", false
	}

	a.log().Info(
		"audio considered silent; skipping transcription",
		zap.String("audio", audioPath),
		zap.Float64("rms_dbfs", metrics.RMSdBFS),
		zap.Float64("peak_dbfs", metrics.PeakdBFS),
		zap.Float64("threshold_dbfs", opts.silenceDBFS),
	)
	return blankAudioToken, true
}
