package cli

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeModelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, os.WriteFile(path, []byte("lmgg"), 0o644))
	return path
}

func TestTranscribeOneShotWithStubEngine(t *testing.T) {
	t.Parallel()

	stdout, _, err := runCommand(t, []string{
		"transcribe",
		"--engine", "stub",
		"--stub-text", "guten tag",
		"--model", writeModelFile(t),
		"--language", "DE",
		"--no-progress",
		writeToneWAV(t, 16000, 1),
	})
	require.NoError(t, err)
	require.Equal(t, "guten tag\n", stdout)
}

func TestTranscribeSkipsSilentAudio(t *testing.T) {
	t.Parallel()

	path := writeSilentWAV(t)

	// The engine is never built for silent input, so a bogus one is fine.
	stdout, _, err := runCommand(t, []string{"transcribe", "--engine", "cli", "--whisper-path", "/no/such/whisper-cli", path})
	require.NoError(t, err)
	require.Equal(t, "[BLANK_AUDIO]\n", stdout)
}

func TestTranscribeSilenceGateCanBeDisabled(t *testing.T) {
	t.Parallel()

	path := writeSilentWAV(t)

	stdout, _, err := runCommand(t, []string{
		"transcribe", "--silence-gate=false",
		"--engine", "stub", "--model", writeModelFile(t), path,
	})
	require.NoError(t, err)
	require.Equal(t, "hello world\n", stdout)
}

func TestTranscribeRejectsUnloadableModel(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture needs a POSIX shell")
	}
	empty := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	script := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	_, _, err := runCommand(t, []string{
		"transcribe", "--engine", "cli", "--whisper-path", script,
		"--model", empty, writeToneWAV(t, 16000, 1),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "engine could not load model")
}

func TestTranscribeMissingModelWithoutAutoDownload(t *testing.T) {
	t.Parallel()

	_, _, err := runCommand(t, []string{
		"transcribe", "--engine", "stub",
		"--model", "tiny", "--model-dir", t.TempDir(), "--auto-download=false",
		writeToneWAV(t, 16000, 1),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), `model "tiny" is missing`)
}

func TestTranscribeWarnsOnNonWhisperFormat(t *testing.T) {
	t.Parallel()

	stdout, _, err := runCommand(t, []string{
		"transcribe", "--engine", "stub", "--model", writeModelFile(t),
		writeToneWAV(t, 44100, 2),
	})
	require.NoError(t, err)
	require.Equal(t, "hello world\n", stdout)
}

func TestLooksLikeModelPath(t *testing.T) {
	t.Parallel()

	require.False(t, looksLikeModelPath(""))
	require.False(t, looksLikeModelPath("tiny"))
	require.True(t, looksLikeModelPath("/models/ggml-tiny.bin"))
	require.True(t, looksLikeModelPath("custom.bin"))
}
