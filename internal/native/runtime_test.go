package native

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func writeLib(t *testing.T, dir, name string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("\x7fELF"), 0o644))
	return path
}

func TestRuntimeInitResolvesBothLibraries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mathPath := writeLib(t, dir, "libggml.so")
	enginePath := writeLib(t, dir, "libwhisper.so")

	var rt Runtime
	libs, err := rt.Init(RuntimeOptions{LibraryDirs: []string{dir}, goos: "linux", executable: filepath.Join(t.TempDir(), "wb")})
	require.NoError(t, err)
	require.Equal(t, mathPath, libs.Math)
	require.Equal(t, enginePath, libs.Engine)
	require.Equal(t, dir, libs.Dir)
}

func TestRuntimeMissingMathLibraryIsAWarning(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeLib(t, dir, "whisper.dll")

	core, logs := observer.New(zap.WarnLevel)
	var rt Runtime
	libs, err := rt.Init(RuntimeOptions{
		LibraryDirs: []string{dir},
		Logger:      zap.New(core),
		goos:        "windows",
		executable:  filepath.Join(t.TempDir(), "wb.exe"),
	})
	require.NoError(t, err)
	require.Empty(t, libs.Math)
	require.Equal(t, filepath.Join(dir, "whisper.dll"), libs.Engine)
	require.Equal(t, 1, logs.FilterMessageSnippet("math library not found").Len())
}

func TestRuntimeMissingEngineLibraryIsFatal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeLib(t, dir, "ggml.dll")

	var rt Runtime
	_, err := rt.Init(RuntimeOptions{LibraryDirs: []string{dir}, goos: "windows", executable: filepath.Join(t.TempDir(), "wb.exe")})
	require.ErrorIs(t, err, ErrEngineLibraryMissing)
	require.Contains(t, err.Error(), "whisper.dll")
}

func TestRuntimeInitRunsOnceUntilTeardown(t *testing.T) {
	t.Parallel()

	first := t.TempDir()
	writeLib(t, first, "libwhisper.dylib")
	second := t.TempDir()
	writeLib(t, second, "libwhisper.dylib")

	var rt Runtime
	_, err := rt.Loaded()
	require.ErrorIs(t, err, ErrRuntimeNotReady)

	libs, err := rt.Init(RuntimeOptions{LibraryDirs: []string{first}, goos: "darwin"})
	require.NoError(t, err)
	require.Equal(t, first, libs.Dir)

	libs, err = rt.Init(RuntimeOptions{LibraryDirs: []string{second}, goos: "darwin"})
	require.NoError(t, err)
	require.Equal(t, first, libs.Dir, "second Init must not resolve again")

	loaded, err := rt.Loaded()
	require.NoError(t, err)
	require.Equal(t, libs, loaded)

	rt.Teardown()
	_, err = rt.Loaded()
	require.ErrorIs(t, err, ErrRuntimeNotReady)

	libs, err = rt.Init(RuntimeOptions{LibraryDirs: []string{second}, goos: "darwin"})
	require.NoError(t, err)
	require.Equal(t, second, libs.Dir)
}

func TestLibraryFileNames(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"libwhisper.so", "libwhisper.so.1"}, LibraryFileNames("linux", "whisper"))
	require.Equal(t, []string{"libggml.so", "libggml.so.1"}, LibraryFileNames("android", "ggml"))
	require.Equal(t, []string{"libwhisper.dylib"}, LibraryFileNames("darwin", "whisper"))
	require.Equal(t, []string{"ggml.dll", "libggml.dll"}, LibraryFileNames("windows", "ggml"))
}
