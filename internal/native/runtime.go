package native

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/armhack/whisperbridge/internal/platform"
	"go.uber.org/zap"
)

const (
	mathLibrary   = "ggml"
	engineLibrary = "whisper"
)

// Libraries records where the native shared libraries were found.
type Libraries struct {
	// Math is the ggml tensor library. Empty when it was not found.
	Math string
	// Engine is the whisper library.
	Engine string
	// Dir holds the engine library; it is put on the loader path of
	// subprocesses.
	Dir string
}

type RuntimeOptions struct {
	// LibraryDirs are searched before the platform defaults.
	LibraryDirs []string
	Logger      *zap.Logger

	executable string
	goos       string
}

// Runtime performs the process-wide native library initialization exactly
// once. Teardown resets it so a later Init resolves again.
type Runtime struct {
	mu     sync.Mutex
	inited bool
	libs   Libraries
	err    error
}

var defaultRuntime Runtime

// Init resolves the native libraries for this process. Only the first call
// does work; later calls return the first result until Teardown.
func Init(opts RuntimeOptions) (Libraries, error) {
	return defaultRuntime.Init(opts)
}

func Teardown() {
	defaultRuntime.Teardown()
}

// Loaded reports the result of the last Init, or ErrRuntimeNotReady.
func Loaded() (Libraries, error) {
	return defaultRuntime.Loaded()
}

func (r *Runtime) Init(opts RuntimeOptions) (Libraries, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inited {
		return r.libs, r.err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r.libs, r.err = resolveLibraries(opts, logger)
	r.inited = true
	return r.libs, r.err
}

func (r *Runtime) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.inited = false
	r.libs = Libraries{}
	r.err = nil
}

func (r *Runtime) Loaded() (Libraries, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inited {
		return Libraries{}, ErrRuntimeNotReady
	}
	return r.libs, r.err
}

func resolveLibraries(opts RuntimeOptions, logger *zap.Logger) (Libraries, error) {
	goos := opts.goos
	if goos == "" {
		goos = runtime.GOOS
	}

	executable := opts.executable
	if executable == "" {
		if exe, err := os.Executable(); err == nil {
			executable = exe
		}
	}

	rt := platform.Runtime{OS: goos, Arch: platform.NormalizeArch(runtime.GOARCH)}
	dirs := platform.LibraryDirCandidates(opts.LibraryDirs, executable, rt)

	var libs Libraries
	if path, ok := findLibrary(dirs, LibraryFileNames(goos, mathLibrary)); ok {
		libs.Math = path
		logger.Debug("found math library", zap.String("path", path))
	} else {
		logger.Warn("math library not found; continuing without explicit load", zap.String("library", mathLibrary))
	}

	path, ok := findLibrary(dirs, LibraryFileNames(goos, engineLibrary))
	if !ok {
		return libs, fmt.Errorf("%w: looked for %s in %s", ErrEngineLibraryMissing,
			strings.Join(LibraryFileNames(goos, engineLibrary), ", "), strings.Join(dirs, ", "))
	}
	libs.Engine = path
	libs.Dir = filepath.Dir(path)
	logger.Info("native libraries resolved", zap.String("engine", libs.Engine), zap.String("math", libs.Math))
	return libs, nil
}

// LibraryFileNames returns the file names a shared library may have on goos.
func LibraryFileNames(goos, name string) []string {
	switch goos {
	case "darwin":
		return []string{"lib" + name + ".dylib"}
	case "windows":
		return []string{name + ".dll", "lib" + name + ".dll"}
	default:
		return []string{"lib" + name + ".so", "lib" + name + ".so.1"}
	}
}

func findLibrary(dirs, names []string) (string, bool) {
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			info, err := os.Stat(candidate)
			if err != nil || info.IsDir() {
				continue
			}
			return candidate, true
		}
	}
	return "", false
}
