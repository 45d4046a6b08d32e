package native

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/armhack/whisperbridge/internal/platform"
	"go.uber.org/zap"
)

// ExecutableEnv overrides whisper-cli discovery.
const ExecutableEnv = "WHISPERBRIDGE_WHISPER_PATH"

type CLIOptions struct {
	// Executable is the whisper-cli binary. Empty means discover it.
	Executable string
	// LibraryDirs are also searched for the executable.
	LibraryDirs []string
	// Libraries, when resolved, puts the engine library dir on the
	// subprocess loader path.
	Libraries Libraries
	Threads   int
	Logger    *zap.Logger
}

// CLIEngine drives a whisper-cli subprocess per transcription. Init only
// checks and remembers the model; whisper-cli loads it on each run.
type CLIEngine struct {
	executable string
	libDir     string
	threads    int
	log        *zap.Logger

	model string
}

func NewCLIEngine(opts CLIOptions) (*CLIEngine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	executable := strings.TrimSpace(opts.Executable)
	if executable == "" {
		executable = strings.TrimSpace(os.Getenv(ExecutableEnv))
	}

	if executable != "" {
		if err := ensureExecutable(executable); err != nil {
			return nil, fmt.Errorf("whisper-cli at %s is not executable: %w", executable, err)
		}
	} else {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve own executable path: %w", err)
		}
		executable, err = ResolveExecutable(self, opts.LibraryDirs)
		if err != nil {
			return nil, err
		}
	}

	return &CLIEngine{
		executable: executable,
		libDir:     opts.Libraries.Dir,
		threads:    opts.Threads,
		log:        logger.With(zap.String("component", "engine.cli")),
	}, nil
}

// ResolveExecutable finds whisper-cli next to self or in the library dirs.
func ResolveExecutable(self string, libraryDirs []string) (string, error) {
	candidates := ExecutableCandidates(self, libraryDirs)
	for _, candidate := range candidates {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("whisper-cli not found near %s; set %s or install it at ../libexec/whisper/%s", self, ExecutableEnv, executableName())
}

func ExecutableCandidates(self string, libraryDirs []string) []string {
	binDir := filepath.Dir(self)
	name := executableName()
	target := platform.CurrentRuntime().Target()

	candidates := []string{
		filepath.Join(binDir, "..", "libexec", "whisper", name),
		filepath.Join(binDir, "libexec", "whisper", name),
		filepath.Join(binDir, "packaging", "whisper", target, name),
		filepath.Join(binDir, name),
	}
	for _, dir := range libraryDirs {
		if dir != "" {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}
	return candidates
}

func (e *CLIEngine) Executable() string {
	return e.executable
}

// Init accepts any readable regular file; format errors surface on the first
// Transcribe, the way whisper-cli reports them.
func (e *CLIEngine) Init(ctx context.Context, modelPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	info, err := os.Stat(modelPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.log.Warn("model file not found", zap.String("model", modelPath))
			return false, nil
		}
		return false, fmt.Errorf("stat model: %w", err)
	}
	if info.IsDir() || info.Size() == 0 {
		e.log.Warn("model path is not a usable file", zap.String("model", modelPath))
		return false, nil
	}

	f, err := os.Open(modelPath)
	if err != nil {
		return false, fmt.Errorf("open model: %w", err)
	}
	_ = f.Close()

	e.model = modelPath
	return true, nil
}

func (e *CLIEngine) Transcribe(ctx context.Context, audioPath, language string) (string, error) {
	if e.model == "" {
		return "", ErrNotLoaded
	}
	if strings.TrimSpace(audioPath) == "" {
		return "", errors.New("audio path is required")
	}
	if err := ensureExecutable(e.executable); err != nil {
		return "", fmt.Errorf("whisper-cli missing or not executable: %w", err)
	}

	outBase := filepath.Join(os.TempDir(), fmt.Sprintf("whisperbridge-%d", time.Now().UnixNano()))
	txtOut := outBase + ".txt"

	args := e.args(audioPath, language, outBase)
	cmd := exec.CommandContext(ctx, e.executable, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	cmd.Env = loaderEnv(os.Environ(), e.libDir, runtime.GOOS)

	e.log.Debug("running whisper-cli", zap.String("engine", e.executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		return "", classifyRunError(e.executable, err, strings.TrimSpace(stderr.String()))
	}

	defer os.Remove(txtOut)
	content, err := os.ReadFile(txtOut)
	if err != nil {
		return "", fmt.Errorf("read whisper-cli output: %w", err)
	}

	return strings.TrimSpace(string(content)), nil
}

func (e *CLIEngine) Free(context.Context) error {
	e.model = ""
	return nil
}

func (e *CLIEngine) args(audioPath, language, outBase string) []string {
	args := []string{"-m", e.model, "-f", audioPath, "-nt", "-otxt", "-of", outBase}
	lang := strings.TrimSpace(language)
	if lang != "" {
		args = append(args, "-l", lang)
	}
	if e.threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.threads))
	}
	return args
}

// loaderEnv prepends libDir to the dynamic loader search path.
func loaderEnv(environ []string, libDir, goos string) []string {
	if libDir == "" {
		return environ
	}

	key := "LD_LIBRARY_PATH"
	switch goos {
	case "darwin":
		key = "DYLD_LIBRARY_PATH"
	case "windows":
		key = "PATH"
	}

	out := make([]string, 0, len(environ)+1)
	value := libDir
	for _, kv := range environ {
		if existing, ok := strings.CutPrefix(kv, key+"="); ok {
			if existing != "" {
				value = libDir + string(os.PathListSeparator) + existing
			}
			continue
		}
		out = append(out, kv)
	}
	return append(out, key+"="+value)
}

func classifyRunError(executable string, err error, errText string) error {
	if isMissingSharedLibraryError(errText) {
		return fmt.Errorf("whisper-cli at %s is missing required shared libraries (%s); point library dirs at libwhisper or rebuild with BUILD_SHARED_LIBS=OFF", executable, errText)
	}
	if isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()) {
		return errors.New("whisper-cli crashed with an illegal CPU instruction; " +
			"your CPU may lack required instruction set extensions; " +
			"set " + ExecutableEnv + " to a build for your CPU")
	}
	if errText == "" {
		return fmt.Errorf("whisper-cli failed: %w", err)
	}
	return fmt.Errorf("whisper-cli failed: %w (%s)", err, errText)
}

func executableName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}
