package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appDirName = "whisperbridge"

type Runtime struct {
	OS   string
	Arch string
}

func CurrentRuntime() Runtime {
	return Runtime{
		OS:   runtime.GOOS,
		Arch: NormalizeArch(runtime.GOARCH),
	}
}

// Target is the os_arch directory name used for bundled native artifacts.
func (r Runtime) Target() string {
	return fmt.Sprintf("%s_%s", r.OS, r.Arch)
}

func NormalizeArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	default:
		return arch
	}
}

func DefaultModelDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	dataDir, err := defaultDataDirFor(goos, homeDir, xdgDataHome)
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "models"), nil
}

func DefaultLibraryDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	dataDir, err := defaultDataDirFor(goos, homeDir, xdgDataHome)
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "lib"), nil
}

func ResolveModelDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	return DefaultModelDirFor(runtime.GOOS, homeDir, os.Getenv("XDG_DATA_HOME"))
}

// LibraryDirCandidates lists where native libraries are looked up, in order:
// explicit dirs first, then locations relative to the running executable,
// the per-user data dir and finally system library dirs.
func LibraryDirCandidates(explicit []string, executable string, rt Runtime) []string {
	var dirs []string
	for _, dir := range explicit {
		if dir != "" {
			dirs = append(dirs, filepath.Clean(dir))
		}
	}

	if executable != "" {
		binDir := filepath.Dir(executable)
		dirs = append(dirs,
			filepath.Join(binDir, "..", "lib"),
			filepath.Join(binDir, "..", "libexec", "whisper"),
			filepath.Join(binDir, "lib"),
			filepath.Join(binDir, "packaging", "whisper", rt.Target()),
			binDir,
		)
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		if dir, err := DefaultLibraryDirFor(rt.OS, homeDir, os.Getenv("XDG_DATA_HOME")); err == nil {
			dirs = append(dirs, dir)
		}
	}

	switch rt.OS {
	case "linux":
		dirs = append(dirs, "/usr/local/lib", "/usr/lib")
	case "darwin":
		dirs = append(dirs, "/opt/homebrew/lib", "/usr/local/lib")
	}

	return dedupe(dirs)
}

func defaultDataDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	if homeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux", "android":
		if xdgDataHome != "" {
			return filepath.Join(xdgDataHome, appDirName), nil
		}
		return filepath.Join(homeDir, ".local", "share", appDirName), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", appDirName), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
