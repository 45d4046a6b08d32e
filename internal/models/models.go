// Package models resolves ggml whisper model names to files on disk and
// installs missing ones.
package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/armhack/whisperbridge/internal/download"
	"go.uber.org/zap"
)

const DefaultModel = "base"

type Model struct {
	Name      string
	FileName  string
	URL       string
	SHA256    string
	SHA256URL string
}

type Resolved struct {
	Name          string
	Path          string
	URL           string
	SHA256        string
	SHA256URL     string
	NeedsDownload bool
	IsCustomPath  bool
}

const baseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

var registry = map[string]Model{
	"tiny": {
		Name:     "tiny",
		FileName: "ggml-tiny.bin",
		SHA256:   "be07e048e1e599ad46341c8d2a135645097a538221678b7acdd1b1919c6e1b21",
	},
	"base": {
		Name:     "base",
		FileName: "ggml-base.bin",
		SHA256:   "60ed5bc3dd14eea856493d334349b405782ddcaf0028d4b5df4088345fba2efe",
	},
	"small": {
		Name:     "small",
		FileName: "ggml-small.bin",
		SHA256:   "1be3a9b2063867b937e64e2ec7483364a79917e157fa98c5d94b5c1fffea987b",
	},
	"medium": {
		Name:     "medium",
		FileName: "ggml-medium.bin",
		SHA256:   "6c14d5adee5f86394037b4e4e8b59f1673b6cee10e3cf0b11bbdbee79c156208",
	},
	"large-v3": {
		Name:     "large-v3",
		FileName: "ggml-large-v3.bin",
		SHA256:   "64d182b440b98d5203c4f9bd541544d84c605196c4f7b845dfa11fb23594d1e2",
	},
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Lookup(name string) (Model, bool) {
	model, ok := registry[name]
	if ok && model.URL == "" {
		model.URL = baseURL + model.FileName
	}
	return model, ok
}

// Resolve maps a registry name or a path to a model file. Named models live
// in modelDir; paths must exist.
func Resolve(ref, modelDir string) (Resolved, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		ref = DefaultModel
	}

	if model, ok := Lookup(ref); ok {
		if strings.TrimSpace(modelDir) == "" {
			return Resolved{}, errors.New("model directory must not be empty for named model")
		}

		path := filepath.Join(modelDir, model.FileName)
		_, statErr := os.Stat(path)
		if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
			return Resolved{}, fmt.Errorf("stat model path: %w", statErr)
		}

		return Resolved{
			Name:          model.Name,
			Path:          path,
			URL:           model.URL,
			SHA256:        model.SHA256,
			SHA256URL:     model.SHA256URL,
			NeedsDownload: errors.Is(statErr, os.ErrNotExist),
		}, nil
	}

	if !looksLikePath(ref) {
		return Resolved{}, fmt.Errorf("unknown model %q (known models: %s)", ref, strings.Join(Names(), ", "))
	}

	path := filepath.Clean(ref)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Resolved{}, fmt.Errorf("custom model path does not exist: %s", path)
		}
		return Resolved{}, fmt.Errorf("stat custom model path: %w", err)
	}

	return Resolved{Path: path, IsCustomPath: true}, nil
}

type EnsureOptions struct {
	// Verify re-hashes a present model and downloads it again on mismatch.
	Verify     bool
	NoProgress bool
	// Fetch defaults to download.Fetch.
	Fetch  func(context.Context, download.Options) error
	Logger *zap.Logger
}

// Ensure makes sure the resolved model is on disk, downloading it if needed.
// It reports whether a download happened.
func Ensure(ctx context.Context, r Resolved, opts EnsureOptions) (bool, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fetch := opts.Fetch
	if fetch == nil {
		fetch = download.Fetch
	}

	if r.IsCustomPath {
		return false, nil
	}

	expected := r.SHA256
	if expected == "" && r.SHA256URL != "" {
		checksum, err := download.ResolveExpectedChecksum(ctx, r.SHA256URL, filepath.Base(r.Path), nil)
		if err != nil {
			return false, fmt.Errorf("resolve checksum for model %s: %w", r.Name, err)
		}
		expected = checksum
	}

	if !r.NeedsDownload && opts.Verify && expected != "" {
		if err := download.VerifyFileChecksum(r.Path, expected); err != nil {
			logger.Warn("model checksum verification failed; downloading fresh copy", zap.String("model", r.Name), zap.Error(err))
			r.NeedsDownload = true
		}
	}

	if !r.NeedsDownload {
		logger.Debug("model already present", zap.String("model", r.Name), zap.String("path", r.Path))
		return false, nil
	}

	logger.Info("downloading model", zap.String("model", r.Name), zap.String("path", r.Path))
	if err := fetch(ctx, download.Options{
		URL:            r.URL,
		Destination:    r.Path,
		ExpectedSHA256: expected,
		NoProgress:     opts.NoProgress,
		Logger:         logger,
	}); err != nil {
		return false, fmt.Errorf("download model %s: %w", r.Name, err)
	}
	return true, nil
}

func looksLikePath(input string) bool {
	return strings.ContainsRune(input, os.PathSeparator) ||
		strings.ContainsRune(input, '/') ||
		strings.HasSuffix(strings.ToLower(input), ".bin")
}
