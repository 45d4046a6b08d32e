// Package config layers defaults, a YAML file, a dotenv file, the environment
// and command-line flags into a validated Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/armhack/whisperbridge/internal/bridge"
	"github.com/armhack/whisperbridge/internal/logging"
	"github.com/armhack/whisperbridge/internal/native"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix   = "WHISPERBRIDGE"
	DefaultFile = "whisperbridge"
)

const (
	DefaultListenAddr = "127.0.0.1:8765"
	DefaultThreads    = 4
)

// Keys. Flags use the same names with dashes.
const (
	KeyListenAddr   = "listen_addr"
	KeyHealthAddr   = "health_addr"
	KeyEngine       = "engine"
	KeyWhisperPath  = "whisper_path"
	KeyLibraryDirs  = "library_dirs"
	KeyModel        = "model"
	KeyModelDir     = "model_dir"
	KeyLanguage     = "language"
	KeyThreads      = "threads"
	KeyCallTimeout  = "call_timeout"
	KeyAutoDownload = "auto_download"
	KeyStubText     = "stub_text"
	KeyVerbose      = "verbose"
	KeyJSONLogs     = "json"
	KeyLogLevel     = "log_level"
)

type Config struct {
	ListenAddr string
	// HealthAddr enables the gRPC health service when set.
	HealthAddr   string
	Engine       string
	WhisperPath  string
	LibraryDirs  []string
	Model        string
	ModelDir     string
	Language     string
	Threads      int
	CallTimeout  time.Duration
	AutoDownload bool
	StubText     string
	Logging      logging.Options
}

// Defaults registers the default value of every key on v.
func Defaults(v *viper.Viper) {
	v.SetDefault(KeyListenAddr, DefaultListenAddr)
	v.SetDefault(KeyHealthAddr, "")
	v.SetDefault(KeyEngine, native.KindAuto)
	v.SetDefault(KeyWhisperPath, "")
	v.SetDefault(KeyLibraryDirs, []string{})
	v.SetDefault(KeyModel, "")
	v.SetDefault(KeyModelDir, "")
	v.SetDefault(KeyLanguage, bridge.DefaultLanguage)
	v.SetDefault(KeyThreads, DefaultThreads)
	v.SetDefault(KeyCallTimeout, time.Duration(0))
	v.SetDefault(KeyAutoDownload, true)
	v.SetDefault(KeyStubText, native.DefaultStubText)
	v.SetDefault(KeyVerbose, false)
	v.SetDefault(KeyJSONLogs, false)
	v.SetDefault(KeyLogLevel, "")
}

// BindFlags binds every key that has a flag of the same (dashed) name in fs.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, key := range v.AllKeys() {
		flag := fs.Lookup(strings.ReplaceAll(key, "_", "-"))
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
	}
	return nil
}

type Sources struct {
	// ConfigFile is an explicit YAML file. Empty searches for
	// whisperbridge.yaml in the working and user config directories.
	ConfigFile string
	// EnvFile is an explicit dotenv file. Empty loads .env when present.
	EnvFile string
}

// Load reads the configured sources into v and returns the validated result.
// Values already in the process environment win over the dotenv file.
func Load(v *viper.Viper, src Sources) (Config, error) {
	if err := loadEnvFile(src.EnvFile); err != nil {
		return Config{}, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, src.ConfigFile); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:   strings.TrimSpace(v.GetString(KeyListenAddr)),
		HealthAddr:   strings.TrimSpace(v.GetString(KeyHealthAddr)),
		Engine:       strings.ToLower(strings.TrimSpace(v.GetString(KeyEngine))),
		WhisperPath:  strings.TrimSpace(v.GetString(KeyWhisperPath)),
		LibraryDirs:  splitList(v.Get(KeyLibraryDirs)),
		Model:        strings.TrimSpace(v.GetString(KeyModel)),
		ModelDir:     strings.TrimSpace(v.GetString(KeyModelDir)),
		Language:     strings.ToLower(strings.TrimSpace(v.GetString(KeyLanguage))),
		Threads:      v.GetInt(KeyThreads),
		CallTimeout:  v.GetDuration(KeyCallTimeout),
		AutoDownload: v.GetBool(KeyAutoDownload),
		StubText:     v.GetString(KeyStubText),
		Logging: logging.Options{
			Verbose: v.GetBool(KeyVerbose),
			JSON:    v.GetBool(KeyJSONLogs),
			Level:   strings.TrimSpace(v.GetString(KeyLogLevel)),
		},
	}
	if cfg.Language == "" {
		cfg.Language = bridge.DefaultLanguage
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: listen address is required")
	}
	if !slices.Contains(native.Kinds(), c.Engine) {
		return fmt.Errorf("config: unknown engine %q (want one of %s)", c.Engine, strings.Join(native.Kinds(), ", "))
	}
	if c.Threads < 0 {
		return fmt.Errorf("config: threads must not be negative, got %d", c.Threads)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("config: call timeout must not be negative, got %s", c.CallTimeout)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	return nil
}

func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("config: load env file %s: %w", path, err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("config: load .env: %w", err)
		}
	}
	return nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName(DefaultFile)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "whisperbridge"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("config: read config file: %w", err)
	}
	return nil
}

// splitList accepts a YAML list or a string separated by the OS path list
// separator or commas.
func splitList(raw any) []string {
	var parts []string
	switch value := raw.(type) {
	case nil:
	case []string:
		parts = value
	case []any:
		for _, item := range value {
			parts = append(parts, fmt.Sprint(item))
		}
	case string:
		parts = strings.FieldsFunc(value, func(r rune) bool {
			return r == os.PathListSeparator || r == ','
		})
	default:
		parts = []string{fmt.Sprint(value)}
	}

	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
