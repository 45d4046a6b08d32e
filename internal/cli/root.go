package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/armhack/whisperbridge/internal/bridge"
	"github.com/armhack/whisperbridge/internal/config"
	"github.com/armhack/whisperbridge/internal/logging"
	"github.com/armhack/whisperbridge/internal/native"
	"github.com/armhack/whisperbridge/internal/platform"
	"github.com/armhack/whisperbridge/internal/telemetry"
	"github.com/armhack/whisperbridge/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"
)

type appState struct {
	v          *viper.Viper
	configFile string
	envFile    string
	noProgress bool

	cfg    config.Config
	logger *zap.Logger
	out    io.Writer

	engineFn func(cfg config.Config, logger *zap.Logger) (bridge.Engine, error)
}

func NewRootCmd() *cobra.Command {
	app := &appState{
		v:   viper.New(),
		out: os.Stdout,
	}
	app.engineFn = newEngine
	config.Defaults(app.v)

	cmd := &cobra.Command{
		Use:           "whisperbridge",
		Short:         "Serve a native whisper speech engine over a method channel",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.load(cmd)
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.configFile, "config", "", "Config file (default: whisperbridge.yaml in the working or user config directory)")
	flags.StringVar(&app.envFile, "env-file", "", "Dotenv file to load (default: .env when present)")
	flags.BoolVar(&app.noProgress, "no-progress", false, "Disable progress indicators")
	flags.Bool("verbose", false, "Enable verbose logs")
	flags.Bool("json", false, "Enable JSON logging")
	flags.String("log-level", "", "Log level (debug|info|warn|error); overrides --verbose")
	flags.String("engine", native.KindAuto, "Speech engine: auto|stub|cli|whispercpp")
	flags.String("whisper-path", "", "Path to the whisper-cli executable (cli engine)")
	flags.StringSlice("library-dirs", nil, "Directories searched for the native whisper libraries")
	flags.String("model", "", "Model name or model file path")
	flags.String("model-dir", "", "Directory where models are stored")
	flags.String("language", bridge.DefaultLanguage, "Language code (en|de|auto|...) for transcription")
	flags.Int("threads", config.DefaultThreads, "Inference threads")
	flags.String("listen-addr", config.DefaultListenAddr, "Channel server address (serve binds it, call dials it)")
	flags.Duration("call-timeout", 0, "Deadline for each native call; 0 disables it")
	flags.Bool("auto-download", true, "Automatically download missing named models")
	flags.String("stub-text", native.DefaultStubText, "Transcript returned by the stub engine")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newCallCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newLibsCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// load layers config sources under the flags of the running command and
// builds the logger.
func (a *appState) load(cmd *cobra.Command) error {
	if a.v == nil {
		a.v = viper.New()
		config.Defaults(a.v)
	}
	if err := config.BindFlags(a.v, cmd.Flags()); err != nil {
		return err
	}

	cfg, err := config.Load(a.v, config.Sources{ConfigFile: a.configFile, EnvFile: a.envFile})
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

func newEngine(cfg config.Config, logger *zap.Logger) (bridge.Engine, error) {
	return native.New(cfg.Engine, native.Options{
		Executable:  cfg.WhisperPath,
		LibraryDirs: cfg.LibraryDirs,
		Threads:     cfg.Threads,
		StubText:    cfg.StubText,
	}, logger)
}

// newBridge builds the configured engine behind a fresh bridge.
func (a *appState) newBridge() (*bridge.Bridge, error) {
	engineFn := a.engineFn
	if engineFn == nil {
		engineFn = newEngine
	}

	engine, err := engineFn(a.cfg, a.log())
	if err != nil {
		return nil, fmt.Errorf("create %s engine: %w", a.cfg.Engine, err)
	}

	return bridge.New(engine, bridge.Options{
		Logger:      a.log(),
		Recorder:    telemetry.NewRecorder(a.log()),
		CallTimeout: a.cfg.CallTimeout,
	})
}

func (a *appState) modelStorageDir() (string, error) {
	dir, err := platform.ResolveModelDir(a.cfg.ModelDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func (a *appState) outWriter() io.Writer {
	if a.out == nil {
		return os.Stdout
	}
	return a.out
}

// shutdownBridge stops b, bounded by timeout.
func (a *appState) shutdownBridge(b *bridge.Bridge, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := b.Shutdown(ctx); err != nil {
		a.log().Warn("bridge shutdown reported an error", zap.Error(err))
	}
}
