package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/armhack/whisperbridge/internal/native"
	"github.com/spf13/cobra"
)

func newLibsCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "libs",
		Short: "Show how the native whisper libraries and executable resolve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			rt := &native.Runtime{}
			libs, err := rt.Init(native.RuntimeOptions{LibraryDirs: app.cfg.LibraryDirs, Logger: app.log()})
			fmt.Fprintf(out, "math library:   %s\n", orMissing(libs.Math))
			fmt.Fprintf(out, "engine library: %s\n", orMissing(libs.Engine))
			if err != nil && !errors.Is(err, native.ErrEngineLibraryMissing) {
				return err
			}

			executable := app.cfg.WhisperPath
			if executable == "" {
				if self, selfErr := os.Executable(); selfErr == nil {
					executable, _ = native.ResolveExecutable(self, app.cfg.LibraryDirs)
				}
			}
			fmt.Fprintf(out, "whisper-cli:    %s\n", orMissing(executable))
			fmt.Fprintf(out, "whispercpp:     %s\n", compiledIn(native.WhisperCPPAvailable()))
			return nil
		},
	}
}

func orMissing(value string) string {
	if value == "" {
		return "not found"
	}
	return value
}

func compiledIn(ok bool) string {
	if ok {
		return "compiled in"
	}
	return "not compiled in (build with -tags whispercpp)"
}
