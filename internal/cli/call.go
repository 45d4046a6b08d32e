package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/armhack/whisperbridge/internal/channel"
	"github.com/spf13/cobra"
)

type callOptions struct {
	server  string
	timeout time.Duration
}

// newCallCmd invokes channel methods on a running server.
func newCallCmd(app *appState) *cobra.Command {
	opts := &callOptions{timeout: 5 * time.Minute}

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Invoke a method on a running whisperbridge server",
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", "", "Server base URL (default: ws://<listen-addr>)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", opts.timeout, "Overall deadline for the call")

	cmd.AddCommand(&cobra.Command{
		Use:   "init <model-path>",
		Short: "Load a model (" + channel.MethodInitWhisper + ")",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withClient(cmd.Context(), opts, func(ctx context.Context, c *channel.Client) error {
				loaded, err := c.InitWhisper(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), loaded)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "transcribe <audio-path>",
		Short: "Transcribe a file on the server (" + channel.MethodTranscribe + ")",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withClient(cmd.Context(), opts, func(ctx context.Context, c *channel.Client) error {
				stop := startSpinner(cmd.ErrOrStderr(), app.progressEnabled(), "Transcribing")
				text, err := c.Transcribe(ctx, args[0], app.cfg.Language)
				stop()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "free",
		Short: "Release the loaded model (" + channel.MethodFreeWhisper + ")",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withClient(cmd.Context(), opts, func(ctx context.Context, c *channel.Client) error {
				if err := c.FreeWhisper(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	})

	return cmd
}

func (a *appState) withClient(ctx context.Context, opts *callOptions, fn func(context.Context, *channel.Client) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	base := opts.server
	if base == "" {
		base = a.cfg.ListenAddr
	}

	c, err := channel.Dial(ctx, channel.URL(base))
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}
