package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/armhack/whisperbridge/internal/bridge"
	"github.com/armhack/whisperbridge/internal/channel"
	"github.com/armhack/whisperbridge/internal/health"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

type serveOptions struct {
	preload bool
	// ready, when set, receives the bound channel address.
	ready func(addr string)
}

func newServeCmd(app *appState) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the whisper method channel over WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.serve(ctx, opts)
		},
	}

	cmd.Flags().String("health-addr", "", "Address of the gRPC health service; empty disables it")
	cmd.Flags().BoolVar(&opts.preload, "preload", false, "Initialize the configured model before accepting calls")
	return cmd
}

func (a *appState) serve(ctx context.Context, opts *serveOptions) error {
	b, err := a.newBridge()
	if err != nil {
		return err
	}

	if opts.preload {
		if err := a.preloadModel(ctx, b); err != nil {
			a.shutdownBridge(b, shutdownTimeout)
			return err
		}
	}

	lis, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		a.shutdownBridge(b, shutdownTimeout)
		return fmt.Errorf("listen on %s: %w", a.cfg.ListenAddr, err)
	}

	server := channel.NewServer(channel.ServerOptions{
		Handler: channel.NewHandler(b, a.log()),
		Status:  func() string { return b.State().String() },
		Logger:  a.log(),
	})
	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("channel server: %w", err)
		}
	}()

	var healthServer *health.Server
	if a.cfg.HealthAddr != "" {
		healthLis, err := net.Listen("tcp", a.cfg.HealthAddr)
		if err != nil {
			_ = httpServer.Close()
			a.shutdownBridge(b, shutdownTimeout)
			return fmt.Errorf("listen on %s: %w", a.cfg.HealthAddr, err)
		}
		healthServer = health.New(a.log())
		healthServer.Follow(b)
		go func() {
			if err := healthServer.Serve(healthLis); err != nil {
				errCh <- fmt.Errorf("health server: %w", err)
			}
		}()
	}

	addr := lis.Addr().String()
	a.log().Info("serving method channel",
		zap.String("addr", addr),
		zap.String("channel", channel.Name),
		zap.String("engine", a.cfg.Engine))
	if opts.ready != nil {
		opts.ready(addr)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.log().Info("shutdown requested")
	case serveErr = <-errCh:
		a.log().Error("server failed", zap.Error(serveErr))
	}

	// Detach first so no new work reaches the bridge, then drain it.
	server.SetHandler(nil)
	a.shutdownBridge(b, shutdownTimeout)
	server.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.log().Warn("channel server shutdown", zap.Error(err))
	}
	if healthServer != nil {
		healthServer.Stop()
	}

	a.log().Info("stopped")
	return serveErr
}

func (a *appState) preloadModel(ctx context.Context, b *bridge.Bridge) error {
	resolved, err := a.ensureModel(ctx)
	if err != nil {
		return err
	}

	loaded, err := b.Initialize(ctx, resolved.Path)
	if err != nil {
		return fmt.Errorf("preload model: %w", err)
	}
	if !loaded {
		return fmt.Errorf("preload model: engine could not load %s", resolved.Path)
	}
	a.log().Info("model preloaded", zap.String("path", resolved.Path))
	return nil
}
