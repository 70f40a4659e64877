package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lebenslotse/lifeplan/httpapi"
)

const shutdownTimeout = 30 * time.Second

type templateWatcher interface {
	Watch(ctx context.Context) error
}

// startTemplateWatcher runs the template cache watcher in the background.
// Watch blocks until ctx is done, so it must never run on the serve path
// itself.
func startTemplateWatcher(ctx context.Context, w templateWatcher, logger *slog.Logger) {
	go func() {
		if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Template watcher unavailable", "error", err)
		}
	}()
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Template cache invalidation follows filesystem changes.
	startTemplateWatcher(ctx, a.templates, a.logger)

	api := httpapi.NewServer(a.plans, a.tasks, a.profiles, a.logger)
	server := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           api.Router(a.cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", "addr", a.cfg.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP shutdown failed", "error", err)
	}

	a.logger.Info("Server shutdown complete")
	return nil
}
