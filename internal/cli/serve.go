package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/glimpse/internal/config"
	httpAdapter "github.com/aretw0/glimpse/pkg/adapters/http"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 5 * time.Second

// Serve runs the HTTP service until ctx is cancelled.
func Serve(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	streams := httpAdapter.NewStreamManager(logger)
	stack, err := BuildStack(ctx, cfg, logger, streams.Hooks())
	if err != nil {
		return err
	}

	handlerOpts := []httpAdapter.Option{
		httpAdapter.WithStreams(streams),
		httpAdapter.WithLogger(logger),
	}
	if stack.Registry != nil {
		handlerOpts = append(handlerOpts, httpAdapter.WithGatherer(stack.Registry))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpAdapter.NewHandler(stack.Pipeline, handlerOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		printSystemMessage(out, "Starting glimpse server on %s", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		_ = stack.Close(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		printSystemMessage(out, "Shutting down...")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Graceful shutdown did not complete", "timeout", ShutdownTimeout, "err", err)
			if err := srv.Close(); err != nil {
				logger.Error("Error killing server", "err", err)
			}
		}
		if err := stack.Close(shutdownCtx); err != nil {
			logger.Warn("Failed to release requests", "err", err)
		}
		printSystemMessage(out, "glimpse server stopped gracefully")
		return nil
	}
}

// printSystemMessage prints a standardized system message.
func printSystemMessage(out io.Writer, format string, args ...any) {
	fmt.Fprintf(out, ">>> %s\n", fmt.Sprintf(format, args...))
}
