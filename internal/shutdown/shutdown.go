// Package shutdown runs a blocking follower until it finishes or the process
// is interrupted, then gives cleanup a bounded amount of time.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// DefaultTimeout bounds cleanup after a signal.
const DefaultTimeout = 5 * time.Second

// RunWithGracefulShutdown starts runner and waits for it to return or for
// SIGINT/SIGTERM. On a signal the runner's context is cancelled and cleanup
// runs with up to timeout to finish; a second signal abandons the wait.
func RunWithGracefulShutdown(
	ctx context.Context,
	logger *slog.Logger,
	timeout time.Duration,
	runner func(ctx context.Context) error,
	cleanup func(ctx context.Context) error,
) error {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	return run(ctx, sigChan, logger, timeout, runner, cleanup)
}

func run(
	ctx context.Context,
	sigChan <-chan os.Signal,
	logger *slog.Logger,
	timeout time.Duration,
	runner func(ctx context.Context) error,
	cleanup func(ctx context.Context) error,
) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- runner(runCtx)
	}()

	select {
	case err := <-runDone:
		cleanupWithTimeout(logger, timeout, cleanup)
		return err

	case sig := <-sigChan:
		logger.Info("received signal, initiating shutdown", "signal", sig)
	}

	runCancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if cleanup != nil {
		if err := cleanup(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}

	select {
	case err := <-runDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case sig := <-sigChan:
		logger.Warn("second signal, exiting without waiting", "signal", sig)
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded")
	}

	logger.Info("shutdown complete")
	return nil
}

func cleanupWithTimeout(logger *slog.Logger, timeout time.Duration, cleanup func(ctx context.Context) error) {
	if cleanup == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := cleanup(ctx); err != nil {
		logger.Error("cleanup error", "error", err)
	}
}
