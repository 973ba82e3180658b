package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// interruptExitCode is what the process exits with when a second interrupt
// arrives before a graceful stop completes.
const interruptExitCode = 130

// shutdownContext derives a context for long-running commands from parent.
// It is canceled by SIGINT or SIGTERM; a repeat signal ends the process.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	ctx := stopOnSignal(parent, sigs, logger, os.Exit)

	context.AfterFunc(parent, func() { signal.Stop(sigs) })

	return ctx
}

// stopOnSignal cancels the returned context at the first value on sigs and
// calls exit at the second. The watcher returns once parent is done.
func stopOnSignal(parent context.Context, sigs <-chan os.Signal, logger *slog.Logger, exit func(int)) context.Context {
	ctx, cancel := context.WithCancelCause(parent)

	go func() {
		stopping := false

		for {
			select {
			case <-parent.Done():
				cancel(nil)
				return
			case sig := <-sigs:
				if stopping {
					logger.Warn("interrupted again, exiting now", slog.String("signal", sig.String()))
					exit(interruptExitCode)

					return
				}

				stopping = true

				logger.Info("stopping", slog.String("signal", sig.String()))
				cancel(context.Canceled)
			}
		}
	}()

	return ctx
}
