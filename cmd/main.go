package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/kcx/internal/shared"
	"github.com/desertthunder/kcx/internal/token"
)

func main() {
	logger := shared.NewLogger(nil)
	if err := shared.LoadEnvFile(".env"); err != nil {
		logger.Warn("ignoring .env", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := NewRunner(RunnerOpts{Logger: logger})
	defer runner.Close()

	if err := runner.app().Run(ctx, os.Args); err != nil {
		switch {
		case errors.Is(err, shared.ErrNotImplemented):
			logger.Warn("not implemented")
			return
		case errors.Is(err, context.Canceled):
			logger.Info("interrupted")
			return
		case token.IsReauthRequired(err):
			logger.Error("not logged in, run `kcx auth login` or `kcx auth set-token`", "error", err)
		default:
			logger.Error("application error", "error", err)
		}
		runner.Close()
		os.Exit(1)
	}
}
