package runtime

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"
)

func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ShutdownStep is one named piece of graceful shutdown.
type ShutdownStep struct {
	Name string
	Stop func(context.Context) error
}

// Shutdown runs steps in order under one shared timeout, logging failures.
func Shutdown(logger *slog.Logger, timeout time.Duration, steps ...ShutdownStep) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, s := range steps {
		if err := s.Stop(ctx); err != nil {
			logger.Error("shutdown step failed", "step", s.Name, "err", err)
			continue
		}
		logger.Info("stopped", "step", s.Name)
	}
}
