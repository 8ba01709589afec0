// Package lifecycle blocks the main goroutine while the supervisor runs and
// reacts to termination signals.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// Mode selects how a termination signal is handled.
type Mode string

const (
	// ModeImmediate exits the process at once without stopping the supervisor.
	ModeImmediate Mode = "immediate"
	// ModeGraceful stops the supervisor and returns.
	ModeGraceful Mode = "graceful"
)

// ParseMode validates a configured shutdown mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeImmediate, ModeGraceful:
		return Mode(s), nil
	case "":
		return ModeImmediate, nil
	default:
		return "", fmt.Errorf("unknown shutdown mode %q", s)
	}
}

// Supervisor is what the waiter starts and watches.
type Supervisor interface {
	Start(ctx context.Context)
	Running() bool
	Stop()
}

// Config controls the wait loop.
type Config struct {
	CheckInterval time.Duration
	Mode          Mode
}

// Waiter runs the main-goroutine loop.
type Waiter struct {
	cfg    Config
	logger *zap.Logger
	exit   func(code int)
}

// NewWaiter constructs a Waiter that exits through os.Exit.
func NewWaiter(cfg Config, logger *zap.Logger) *Waiter {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeImmediate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Waiter{cfg: cfg, logger: logger.Named("lifecycle"), exit: os.Exit}
}

// Run starts sup in the background and waits like Wait. Signals are acted
// on while the initial check is still in progress.
func (w *Waiter) Run(ctx context.Context, sup Supervisor, signals <-chan os.Signal) {
	started := make(chan struct{})
	go func() {
		defer close(started)
		sup.Start(ctx)
	}()
	w.wait(ctx, sup, signals, started)
}

// Wait blocks until a signal arrives, ctx ends or the supervisor stops on
// its own. sup must already be started.
func (w *Waiter) Wait(ctx context.Context, sup Supervisor, signals <-chan os.Signal) {
	w.wait(ctx, sup, signals, nil)
}

// wait treats a non-nil started channel as a pending Start; the running
// check is skipped until it closes.
func (w *Waiter) wait(ctx context.Context, sup Supervisor, signals <-chan os.Signal, started <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-signals:
			w.logger.Info("signal received, shutting down", zap.String("signal", sig.String()), zap.String("mode", string(w.cfg.Mode)))
			if w.cfg.Mode == ModeImmediate {
				_ = w.logger.Sync()
				w.exit(0)
				return
			}
			sup.Stop()
			return
		case <-ctx.Done():
			w.logger.Info("context canceled, stopping monitor")
			sup.Stop()
			return
		case <-started:
			started = nil
		case <-ticker.C:
			if started != nil {
				continue
			}
			if !sup.Running() {
				w.logger.Warn("monitor is no longer running")
				return
			}
		}
	}
}
