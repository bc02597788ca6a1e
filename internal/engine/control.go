package engine

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// RunUntil runs the tick loop until ctx is cancelled (SIGINT/SIGTERM,
// via the caller's signal.NotifyContext), interleaving ticks with the
// control signals of spec.md §6: SIGHUP reloads configuration, SIGUSR1
// dumps status, SIGUSR2 saves immediately. Autosave is handled inside
// Tick. On return, Shutdown has already been called.
func (e *Engine) RunUntil(ctx context.Context) error {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.Shutdown()

		case sig := <-sigCh:
			e.handleSignal(sig)

		case <-timer.C:
			tickStart := time.Now()
			e.Tick(ctx)
			cycle := time.Duration(e.cfg.Model.CycleSeconds) * time.Second
			sleep := cycle - time.Since(tickStart)
			if sleep < 0 {
				sleep = 0
			}
			timer.Reset(sleep)
		}
	}
}

func (e *Engine) handleSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGHUP:
		if err := e.Reload(); err != nil {
			e.log.Error("config reload failed, keeping previous configuration", "error", err)
		}
	case syscall.SIGUSR1:
		e.DumpStatus()
	case syscall.SIGUSR2:
		if err := e.Save(); err != nil {
			e.log.Error("manual save failed", "error", err)
			return
		}
		e.lastSave = time.Now()
		e.log.Info("state saved")
	}
}
