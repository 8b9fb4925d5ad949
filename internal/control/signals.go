package control

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Signals understood by a running task.
var Signals = []os.Signal{
	syscall.SIGUSR1, // sleep
	syscall.SIGTERM, // stop
	syscall.SIGABRT, // suicide
	syscall.SIGUSR2, // debug
	syscall.SIGCONT, // wake up
	syscall.SIGINT,  // ignored
}

// HandleSignals routes incoming signals to c until the returned function is
// called.
func (c *Controller) HandleSignals(ctx context.Context) (stop func()) {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, Signals...)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case sig := <-ch:
				c.handle(ctx, sig)
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func (c *Controller) handle(ctx context.Context, sig os.Signal) {
	log := c.logger.With(zap.Int64("task_id", c.taskID), zap.String("signal", sig.String()))
	switch sig {
	case syscall.SIGUSR1:
		log.Info("sleep requested")
		c.RequestSleep()
	case syscall.SIGTERM:
		log.Info("stop requested")
		c.RequestStop()
	case syscall.SIGABRT:
		c.Suicide(ctx)
	case syscall.SIGUSR2:
		c.Debug()
	case syscall.SIGCONT:
		log.Debug("continued")
	default:
		log.Info("signal ignored")
	}
}
