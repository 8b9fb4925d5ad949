package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dedezza1D/bibtask/internal/observability"
	"github.com/dedezza1D/bibtask/internal/schedule"
	"github.com/dedezza1D/bibtask/internal/store"
)

// ErrStopped is returned by a terminal checkpoint once the task has been
// marked STOPPED. Bodies return it unchanged; it is not a failure.
var ErrStopped = errors.New("task stopped on request")

const (
	wantSleep int32 = 1 << iota
	wantStop
)

// Controller implements the checkpoint side of the sleep/stop/suicide
// protocol for one task row. Signal handlers only record intents; the store
// writes and the self-suspension happen inside Checkpoint.
type Controller struct {
	store  store.Queue
	taskID int64
	window schedule.Window
	proc   Process
	logger *zap.Logger
	now    func() time.Time

	pending atomic.Int32
	stopped atomic.Bool

	onSuicide func(context.Context)
	debug     func() (string, error)
	debugOnce sync.Once
}

type Options struct {
	Store   store.Queue
	TaskID  int64
	Window  schedule.Window
	Process Process
	Logger  *zap.Logger
	Now     func() time.Time
	// OnSuicide runs between SUICIDING and SUICIDED, before the exit.
	OnSuicide func(context.Context)
	// Debug starts the introspection endpoint and returns its address.
	Debug func() (string, error)
}

func New(opts Options) *Controller {
	c := &Controller{
		store:     opts.Store,
		taskID:    opts.TaskID,
		window:    opts.Window,
		proc:      opts.Process,
		logger:    opts.Logger,
		now:       opts.Now,
		onSuicide: opts.OnSuicide,
		debug:     opts.Debug,
	}
	if c.proc == nil {
		c.proc = OS{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Controller) RequestSleep() { c.pending.Or(wantSleep) }
func (c *Controller) RequestStop()  { c.pending.Or(wantStop) }

// Stopped reports whether a checkpoint has ended the task.
func (c *Controller) Stopped() bool { return c.stopped.Load() }

func (c *Controller) UpdateProgress(ctx context.Context, msg string) error {
	return c.store.SetProgress(ctx, c.taskID, msg)
}

// Checkpoint applies pending sleep and stop requests. With allowTerminalStop
// it may also end the task, returning ErrStopped, when a stop was requested
// or the runtime window has closed.
func (c *Controller) Checkpoint(ctx context.Context, allowTerminalStop bool) error {
	observability.CheckpointsTotal.Inc()
	if err := c.fold(ctx); err != nil {
		return err
	}

	st, err := c.store.GetStatus(ctx, c.taskID)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}

	switch st {
	case store.StatusAboutToSleep:
		st, err = c.sleep(ctx)
		if err != nil {
			return err
		}
		if st == store.StatusAboutToStop {
			if allowTerminalStop {
				return c.stop(ctx, "stop requested while sleeping")
			}
			return nil
		}
		for _, s := range []store.Status{store.StatusContinuing, store.StatusRunning} {
			if err := c.store.SetStatus(ctx, c.taskID, s); err != nil {
				return fmt.Errorf("resume: %w", err)
			}
		}
	case store.StatusAboutToStop:
		if allowTerminalStop {
			return c.stop(ctx, "stop requested")
		}
		return nil
	}

	if allowTerminalStop && !c.window.Contains(c.now()) {
		return c.stop(ctx, "runtime limit "+c.window.String()+" reached")
	}
	return nil
}

// fold writes recorded signal intents into the row.
func (c *Controller) fold(ctx context.Context) error {
	p := c.pending.Swap(0)
	if p == 0 {
		return nil
	}
	if p&wantStop != 0 {
		for _, from := range []store.Status{store.StatusRunning, store.StatusAboutToSleep, store.StatusSleeping, store.StatusContinuing} {
			ok, err := c.store.SetStatusIf(ctx, c.taskID, store.StatusAboutToStop, from)
			if err != nil {
				return fmt.Errorf("request stop: %w", err)
			}
			if ok {
				break
			}
		}
		return nil
	}
	if _, err := c.store.SetStatusIf(ctx, c.taskID, store.StatusAboutToSleep, store.StatusRunning); err != nil {
		return fmt.Errorf("request sleep: %w", err)
	}
	return nil
}

// sleep suspends the process and returns the status found on wake up.
func (c *Controller) sleep(ctx context.Context) (store.Status, error) {
	if err := c.store.SetStatus(ctx, c.taskID, store.StatusSleeping); err != nil {
		return "", fmt.Errorf("sleep: %w", err)
	}
	c.logger.Info("task sleeping", zap.Int64("task_id", c.taskID))

	start := time.Now()
	if err := c.proc.Suspend(); err != nil {
		return "", fmt.Errorf("suspend: %w", err)
	}
	c.logger.Info("task woken up", zap.Int64("task_id", c.taskID), zap.Duration("slept", time.Since(start)))

	if p := c.pending.Load(); p&wantStop != 0 {
		if _, err := c.store.SetStatusIf(ctx, c.taskID, store.StatusAboutToStop, store.StatusSleeping); err != nil {
			return "", fmt.Errorf("request stop: %w", err)
		}
		c.pending.And(^wantStop)
	}
	st, err := c.store.GetStatus(ctx, c.taskID)
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	return st, nil
}

func (c *Controller) stop(ctx context.Context, reason string) error {
	if err := c.store.SetStatus(ctx, c.taskID, store.StatusStopped); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	c.stopped.Store(true)
	c.logger.Info("task stopped", zap.Int64("task_id", c.taskID), zap.String("reason", reason))
	return ErrStopped
}

// Suicide terminates the process at once, without going through a
// checkpoint.
func (c *Controller) Suicide(ctx context.Context) {
	c.logger.Warn("suicide requested", zap.Int64("task_id", c.taskID))
	if err := c.store.SetStatus(ctx, c.taskID, store.StatusSuiciding); err != nil {
		c.logger.Error("failed to record suicide", zap.Error(err))
	}
	if c.onSuicide != nil {
		c.onSuicide(ctx)
	}
	if err := c.store.SetStatus(ctx, c.taskID, store.StatusSuicided); err != nil {
		c.logger.Error("failed to record suicide", zap.Error(err))
	}
	c.proc.Exit(0)
}

// Debug starts the introspection endpoint the first time it is requested.
func (c *Controller) Debug() {
	if c.debug == nil {
		c.logger.Warn("debug requested but no endpoint is configured")
		return
	}
	c.debugOnce.Do(func() {
		addr, err := c.debug()
		if err != nil {
			c.logger.Error("failed to start debug endpoint", zap.Error(err))
			return
		}
		c.logger.Warn("debug endpoint listening", zap.Int64("task_id", c.taskID), zap.String("addr", addr))
	})
}
