package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"runtime/pprof"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/dedezza1D/bibtask/internal/control"
	"github.com/dedezza1D/bibtask/internal/events"
	"github.com/dedezza1D/bibtask/internal/logging"
	"github.com/dedezza1D/bibtask/internal/observability"
	"github.com/dedezza1D/bibtask/internal/schedule"
	"github.com/dedezza1D/bibtask/internal/store"
	"github.com/dedezza1D/bibtask/internal/task"
)

// DebugFunc starts an introspection endpoint for a running task and returns
// its address.
type DebugFunc func(tc *task.TaskContext) (string, error)

// Engine runs one dispatched task instance inside the current process.
type Engine struct {
	store   store.Queue
	kinds   *task.Registry
	post    *PostProcessRegistry
	events  events.Publisher
	mailer  Mailer
	logger  *zap.Logger
	process control.Process
	debug   DebugFunc
	now     func() time.Time

	host          string
	pid           int
	runDir        string
	logDir        string
	logMaxSizeMB  int
	logMaxBackups int
	stopOnError   bool
	signals       bool
}

type Options struct {
	Store          store.Queue
	Kinds          *task.Registry
	PostProcessors *PostProcessRegistry
	Events         events.Publisher
	// Mailer is used only for tasks with --email-logs-to.
	Mailer Mailer
	Logger *zap.Logger
	// Process defaults to the current OS process.
	Process control.Process
	Debug   DebugFunc
	Now     func() time.Time

	Host          string
	RunDir        string
	LogDir        string
	LogMaxSizeMB  int
	LogMaxBackups int
	// StopOnError applies when the task has neither --stop-on-error nor
	// --continue-on-error.
	StopOnError bool
	// Signals installs the OS signal handlers while the body runs.
	Signals bool
}

func New(opts Options) *Engine {
	e := &Engine{
		store:         opts.Store,
		kinds:         opts.Kinds,
		post:          opts.PostProcessors,
		events:        opts.Events,
		mailer:        opts.Mailer,
		logger:        opts.Logger,
		process:       opts.Process,
		debug:         opts.Debug,
		now:           opts.Now,
		host:          opts.Host,
		pid:           os.Getpid(),
		runDir:        opts.RunDir,
		logDir:        opts.LogDir,
		logMaxSizeMB:  opts.LogMaxSizeMB,
		logMaxBackups: opts.LogMaxBackups,
		stopOnError:   opts.StopOnError,
		signals:       opts.Signals,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.events == nil {
		e.events = events.Nop{}
	}
	if e.post == nil {
		e.post = DefaultPostProcessors(e.logger)
	}
	if e.process == nil {
		e.process = control.OS{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.host == "" {
		e.host, _ = os.Hostname()
	}
	if e.runDir == "" {
		e.runDir = os.TempDir()
	}
	if e.logDir == "" {
		e.logDir = e.runDir
	}
	return e
}

// Run dispatches task id as kind. It returns the terminal status the
// dispatch reached, WAITING for a postponement. Configuration and gating
// failures come back as errors and leave the row untouched.
func (e *Engine) Run(ctx context.Context, kind string, id int64) (store.Status, error) {
	k, err := e.kinds.Lookup(kind)
	if err != nil {
		return "", err
	}
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return "", fmt.Errorf("task #%d: %w", id, err)
	}
	if task.KindOf(t.Proc) != kind {
		return "", fmt.Errorf("%w: task #%d does not seem to be a %s task", ErrWrongKind, id, kind)
	}
	tc, err := task.NewContext(t)
	if err != nil {
		return "", err
	}
	if err := e.post.check(tc.PostProcess); err != nil {
		return "", err
	}

	if !t.Status.Runnable() {
		return "", fmt.Errorf("%w: task #%d is %s", ErrNotRunnable, id, t.Status)
	}

	now := e.now()
	if !tc.Window.Contains(now) {
		return e.postpone(ctx, t, tc, now)
	}

	if t.Host != "" && t.Host != e.host {
		return "", fmt.Errorf("%w: task #%d wants %s, this is %s", ErrHostMismatch, id, t.Host, e.host)
	}

	pidPath := logging.TaskFile(e.runDir, id, "pid")
	if err := writePidFile(pidPath, e.pid); err != nil {
		return "", err
	}
	defer removePidFile(pidPath)

	if t.Host == "" {
		if err := e.store.SetHost(ctx, id, e.host); err != nil {
			return "", fmt.Errorf("stamp host: %w", err)
		}
		tc.Host = e.host
	}

	return e.execute(ctx, k, t, tc, pidPath)
}

func (e *Engine) execute(ctx context.Context, k task.Kind, t *store.Task, tc *task.TaskContext, pidPath string) (store.Status, error) {
	logger, closeLogs, err := logging.NewTask(e.logger, logging.TaskConfig{
		Dir:        e.logDir,
		TaskID:     t.ID,
		Verbose:    tc.Params.Verbose,
		MaxSizeMB:  e.logMaxSizeMB,
		MaxBackups: e.logMaxBackups,
	})
	if err != nil {
		e.logger.Warn("task log files unavailable", zap.Int64("task_id", t.ID), zap.Error(err))
		logger, closeLogs = e.logger.With(zap.Int64("task_id", t.ID)), func() error { return nil }
	}
	defer func() { _ = closeLogs() }()

	stopOnError := e.stopOnError
	if tc.Params.StopOnError != nil {
		stopOnError = *tc.Params.StopOnError
	}

	var run *store.Run
	ctl := control.New(control.Options{
		Store:   e.store,
		TaskID:  t.ID,
		Window:  tc.Window,
		Process: e.process,
		Logger:  logger,
		Now:     e.now,
		OnSuicide: func(ctx context.Context) {
			e.finishRun(ctx, logger, run, store.StatusSuicided, nil)
			removePidFile(pidPath)
			_ = closeLogs()
		},
		Debug: func() (string, error) {
			if e.debug == nil {
				return "", errors.New("no debug endpoint configured")
			}
			return e.debug(tc)
		},
	})
	if e.signals {
		stop := ctl.HandleSignals(ctx)
		defer stop()
	}

	ctx, span := otel.Tracer(observability.TracerName+"/engine").Start(ctx, "bibtask.run")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("task.id", t.ID),
		attribute.String("task.proc", t.Proc),
		attribute.String("task.host", e.host),
		attribute.String("task.sleeptime", t.Sleeptime),
	)

	if err := e.store.SetStatus(ctx, t.ID, store.StatusRunning); err != nil {
		span.SetStatus(codes.Error, "set_running")
		return "", fmt.Errorf("mark task #%d running: %w", t.ID, err)
	}
	if run, err = e.store.CreateRun(ctx, t.ID, e.host, e.pid); err != nil {
		logger.Warn("failed to record run", zap.Error(err))
	}

	started := e.now()
	logger.Info("task started",
		zap.String("proc", t.Proc),
		zap.String("user", t.User),
		zap.Strings("args", tc.Args()),
		zap.Time("runtime", t.Runtime),
	)
	observability.TasksStartedTotal.WithLabelValues(tc.Kind).Inc()

	stopProfile := e.startProfile(logger, tc)
	bodyErr := invoke(ctx, k.Body, tc.WithController(ctl))
	stopProfile()
	observability.TaskDuration.WithLabelValues(tc.Kind).Observe(e.now().Sub(started).Seconds())

	status := outcome(bodyErr, ctl.Stopped(), tc.Notify(), stopOnError)
	var errMsg *string
	if exception(bodyErr) {
		msg := bodyErr.Error()
		errMsg = &msg
		fields := []zap.Field{zap.Error(bodyErr), zap.String("status", string(status))}
		var pe *panicError
		if errors.As(bodyErr, &pe) {
			fields = append(fields, zap.ByteString("stack", pe.stack))
		}
		logger.Error("task raised an error", fields...)
		span.RecordError(bodyErr)
		span.SetStatus(codes.Error, string(status))
	} else if bodyErr != nil && task.IsFailure(bodyErr) {
		msg := bodyErr.Error()
		errMsg = &msg
		logger.Warn("task reported failure", zap.Error(bodyErr), zap.String("status", string(status)))
	}

	if status != store.StatusStopped {
		if err := e.store.SetStatus(ctx, t.ID, status); err != nil {
			logger.Error("failed to write terminal status", zap.String("status", string(status)), zap.Error(err))
		}
	}
	logger.Info("task finished", zap.String("status", string(status)), zap.Duration("took", e.now().Sub(started)))
	observability.TasksFinishedTotal.WithLabelValues(tc.Kind, string(status)).Inc()

	e.recycle(ctx, logger, t, tc, status, started)
	e.postProcess(ctx, logger, tc, status)
	if tc.Notify() {
		e.sendSummary(ctx, logger, tc, status, "")
	}
	e.finishRun(ctx, logger, run, status, errMsg)
	e.publish(ctx, logger, t.ID)
	return status, nil
}

// invoke runs the body, turning a panic into an error that keeps the stack.
func invoke(ctx context.Context, body task.Body, tc *task.TaskContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return body(ctx, tc)
}

// recycle puts a daemon's row back in the queue after DONE or STOPPED.
func (e *Engine) recycle(ctx context.Context, logger *zap.Logger, t *store.Task, tc *task.TaskContext, status store.Status, started time.Time) {
	if !t.Daemon() {
		return
	}
	switch status {
	case store.StatusDone:
		next, err := schedule.NextRuntime(t.Sleeptime, tc.Params.FixedTime, started, t.Runtime, e.now())
		if err != nil {
			logger.Error("cannot compute next runtime", zap.String("sleeptime", t.Sleeptime), zap.Error(err))
			return
		}
		if err := e.store.Reschedule(ctx, t.ID, store.RescheduleParams{Runtime: next, Status: store.StatusWaiting}); err != nil {
			logger.Error("failed to recycle task", zap.Error(err))
			return
		}
		logger.Info("task recycled", zap.Time("next_runtime", next))
	case store.StatusStopped:
		if err := e.store.SetStatus(ctx, t.ID, store.StatusWaiting); err != nil {
			logger.Error("failed to requeue stopped task", zap.Error(err))
			return
		}
		logger.Info("stopped task requeued")
	}
}

func (e *Engine) postProcess(ctx context.Context, logger *zap.Logger, tc *task.TaskContext, status store.Status) {
	for _, d := range tc.PostProcess {
		p, ok := e.post.Get(d.Name)
		if !ok {
			continue
		}
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return p(ctx, tc, status, d.Args)
		}()
		if err != nil {
			logger.Error("post-process step failed", zap.String("step", d.Name), zap.Error(err))
		}
	}
}

// sendSummary mails the outcome of this process with the tail of the task
// log. progress is added to the body when set.
func (e *Engine) sendSummary(ctx context.Context, logger *zap.Logger, tc *task.TaskContext, status store.Status, progress string) {
	if e.mailer == nil {
		logger.Warn("completion mail requested but no mailer is configured")
		return
	}
	subject := fmt.Sprintf("%s #%d finished with %s", tc.Proc, tc.ID, status)
	var body strings.Builder
	fmt.Fprintf(&body, "Task #%d (%s) finished with status %s on %s.\n", tc.ID, tc.Proc, status, e.host)
	if progress != "" {
		fmt.Fprintf(&body, "Progress: %s\n", progress)
	}
	fmt.Fprintf(&body, "User: %s\nArguments: %s\n\n", tc.User, strings.Join(tc.Args(), " "))
	logPath := logging.TaskFile(e.logDir, tc.ID, "log")
	fmt.Fprintf(&body, "Last lines of %s:\n%s\n", logPath, tailLines(logPath, 50))

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := e.mailer.Send(sendCtx, tc.Params.EmailLogsTo, subject, body.String()); err != nil {
		logger.Warn("failed to send completion mail", zap.Strings("to", tc.Params.EmailLogsTo), zap.Error(err))
	}
}

func (e *Engine) finishRun(ctx context.Context, logger *zap.Logger, run *store.Run, status store.Status, errMsg *string) {
	if run == nil {
		return
	}
	if _, err := e.store.FinishRun(context.WithoutCancel(ctx), run.ID, status, errMsg); err != nil {
		logger.Warn("failed to finish run record", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, logger *zap.Logger, id int64) {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		logger.Warn("failed to reload task for event", zap.Error(err))
		return
	}
	if err := e.events.Publish(ctx, events.SubjectStatus, events.FromTask(t)); err != nil {
		logger.Warn("failed to publish status event", zap.Error(err))
	}
}

func (e *Engine) startProfile(logger *zap.Logger, tc *task.TaskContext) func() {
	if len(tc.Params.Profile) == 0 {
		return func() {}
	}
	path := logging.TaskFile(e.logDir, tc.ID, "prof")
	f, err := os.Create(path)
	if err != nil {
		logger.Warn("cannot create profile", zap.String("path", path), zap.Error(err))
		return func() {}
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		logger.Warn("cannot start profile", zap.Error(err))
		return func() {}
	}
	return func() {
		pprof.StopCPUProfile()
		_ = f.Close()
		logger.Info("profile written", zap.String("path", path), zap.Strings("sort", tc.Params.Profile))
	}
}
