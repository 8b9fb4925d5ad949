package submit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dedezza1D/bibtask/internal/events"
	"github.com/dedezza1D/bibtask/internal/observability"
	"github.com/dedezza1D/bibtask/internal/schedule"
	"github.com/dedezza1D/bibtask/internal/store"
	"github.com/dedezza1D/bibtask/internal/task"
)

type Submitter struct {
	store  store.Queue
	kinds  *task.Registry
	events events.Publisher
	auth   Authorizer
	logger *zap.Logger
	now    func() time.Time
}

type Options struct {
	Store      store.Queue
	Kinds      *task.Registry
	Events     events.Publisher
	Authorizer Authorizer
	Logger     *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func New(opts Options) *Submitter {
	s := &Submitter{
		store:  opts.Store,
		kinds:  opts.Kinds,
		events: opts.Events,
		auth:   opts.Authorizer,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Submit is the interactive entry point: the effective user must be
// authorized for kind before anything is written.
func (s *Submitter) Submit(ctx context.Context, kind, user string, argv []string) (int64, error) {
	params, err := task.ScanArgs(argv)
	if err != nil {
		return 0, err
	}
	if params.User != "" {
		user = params.User
	}
	if s.auth == nil {
		return 0, fmt.Errorf("%w: no authorizer configured", ErrUnauthorized)
	}
	if err := s.auth.Authorize(ctx, user, kind); err != nil {
		s.logger.Warn("submission refused", zap.String("user", user), zap.String("kind", kind), zap.Error(err))
		return 0, err
	}
	return s.Enqueue(ctx, kind, user, argv)
}

// Enqueue validates argv and inserts a WAITING row for kind. Either the
// row ends up complete or it is not left behind.
func (s *Submitter) Enqueue(ctx context.Context, kind, user string, argv []string) (int64, error) {
	if _, err := s.kinds.Lookup(kind); err != nil {
		return 0, err
	}
	params, err := task.ScanArgs(argv)
	if err != nil {
		return 0, err
	}
	if params.User != "" {
		user = params.User
	}

	now := s.now()
	runtime, err := schedule.ParseTime(params.Runtime, now)
	if err != nil {
		return 0, err
	}
	if params.Sleeptime != "" {
		sh, err := schedule.ParseShift(params.Sleeptime)
		if err != nil {
			return 0, err
		}
		if !sh.Positive() {
			return 0, fmt.Errorf("%w: sleeptime %q must move forward", schedule.ErrBadShift, params.Sleeptime)
		}
	}
	if _, err := schedule.ParseWindow(params.RuntimeLimit); err != nil {
		return 0, err
	}
	if _, err := task.ParseDirectives(params.PostProcess); err != nil {
		return 0, err
	}

	proc := kind
	if params.Name != "" {
		proc = kind + ":" + params.Name
	}

	var seq *string
	if params.SequenceID != "" {
		seq = &params.SequenceID
	}

	args, err := task.EncodeArguments(proc, argv)
	if err != nil {
		return 0, err
	}
	id, err := s.store.CreateTask(ctx, store.CreateTaskParams{
		Proc:       proc,
		User:       user,
		Host:       params.Host,
		Runtime:    runtime,
		Sleeptime:  params.Sleeptime,
		Arguments:  args,
		Priority:   params.Priority,
		SequenceID: seq,
	})
	if err != nil {
		return 0, fmt.Errorf("create task: %w", err)
	}

	final := append(append([]string(nil), argv...), "--task-id="+strconv.FormatInt(id, 10))
	if err := s.finish(ctx, id, proc, final); err != nil {
		if derr := s.store.DeleteTask(context.WithoutCancel(ctx), id); derr != nil && !errors.Is(derr, store.ErrNotFound) {
			s.logger.Error("failed to remove partial task", zap.Int64("task_id", id), zap.Error(derr))
		}
		return 0, err
	}

	observability.TasksSubmittedTotal.WithLabelValues(kind).Inc()
	s.logger.Info("task submitted",
		zap.Int64("task_id", id),
		zap.String("proc", proc),
		zap.String("user", user),
		zap.Time("runtime", runtime),
		zap.String("sleeptime", params.Sleeptime),
	)

	ev := events.Event{
		TaskID:  id,
		Proc:    proc,
		Status:  store.StatusWaiting,
		Host:    params.Host,
		Runtime: runtime,
		At:      now,
	}
	if err := s.events.Publish(ctx, events.SubjectSubmitted, ev); err != nil {
		s.logger.Warn("failed to publish submitted event", zap.Int64("task_id", id), zap.Error(err))
	}
	return id, nil
}

func (s *Submitter) finish(ctx context.Context, id int64, proc string, argv []string) error {
	args, err := task.EncodeArguments(proc, argv)
	if err != nil {
		return err
	}
	if err := s.store.SetArguments(ctx, id, args); err != nil {
		return fmt.Errorf("store arguments: %w", err)
	}
	return nil
}
