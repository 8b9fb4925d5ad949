package task

import (
	"context"
	"fmt"
	"time"

	"github.com/dedezza1D/bibtask/internal/schedule"
	"github.com/dedezza1D/bibtask/internal/store"
)

// Controller applies the cooperative protocol on behalf of a running body.
type Controller interface {
	Checkpoint(ctx context.Context, allowTerminalStop bool) error
	UpdateProgress(ctx context.Context, msg string) error
}

// TaskContext is everything one dispatch knows about its task. It is built
// once from the stored row and not modified afterwards; status and progress
// live only in the queue store.
type TaskContext struct {
	ID         int64
	Kind       string
	Proc       string
	User       string
	Host       string
	Sleeptime  string
	Runtime    time.Time
	SequenceID string

	Params      Params
	Window      schedule.Window
	PostProcess []Directive

	ctl Controller
}

// NewContext decodes a stored row. Malformed windows, directives or
// arguments are configuration errors.
func NewContext(t *store.Task) (*TaskContext, error) {
	proc, argv, err := DecodeArguments(t.Arguments)
	if err != nil {
		return nil, fmt.Errorf("task #%d: %w", t.ID, err)
	}
	params, err := ScanArgs(argv)
	if err != nil {
		return nil, fmt.Errorf("task #%d: %w", t.ID, err)
	}
	window, err := schedule.ParseWindow(params.RuntimeLimit)
	if err != nil {
		return nil, fmt.Errorf("task #%d: %w", t.ID, err)
	}
	directives, err := ParseDirectives(params.PostProcess)
	if err != nil {
		return nil, fmt.Errorf("task #%d: %w", t.ID, err)
	}
	if proc == "" {
		proc = t.Proc
	}

	tc := &TaskContext{
		ID:          t.ID,
		Kind:        KindOf(t.Proc),
		Proc:        proc,
		User:        t.User,
		Host:        t.Host,
		Sleeptime:   t.Sleeptime,
		Runtime:     t.Runtime,
		Params:      params,
		Window:      window,
		PostProcess: directives,
	}
	if t.SequenceID != nil {
		tc.SequenceID = *t.SequenceID
	}
	return tc, nil
}

// WithController returns a copy of tc bound to ctl.
func (tc *TaskContext) WithController(ctl Controller) *TaskContext {
	cp := *tc
	cp.ctl = ctl
	return &cp
}

// Args are the task-specific arguments left after the scheduling options.
func (tc *TaskContext) Args() []string {
	return append([]string(nil), tc.Params.Rest...)
}

// Checkpoint must be called by the body at safe points. With
// allowTerminalStop the call may end the task: it then returns an error
// the body should return unchanged.
func (tc *TaskContext) Checkpoint(ctx context.Context, allowTerminalStop bool) error {
	if tc.ctl == nil {
		return ErrNoCheckpoints
	}
	return tc.ctl.Checkpoint(ctx, allowTerminalStop)
}

func (tc *TaskContext) UpdateProgress(ctx context.Context, msg string) error {
	if tc.ctl == nil {
		return ErrNoCheckpoints
	}
	return tc.ctl.UpdateProgress(ctx, msg)
}

// Notify reports whether a completion mail is configured.
func (tc *TaskContext) Notify() bool {
	return len(tc.Params.EmailLogsTo) > 0
}
