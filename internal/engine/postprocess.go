package engine

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/dedezza1D/bibtask/internal/store"
	"github.com/dedezza1D/bibtask/internal/task"
)

// PostProcessor runs after the body, whatever the outcome.
type PostProcessor func(ctx context.Context, tc *task.TaskContext, status store.Status, args map[string]string) error

type PostProcessRegistry struct {
	procs map[string]PostProcessor
}

func NewPostProcessRegistry() *PostProcessRegistry {
	return &PostProcessRegistry{procs: map[string]PostProcessor{}}
}

func (r *PostProcessRegistry) Register(name string, p PostProcessor) {
	r.procs[name] = p
}

func (r *PostProcessRegistry) Get(name string) (PostProcessor, bool) {
	p, ok := r.procs[name]
	return p, ok
}

func (r *PostProcessRegistry) Names() []string {
	out := make([]string, 0, len(r.procs))
	for name := range r.procs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// check refuses directives nobody registered.
func (r *PostProcessRegistry) check(ds []task.Directive) error {
	for _, d := range ds {
		if _, ok := r.procs[d.Name]; !ok {
			return fmt.Errorf("%w: no post-process step named %q", task.ErrBadDirective, d.Name)
		}
	}
	return nil
}

// DefaultPostProcessors registers the steps that need nothing but a logger.
func DefaultPostProcessors(logger *zap.Logger) *PostProcessRegistry {
	r := NewPostProcessRegistry()

	// log[message=...]: write one line to the task log
	r.Register("log", func(_ context.Context, tc *task.TaskContext, status store.Status, args map[string]string) error {
		logger.Info(args["message"],
			zap.Int64("task_id", tc.ID),
			zap.String("status", string(status)),
			zap.Any("args", args),
		)
		return nil
	})

	return r
}
