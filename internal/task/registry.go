package task

import (
	"context"
	"fmt"
	"sort"
)

// Body is the business logic of a task kind.
type Body func(ctx context.Context, tc *TaskContext) error

type Kind struct {
	Name        string
	Description string
	Body        Body
}

type Registry struct {
	kinds map[string]Kind
}

func NewRegistry() *Registry {
	return &Registry{kinds: map[string]Kind{}}
}

func (r *Registry) Register(k Kind) {
	r.kinds[k.Name] = k
}

func (r *Registry) Get(name string) (Kind, bool) {
	k, ok := r.kinds[name]
	return k, ok
}

// Lookup is Get with ErrUnknownKind for missing kinds.
func (r *Registry) Lookup(name string) (Kind, error) {
	k, ok := r.kinds[name]
	if !ok {
		return Kind{}, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return k, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
