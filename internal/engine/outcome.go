package engine

import (
	"errors"
	"fmt"

	"github.com/dedezza1D/bibtask/internal/control"
	"github.com/dedezza1D/bibtask/internal/store"
	"github.com/dedezza1D/bibtask/internal/task"
)

// panicError is a recovered panic from a task body.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

// outcome maps how a body ended onto the terminal status of the row.
func outcome(err error, stopped, notify, stopOnError bool) store.Status {
	switch {
	case stopped || errors.Is(err, control.ErrStopped):
		return store.StatusStopped
	case err == nil:
		return store.StatusDone
	case task.IsFailure(err):
		if notify {
			return store.StatusErrorsReported
		}
		return store.StatusDoneWithErrors
	case stopOnError:
		return store.StatusError
	case task.IsRecoverable(err) && notify:
		return store.StatusErrorsReported
	default:
		return store.StatusCError
	}
}

// exception reports whether err is a raised error rather than a reported
// failure or a requested stop.
func exception(err error) bool {
	return err != nil && !task.IsFailure(err) && !errors.Is(err, control.ErrStopped)
}
