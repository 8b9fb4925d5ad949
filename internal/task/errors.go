package task

import (
	"errors"
)

var (
	ErrUnknownKind   = errors.New("unknown task kind")
	ErrBadArguments  = errors.New("invalid task arguments")
	ErrBadDirective  = errors.New("invalid post-process directive")
	ErrNoCheckpoints = errors.New("task context has no controller")
)

// FailureError marks a body that finished but reports it did not succeed.
type FailureError struct{ Err error }

func (e FailureError) Error() string { return e.Err.Error() }
func (e FailureError) Unwrap() error { return e.Err }

func Failed(err error) error {
	if err == nil {
		return nil
	}
	return FailureError{Err: err}
}

func IsFailure(err error) bool {
	var fe FailureError
	return errors.As(err, &fe)
}

// RecoverableError marks an exception the queue can carry on past when
// someone is notified about it.
type RecoverableError struct{ Err error }

func (e RecoverableError) Error() string { return e.Err.Error() }
func (e RecoverableError) Unwrap() error { return e.Err }

func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return RecoverableError{Err: err}
}

func IsRecoverable(err error) bool {
	var re RecoverableError
	return errors.As(err, &re)
}
