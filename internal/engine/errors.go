package engine

import "errors"

var (
	ErrNotRunnable  = errors.New("task is not in a runnable status")
	ErrHostMismatch = errors.New("task is pinned to another host")
	ErrWrongKind    = errors.New("task belongs to another kind")
	ErrPidFile      = errors.New("cannot record process id")
)
