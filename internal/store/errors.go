package store

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrBadStatus    = errors.New("invalid status")
	ErrNoSequence   = errors.New("task has no sequence id")
	ErrUnsupported  = errors.New("unsupported store driver")
	ErrRunningPurge = errors.New("running tasks cannot be purged")
)
