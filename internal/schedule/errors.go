package schedule

import "errors"

var (
	ErrBadShift  = errors.New("invalid time shift")
	ErrBadTime   = errors.New("invalid time")
	ErrBadWindow = errors.New("invalid runtime limit")
)
