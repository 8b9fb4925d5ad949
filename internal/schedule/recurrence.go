package schedule

import (
	"fmt"
	"time"
)

// NextRuntime computes when a daemon task should run again.
//
// A floating task runs sleeptime after its previous run started. A fixed-time
// task keeps the phase of its previous stored runtime: the result is
// previous+sleeptime, advanced by whole periods until it lies after now, so
// a slow run never pushes later runs out of step.
func NextRuntime(sleeptime string, fixed bool, started, previous, now time.Time) (time.Time, error) {
	sh, err := ParseShift(sleeptime)
	if err != nil {
		return time.Time{}, err
	}
	if !sh.Positive() {
		return time.Time{}, fmt.Errorf("%w: sleeptime %q must move forward", ErrBadShift, sleeptime)
	}
	if !fixed {
		return sh.Add(started).Truncate(time.Second), nil
	}
	return advance(sh, sh.Add(previous), now), nil
}

// Align returns the first instant previous+k*sleeptime, k >= 0, that lies
// after now. A runtime already in the future is returned unchanged.
func Align(sleeptime string, previous, now time.Time) (time.Time, error) {
	sh, err := ParseShift(sleeptime)
	if err != nil {
		return time.Time{}, err
	}
	if !sh.Positive() {
		return time.Time{}, fmt.Errorf("%w: sleeptime %q must move forward", ErrBadShift, sleeptime)
	}
	return advance(sh, previous, now), nil
}

func advance(sh Shift, next, now time.Time) time.Time {
	for !next.After(now) {
		next = sh.Add(next)
	}
	return next.Truncate(time.Second)
}
