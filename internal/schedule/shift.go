package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// A Shift is a signed relative offset such as "+2h", "-30m" or "1d".
// Days are calendar days: a daily task keeps its wall-clock time across DST
// changes.
type Shift struct {
	Days     int
	Duration time.Duration
}

var shiftRe = regexp.MustCompile(`^([-+]?)(\d+)([dhms])$`)

func ParseShift(s string) (Shift, error) {
	m := shiftRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Shift{}, fmt.Errorf("%w: %q", ErrBadShift, s)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return Shift{}, fmt.Errorf("%w: %q", ErrBadShift, s)
	}
	if m[1] == "-" {
		n = -n
	}

	var sh Shift
	switch m[3] {
	case "d":
		sh.Days = n
	case "h":
		sh.Duration = time.Duration(n) * time.Hour
	case "m":
		sh.Duration = time.Duration(n) * time.Minute
	case "s":
		sh.Duration = time.Duration(n) * time.Second
	}
	return sh, nil
}

func (s Shift) Add(t time.Time) time.Time {
	return t.AddDate(0, 0, s.Days).Add(s.Duration)
}

// Positive reports whether adding the shift moves time forward.
func (s Shift) Positive() bool {
	return s.Days >= 0 && s.Duration >= 0 && (s.Days > 0 || s.Duration > 0)
}

func (s Shift) String() string {
	switch {
	case s.Days != 0:
		return strconv.Itoa(s.Days) + "d"
	case s.Duration%time.Hour == 0:
		return strconv.Itoa(int(s.Duration/time.Hour)) + "h"
	case s.Duration%time.Minute == 0:
		return strconv.Itoa(int(s.Duration/time.Minute)) + "m"
	default:
		return strconv.Itoa(int(s.Duration/time.Second)) + "s"
	}
}

const (
	TimeLayout = "2006-01-02 15:04:05"
	DateLayout = "2006-01-02"
)

// ParseTime accepts an absolute local time ("2006-01-02 15:04:05" or
// "2006-01-02") or a shift relative to now. An empty value means now.
func ParseTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.Truncate(time.Second), nil
	}
	for _, layout := range []string{TimeLayout, DateLayout} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}
	sh, err := ParseShift(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTime, s)
	}
	return sh.Add(now).Truncate(time.Second), nil
}
