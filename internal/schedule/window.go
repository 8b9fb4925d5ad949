package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Window is the set of periods a task may run in. The zero Window has no
// restriction.
type Window struct {
	raw   string
	rules []rule
}

// rule is one "[Wee[kday][-Wee[kday]]] [hh[:mm][-hh[:mm]]]" entry.
type rule struct {
	days     [7]bool
	start    time.Duration // offset from local midnight
	duration time.Duration
}

// Range is one concrete occurrence of a window rule.
type Range struct {
	Start time.Time
	End   time.Time
}

var windowRe = regexp.MustCompile(`(?i)^(?:([a-z]+)(?:-([a-z]+))?)?\s*(?:(\d\d?(?::\d\d?)?)(?:-(\d\d?(?::\d\d?)?))?)?$`)

var weekdays = map[string]time.Weekday{
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
	"sun": time.Sunday,
}

// ParseWindow parses one or more comma-separated runtime limits, for
// example "22:00-03:00" or "Sunday 01:00-05:00,Sat".
func ParseWindow(s string) (Window, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Window{}, nil
	}
	w := Window{raw: s}
	for _, part := range strings.Split(s, ",") {
		r, err := parseRule(strings.TrimSpace(part))
		if err != nil {
			return Window{}, err
		}
		w.rules = append(w.rules, r)
	}
	return w, nil
}

func parseRule(s string) (rule, error) {
	m := windowRe.FindStringSubmatch(s)
	if s == "" || m == nil {
		return rule{}, fmt.Errorf("%w: %q does not match [Wee[kday]] [hh[:mm][-hh[:mm]]]", ErrBadWindow, s)
	}

	var r rule
	if m[1] == "" {
		for i := range r.days {
			r.days[i] = true
		}
	} else {
		first, err := parseWeekday(m[1])
		if err != nil {
			return rule{}, err
		}
		last := first
		if m[2] != "" {
			if last, err = parseWeekday(m[2]); err != nil {
				return rule{}, err
			}
		}
		for d := first; ; d = (d + 1) % 7 {
			r.days[d] = true
			if d == last {
				break
			}
		}
	}

	begin, end := time.Duration(0), time.Duration(0)
	var err error
	if m[3] != "" {
		if begin, err = parseClock(m[3]); err != nil {
			return rule{}, err
		}
	}
	if m[4] != "" {
		if end, err = parseClock(m[4]); err != nil {
			return rule{}, err
		}
	}
	switch {
	case m[4] == "", end == begin:
		end = begin + 24*time.Hour
	case end < begin:
		end += 24 * time.Hour
	}
	r.start = begin
	r.duration = end - begin
	return r, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	if len(s) >= 3 {
		if d, ok := weekdays[strings.ToLower(s[:3])]; ok {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %s is not a good weekday name", ErrBadWindow, s)
}

func parseClock(s string) (time.Duration, error) {
	h, m, _ := strings.Cut(s, ":")
	hours, err := strconv.Atoi(h)
	if err != nil || hours > 23 {
		return 0, fmt.Errorf("%w: bad hour in %q", ErrBadWindow, s)
	}
	minutes := 0
	if m != "" {
		if minutes, err = strconv.Atoi(m); err != nil || minutes > 59 {
			return 0, fmt.Errorf("%w: bad minute in %q", ErrBadWindow, s)
		}
	}
	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute, nil
}

func (w Window) IsZero() bool { return len(w.rules) == 0 }

func (w Window) String() string { return w.raw }

// occurrences returns the rule instances that start between the day before t
// and two weeks after it, in start order.
func (r rule) occurrences(t time.Time) []Range {
	y, mo, d := t.Date()
	hh, mm := int(r.start/time.Hour), int(r.start%time.Hour/time.Minute)
	var out []Range
	for off := -1; off <= 14; off++ {
		start := time.Date(y, mo, d+off, hh, mm, 0, 0, t.Location())
		if !r.days[time.Date(y, mo, d+off, 0, 0, 0, 0, t.Location()).Weekday()] {
			continue
		}
		out = append(out, Range{Start: start, End: start.Add(r.duration)})
	}
	return out
}

// Contains reports whether t falls inside any allowed period.
func (w Window) Contains(t time.Time) bool {
	if w.IsZero() {
		return true
	}
	for _, r := range w.rules {
		for _, rg := range r.occurrences(t) {
			if !t.Before(rg.Start) && t.Before(rg.End) {
				return true
			}
		}
	}
	return false
}

// Next returns t when it is inside the window, otherwise the earliest
// period start after t.
func (w Window) Next(t time.Time) time.Time {
	if w.Contains(t) {
		return t
	}
	var best time.Time
	for _, r := range w.rules {
		for _, rg := range r.occurrences(t) {
			if rg.Start.After(t) && (best.IsZero() || rg.Start.Before(best)) {
				best = rg.Start
			}
		}
	}
	return best
}

// Ranges returns, per rule, the period that contains or follows t and the
// one after it.
func (w Window) Ranges(t time.Time) [][2]Range {
	out := make([][2]Range, 0, len(w.rules))
	for _, r := range w.rules {
		var pair [2]Range
		n := 0
		for _, rg := range r.occurrences(t) {
			if !rg.End.After(t) {
				continue
			}
			pair[n] = rg
			n++
			if n == 2 {
				break
			}
		}
		out = append(out, pair)
	}
	return out
}
