package task

import (
	"fmt"
	"regexp"
	"strings"
)

// Directive is a post-process step, written name[key=value,...].
type Directive struct {
	Name string
	Args map[string]string
}

var directiveRe = regexp.MustCompile(`^([A-Za-z_][\w.-]*)(?:\[(.*)\])?$`)

// ParseDirectives splits a comma separated directive list. Commas inside
// brackets belong to the directive's arguments.
func ParseDirectives(s string) ([]Directive, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var (
		parts []string
		depth int
		start int
	)
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unbalanced ']' in %q", ErrBadDirective, s)
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced '[' in %q", ErrBadDirective, s)
	}
	parts = append(parts, s[start:])

	out := make([]Directive, 0, len(parts))
	for _, part := range parts {
		d, err := parseDirective(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func parseDirective(s string) (Directive, error) {
	m := directiveRe.FindStringSubmatch(s)
	if m == nil {
		return Directive{}, fmt.Errorf("%w: %q", ErrBadDirective, s)
	}
	d := Directive{Name: m[1], Args: map[string]string{}}
	if strings.TrimSpace(m[2]) == "" {
		return d, nil
	}
	for _, kv := range strings.Split(m[2], ",") {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return Directive{}, fmt.Errorf("%w: %q in %s is not key=value", ErrBadDirective, kv, d.Name)
		}
		d.Args[k] = strings.TrimSpace(v)
	}
	return d, nil
}

func (d Directive) String() string {
	if len(d.Args) == 0 {
		return d.Name
	}
	return fmt.Sprintf("%s%v", d.Name, d.Args)
}
