package task

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Params are the scheduling options found in a task's argument vector.
// Everything the scanner does not recognise is kept, in order, in Rest.
type Params struct {
	User         string
	Sleeptime    string
	Runtime      string
	Priority     int
	Name         string
	SequenceID   string
	Host         string
	RuntimeLimit string
	// Verbose is 1 unless -v was given.
	Verbose      int
	FixedTime    bool
	// StopOnError is nil unless one of --stop-on-error/--continue-on-error
	// was given.
	StopOnError *bool
	EmailLogsTo []string
	PostProcess string
	Profile     []string
	TaskID      int64

	Rest []string
}

type flagDef struct {
	short   byte
	long    string
	boolean bool
	set     func(p *Params, v string) error
}

var scheduling = []flagDef{
	{short: 'u', long: "user", set: func(p *Params, v string) error { p.User = v; return nil }},
	{short: 's', long: "sleeptime", set: func(p *Params, v string) error { p.Sleeptime = v; return nil }},
	{short: 't', long: "runtime", set: func(p *Params, v string) error { p.Runtime = v; return nil }},
	{short: 'P', long: "priority", set: func(p *Params, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("priority %q is not an integer", v)
		}
		p.Priority = n
		return nil
	}},
	{short: 'N', long: "name", set: func(p *Params, v string) error {
		if strings.ContainsAny(v, ": ") {
			return fmt.Errorf("name %q must not contain ':' or spaces", v)
		}
		p.Name = v
		return nil
	}},
	{short: 'I', long: "sequence-id", set: func(p *Params, v string) error { p.SequenceID = v; return nil }},
	{long: "host", set: func(p *Params, v string) error { p.Host = v; return nil }},
	{short: 'L', long: "runtime-limit", set: func(p *Params, v string) error { p.RuntimeLimit = v; return nil }},
	{short: 'v', long: "verbose", set: func(p *Params, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 9 {
			return fmt.Errorf("verbose level %q must be 0..9", v)
		}
		p.Verbose = n
		return nil
	}},
	{short: 'F', long: "fixed-time", boolean: true, set: func(p *Params, v string) error {
		b, err := strconv.ParseBool(v)
		p.FixedTime = b
		return err
	}},
	{long: "stop-on-error", boolean: true, set: func(p *Params, v string) error {
		b, err := strconv.ParseBool(v)
		p.StopOnError = &b
		return err
	}},
	{long: "continue-on-error", boolean: true, set: func(p *Params, v string) error {
		b, err := strconv.ParseBool(v)
		b = !b
		p.StopOnError = &b
		return err
	}},
	{long: "email-logs-to", set: func(p *Params, v string) error { p.EmailLogsTo = splitList(v); return nil }},
	{long: "post-process", set: func(p *Params, v string) error { p.PostProcess = v; return nil }},
	{long: "profile", set: func(p *Params, v string) error { p.Profile = splitList(v); return nil }},
	{long: "task-id", set: func(p *Params, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("task id %q is not an integer", v)
		}
		p.TaskID = n
		return nil
	}},
}

func lookupLong(name string) *flagDef {
	for i := range scheduling {
		if scheduling[i].long == name {
			return &scheduling[i]
		}
	}
	return nil
}

func lookupShort(c byte) *flagDef {
	for i := range scheduling {
		if scheduling[i].short != 0 && scheduling[i].short == c {
			return &scheduling[i]
		}
	}
	return nil
}

// ScanArgs extracts the scheduling options from argv in a single pass.
// It accepts --flag=value, --flag value, -f value and -fvalue. Tokens after
// a bare "--" are never interpreted.
func ScanArgs(argv []string) (Params, error) {
	p := Params{Verbose: 1}
	for i := 0; i < len(argv); i++ {
		tok := argv[i]
		if tok == "--" {
			p.Rest = append(p.Rest, argv[i:]...)
			break
		}

		var (
			def    *flagDef
			value  string
			inline bool
		)
		switch {
		case strings.HasPrefix(tok, "--"):
			name, v, hasEq := strings.Cut(tok[2:], "=")
			def, value, inline = lookupLong(name), v, hasEq
		case len(tok) >= 2 && tok[0] == '-':
			def = lookupShort(tok[1])
			if len(tok) > 2 {
				value, inline = tok[2:], true
				if def != nil && def.boolean {
					def = nil
				}
			}
		}
		if def == nil {
			p.Rest = append(p.Rest, tok)
			continue
		}

		switch {
		case inline:
		case def.boolean:
			value = "true"
		case i+1 < len(argv):
			i++
			value = argv[i]
		default:
			return Params{}, fmt.Errorf("%w: %s needs a value", ErrBadArguments, tok)
		}
		if err := def.set(&p, value); err != nil {
			return Params{}, fmt.Errorf("%w: %v", ErrBadArguments, err)
		}
	}
	return p, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// KindOf returns the task kind of a proc value such as "bibindex:nightly".
func KindOf(proc string) string {
	kind, _, _ := strings.Cut(proc, ":")
	return kind
}

// EncodeArguments serialises the argument vector stored with a task row.
func EncodeArguments(proc string, argv []string) ([]byte, error) {
	return json.Marshal(append([]string{proc}, argv...))
}

func DecodeArguments(b []byte) (proc string, argv []string, err error) {
	var v []string
	if err := json.Unmarshal(b, &v); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBadArguments, err)
	}
	if len(v) == 0 {
		return "", nil, fmt.Errorf("%w: empty argument vector", ErrBadArguments)
	}
	return v[0], v[1:], nil
}
