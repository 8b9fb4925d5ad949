package submit

import (
	"context"
	"fmt"
	"strings"
)

// Authorizer decides whether an already authenticated user may submit a
// task kind.
type Authorizer interface {
	Authorize(ctx context.Context, user, kind string) error
}

// StaticAuthorizer is an allow-list of user to kinds, where "*" grants
// every kind.
type StaticAuthorizer struct {
	grants map[string]map[string]struct{}
}

// ParseAuthorizedUsers reads "alice:bibindex,bibrank;bob:*".
func ParseAuthorizedUsers(s string) (*StaticAuthorizer, error) {
	a := &StaticAuthorizer{grants: map[string]map[string]struct{}{}}
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		user, kinds, ok := strings.Cut(entry, ":")
		user = strings.TrimSpace(user)
		if !ok || user == "" {
			return nil, fmt.Errorf("authorized users: %q is not user:kind[,kind...]", entry)
		}
		set := a.grants[user]
		if set == nil {
			set = map[string]struct{}{}
			a.grants[user] = set
		}
		for _, k := range strings.Split(kinds, ",") {
			if k = strings.TrimSpace(k); k != "" {
				set[k] = struct{}{}
			}
		}
	}
	return a, nil
}

func (a *StaticAuthorizer) Authorize(_ context.Context, user, kind string) error {
	set := a.grants[user]
	if _, ok := set["*"]; ok {
		return nil
	}
	if _, ok := set[kind]; ok {
		return nil
	}
	return fmt.Errorf("%w: %s may not run %s", ErrUnauthorized, user, kind)
}
