// Package group maps local user names to group lists.
//
// The config mapping reads "security.groups.<user>" comma lists; the OS
// mapping asks the system user database. Chain combines them and Cached
// adds TTL caching in front of any Mapping.
package group

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"strings"
)

// ErrUnknownUser is returned when a mapping has no entry for the user.
var ErrUnknownUser = errors.New("group: unknown user")

// Mapping resolves a user's groups. The primary group, when known, comes
// first.
type Mapping interface {
	Groups(ctx context.Context, user string) ([]string, error)
}

// ============================================================================
// Config mapping
// ============================================================================

// Static maps users to groups from configuration.
type Static struct {
	groups map[string][]string
}

// NewStatic parses a user → "g1,g2" map. Blank entries are dropped and
// duplicates collapse to their first occurrence.
func NewStatic(m map[string]string) *Static {
	s := &Static{groups: make(map[string][]string, len(m))}
	for u, list := range m {
		s.groups[u] = ParseList(list)
	}
	return s
}

// Groups returns the configured groups for u.
func (s *Static) Groups(ctx context.Context, u string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g, ok := s.groups[u]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUser, u)
	}
	return append([]string(nil), g...), nil
}

// ParseList splits a comma separated group list.
func ParseList(list string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, g := range strings.Split(list, ",") {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

// ============================================================================
// OS mapping
// ============================================================================

// OS resolves groups from the system user database.
type OS struct {
	lookupUser  func(name string) (*user.User, error)
	lookupGroup func(gid string) (*user.Group, error)
	groupIDs    func(u *user.User) ([]string, error)
}

// NewOS returns a mapping backed by os/user.
func NewOS() *OS {
	return &OS{
		lookupUser:  user.Lookup,
		lookupGroup: user.LookupGroupId,
		groupIDs:    (*user.User).GroupIds,
	}
}

// Groups returns the user's primary group followed by its other groups.
// Group ids without a name are reported as the numeric id.
func (o *OS) Groups(ctx context.Context, name string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u, err := o.lookupUser(name)
	if err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownUser, name)
		}
		return nil, fmt.Errorf("lookup user %q: %w", name, err)
	}

	gids, err := o.groupIDs(u)
	if err != nil {
		return nil, fmt.Errorf("list groups of %q: %w", name, err)
	}

	// Primary group first.
	ordered := []string{u.Gid}
	for _, gid := range gids {
		if gid != u.Gid {
			ordered = append(ordered, gid)
		}
	}

	out := make([]string, 0, len(ordered))
	for _, gid := range ordered {
		g, err := o.lookupGroup(gid)
		if err != nil {
			out = append(out, gid)
			continue
		}
		out = append(out, g.Name)
	}
	return out, nil
}

// ============================================================================
// Chain
// ============================================================================

// Chain tries each mapping in order and returns the first answer. A mapping
// reporting ErrUnknownUser passes to the next one; any other error stops
// the chain.
type Chain []Mapping

// Groups implements Mapping.
func (c Chain) Groups(ctx context.Context, u string) ([]string, error) {
	for _, m := range c {
		g, err := m.Groups(ctx, u)
		if err == nil {
			return g, nil
		}
		if !errors.Is(err, ErrUnknownUser) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownUser, u)
}

// FromConfig builds the default mapping: configured groups first, then the
// OS database.
func FromConfig(groups map[string]string) Mapping {
	return Chain{NewStatic(groups), NewOS()}
}
