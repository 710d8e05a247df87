package principal

import (
	"sync/atomic"

	"github.com/marmos91/alluxio-auth/internal/logger"
	"github.com/marmos91/alluxio-auth/pkg/auth"
	"github.com/marmos91/alluxio-auth/pkg/auth/realm"
)

// Mapper resolves principals to identities using the installed rule set.
//
// Thread safety: safe for concurrent use. SetRules publishes a new immutable
// snapshot; Resolve reads whichever snapshot is current when it starts.
type Mapper struct {
	rules atomic.Pointer[ruleSet]
	realm realm.Source
}

type ruleSet struct {
	text  string
	rules []Rule
}

// NewMapper returns a mapper with no rules installed. With no rules every
// principal resolves to its full rendering.
func NewMapper(src realm.Source) *Mapper {
	if src == nil {
		src = realm.Static("")
	}
	return &Mapper{realm: src}
}

// SetRules compiles text and installs the result. A nil text clears the
// rules. On a compile error the previously installed rules stay in effect.
func (m *Mapper) SetRules(text *string) error {
	if text == nil {
		m.rules.Store(nil)
		logger.Debug("auth_to_local rules cleared")
		return nil
	}
	rules, err := CompileRules(*text)
	if err != nil {
		return err
	}
	m.rules.Store(&ruleSet{text: *text, rules: rules})
	logger.Debug("auth_to_local rules installed", logger.KeyCount, len(rules))
	return nil
}

// Rules returns the installed rules, or nil when none are installed.
func (m *Mapper) Rules() []Rule {
	rs := m.rules.Load()
	if rs == nil {
		return nil
	}
	return rs.rules
}

// RuleText returns the source text of the installed rules and whether any
// are installed.
func (m *Mapper) RuleText() (string, bool) {
	rs := m.rules.Load()
	if rs == nil {
		return "", false
	}
	return rs.text, true
}

// DefaultRealm returns the realm consulted by DEFAULT rules.
func (m *Mapper) DefaultRealm() string { return m.realm.DefaultRealm() }

// ShortName maps a parsed principal to its local name.
func (m *Mapper) ShortName(n Name) string {
	if !n.HasHost() && !n.HasRealm() {
		return n.Service
	}
	rs := m.rules.Load()
	if rs == nil {
		return n.String()
	}
	if short, ok := ApplyRules(rs.rules, n.Components(), m.realm.DefaultRealm()); ok {
		return short
	}
	return n.String()
}

// Resolve parses fullName and builds the corresponding identity.
func (m *Mapper) Resolve(fullName string) (auth.Identity, error) {
	n, err := Parse(fullName)
	if err != nil {
		return auth.Identity{}, err
	}
	return auth.NewIdentity(fullName, m.ShortName(n)), nil
}
