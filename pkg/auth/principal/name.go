// Package principal parses Kerberos principal names and maps them to local
// user names with auth-to-local rules.
//
// A principal has the form service[/host][@realm]. Rules are written in the
// Hadoop-compatible auth_to_local syntax:
//
//	RULE:[2:$1@$0](.*@EXAMPLE\.COM)s/@.*//
//	RULE:[1:$1](admin.*)s/^admin-//L
//	DEFAULT
//
// Rules are compiled once and published through a Mapper, which swaps an
// immutable snapshot so that concurrent resolutions never see a partially
// installed rule set.
package principal

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/marmos91/alluxio-auth/pkg/auth"
)

var nameParser = regexp.MustCompile(`^([^/@]+)(/([^/@]+))?(@([^/@]+))?$`)

// Name is a parsed principal. Host and Realm are empty when absent.
type Name struct {
	Service string
	Host    string
	Realm   string
}

// Parse splits text into its service, host and realm components.
//
// Text that contains '@' must match service[/host][@realm] exactly, otherwise
// auth.ErrMalformedPrincipal is returned. Text without '@' that does not match
// (for example "a/b/c") is accepted verbatim as the service.
func Parse(text string) (Name, error) {
	m := nameParser.FindStringSubmatch(text)
	if m == nil {
		if strings.Contains(text, "@") || text == "" {
			return Name{}, fmt.Errorf("%w: %q", auth.ErrMalformedPrincipal, text)
		}
		return Name{Service: text}, nil
	}
	return Name{Service: m[1], Host: m[3], Realm: m[5]}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// constant principals.
func MustParse(text string) Name {
	n, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return n
}

// HasHost reports whether the principal carries a host component.
func (n Name) HasHost() bool { return n.Host != "" }

// HasRealm reports whether the principal carries a realm.
func (n Name) HasRealm() bool { return n.Realm != "" }

// String renders the principal as service[/host][@realm].
func (n Name) String() string {
	var b strings.Builder
	b.Grow(len(n.Service) + len(n.Host) + len(n.Realm) + 2)
	b.WriteString(n.Service)
	if n.Host != "" {
		b.WriteByte('/')
		b.WriteString(n.Host)
	}
	if n.Realm != "" {
		b.WriteByte('@')
		b.WriteString(n.Realm)
	}
	return b.String()
}

// Components returns the rule input for n: the realm ("" when absent), the
// service and, if present, the host.
func (n Name) Components() []string {
	if n.Host == "" {
		return []string{n.Realm, n.Service}
	}
	return []string{n.Realm, n.Service, n.Host}
}
