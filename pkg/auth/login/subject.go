package login

import "github.com/marmos91/alluxio-auth/pkg/auth"

// Subject collects what the modules of one chain run contribute. It is
// owned by a single run and is not safe for concurrent use.
type Subject struct {
	principals map[ModuleKind]string
	credential auth.Credential
	identities []auth.Identity
}

func newSubject() *Subject {
	return &Subject{principals: make(map[ModuleKind]string)}
}

// SetPrincipal records the principal name contributed by a module kind.
func (s *Subject) SetPrincipal(kind ModuleKind, name string) {
	s.principals[kind] = name
}

// Principal returns the principal contributed by kind, if any.
func (s *Subject) Principal(kind ModuleKind) (string, bool) {
	name, ok := s.principals[kind]
	return name, ok && name != ""
}

// SetCredential attaches the credential backing the login.
func (s *Subject) SetCredential(c auth.Credential) { s.credential = c }

// Credential returns the attached credential, or nil.
func (s *Subject) Credential() auth.Credential { return s.credential }

// AddIdentity adds a produced identity. Duplicates by full name are dropped.
func (s *Subject) AddIdentity(id auth.Identity) {
	for _, have := range s.identities {
		if have.Equal(id) {
			return
		}
	}
	s.identities = append(s.identities, id)
}

// Identities returns the identities produced so far.
func (s *Subject) Identities() []auth.Identity { return s.identities }
