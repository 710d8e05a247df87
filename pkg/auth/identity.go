package auth

import "context"

// Identity is a logged-in user: the full principal name plus the local short
// name it maps to.
//
// Identities are immutable. Two identities are equal when their full names
// are equal; the short name is derived data and does not participate.
type Identity struct {
	fullName  string
	shortName string
}

// NewIdentity builds an identity from an already-resolved short name. Use
// principal.Mapper.Resolve to derive the short name from rules.
func NewIdentity(fullName, shortName string) Identity {
	return Identity{fullName: fullName, shortName: shortName}
}

// FullName returns the principal as presented, e.g. "nn/host1@REALM.COM".
func (i Identity) FullName() string { return i.fullName }

// ShortName returns the local user name.
func (i Identity) ShortName() string { return i.shortName }

// IsZero reports whether i is the zero Identity.
func (i Identity) IsZero() bool { return i.fullName == "" }

// Equal compares full names.
func (i Identity) Equal(o Identity) bool { return i.fullName == o.fullName }

// Key returns a value suitable for use as a map key.
func (i Identity) Key() string { return i.fullName }

func (i Identity) String() string { return i.fullName }

type identityKey struct{}

// WithIdentity returns a context that carries id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity carried by ctx, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && !id.IsZero()
}

// Credential is the opaque handle to the secret material a login produced,
// such as a Kerberos ticket granting ticket.
type Credential interface {
	// Principal is the full principal name the credential was issued to.
	Principal() string

	// Destroy releases the credential. It is safe to call more than once.
	Destroy()
}
