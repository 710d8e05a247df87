package transport

import (
	"net"

	"github.com/google/uuid"

	"github.com/marmos91/alluxio-auth/pkg/auth"
)

// Conn is an authenticated connection. After the handshake it carries the
// caller's traffic unchanged; no security layer is negotiated.
type Conn struct {
	net.Conn

	id       string
	authnID  string
	authzID  string
	identity auth.Identity
}

func newConn(c net.Conn, id, authnID, authzID string, identity auth.Identity) *Conn {
	return &Conn{
		Conn:     c,
		id:       id,
		authnID:  authnID,
		authzID:  authzID,
		identity: identity,
	}
}

func newConnID() string { return uuid.NewString() }

// ID returns the connection identifier used in logs and traces.
func (c *Conn) ID() string { return c.id }

// AuthenticationID returns the principal proven by the Kerberos exchange.
func (c *Conn) AuthenticationID() string { return c.authnID }

// AuthorizationID returns the identity the connection acts as.
func (c *Conn) AuthorizationID() string { return c.authzID }

// Identity returns the authorized identity. On the acceptor side the short
// name is resolved through the configured mapper, if any.
func (c *Conn) Identity() auth.Identity { return c.identity }
