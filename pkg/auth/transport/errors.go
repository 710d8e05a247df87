package transport

import (
	"fmt"

	"github.com/marmos91/alluxio-auth/pkg/auth"
)

// HandshakeError reports a failed negotiation. It matches
// auth.ErrUnauthenticated with errors.Is.
type HandshakeError struct {
	Reason string // Metric reason label, e.g. "ticket"
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("sasl handshake failed (%s): %v", e.Reason, e.Err)
}

func (e *HandshakeError) Unwrap() []error {
	return []error{auth.ErrUnauthenticated, e.Err}
}

func handshakeErr(reason string, format string, args ...any) error {
	return &HandshakeError{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// peerRejected builds the error for a BAD or ERROR frame from the peer.
func peerRejected(status Status, payload []byte) error {
	reason := reasonFrame
	if status == StatusBad {
		reason = reasonUnauthorized
	}
	return handshakeErr(reason, "peer sent %s: %s", status, string(payload))
}
