package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/marmos91/alluxio-auth/internal/logger"
	"github.com/marmos91/alluxio-auth/internal/telemetry"
	"github.com/marmos91/alluxio-auth/pkg/auth"
	"github.com/marmos91/alluxio-auth/pkg/auth/kerberos"
	"github.com/marmos91/alluxio-auth/pkg/auth/login"
)

// Open runs the initiator side of the handshake on conn, authenticating
// with cred and requesting to act as id. peerHost is the host part of the
// server principal.
//
// Any failure closes conn. Canceling ctx aborts a handshake in progress.
func Open(ctx context.Context, conn net.Conn, id auth.Identity, peerHost string, cred kerberos.Credential, opts ...Option) (*Conn, error) {
	o := buildOptions(opts)
	if o.serviceName == "" {
		o.serviceName = DefaultServiceName
	}

	connID := newConnID()
	ctx = logger.WithContext(ctx, logger.NewLogContext(connID, conn.RemoteAddr().String()))
	ctx, span := telemetry.StartHandshakeSpan(ctx, "client",
		telemetry.ConnID(connID),
		telemetry.ServerHost(peerHost),
		telemetry.Mechanism(Mechanism),
		telemetry.Service(o.serviceName),
		telemetry.AuthzID(id.FullName()))
	defer span.End()

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	start := time.Now()
	c, err := initiate(ctx, conn, id, peerHost, cred, o, connID)
	if err != nil {
		o.metrics.record("client", failureReason(err), time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WarnCtx(ctx, "SASL handshake failed",
			logger.KeyHost, peerHost, logger.KeyError, err)
		_ = conn.Close()
		return nil, err
	}

	o.metrics.record("client", "", time.Since(start))
	logger.DebugCtx(ctx, "SASL handshake complete",
		logger.KeyHost, peerHost,
		logger.KeyAuthzID, c.AuthorizationID(),
		logger.DurationMs(start))
	return c, nil
}

func initiate(ctx context.Context, conn net.Conn, id auth.Identity, peerHost string, cred kerberos.Credential, o options, connID string) (*Conn, error) {
	if cred == nil {
		return nil, handshakeErr(reasonTicket, "no Kerberos credential")
	}
	if id.IsZero() {
		return nil, handshakeErr(reasonTicket, "no identity to authorize as")
	}

	// Step 1: mechanism selection.
	if err := writeFrame(conn, StatusStart, []byte(Mechanism)); err != nil {
		return nil, ioErr(ctx, err)
	}
	step(ctx, stepMechanism)

	// Step 2: AP-REQ.
	spn := o.serviceName + "/" + peerHost
	tkt, key, err := cred.ServiceTicket(spn)
	if err != nil {
		return nil, handshakeErr(reasonTicket, "get service ticket for %s: %w", spn, err)
	}
	token, sent, err := buildAPReq(cred, tkt, key)
	if err != nil {
		return nil, handshakeErr(reasonTicket, "%w", err)
	}
	if err := writeFrame(conn, StatusOK, token); err != nil {
		return nil, ioErr(ctx, err)
	}

	// Step 3: mutual authentication.
	payload, err := expect(ctx, conn, StatusOK)
	if err != nil {
		return nil, err
	}
	if err := verifyAPRep(payload, key, sent); err != nil {
		return nil, handshakeErr(reasonAPRep, "%w", err)
	}
	if err := writeFrame(conn, StatusOK, nil); err != nil {
		return nil, ioErr(ctx, err)
	}
	step(ctx, stepAPExchange)

	// Step 4: security layer negotiation.
	payload, err = expect(ctx, conn, StatusOK)
	if err != nil {
		return nil, err
	}
	offer, err := unwrap(payload, key, true)
	if err != nil {
		return nil, handshakeErr(reasonWrap, "%w", err)
	}
	if _, err := checkSecurityLayer(offer); err != nil {
		return nil, handshakeErr(reasonWrap, "%w", err)
	}

	authzID := id.FullName()
	reply := append(append([]byte{}, noSecurityLayer...), authzID...)
	wrapped, err := initiatorWrap(reply, key)
	if err != nil {
		return nil, handshakeErr(reasonWrap, "%w", err)
	}
	if err := writeFrame(conn, StatusOK, wrapped); err != nil {
		return nil, ioErr(ctx, err)
	}
	step(ctx, stepSecurityLayer)

	// Step 5: authorization verdict.
	payload, err = expect(ctx, conn, StatusComplete)
	if err != nil {
		return nil, err
	}
	if string(payload) != authzID {
		return nil, handshakeErr(reasonUnauthorized, "server authorized %q, requested %q", payload, authzID)
	}
	step(ctx, stepAuthorize)

	return newConn(conn, connID, cred.Principal(), authzID, id), nil
}

// expect reads one frame and requires it to carry want. BAD and ERROR
// frames become errors carrying the peer's message.
func expect(ctx context.Context, conn net.Conn, want Status) ([]byte, error) {
	status, payload, err := readFrame(conn)
	if err != nil {
		return nil, ioErr(ctx, err)
	}
	switch status {
	case want:
		return payload, nil
	case StatusBad, StatusError:
		return nil, peerRejected(status, payload)
	default:
		return nil, handshakeErr(reasonFrame, "unexpected %s frame, want %s", status, want)
	}
}

func failureReason(err error) string {
	var he *HandshakeError
	if errors.As(err, &he) {
		return he.Reason
	}
	return reasonFrame
}

// ioErr reports cancellation in preference to the deadline error it causes.
func ioErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return &HandshakeError{Reason: reasonFrame, Err: err}
}

// Dialer dials and authenticates connections as the session's identity.
type Dialer struct {
	Session *login.Session

	// Timeout bounds connect plus handshake. Zero means no limit.
	Timeout time.Duration

	Options []Option
}

// Dial connects to address and runs the handshake. The host part of
// address names the server principal.
func (d *Dialer) Dial(ctx context.Context, network, address string) (*Conn, error) {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", address, err)
	}

	return login.Do(ctx, d.Session, func(ctx context.Context) (*Conn, error) {
		id, _ := auth.IdentityFromContext(ctx)
		cred, _ := login.CredentialFromContext(ctx)
		kc, ok := cred.(kerberos.Credential)
		if !ok {
			return nil, fmt.Errorf("%w: mode %s holds no Kerberos credential", auth.ErrUnauthenticated, d.Session.Mode())
		}

		nd := net.Dialer{Timeout: d.Timeout}
		conn, err := nd.DialContext(ctx, network, address)
		if err != nil {
			return nil, login.TransportError(err)
		}
		if d.Timeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(d.Timeout))
		}

		c, err := Open(ctx, conn, id, host, kc, d.Options...)
		if err != nil {
			return nil, login.TransportError(err)
		}
		_ = conn.SetDeadline(time.Time{})
		return c, nil
	})
}
