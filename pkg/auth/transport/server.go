package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/service"
	"go.opentelemetry.io/otel/codes"

	"github.com/marmos91/alluxio-auth/internal/logger"
	"github.com/marmos91/alluxio-auth/internal/telemetry"
	"github.com/marmos91/alluxio-auth/pkg/auth"
	"github.com/marmos91/alluxio-auth/pkg/auth/kerberos"
	"github.com/marmos91/alluxio-auth/pkg/auth/login"
)

// AcceptorFactory runs the acceptor side of handshakes for one server host.
// It is built on behalf of the server's own logged in identity.
type AcceptorFactory struct {
	serverHost string
	provider   *kerberos.Provider
	self       auth.Identity
	opts       options
}

// NewAcceptorFactory binds an acceptor to serverHost. session must be able
// to log in; the factory is created as its identity and fails otherwise.
func NewAcceptorFactory(ctx context.Context, session *login.Session, serverHost string, provider *kerberos.Provider, opts ...Option) (*AcceptorFactory, error) {
	if session == nil {
		return nil, fmt.Errorf("create acceptor: no login session")
	}
	if provider == nil {
		return nil, fmt.Errorf("create acceptor: no Kerberos provider")
	}
	if serverHost == "" {
		return nil, fmt.Errorf("create acceptor: server host is empty")
	}

	f := &AcceptorFactory{
		serverHost: serverHost,
		provider:   provider,
		opts:       buildOptions(opts),
	}
	if f.opts.serviceName == "" {
		f.opts.serviceName = provider.ServiceName()
	}
	if f.opts.serviceName == "" {
		f.opts.serviceName = DefaultServiceName
	}

	err := session.RunAs(ctx, func(ctx context.Context) error {
		id, ok := auth.IdentityFromContext(ctx)
		if !ok {
			return fmt.Errorf("session has no identity")
		}
		f.self = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create acceptor: %w", err)
	}

	logger.Debug("SASL acceptor ready",
		logger.KeyHost, serverHost,
		logger.KeyService, f.opts.serviceName,
		logger.KeyPrincipal, f.self.FullName())
	return f, nil
}

// ServerIdentity returns the identity the factory was created as.
func (f *AcceptorFactory) ServerIdentity() auth.Identity { return f.self }

// ServicePrincipal returns the realm-less principal tickets must be issued to.
func (f *AcceptorFactory) ServicePrincipal() string {
	return f.opts.serviceName + "/" + f.serverHost
}

// Accept authenticates conn. On failure the peer is told why and conn is
// closed.
func (f *AcceptorFactory) Accept(ctx context.Context, conn net.Conn) (*Conn, error) {
	connID := newConnID()
	peer := conn.RemoteAddr().String()
	ctx = logger.WithContext(ctx, logger.NewLogContext(connID, peer))
	ctx, span := telemetry.StartHandshakeSpan(ctx, "server",
		telemetry.ConnID(connID),
		telemetry.ClientAddr(peer),
		telemetry.ServerHost(f.serverHost),
		telemetry.Mechanism(Mechanism),
		telemetry.Service(f.opts.serviceName))
	defer span.End()

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	start := time.Now()
	c, err := f.accept(ctx, conn, connID)
	if err != nil {
		f.opts.metrics.record("server", failureReason(err), time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WarnCtx(ctx, "SASL handshake rejected", logger.KeyError, err)
		_ = conn.Close()
		return nil, err
	}

	f.opts.metrics.record("server", "", time.Since(start))
	span.SetAttributes(
		telemetry.Principal(c.AuthenticationID()),
		telemetry.AuthzID(c.AuthorizationID()),
		telemetry.ShortName(c.Identity().ShortName()),
		telemetry.Authorized(true))
	logger.InfoCtx(ctx, "SASL handshake accepted",
		logger.KeyAuthnID, c.AuthenticationID(),
		logger.KeyAuthzID, c.AuthorizationID(),
		logger.KeyShortName, c.Identity().ShortName(),
		logger.DurationMs(start))
	return c, nil
}

func (f *AcceptorFactory) accept(ctx context.Context, conn net.Conn, connID string) (*Conn, error) {
	// Step 1: mechanism selection.
	payload, err := expect(ctx, conn, StatusStart)
	if err != nil {
		return nil, err
	}
	if string(payload) != Mechanism {
		reject(conn, StatusBad, "unsupported mechanism")
		return nil, handshakeErr(reasonMechanism, "unsupported mechanism %q", payload)
	}
	step(ctx, stepMechanism)

	// Step 2: verify the AP-REQ and answer with an AP-REP.
	payload, err = expect(ctx, conn, StatusOK)
	if err != nil {
		return nil, err
	}
	apReq, authnID, err := f.verifyAPReq(payload)
	if err != nil {
		reject(conn, StatusError, "kerberos authentication failed")
		return nil, handshakeErr(reasonTicket, "%w", err)
	}
	key := contextKey(apReq)
	ctx = logger.WithPrincipal(ctx, authnID)

	apRep, err := buildAPRep(apReq, key)
	if err != nil {
		reject(conn, StatusError, "internal error")
		return nil, handshakeErr(reasonAPRep, "%w", err)
	}
	if err := writeFrame(conn, StatusOK, apRep); err != nil {
		return nil, ioErr(ctx, err)
	}

	// Step 3: the initiator acknowledges with an empty token.
	if _, err := expect(ctx, conn, StatusOK); err != nil {
		return nil, err
	}
	step(ctx, stepAPExchange)

	// Step 4: security layer negotiation.
	offer, err := acceptorWrap(noSecurityLayer, key)
	if err != nil {
		reject(conn, StatusError, "internal error")
		return nil, handshakeErr(reasonWrap, "%w", err)
	}
	if err := writeFrame(conn, StatusOK, offer); err != nil {
		return nil, ioErr(ctx, err)
	}

	payload, err = expect(ctx, conn, StatusOK)
	if err != nil {
		return nil, err
	}
	reply, err := unwrap(payload, key, false)
	if err != nil {
		reject(conn, StatusError, "invalid wrap token")
		return nil, handshakeErr(reasonWrap, "%w", err)
	}
	rest, err := checkSecurityLayer(reply)
	if err != nil {
		reject(conn, StatusError, "invalid security layer")
		return nil, handshakeErr(reasonWrap, "%w", err)
	}
	step(ctx, stepSecurityLayer)

	// Step 5: authorization.
	authzID := string(rest)
	authorized, ok := Authorize(authnID, authzID)
	if !ok {
		reject(conn, StatusBad, "authorization denied")
		return nil, handshakeErr(reasonUnauthorized, "%s may not act as %q", authnID, authzID)
	}
	if err := writeFrame(conn, StatusComplete, []byte(authorized)); err != nil {
		return nil, ioErr(ctx, err)
	}
	step(ctx, stepAuthorize)

	identity := auth.NewIdentity(authorized, authorized)
	if f.opts.mapper != nil {
		if id, err := f.opts.mapper.Resolve(authorized); err == nil {
			identity = id
		}
	}
	return newConn(conn, connID, authnID, authorized, identity), nil
}

// verifyAPReq decrypts the ticket with the current keytab and checks the
// authenticator. It returns the request and the client principal.
func (f *AcceptorFactory) verifyAPReq(token []byte) (messages.APReq, string, error) {
	var apReq messages.APReq

	inner, err := unwrapGSSToken(token, tokenIDAPReq)
	if err != nil {
		return apReq, "", err
	}
	if err := apReq.Unmarshal(inner); err != nil {
		return apReq, "", fmt.Errorf("unmarshal AP-REQ: %w", err)
	}

	settings := service.NewSettings(f.provider.Keytab(),
		service.MaxClockSkew(f.provider.MaxClockSkew()),
		service.DecodePAC(false),
		service.KeytabPrincipal(f.ServicePrincipal()))

	ok, _, err := service.VerifyAPREQ(&apReq, settings)
	if err != nil {
		return apReq, "", fmt.Errorf("verify AP-REQ: %w", err)
	}
	if !ok {
		return apReq, "", fmt.Errorf("AP-REQ rejected")
	}

	enc := apReq.Ticket.DecryptedEncPart
	return apReq, enc.CName.PrincipalNameString() + "@" + enc.CRealm, nil
}

// reject tells the peer why the handshake ended. The write is best effort.
func reject(conn net.Conn, status Status, msg string) {
	_ = writeFrame(conn, status, []byte(msg))
}

// ============================================================================
// Server
// ============================================================================

// maxConns bounds concurrently served connections.
const maxConns = 256

// Handler serves an authenticated connection. The server closes c when
// Handler returns.
type Handler func(ctx context.Context, c *Conn)

// Server accepts connections, authenticates each with an AcceptorFactory
// and hands it to a Handler.
type Server struct {
	factory          *AcceptorFactory
	handler          Handler
	handshakeTimeout time.Duration

	mu            sync.Mutex
	listener      net.Listener
	shutdown      chan struct{}
	shutdownOnce  sync.Once
	wg            sync.WaitGroup
	listenerReady chan struct{}
	connSemaphore chan struct{}
}

// NewServer creates a server. handshakeTimeout bounds each handshake; zero
// means no limit.
func NewServer(factory *AcceptorFactory, handler Handler, handshakeTimeout time.Duration) *Server {
	return &Server{
		factory:          factory,
		handler:          handler,
		handshakeTimeout: handshakeTimeout,
		shutdown:         make(chan struct{}),
		listenerReady:    make(chan struct{}),
		connSemaphore:    make(chan struct{}, maxConns),
	}
}

// ListenAndServe listens on addr and serves until ctx is canceled or Stop
// is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is canceled or Stop is called. It waits
// for in-flight connections before returning. If Stop already ran, ln is
// closed and Serve returns immediately.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	select {
	case <-s.shutdown:
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	default:
	}
	s.listener = ln
	s.mu.Unlock()
	close(s.listenerReady)

	logger.Info("SASL server started",
		logger.KeyAddr, ln.Addr().String(),
		logger.KeyPrincipal, s.factory.ServicePrincipal())

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.wg.Wait()
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.wg.Wait()
			return fmt.Errorf("accept: %w", err)
		}

		select {
		case s.connSemaphore <- struct{}{}:
		default:
			logger.Debug("Connection limit reached, rejecting", logger.KeyPeer, conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() { <-s.connSemaphore }()
			s.handleConn(ctx, c)
		}(conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	if s.handshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.handshakeTimeout))
	}

	c, err := s.factory.Accept(ctx, conn)
	if err != nil {
		return
	}
	defer func() { _ = c.Close() }()

	_ = c.SetDeadline(time.Time{})
	s.handler(ctx, c)
}

// WaitReady returns a channel closed once Serve has a listener.
func (s *Server) WaitReady() <-chan struct{} {
	return s.listenerReady
}

// Addr returns the listen address. Valid after WaitReady.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr()
}

// Stop closes the listener. Serve returns once in-flight connections end.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		close(s.shutdown)
		ln := s.listener
		s.mu.Unlock()
		if ln != nil {
			_ = ln.Close()
		}
	})
}
