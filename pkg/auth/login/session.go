package login

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/marmos91/alluxio-auth/internal/logger"
	"github.com/marmos91/alluxio-auth/internal/telemetry"
	"github.com/marmos91/alluxio-auth/pkg/auth"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateLoggingIn
	StateLoggedIn
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoggingIn:
		return "logging_in"
	case StateLoggedIn:
		return "logged_in"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// snapshot is an immutable view of the session. A new one is published for
// every transition.
type snapshot struct {
	state      State
	mode       auth.Mode
	identity   auth.Identity
	credential auth.Credential
	err        error
}

// Session holds the identity the process runs as.
//
// Thread safety: safe for concurrent use. The first Identity call runs the
// login chain exactly once; concurrent callers wait for it and all observe
// the same outcome. Once logged in, reads are lock-free, including while an
// explicit Login replaces the identity.
type Session struct {
	mode     auth.Mode
	registry *Registry
	factory  ModuleFactory
	metrics  *Metrics

	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// Option configures a Session.
type Option func(*Session)

// WithModuleFactory replaces the factory that builds chain modules.
func WithModuleFactory(f ModuleFactory) Option {
	return func(s *Session) { s.factory = f }
}

// WithMetrics records login outcomes. A nil *Metrics disables recording.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// NewSession creates an uninitialized session for the configured mode.
func NewSession(mode auth.Mode, registry *Registry, env Environment, opts ...Option) *Session {
	if registry == nil {
		registry = NewRegistry(RegistryOptions{})
	}
	s := &Session{
		mode:     mode,
		registry: registry,
		factory:  env.NewModule,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snap.Store(&snapshot{state: StateUninitialized, mode: mode})
	return s
}

// Mode returns the configured authentication mode.
func (s *Session) Mode() auth.Mode { return s.mode }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.snap.Load().state }

// Credential returns the credential of the current login, or nil.
func (s *Session) Credential() auth.Credential { return s.snap.Load().credential }

// Identity returns the session identity, logging in with the configured
// mode on first use. A failed lazy login is cached and returned to every
// later caller until an explicit Login succeeds.
func (s *Session) Identity(ctx context.Context) (auth.Identity, error) {
	snap := s.current(ctx)
	return snap.identity, snap.err
}

// Current returns the identity and credential of one login. Unlike separate
// Identity and Credential calls, the pair never straddles a re-login.
func (s *Session) Current(ctx context.Context) (auth.Identity, auth.Credential, error) {
	snap := s.current(ctx)
	return snap.identity, snap.credential, snap.err
}

// current returns the published snapshot, running the lazy login if the
// session has never settled.
func (s *Session) current(ctx context.Context) *snapshot {
	if snap := s.snap.Load(); snap.settled() {
		return snap
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if snap := s.snap.Load(); snap.settled() {
		return snap
	}

	s.snap.Store(&snapshot{state: StateLoggingIn, mode: s.mode})
	next := &snapshot{state: StateLoggedIn, mode: s.mode}
	res, err := s.run(ctx, s.mode, s.registry)
	if err != nil {
		next = &snapshot{state: StateFailed, mode: s.mode, err: err}
	} else {
		next.identity, next.credential = res.identity, res.credential
	}
	s.snap.Store(next)
	return next
}

func (snap *snapshot) settled() bool {
	return snap.state == StateLoggedIn || snap.state == StateFailed
}

// Login runs the chain for mode and, on success, replaces the session
// identity. On failure the previous state is kept.
func (s *Session) Login(ctx context.Context, mode auth.Mode) (auth.Identity, error) {
	return s.login(ctx, mode, s.registry)
}

// LoginWithKeytab logs in as principal from keytabFile. When the configured
// mode is not Kerberos it does nothing and returns the current identity.
func (s *Session) LoginWithKeytab(ctx context.Context, principal, keytabFile string) (auth.Identity, error) {
	if !s.mode.IsKerberos() {
		return s.Identity(ctx)
	}
	return s.login(ctx, auth.ModeKerberosKeytab, s.registry.WithKeytab(principal, keytabFile))
}

func (s *Session) login(ctx context.Context, mode auth.Mode, reg *Registry) (auth.Identity, error) {
	if err := auth.CheckSecurityEnabled(mode); err != nil {
		s.metrics.RecordLogin(string(mode), false, 0)
		return auth.Identity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The previous snapshot stays published until the chain settles.
	prev := s.snap.Load()
	res, err := s.run(ctx, mode, reg)
	if err != nil {
		return auth.Identity{}, err
	}
	s.snap.Store(&snapshot{state: StateLoggedIn, mode: mode, identity: res.identity, credential: res.credential})
	if prev.credential != nil && prev.credential != res.credential {
		prev.credential.Destroy()
	}
	return res.identity, nil
}

// run executes one chain. Callers hold s.mu.
func (s *Session) run(ctx context.Context, mode auth.Mode, reg *Registry) (result, error) {
	start := time.Now()
	ctx = logger.WithMode(ctx, string(mode))
	ctx, span := telemetry.StartLoginSpan(ctx, string(mode))
	defer span.End()

	entries, err := reg.Entries(mode)
	if err == nil {
		res, runErr := runChain(ctx, entries, s.factory)
		if runErr == nil {
			s.metrics.RecordLogin(string(mode), true, time.Since(start))
			telemetry.SetAttributes(ctx, telemetry.Principal(res.identity.FullName()), telemetry.ShortName(res.identity.ShortName()))
			span.SetStatus(codes.Ok, "")
			logger.InfoCtx(ctx, "Login succeeded",
				logger.KeyPrincipal, res.identity.FullName(),
				logger.KeyShortName, res.identity.ShortName(),
				logger.DurationMs(start))
			return res, nil
		}
		err = runErr
	}

	s.metrics.RecordLogin(string(mode), false, time.Since(start))
	telemetry.RecordError(ctx, err)
	logger.WarnCtx(ctx, "Login failed", logger.KeyError, err)
	return result{}, err
}

// RunAs calls fn with a context carrying the session identity and
// credential. fn's error is returned unchanged.
func (s *Session) RunAs(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := s.current(ctx)
	if snap.err != nil {
		return snap.err
	}
	return fn(snap.bind(ctx))
}

type credentialKey struct{}

// bind attaches the snapshot's identity and credential to ctx.
func (snap *snapshot) bind(ctx context.Context) context.Context {
	ctx = auth.WithIdentity(ctx, snap.identity)
	if snap.credential != nil {
		ctx = context.WithValue(ctx, credentialKey{}, snap.credential)
	}
	return ctx
}

// CredentialFromContext returns the credential of the login an action
// started by RunAs or Do runs under.
func CredentialFromContext(ctx context.Context) (auth.Credential, bool) {
	cred, ok := ctx.Value(credentialKey{}).(auth.Credential)
	return cred, ok
}
