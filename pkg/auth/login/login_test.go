package login

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/marmos91/alluxio-auth/internal/telemetry"

	"github.com/marmos91/alluxio-auth/pkg/auth"
	"github.com/marmos91/alluxio-auth/pkg/auth/principal"
	"github.com/marmos91/alluxio-auth/pkg/auth/realm"
)

// ============================================================================
// Test doubles
// ============================================================================

type fakeCredential struct {
	name      string
	destroyed atomic.Bool
}

func (c *fakeCredential) Principal() string { return c.name }
func (c *fakeCredential) Destroy()          { c.destroyed.Store(true) }

type countingSource struct {
	calls atomic.Int32
	name  string
	err   error

	mu       sync.Mutex
	lastOpts map[string]string
	issued   []*fakeCredential
}

func (s *countingSource) Acquire(_ context.Context, opts map[string]string) (auth.Credential, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	c := &fakeCredential{name: s.name}
	s.issued = append(s.issued, c)
	return c, nil
}

// gatedSource hands out credentials like countingSource but, once armed,
// parks Acquire until release is closed.
type gatedSource struct {
	countingSource
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedSource(name string) *gatedSource {
	return &gatedSource{
		countingSource: countingSource{name: name},
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (s *gatedSource) Acquire(ctx context.Context, opts map[string]string) (auth.Credential, error) {
	if s.armed.Load() {
		close(s.entered)
		<-s.release
	}
	return s.countingSource.Acquire(ctx, opts)
}

// fixedSource returns the same credential on every Acquire.
type fixedSource struct{ cred *fakeCredential }

func (s fixedSource) Acquire(context.Context, map[string]string) (auth.Credential, error) {
	return s.cred, nil
}

func osUser(name string, calls *atomic.Int32) func() (string, error) {
	return func() (string, error) {
		if calls != nil {
			calls.Add(1)
		}
		return name, nil
	}
}

// stubModule produces fixed identities at commit time.
type stubModule struct {
	loginErr error
	produce  []string
	aborted  *atomic.Int32
}

func (m *stubModule) Login(context.Context, *Subject) error { return m.loginErr }

func (m *stubModule) Commit(_ context.Context, s *Subject) error {
	for _, n := range m.produce {
		s.AddIdentity(auth.NewIdentity(n, n))
	}
	return nil
}

func (m *stubModule) Abort(context.Context, *Subject) {
	if m.aborted != nil {
		m.aborted.Add(1)
	}
}

func stubFactory(modules map[ModuleKind]*stubModule) ModuleFactory {
	return func(e Entry) (Module, error) {
		if m, ok := modules[e.Kind]; ok {
			return m, nil
		}
		return &stubModule{}, nil
	}
}

// ============================================================================
// Registry
// ============================================================================

func TestRegistry_Entries(t *testing.T) {
	reg := NewRegistry(RegistryOptions{
		KeytabFile:  "/etc/alluxio.keytab",
		Principal:   "alluxio/host@EXAMPLE.COM",
		TicketCache: "/tmp/krb5cc_test",
	})

	tests := []struct {
		mode  auth.Mode
		kinds []ModuleKind
		ctrls []Control
	}{
		{auth.ModeSimple, []ModuleKind{ModuleApp, ModuleOS, ModuleIdentity}, []Control{Sufficient, Mandatory, Mandatory}},
		{auth.ModeCustom, []ModuleKind{ModuleApp, ModuleOS, ModuleIdentity}, []Control{Sufficient, Mandatory, Mandatory}},
		{auth.ModeKerberos, []ModuleKind{ModuleOS, ModuleKerberos, ModuleIdentity}, []Control{Mandatory, Optional, Mandatory}},
		{auth.ModeKerberosKeytab, []ModuleKind{ModuleKerberos, ModuleIdentity}, []Control{Mandatory, Mandatory}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			entries, err := reg.Entries(tt.mode)
			require.NoError(t, err)
			require.Len(t, entries, len(tt.kinds))
			for i, e := range entries {
				assert.Equal(t, tt.kinds[i], e.Kind)
				assert.Equal(t, tt.ctrls[i], e.Control)
			}
		})
	}

	entries, err := reg.Entries(auth.ModeKerberosKeytab)
	require.NoError(t, err)
	opts := entries[0].Options
	assert.Equal(t, "/etc/alluxio.keytab", opts[OptKeyTab])
	assert.Equal(t, "alluxio/host@EXAMPLE.COM", opts[OptPrincipal])
	assert.Equal(t, "true", opts[OptUseKeyTab])

	entries, err = reg.Entries(auth.ModeKerberos)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/krb5cc_test", entries[1].Options[OptTicketCache])
	assert.Equal(t, "true", entries[1].Options[OptUseTicketCache])
}

func TestRegistry_UnsupportedMode(t *testing.T) {
	_, err := NewRegistry(RegistryOptions{}).Entries(auth.ModeNoSASL)
	assert.ErrorIs(t, err, auth.ErrUnsupportedMode)
}

func TestRegistry_EntriesAreCopies(t *testing.T) {
	reg := NewRegistry(RegistryOptions{KeytabFile: "/a", Principal: "p"})
	first, _ := reg.Entries(auth.ModeKerberosKeytab)
	first[0].Options[OptKeyTab] = "/mutated"

	second, _ := reg.Entries(auth.ModeKerberosKeytab)
	assert.Equal(t, "/a", second[0].Options[OptKeyTab])
}

func TestTicketCacheFromEnv(t *testing.T) {
	t.Setenv("KRB5CCNAME", "FILE:/tmp/krb5cc_1000")
	assert.Equal(t, "/tmp/krb5cc_1000", TicketCacheFromEnv())

	t.Setenv("KRB5CCNAME", "/var/run/cc")
	assert.Equal(t, "/var/run/cc", TicketCacheFromEnv())
	assert.Equal(t, "/var/run/cc", NewRegistry(RegistryOptions{}).Options().TicketCache)
}

// ============================================================================
// Session: lazy login
// ============================================================================

func TestSession_ConcurrentLazyLoginRunsOnce(t *testing.T) {
	src := &countingSource{name: "alluxio/host1@EXAMPLE.COM"}
	s := NewSession(auth.ModeKerberosKeytab,
		NewRegistry(RegistryOptions{KeytabFile: "/k", Principal: "alluxio/host1@EXAMPLE.COM"}),
		Environment{Credentials: src})

	const n = 32
	ids := make([]auth.Identity, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ids[i], errs[i] = s.Identity(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.True(t, ids[i].Equal(ids[0]))
	}
	assert.Equal(t, "alluxio/host1@EXAMPLE.COM", ids[0].FullName())
	assert.Equal(t, StateLoggedIn, s.State())
	assert.NotNil(t, s.Credential())
}

func TestSession_FailureIsCached(t *testing.T) {
	src := &countingSource{err: errors.New("kdc unreachable")}
	s := NewSession(auth.ModeKerberosKeytab, NewRegistry(RegistryOptions{}), Environment{Credentials: src})

	_, err1 := s.Identity(context.Background())
	_, err2 := s.Identity(context.Background())

	require.Error(t, err1)
	assert.Equal(t, err1, err2)
	assert.ErrorIs(t, err1, auth.ErrChainStepFailed)
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, StateFailed, s.State())
	assert.Nil(t, s.Credential())
}

func TestSession_UnsupportedModeThenSupportedLogin(t *testing.T) {
	s := NewSession(auth.ModeNoSASL, nil, Environment{AppUser: "alice", LookupOSUser: osUser("root", nil)})

	_, err := s.Identity(context.Background())
	require.ErrorIs(t, err, auth.ErrUnsupportedMode)

	_, err = s.Login(context.Background(), auth.Mode("BOGUS"))
	require.ErrorIs(t, err, auth.ErrUnsupportedMode)

	id, err := s.Login(context.Background(), auth.ModeSimple)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.FullName())

	again, err := s.Identity(context.Background())
	require.NoError(t, err)
	assert.True(t, again.Equal(id))
}

// ============================================================================
// Chain semantics
// ============================================================================

func TestChain_SufficientShortCircuits(t *testing.T) {
	var osCalls atomic.Int32
	s := NewSession(auth.ModeSimple, nil, Environment{AppUser: "alice", LookupOSUser: osUser("root", &osCalls)})

	id, err := s.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", id.ShortName())
	assert.Equal(t, int32(0), osCalls.Load())
}

func TestChain_RecordsModuleEvents(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	s := NewSession(auth.ModeSimple, nil, Environment{AppUser: "alice", LookupOSUser: osUser("root", nil)})
	_, err := s.Identity(context.Background())
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, telemetry.SpanLogin, spans[0].Name())
	events := spans[0].Events()
	require.NotEmpty(t, events)
	assert.Equal(t, "login.module", events[0].Name)
	var module string
	for _, kv := range events[0].Attributes {
		if string(kv.Key) == telemetry.AttrAuthModule {
			module = kv.Value.AsString()
		}
	}
	assert.Equal(t, string(ModuleApp), module)
}

func TestChain_FallsBackToOSUser(t *testing.T) {
	s := NewSession(auth.ModeSimple, nil, Environment{LookupOSUser: osUser("bob", nil)})

	id, err := s.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bob", id.FullName())
}

func TestChain_MandatoryFailureAborts(t *testing.T) {
	s := NewSession(auth.ModeSimple, nil, Environment{LookupOSUser: func() (string, error) {
		return "", errors.New("no passwd entry")
	}})

	_, err := s.Identity(context.Background())
	var stepErr *auth.ChainStepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, string(ModuleOS), stepErr.Module)
	assert.ErrorIs(t, err, auth.ErrChainStepFailed)
}

func TestChain_OptionalFailureIgnored(t *testing.T) {
	src := &countingSource{err: errors.New("no ticket cache")}
	s := NewSession(auth.ModeKerberos, NewRegistry(RegistryOptions{TicketCache: "/nope"}),
		Environment{Credentials: src, LookupOSUser: osUser("carol", nil)})

	id, err := s.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "carol", id.FullName())
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Nil(t, s.Credential())
}

func TestChain_KerberosPrincipalWinsAndIsMapped(t *testing.T) {
	m := principal.NewMapper(realm.Static("EXAMPLE.COM"))
	rules := "DEFAULT"
	require.NoError(t, m.SetRules(&rules))

	src := &countingSource{name: "dave@EXAMPLE.COM"}
	s := NewSession(auth.ModeKerberos, NewRegistry(RegistryOptions{TicketCache: "/cc"}),
		Environment{Credentials: src, LookupOSUser: osUser("root", nil), Mapper: m})

	id, err := s.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dave@EXAMPLE.COM", id.FullName())
	assert.Equal(t, "dave", id.ShortName())
	require.NotNil(t, s.Credential())
	assert.Equal(t, "dave@EXAMPLE.COM", s.Credential().Principal())
}

func TestChain_NoIdentityProduced(t *testing.T) {
	s := NewSession(auth.ModeSimple, nil, Environment{},
		WithModuleFactory(stubFactory(nil)))

	_, err := s.Identity(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoIdentityProduced)
}

func TestChain_AmbiguousIdentity(t *testing.T) {
	var aborted atomic.Int32
	s := NewSession(auth.ModeSimple, nil, Environment{},
		WithModuleFactory(stubFactory(map[ModuleKind]*stubModule{
			ModuleOS:       {produce: []string{"alice"}, aborted: &aborted},
			ModuleIdentity: {produce: []string{"bob"}, aborted: &aborted},
		})))

	_, err := s.Identity(context.Background())
	assert.ErrorIs(t, err, auth.ErrAmbiguousIdentity)
	assert.Positive(t, aborted.Load())
}

func TestChain_AllModulesIgnored(t *testing.T) {
	s := NewSession(auth.ModeSimple, nil, Environment{},
		WithModuleFactory(stubFactory(map[ModuleKind]*stubModule{
			ModuleApp:      {loginErr: ErrIgnore},
			ModuleOS:       {loginErr: ErrIgnore},
			ModuleIdentity: {loginErr: ErrIgnore},
		})))

	_, err := s.Identity(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoIdentityProduced)
}

func TestChain_FailedLoginDestroysCredential(t *testing.T) {
	src := &countingSource{name: "eve@EXAMPLE.COM"}
	s := NewSession(auth.ModeKerberosKeytab, NewRegistry(RegistryOptions{}),
		Environment{Credentials: src},
		WithModuleFactory(func(e Entry) (Module, error) {
			if e.Kind == ModuleIdentity {
				return &stubModule{produce: []string{"x", "y"}}, nil
			}
			return Environment{Credentials: src}.NewModule(e)
		}))

	_, err := s.Identity(context.Background())
	require.ErrorIs(t, err, auth.ErrAmbiguousIdentity)
	require.Len(t, src.issued, 1)
	assert.True(t, src.issued[0].destroyed.Load())
}

// ============================================================================
// Explicit login
// ============================================================================

func TestSession_LoginWithKeytab(t *testing.T) {
	src := &countingSource{name: "alluxio/worker1@EXAMPLE.COM"}
	s := NewSession(auth.ModeKerberos, NewRegistry(RegistryOptions{}),
		Environment{Credentials: src, LookupOSUser: osUser("root", nil)})

	id, err := s.LoginWithKeytab(context.Background(), "alluxio/worker1@EXAMPLE.COM", "/etc/worker.keytab")
	require.NoError(t, err)
	assert.Equal(t, "alluxio/worker1@EXAMPLE.COM", id.FullName())

	src.mu.Lock()
	opts := src.lastOpts
	src.mu.Unlock()
	assert.Equal(t, "/etc/worker.keytab", opts[OptKeyTab])
	assert.Equal(t, "alluxio/worker1@EXAMPLE.COM", opts[OptPrincipal])
}

func TestSession_LoginWithKeytabNoopWithoutKerberos(t *testing.T) {
	src := &countingSource{name: "never@EXAMPLE.COM"}
	s := NewSession(auth.ModeSimple, nil, Environment{Credentials: src, AppUser: "alice"})

	id, err := s.LoginWithKeytab(context.Background(), "alluxio/h@EXAMPLE.COM", "/k")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.FullName())
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestSession_FailedReloginKeepsIdentity(t *testing.T) {
	src := &countingSource{name: "alluxio/h@EXAMPLE.COM"}
	s := NewSession(auth.ModeKerberosKeytab, NewRegistry(RegistryOptions{}), Environment{Credentials: src})

	first, err := s.Identity(context.Background())
	require.NoError(t, err)

	src.err = errors.New("keytab rotated away")
	_, err = s.Login(context.Background(), auth.ModeKerberosKeytab)
	require.Error(t, err)

	cur, err := s.Identity(context.Background())
	require.NoError(t, err)
	assert.True(t, cur.Equal(first))
	assert.Equal(t, StateLoggedIn, s.State())
}

func TestSession_ReloginKeepsPreviousSnapshotVisible(t *testing.T) {
	src := newGatedSource("svc/host@EXAMPLE.COM")
	s := NewSession(auth.ModeKerberosKeytab, NewRegistry(RegistryOptions{}), Environment{Credentials: src})
	ctx := context.Background()

	first, err := s.Identity(ctx)
	require.NoError(t, err)
	require.Len(t, src.issued, 1)
	oldCred := src.issued[0]

	src.armed.Store(true)
	done := make(chan error, 1)
	go func() {
		_, err := s.Login(ctx, auth.ModeKerberosKeytab)
		done <- err
	}()

	select {
	case <-src.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("re-login never reached the credential source")
	}

	assert.Equal(t, StateLoggedIn, s.State())
	assert.Same(t, oldCred, s.Credential())

	id, cred, err := s.Current(ctx)
	require.NoError(t, err)
	assert.True(t, id.Equal(first))
	assert.Same(t, oldCred, cred)

	ran := make(chan struct{})
	go func() {
		_ = s.RunAs(ctx, func(ctx context.Context) error {
			c, ok := CredentialFromContext(ctx)
			assert.True(t, ok)
			assert.Same(t, oldCred, c)
			return nil
		})
		close(ran)
	}()
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("RunAs waited for the re-login")
	}
	assert.False(t, oldCred.destroyed.Load())

	close(src.release)
	require.NoError(t, <-done)

	require.Len(t, src.issued, 2)
	assert.Same(t, src.issued[1], s.Credential())
	assert.True(t, oldCred.destroyed.Load())
	assert.False(t, src.issued[1].destroyed.Load())
}

func TestSession_ReloginWithSameCredentialKeepsIt(t *testing.T) {
	shared := &fakeCredential{name: "svc/host@EXAMPLE.COM"}
	s := NewSession(auth.ModeKerberosKeytab, NewRegistry(RegistryOptions{}),
		Environment{Credentials: fixedSource{cred: shared}})
	ctx := context.Background()

	_, err := s.Identity(ctx)
	require.NoError(t, err)
	_, err = s.Login(ctx, auth.ModeKerberosKeytab)
	require.NoError(t, err)

	assert.Same(t, shared, s.Credential())
	assert.False(t, shared.destroyed.Load())
}

// ============================================================================
// RunAs / Do
// ============================================================================

func TestSession_RunAs(t *testing.T) {
	s := NewSession(auth.ModeSimple, nil, Environment{AppUser: "alice"})

	sentinel := errors.New("boom")
	err := s.RunAs(context.Background(), func(ctx context.Context) error {
		id, ok := auth.IdentityFromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, "alice", id.FullName())
		return sentinel
	})
	assert.Same(t, sentinel, err)
}

func TestDo_ClassifiesErrors(t *testing.T) {
	s := NewSession(auth.ModeSimple, nil, Environment{AppUser: "alice"})
	ctx := context.Background()

	v, err := Do(ctx, s, func(ctx context.Context) (string, error) {
		id, _ := auth.IdentityFromContext(ctx)
		return id.ShortName(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", v)

	tests := []struct {
		name string
		err  error
		kind ActionKind
	}{
		{"io", IOError(errors.New("disk full")), KindIO},
		{"transport", TransportError(errors.New("connection reset")), KindTransport},
		{"other", errors.New("unexpected"), KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Do(ctx, s, func(context.Context) (int, error) { return 0, tt.err })
			var ae *ActionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.kind, ae.Kind)
		})
	}

	assert.NoError(t, IOError(nil))
	assert.NoError(t, TransportError(nil))
}

func TestDo_LoginFailurePassesThrough(t *testing.T) {
	s := NewSession(auth.ModeNoSASL, nil, Environment{})

	_, err := Do(context.Background(), s, func(context.Context) (int, error) {
		t.Fatal("action must not run")
		return 0, nil
	})
	assert.ErrorIs(t, err, auth.ErrUnsupportedMode)

	var ae *ActionError
	assert.False(t, errors.As(err, &ae))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.RecordLogin("SIMPLE", true, 0) })
}
