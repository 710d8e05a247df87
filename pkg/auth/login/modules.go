package login

import (
	"context"
	"errors"
	"fmt"
	"os/user"

	"github.com/marmos91/alluxio-auth/internal/logger"
	"github.com/marmos91/alluxio-auth/pkg/auth"
	"github.com/marmos91/alluxio-auth/pkg/auth/principal"
)

// ErrIgnore is returned by Module.Login when the module does not apply, for
// example an application module with no configured user.
var ErrIgnore = errors.New("login: module not applicable")

// Module is one login step.
//
// Login acquires whatever the module is responsible for and keeps it
// private. Commit publishes it into the Subject. Abort releases anything
// acquired by Login when the chain fails. Commit is also called on modules
// whose Login was skipped by a Sufficient short-circuit; such modules must
// treat it as a no-op unless they produce something from the Subject alone.
type Module interface {
	Login(ctx context.Context, subject *Subject) error
	Commit(ctx context.Context, subject *Subject) error
	Abort(ctx context.Context, subject *Subject)
}

// ModuleFactory builds a fresh module for one chain entry.
type ModuleFactory func(e Entry) (Module, error)

// CredentialSource produces a credential from a KRB5 entry's options. It
// returns ErrIgnore when the options request neither keytab nor ticket
// cache login.
type CredentialSource interface {
	Acquire(ctx context.Context, opts map[string]string) (auth.Credential, error)
}

// Environment supplies what the built-in modules need.
type Environment struct {
	// AppUser is the configured application user for ModuleApp.
	AppUser string

	// LookupOSUser returns the OS user name. Defaults to os/user.Current.
	LookupOSUser func() (string, error)

	// Credentials backs ModuleKerberos.
	Credentials CredentialSource

	// Mapper resolves the selected principal for ModuleIdentity.
	Mapper *principal.Mapper
}

// NewModule is the default ModuleFactory.
func (env Environment) NewModule(e Entry) (Module, error) {
	switch e.Kind {
	case ModuleApp:
		return &appModule{user: env.AppUser}, nil
	case ModuleOS:
		lookup := env.LookupOSUser
		if lookup == nil {
			lookup = currentOSUser
		}
		return &osModule{lookup: lookup}, nil
	case ModuleKerberos:
		if env.Credentials == nil {
			return nil, fmt.Errorf("no kerberos credential source configured")
		}
		return &kerberosModule{source: env.Credentials, opts: e.Options}, nil
	case ModuleIdentity:
		mapper := env.Mapper
		if mapper == nil {
			mapper = principal.NewMapper(nil)
		}
		return &identityModule{mapper: mapper}, nil
	default:
		return nil, fmt.Errorf("unknown login module %q", e.Kind)
	}
}

func currentOSUser() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// ============================================================================
// APP
// ============================================================================

type appModule struct {
	user      string
	succeeded bool
}

func (m *appModule) Login(context.Context, *Subject) error {
	if m.user == "" {
		return ErrIgnore
	}
	m.succeeded = true
	return nil
}

func (m *appModule) Commit(_ context.Context, s *Subject) error {
	if m.succeeded {
		s.SetPrincipal(ModuleApp, m.user)
	}
	return nil
}

func (m *appModule) Abort(context.Context, *Subject) { m.succeeded = false }

// ============================================================================
// OS
// ============================================================================

type osModule struct {
	lookup func() (string, error)
	name   string
}

func (m *osModule) Login(context.Context, *Subject) error {
	name, err := m.lookup()
	if err != nil {
		return fmt.Errorf("lookup os user: %w", err)
	}
	if name == "" {
		return errors.New("os user has no name")
	}
	m.name = name
	return nil
}

func (m *osModule) Commit(_ context.Context, s *Subject) error {
	if m.name != "" {
		s.SetPrincipal(ModuleOS, m.name)
	}
	return nil
}

func (m *osModule) Abort(context.Context, *Subject) { m.name = "" }

// ============================================================================
// KRB5
// ============================================================================

type kerberosModule struct {
	source CredentialSource
	opts   map[string]string
	cred   auth.Credential
}

func (m *kerberosModule) Login(ctx context.Context, _ *Subject) error {
	cred, err := m.source.Acquire(ctx, m.opts)
	if err != nil {
		return err
	}
	m.cred = cred
	return nil
}

func (m *kerberosModule) Commit(_ context.Context, s *Subject) error {
	if m.cred == nil {
		return nil
	}
	s.SetPrincipal(ModuleKerberos, m.cred.Principal())
	s.SetCredential(m.cred)
	return nil
}

func (m *kerberosModule) Abort(context.Context, *Subject) {
	if m.cred != nil {
		m.cred.Destroy()
		m.cred = nil
	}
}

// ============================================================================
// IDENTITY
// ============================================================================

// identityModule turns the highest priority principal into an identity:
// Kerberos first, then the application user, then the OS user.
type identityModule struct {
	mapper *principal.Mapper
}

func (m *identityModule) Login(context.Context, *Subject) error { return nil }

func (m *identityModule) Commit(ctx context.Context, s *Subject) error {
	if len(s.Identities()) > 0 {
		return nil
	}
	for _, kind := range []ModuleKind{ModuleKerberos, ModuleApp, ModuleOS} {
		name, ok := s.Principal(kind)
		if !ok {
			continue
		}
		id, err := m.mapper.Resolve(name)
		if err != nil {
			return err
		}
		logger.DebugCtx(ctx, "Login principal selected",
			logger.KeyModule, string(kind),
			logger.KeyPrincipal, id.FullName(),
			logger.KeyShortName, id.ShortName())
		s.AddIdentity(id)
		return nil
	}
	return errors.New("no principal to build a user from")
}

func (m *identityModule) Abort(context.Context, *Subject) {}
