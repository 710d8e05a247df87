package login

import (
	"fmt"
	"os"
	"strings"

	"github.com/marmos91/alluxio-auth/pkg/auth"
)

// Control is the flag that decides how a module's outcome affects its chain.
type Control int

const (
	// Mandatory modules must succeed; a failure aborts the chain.
	Mandatory Control = iota
	// Sufficient modules end the login phase when they succeed.
	Sufficient
	// Optional modules may fail without affecting the chain.
	Optional
)

func (c Control) String() string {
	switch c {
	case Mandatory:
		return "mandatory"
	case Sufficient:
		return "sufficient"
	case Optional:
		return "optional"
	default:
		return fmt.Sprintf("control(%d)", int(c))
	}
}

// ModuleKind names a login module implementation.
type ModuleKind string

const (
	// ModuleApp contributes the configured application user.
	ModuleApp ModuleKind = "APP"
	// ModuleOS contributes the operating system user.
	ModuleOS ModuleKind = "OS"
	// ModuleKerberos acquires a Kerberos credential.
	ModuleKerberos ModuleKind = "KRB5"
	// ModuleIdentity selects the principal and produces the identity.
	ModuleIdentity ModuleKind = "IDENTITY"
)

// Kerberos module option keys.
const (
	OptKeyTab            = "keyTab"
	OptPrincipal         = "principal"
	OptUseKeyTab         = "useKeyTab"
	OptStoreKey          = "storeKey"
	OptDoNotPrompt       = "doNotPrompt"
	OptUseTicketCache    = "useTicketCache"
	OptTicketCache       = "ticketCache"
	OptRenewTGT          = "renewTGT"
	OptRefreshKrb5Config = "refreshKrb5Config"
)

// Entry is one step of a login chain.
type Entry struct {
	Kind    ModuleKind
	Control Control
	Options map[string]string
}

func (e Entry) String() string {
	return fmt.Sprintf("%s(%s)", e.Kind, e.Control)
}

// RegistryOptions are the runtime values folded into the fixed chains.
type RegistryOptions struct {
	// KeytabFile and Principal configure KERBEROS_KEYTAB logins.
	KeytabFile string
	Principal  string

	// TicketCache is the ccache path for KERBEROS logins. Empty means the
	// platform default.
	TicketCache string
}

// Registry maps authentication modes to login chains.
type Registry struct {
	opts RegistryOptions
}

// NewRegistry builds the registry. When opts.TicketCache is empty it is
// taken from $KRB5CCNAME.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.TicketCache == "" {
		opts.TicketCache = TicketCacheFromEnv()
	}
	return &Registry{opts: opts}
}

// Options returns the runtime options the registry was built with.
func (r *Registry) Options() RegistryOptions { return r.opts }

// WithKeytab returns a copy of r whose keytab chain uses principal and
// keytabFile.
func (r *Registry) WithKeytab(principal, keytabFile string) *Registry {
	opts := r.opts
	opts.Principal = principal
	opts.KeytabFile = keytabFile
	return &Registry{opts: opts}
}

// Entries returns the chain for mode. Modes without a chain return an
// *auth.UnsupportedModeError. The returned slice and option maps are copies.
func (r *Registry) Entries(mode auth.Mode) ([]Entry, error) {
	var chain []Entry
	switch mode {
	case auth.ModeSimple, auth.ModeCustom:
		chain = []Entry{
			{Kind: ModuleApp, Control: Sufficient},
			{Kind: ModuleOS, Control: Mandatory},
			{Kind: ModuleIdentity, Control: Mandatory},
		}
	case auth.ModeKerberos:
		chain = []Entry{
			{Kind: ModuleOS, Control: Mandatory},
			{Kind: ModuleKerberos, Control: Optional, Options: r.ticketCacheOptions()},
			{Kind: ModuleIdentity, Control: Mandatory},
		}
	case auth.ModeKerberosKeytab:
		chain = []Entry{
			{Kind: ModuleKerberos, Control: Mandatory, Options: r.keytabOptions()},
			{Kind: ModuleIdentity, Control: Mandatory},
		}
	default:
		return nil, &auth.UnsupportedModeError{Mode: string(mode)}
	}
	return chain, nil
}

func (r *Registry) ticketCacheOptions() map[string]string {
	opts := map[string]string{
		OptDoNotPrompt:    "true",
		OptUseTicketCache: "true",
		OptRenewTGT:       "true",
	}
	if r.opts.TicketCache != "" {
		opts[OptTicketCache] = r.opts.TicketCache
	}
	return opts
}

func (r *Registry) keytabOptions() map[string]string {
	return map[string]string{
		OptKeyTab:            r.opts.KeytabFile,
		OptPrincipal:         r.opts.Principal,
		OptStoreKey:          "true",
		OptDoNotPrompt:       "true",
		OptUseKeyTab:         "true",
		OptRefreshKrb5Config: "true",
	}
}

// TicketCacheFromEnv returns $KRB5CCNAME with a leading "FILE:" removed.
func TicketCacheFromEnv() string {
	return strings.TrimPrefix(os.Getenv("KRB5CCNAME"), "FILE:")
}
