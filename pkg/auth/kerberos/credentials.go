package kerberos

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/marmos91/alluxio-auth/internal/logger"
	"github.com/marmos91/alluxio-auth/pkg/auth"
	"github.com/marmos91/alluxio-auth/pkg/auth/login"
	"github.com/marmos91/alluxio-auth/pkg/auth/principal"
	"github.com/marmos91/alluxio-auth/pkg/auth/realm"
)

// Credential is a Kerberos client credential able to obtain service tickets.
type Credential interface {
	auth.Credential

	// CName is the client principal name.
	CName() types.PrincipalName

	// Realm is the client realm.
	Realm() string

	// ServiceTicket returns a ticket and session key for spn
	// (e.g. "alluxio/master.example.com").
	ServiceTicket(spn string) (messages.Ticket, types.EncryptionKey, error)
}

// ClientCredential wraps a logged in gokrb5 client.
type ClientCredential struct {
	cl        *client.Client
	principal string
	realm     string
	cname     types.PrincipalName
	once      sync.Once
}

// NewClientCredential wraps cl. cl must already hold a TGT.
func NewClientCredential(cl *client.Client) *ClientCredential {
	cname := cl.Credentials.CName()
	crealm := cl.Credentials.Domain()
	return &ClientCredential{
		cl:        cl,
		principal: cname.PrincipalNameString() + "@" + crealm,
		realm:     crealm,
		cname:     cname,
	}
}

// Principal returns name@REALM.
func (c *ClientCredential) Principal() string { return c.principal }

// CName returns the client principal name.
func (c *ClientCredential) CName() types.PrincipalName { return c.cname }

// Realm returns the client realm.
func (c *ClientCredential) Realm() string { return c.realm }

// ServiceTicket asks the KDC (or the client's ticket cache) for spn.
func (c *ClientCredential) ServiceTicket(spn string) (messages.Ticket, types.EncryptionKey, error) {
	return c.cl.GetServiceTicket(spn)
}

// Destroy discards the client's tickets and keys.
func (c *ClientCredential) Destroy() {
	c.once.Do(c.cl.Destroy)
}

// Source acquires client credentials for the KRB5 login module. The options
// it understands are the login.Opt* keys.
type Source struct {
	krb5ConfPath string

	mu   sync.Mutex
	conf *krb5config.Config
}

var _ login.CredentialSource = (*Source)(nil)

// NewSource returns a Source reading krb5.conf from path ($KRB5_CONFIG or
// /etc/krb5.conf when empty).
func NewSource(krb5ConfPath string) *Source {
	return &Source{krb5ConfPath: realm.ResolveKrb5ConfPath(krb5ConfPath)}
}

// Acquire logs in from a keytab when useKeyTab is set, from the ticket cache
// when useTicketCache is set, and returns login.ErrIgnore otherwise.
func (s *Source) Acquire(ctx context.Context, opts map[string]string) (auth.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	useKeytab := isTrue(opts[login.OptUseKeyTab])
	if !useKeytab && !isTrue(opts[login.OptUseTicketCache]) {
		return nil, login.ErrIgnore
	}

	conf, err := s.krb5Conf(isTrue(opts[login.OptRefreshKrb5Config]))
	if err != nil {
		return nil, err
	}
	if useKeytab {
		return s.fromKeytab(opts[login.OptKeyTab], opts[login.OptPrincipal], conf)
	}
	return s.fromTicketCache(opts[login.OptTicketCache], conf)
}

func (s *Source) fromKeytab(path, name string, conf *krb5config.Config) (auth.Credential, error) {
	if path == "" || name == "" {
		return nil, fmt.Errorf("keytab login needs both %s and %s", login.OptKeyTab, login.OptPrincipal)
	}
	kt, err := keytab.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load keytab %s: %w", path, err)
	}

	n, err := principal.Parse(name)
	if err != nil {
		return nil, err
	}
	user := n.Service
	if n.HasHost() {
		user += "/" + n.Host
	}
	userRealm := n.Realm
	if userRealm == "" {
		userRealm = conf.LibDefaults.DefaultRealm
	}

	cl := client.NewWithKeytab(user, userRealm, kt, conf, client.DisablePAFXFAST(true))
	if err := cl.Login(); err != nil {
		return nil, fmt.Errorf("kerberos login for %s: %w", name, err)
	}

	logger.Debug("Kerberos keytab login", logger.KeyPrincipal, name, logger.KeyPath, path)
	return NewClientCredential(cl), nil
}

func (s *Source) fromTicketCache(path string, conf *krb5config.Config) (auth.Credential, error) {
	if path == "" {
		path = DefaultTicketCachePath()
	}
	cc, err := credentials.LoadCCache(path)
	if err != nil {
		return nil, fmt.Errorf("load ticket cache %s: %w", path, err)
	}
	cl, err := client.NewFromCCache(cc, conf, client.DisablePAFXFAST(true))
	if err != nil {
		return nil, fmt.Errorf("use ticket cache %s: %w", path, err)
	}

	cred := NewClientCredential(cl)
	logger.Debug("Kerberos ticket cache login", logger.KeyPrincipal, cred.Principal(), logger.KeyPath, path)
	return cred, nil
}

// krb5Conf loads krb5.conf once, or on every call when refresh is set.
func (s *Source) krb5Conf(refresh bool) (*krb5config.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conf != nil && !refresh {
		return s.conf, nil
	}
	conf, err := krb5config.Load(s.krb5ConfPath)
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf %s: %w", s.krb5ConfPath, err)
	}
	s.conf = conf
	return conf, nil
}

// DefaultTicketCachePath returns the MIT default ticket cache location.
func DefaultTicketCachePath() string {
	return "/tmp/krb5cc_" + strconv.Itoa(os.Getuid())
}

func isTrue(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}
