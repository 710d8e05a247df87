// Package realm determines the default Kerberos realm used by DEFAULT
// auth-to-local rules.
package realm

import (
	"os"
	"strings"
	"sync"

	krb5config "github.com/jcmturner/gokrb5/v8/config"

	"github.com/marmos91/alluxio-auth/internal/logger"
)

// DefaultKrb5ConfPath is used when neither an explicit path nor KRB5_CONFIG
// is set.
const DefaultKrb5ConfPath = "/etc/krb5.conf"

// Source supplies the default realm. An empty string means "unknown"; DEFAULT
// rules never match in that case.
type Source interface {
	DefaultRealm() string
}

// Static is an explicit realm override.
type Static string

// DefaultRealm returns the configured realm.
func (s Static) DefaultRealm() string { return strings.TrimSpace(string(s)) }

// Krb5Conf reads libdefaults.default_realm from a krb5.conf file.
//
// The file is read once, on first use. Load failures are logged at debug
// level and yield an empty realm.
type Krb5Conf struct {
	path string

	once  sync.Once
	realm string
}

// NewKrb5Conf returns a realm source for path. An empty path resolves to
// $KRB5_CONFIG, then DefaultKrb5ConfPath.
func NewKrb5Conf(path string) *Krb5Conf {
	return &Krb5Conf{path: ResolveKrb5ConfPath(path)}
}

// ResolveKrb5ConfPath applies the KRB5_CONFIG override. KRB5_CONFIG may hold a
// colon separated list; the first entry is used.
func ResolveKrb5ConfPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("KRB5_CONFIG"); env != "" {
		return strings.Split(env, ":")[0]
	}
	return DefaultKrb5ConfPath
}

// Path returns the krb5.conf path being read.
func (k *Krb5Conf) Path() string { return k.path }

// DefaultRealm returns the configured realm, or "" if krb5.conf cannot be loaded.
func (k *Krb5Conf) DefaultRealm() string {
	k.once.Do(func() {
		cfg, err := krb5config.Load(k.path)
		if err != nil {
			logger.Debug("Default realm lookup failed", logger.KeyPath, k.path, logger.KeyError, err)
			return
		}
		k.realm = cfg.LibDefaults.DefaultRealm
	})
	return k.realm
}

// Chain returns the first non-empty realm reported by its sources.
type Chain []Source

// DefaultRealm walks the chain in order.
func (c Chain) DefaultRealm() string {
	for _, s := range c {
		if s == nil {
			continue
		}
		if r := s.DefaultRealm(); r != "" {
			return r
		}
	}
	return ""
}

// New returns the realm source for a configuration: the explicit realm when
// set, falling back to krb5.conf.
func New(explicit, krb5ConfPath string) Source {
	return Chain{Static(explicit), NewKrb5Conf(krb5ConfPath)}
}
