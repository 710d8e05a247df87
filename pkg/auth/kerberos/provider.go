package kerberos

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/marmos91/alluxio-auth/internal/logger"
	"github.com/marmos91/alluxio-auth/pkg/config"
)

// DefaultMaxClockSkew is the AP-REQ clock tolerance used when none is configured.
const DefaultMaxClockSkew = 5 * time.Minute

// Provider holds the server side Kerberos state: the keytab the acceptor
// decrypts service tickets with and the SASL service name.
//
// Thread Safety: All methods are safe for concurrent use. The keytab can be
// hot-reloaded at runtime via ReloadKeytab() without disrupting handshakes
// already in flight.
type Provider struct {
	keytab        *keytab.Keytab
	keytabPath    string
	serviceName   string
	maxClockSkew  time.Duration
	keytabWatcher *KeytabWatcher
	mu            sync.RWMutex
}

// NewProvider loads the keytab named by cfg and starts watching it for
// rotation. cfg.KeytabPollInterval paces the fallback poll.
func NewProvider(cfg *config.KerberosConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kerberos config is nil")
	}
	if cfg.KeytabFile == "" {
		return nil, fmt.Errorf("kerberos keytab not configured (set security.kerberos.keytab_file or ALLUXIO_KERBEROS_KEYTAB)")
	}

	kt, err := loadKeytab(cfg.KeytabFile)
	if err != nil {
		return nil, fmt.Errorf("load keytab %s: %w", cfg.KeytabFile, err)
	}

	p := &Provider{
		keytab:       kt,
		keytabPath:   cfg.KeytabFile,
		serviceName:  cfg.ServiceName,
		maxClockSkew: cfg.MaxClockSkew,
	}
	if p.maxClockSkew == 0 {
		p.maxClockSkew = DefaultMaxClockSkew
	}

	kw := NewKeytabWatcher(cfg.KeytabFile, cfg.KeytabPollInterval, p)
	if err := kw.Start(); err != nil {
		// Hot reload is best effort; the keytab was already loaded.
		logger.Warn("Keytab hot-reload failed to start, continuing without it",
			logger.KeyPath, cfg.KeytabFile, logger.KeyError, err)
	}
	p.keytabWatcher = kw

	return p, nil
}

// NewStaticProvider wraps an in-memory keytab. It never reloads.
func NewStaticProvider(kt *keytab.Keytab, serviceName string, maxClockSkew time.Duration) *Provider {
	if maxClockSkew == 0 {
		maxClockSkew = DefaultMaxClockSkew
	}
	return &Provider{keytab: kt, serviceName: serviceName, maxClockSkew: maxClockSkew}
}

// Keytab returns the current keytab (thread-safe read).
func (p *Provider) Keytab() *keytab.Keytab {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.keytab
}

// ServiceName returns the SASL service name.
func (p *Provider) ServiceName() string {
	return p.serviceName
}

// ServicePrincipal returns the realm-less service principal bound to host,
// e.g. "alluxio/master.example.com".
func (p *Provider) ServicePrincipal(host string) string {
	return p.serviceName + "/" + host
}

// MaxClockSkew returns the maximum allowed clock skew.
func (p *Provider) MaxClockSkew() time.Duration {
	return p.maxClockSkew
}

// KeytabPath returns the path the keytab was loaded from, or "" for a
// static provider.
func (p *Provider) KeytabPath() string {
	return p.keytabPath
}

// ReloadKeytab re-reads the keytab file and atomically swaps it.
// On failure the previous keytab stays active.
func (p *Provider) ReloadKeytab() error {
	if p.keytabPath == "" {
		return fmt.Errorf("provider has no keytab file")
	}
	kt, err := loadKeytab(p.keytabPath)
	if err != nil {
		return fmt.Errorf("reload keytab %s: %w", p.keytabPath, err)
	}

	p.mu.Lock()
	p.keytab = kt
	p.mu.Unlock()

	return nil
}

// Close stops watching the keytab. Safe to call multiple times.
func (p *Provider) Close() error {
	if p.keytabWatcher != nil {
		p.keytabWatcher.Stop()
	}
	return nil
}

// loadKeytab reads and parses a keytab file.
func loadKeytab(path string) (*keytab.Keytab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keytab file: %w", err)
	}

	kt := keytab.New()
	if err := kt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse keytab: %w", err)
	}

	return kt, nil
}
