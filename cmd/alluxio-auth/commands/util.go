package commands

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/alluxio-auth/internal/logger"
	"github.com/marmos91/alluxio-auth/pkg/auth"
	"github.com/marmos91/alluxio-auth/pkg/auth/group"
	"github.com/marmos91/alluxio-auth/pkg/auth/kerberos"
	"github.com/marmos91/alluxio-auth/pkg/auth/login"
	"github.com/marmos91/alluxio-auth/pkg/auth/principal"
	"github.com/marmos91/alluxio-auth/pkg/auth/realm"
	"github.com/marmos91/alluxio-auth/pkg/config"
)

// groupCacheTTL bounds how long group lookups are reused within one process.
const groupCacheTTL = 5 * time.Minute

// InitLogger initializes the logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// getConfigSource describes where the configuration was read from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// app bundles what every command builds from configuration.
type app struct {
	cfg      *config.Config
	mode     auth.Mode
	mapper   *principal.Mapper
	session  *login.Session
	groups   group.Mapping
	registry *prometheus.Registry
}

// loadApp loads configuration, initializes logging and assembles the login
// session. Nothing is logged in yet; the first Identity call does that.
func loadApp() (*app, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := InitLogger(cfg); err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded", "source", getConfigSource(GetConfigFile()))

	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}

	mapper, err := newMapper(cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	krb := cfg.Security.Kerberos
	session := login.NewSession(
		mode,
		login.NewRegistry(login.RegistryOptions{
			KeytabFile: krb.KeytabFile,
			Principal:  krb.Principal,
		}),
		login.Environment{
			AppUser:     cfg.Security.Login.Username,
			Credentials: kerberos.NewSource(krb.Krb5Conf),
			Mapper:      mapper,
		},
		login.WithMetrics(login.NewMetrics(registry)),
	)

	return &app{
		cfg:      cfg,
		mode:     mode,
		mapper:   mapper,
		session:  session,
		groups:   group.NewCached(group.FromConfig(cfg.Security.Groups), groupCacheTTL),
		registry: registry,
	}, nil
}

// newMapper builds a mapper with the configured default realm and rules.
func newMapper(cfg *config.Config) (*principal.Mapper, error) {
	krb := cfg.Security.Kerberos
	mapper := principal.NewMapper(realm.New(krb.DefaultRealm, krb.Krb5Conf))
	if cfg.Security.AuthToLocal == "" {
		return mapper, nil
	}
	rules := cfg.Security.AuthToLocal
	if err := mapper.SetRules(&rules); err != nil {
		return nil, fmt.Errorf("security.auth_to_local: %w", err)
	}
	return mapper, nil
}
