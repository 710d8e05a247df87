package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is every property the authentication core reads: the login mode
// and Kerberos credentials, auth_to_local rules, static groups, the
// acceptor's bind settings, format targets, and the ambient logging,
// tracing and admin endpoint settings.
//
// Later sources win: defaults, then the YAML file, then ALLUXIO_*
// environment variables, then CLI flags.
//
// Values are read once at construction time. The only runtime mutation is
// an explicit auth_to_local rule reload.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry exports login and handshake spans
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains the admin HTTP endpoint configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Security contains authentication settings
	Security SecurityConfig `mapstructure:"security" yaml:"security"`

	// Network contains connection level settings
	Network NetworkConfig `mapstructure:"network" yaml:"network"`

	// Server contains the acceptor bind settings used by 'serve'
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Format lists the directories recreated by 'format'
	Format FormatConfig `mapstructure:"format" yaml:"format"`
}

// LoggingConfig selects where and how much the process logs.
type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR, in any case. DEBUG shows each
	// login module and handshake step.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr or a file path, appended to.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, login and handshake spans are exported to an OTLP-compatible
// collector.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector, host:port.
	// Default: localhost:4317
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// Insecure dials the collector without TLS.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of logins and handshakes traced.
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL.
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes names the profiles pushed (cpu, inuse_space, ...).
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the admin HTTP server (/metrics, /healthz).
// Disabled, login and handshake metrics are not registered anywhere.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the admin endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// SecurityConfig holds the authentication settings.
type SecurityConfig struct {
	// AuthenticationType selects the login chain.
	// Valid values: SIMPLE, CUSTOM, KERBEROS, KERBEROS_KEYTAB (case-insensitive)
	// Default: SIMPLE
	AuthenticationType string `mapstructure:"authentication_type" validate:"required,authmode" yaml:"authentication_type"`

	// Login configures the application supplied user for SIMPLE/CUSTOM.
	Login LoginConfig `mapstructure:"login" yaml:"login"`

	// Kerberos contains Kerberos credential settings.
	Kerberos KerberosConfig `mapstructure:"kerberos" yaml:"kerberos"`

	// AuthToLocal holds the auth_to_local rule text. Empty disables rule
	// based mapping: every principal then maps to its full name.
	// Example:
	//   RULE:[2:$1@$0](.*@EXAMPLE\.COM)s/@.*//
	//   DEFAULT
	AuthToLocal string `mapstructure:"auth_to_local" yaml:"auth_to_local,omitempty"`

	// Groups maps a user name to a comma separated group list.
	Groups map[string]string `mapstructure:"groups" yaml:"groups,omitempty"`
}

// LoginConfig configures the application login module.
type LoginConfig struct {
	// Username, when set, is used instead of the OS user in SIMPLE and
	// CUSTOM modes.
	Username string `mapstructure:"username" yaml:"username,omitempty"`
}

// KerberosConfig contains Kerberos credential configuration.
//
// Clients in KERBEROS mode log in from the ticket cache ($KRB5CCNAME).
// Servers and KERBEROS_KEYTAB clients log in from KeytabFile as Principal.
type KerberosConfig struct {
	// Principal is the login principal for keytab logins.
	// Format: service/hostname@REALM (e.g., alluxio/master.example.com@EXAMPLE.COM)
	// Override: ALLUXIO_KERBEROS_PRINCIPAL
	Principal string `mapstructure:"principal" yaml:"principal"`

	// KeytabFile is the path to the keytab.
	// Override: ALLUXIO_KERBEROS_KEYTAB
	KeytabFile string `mapstructure:"keytab_file" yaml:"keytab_file"`

	// Krb5Conf is the path to krb5.conf.
	// Default: $KRB5_CONFIG, then /etc/krb5.conf
	Krb5Conf string `mapstructure:"krb5_conf" yaml:"krb5_conf"`

	// DefaultRealm overrides the realm read from krb5.conf. It is the
	// realm DEFAULT auth_to_local rules match against.
	DefaultRealm string `mapstructure:"default_realm" yaml:"default_realm,omitempty"`

	// ServiceName is the SASL service name bound to each server host.
	// Default: alluxio
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`

	// MaxClockSkew is the tolerated clock difference for AP-REQ validation.
	// Default: 5m
	MaxClockSkew time.Duration `mapstructure:"max_clock_skew" yaml:"max_clock_skew"`

	// KeytabPollInterval controls how often the server keytab is checked
	// for rotation.
	// Default: 60s
	KeytabPollInterval time.Duration `mapstructure:"keytab_poll_interval" yaml:"keytab_poll_interval"`
}

// NetworkConfig contains connection settings.
type NetworkConfig struct {
	// SocketTimeout bounds each handshake. It is applied as a connection
	// deadline by the caller.
	// Default: 30s
	SocketTimeout time.Duration `mapstructure:"socket_timeout" validate:"gte=0" yaml:"socket_timeout"`
}

// ServerConfig configures the acceptor started by 'serve'.
type ServerConfig struct {
	// Host is the advertised host name the service principal is bound to.
	// Default: os.Hostname()
	Host string `mapstructure:"host" yaml:"host"`

	// BindAddress is the listen address.
	// Default: 0.0.0.0
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the listen port.
	// Default: 19998
	Port int `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// ShutdownTimeout bounds how long 'serve' waits for open connections
	// after a stop signal.
	// Default: 30s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`
}

// FormatConfig lists what 'format' recreates.
type FormatConfig struct {
	// JournalDir is the master journal directory.
	JournalDir string `mapstructure:"journal_dir" yaml:"journal_dir"`

	// JournalServices names the per service journals under JournalDir.
	// Default: BlockMaster, FileSystemMaster, MetaMaster
	JournalServices []string `mapstructure:"journal_services" yaml:"journal_services"`

	// WorkerTiers lists the worker storage tiers.
	WorkerTiers []TierConfig `mapstructure:"worker_tiers" validate:"dive" yaml:"worker_tiers"`

	// WorkerDataFolder is the sub directory created inside each tier path.
	// Default: alluxioworker
	WorkerDataFolder string `mapstructure:"worker_data_folder" yaml:"worker_data_folder"`
}

// TierConfig is one worker storage tier.
type TierConfig struct {
	Alias string   `mapstructure:"alias" validate:"required" yaml:"alias"`
	Dirs  []string `mapstructure:"dirs" validate:"min=1,dive,required" yaml:"dirs"`
}

// Load reads configPath (or the default location), fills unset fields with
// defaults, applies ALLUXIO_* overrides and validates the result. Without a
// config file it returns the defaults plus environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad is Load for CLI commands: a missing file is an error that tells
// the operator how to create one.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please create a configuration file first:\n"+
				"  alluxio-auth config init\n\n"+
				"Or specify a custom config file:\n"+
				"  alluxio-auth <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  alluxio-auth config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes cfg as YAML to path.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file names keytabs and principals.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper binds ALLUXIO_* variables and the config file location.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use ALLUXIO_ prefix and underscores
	// Example: ALLUXIO_SECURITY_AUTHENTICATION_TYPE=KERBEROS
	v.SetEnvPrefix("ALLUXIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/alluxio-auth/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// applyEnvOverrides applies the short Kerberos overrides that do not follow
// the nested key naming.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALLUXIO_KERBEROS_KEYTAB"); v != "" {
		cfg.Security.Kerberos.KeytabFile = v
	}
	if v := os.Getenv("ALLUXIO_KERBEROS_PRINCIPAL"); v != "" {
		cfg.Security.Kerberos.Principal = v
	}
}

// readConfigFile reports whether a configuration file was read. A missing
// file is not an error.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks accepts "30s" style durations and comma separated
// lists, e.g. ALLUXIO_FORMAT_JOURNAL_SERVICES=BlockMaster,MetaMaster.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "alluxio-auth")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "alluxio-auth")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the directory 'config init' writes to.
func GetConfigDir() string {
	return getConfigDir()
}
