package config

import (
	"os"
	"strings"
	"time"

	"github.com/marmos91/alluxio-auth/pkg/auth"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applySecurityDefaults(&cfg.Security)
	applyNetworkDefaults(&cfg.Network)
	applyServerDefaults(&cfg.Server)
	applyFormatDefaults(&cfg.Format)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "inuse_space", "goroutines"}
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applySecurityDefaults sets authentication defaults and normalizes the
// mode token to its canonical upper case form.
func applySecurityDefaults(cfg *SecurityConfig) {
	if cfg.AuthenticationType == "" {
		cfg.AuthenticationType = string(auth.ModeSimple)
	}
	if m, err := auth.ParseMode(cfg.AuthenticationType); err == nil {
		cfg.AuthenticationType = string(m)
	}

	k := &cfg.Kerberos
	if k.ServiceName == "" {
		k.ServiceName = "alluxio"
	}
	if k.MaxClockSkew == 0 {
		k.MaxClockSkew = 5 * time.Minute
	}
	if k.KeytabPollInterval == 0 {
		k.KeytabPollInterval = 60 * time.Second
	}
}

func applyNetworkDefaults(cfg *NetworkConfig) {
	if cfg.SocketTimeout == 0 {
		cfg.SocketTimeout = 30 * time.Second
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.Host = h
		} else {
			cfg.Host = "localhost"
		}
	}
	if cfg.BindAddress == "" {
		cfg.BindAddress = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 19998
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyFormatDefaults(cfg *FormatConfig) {
	if cfg.WorkerDataFolder == "" {
		cfg.WorkerDataFolder = "alluxioworker"
	}
	if len(cfg.JournalServices) == 0 {
		cfg.JournalServices = []string{"BlockMaster", "FileSystemMaster", "MetaMaster"}
	}
}

// Mode returns the parsed authentication mode.
func (c *Config) Mode() (auth.Mode, error) {
	return auth.ParseMode(c.Security.AuthenticationType)
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
