package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/codes"

	"github.com/marmos91/alluxio-auth/internal/admin"
	"github.com/marmos91/alluxio-auth/internal/logger"
	"github.com/marmos91/alluxio-auth/internal/telemetry"
	"github.com/marmos91/alluxio-auth/pkg/auth/kerberos"
	"github.com/marmos91/alluxio-auth/pkg/auth/principal"
	"github.com/marmos91/alluxio-auth/pkg/auth/transport"
	"github.com/marmos91/alluxio-auth/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a GSSAPI SASL acceptor",
	Long: `Log in from the configured keytab and accept GSSAPI SASL handshakes on
server.bind_address:server.port. Each authorized connection receives one
greeting line naming the identity it was authorized as, then is closed.

SIGHUP, or any write to the configuration file, reloads
security.auth_to_local. A rule set that fails to compile is logged and the
previous rules stay in effect.

When metrics.enabled is set an admin HTTP server exposes /metrics,
/healthz, /healthz/ready and /rules on metrics.port.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	cfg := a.cfg

	if !a.mode.IsKerberos() {
		return fmt.Errorf("serve requires KERBEROS or KERBEROS_KEYTAB authentication, got %s", a.mode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "alluxio-auth",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	shutdownTelemetry, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("Telemetry shutdown error", logger.KeyError, err)
		}
	}()
	if cfg.Telemetry.Enabled {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}

	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "alluxio-auth",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	shutdownProfiling, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := shutdownProfiling(); err != nil {
			logger.Error("Profiling shutdown error", logger.KeyError, err)
		}
	}()

	provider, err := kerberos.NewProvider(&cfg.Security.Kerberos)
	if err != nil {
		return err
	}
	defer func() { _ = provider.Close() }()

	factory, err := transport.NewAcceptorFactory(ctx, a.session, cfg.Server.Host, provider,
		transport.WithMapper(a.mapper),
		transport.WithMetrics(transport.NewMetrics(a.registry)),
	)
	if err != nil {
		return err
	}
	logger.Info("Logged in",
		logger.KeyPrincipal, factory.ServerIdentity().FullName(),
		logger.KeyMode, a.mode.String())

	go watchRuleReloads(ctx, GetConfigFile(), a.mapper)

	var adminSrv *admin.Server
	if cfg.Metrics.Enabled {
		adminSrv = admin.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port), admin.Deps{
			Session:  a.session,
			Mapper:   a.mapper,
			Gatherer: a.registry,
		})
		go func() {
			if err := adminSrv.Start(ctx); err != nil {
				logger.Error("Admin server error", logger.KeyError, err)
			}
		}()
	}

	server := transport.NewServer(factory, greet, cfg.Network.SocketTimeout)
	addr := net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.Port))

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.ListenAndServe(ctx, addr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown")
	case err := <-serverDone:
		return err
	}

	server.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if adminSrv != nil {
		if err := adminSrv.Stop(shutdownCtx); err != nil {
			logger.Error("Admin server shutdown error", logger.KeyError, err)
		}
	}

	select {
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	case <-shutdownCtx.Done():
		return errors.New("timed out waiting for connections to drain")
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// greet tells an authorized peer who it was authorized as.
func greet(ctx context.Context, c *transport.Conn) {
	id := c.Identity()
	logger.InfoCtx(ctx, "Connection authorized",
		logger.KeyConnID, c.ID(),
		logger.KeyAuthzID, c.AuthorizationID(),
		logger.KeyShortName, id.ShortName())

	_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := fmt.Fprintf(c, "authorized %s as %s\n", c.AuthorizationID(), id.ShortName()); err != nil {
		logger.DebugCtx(ctx, "Greeting write failed", logger.KeyConnID, c.ID(), logger.KeyError, err)
	}
}

// watchRuleReloads reloads auth_to_local rules on SIGHUP and whenever the
// configuration file is written, until ctx ends.
func watchRuleReloads(ctx context.Context, configFile string, mapper *principal.Mapper) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	path := configFile
	if path == "" && config.DefaultConfigExists() {
		path = config.GetDefaultConfigPath()
	}

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if path != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			logger.Warn("Config file watch unavailable, reload with SIGHUP", logger.KeyError, err)
		} else {
			defer func() { _ = watcher.Close() }()
			// Watch the directory: editors and config management replace the
			// file by rename.
			if err := watcher.Add(filepath.Dir(path)); err != nil {
				logger.Warn("Config file watch unavailable, reload with SIGHUP",
					logger.KeyPath, path, logger.KeyError, err)
			} else {
				events, watchErrs = watcher.Events, watcher.Errors
			}
		}
	}

	reload := func(trigger string) {
		if err := reloadRules(ctx, configFile, mapper); err != nil {
			logger.Error("auth_to_local reload failed, keeping previous rules",
				"trigger", trigger, logger.KeyError, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			reload("sighup")
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				reload("file")
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			logger.Warn("Config file watch error", logger.KeyError, err)
		}
	}
}

// reloadRules re-reads the configuration and installs its rule text. An
// empty rule text clears the rules.
func reloadRules(ctx context.Context, configFile string, mapper *principal.Mapper) (err error) {
	_, span := telemetry.StartSpan(ctx, telemetry.SpanRuleReload)
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	var text *string
	if cfg.Security.AuthToLocal != "" {
		text = &cfg.Security.AuthToLocal
	}
	if err := mapper.SetRules(text); err != nil {
		return err
	}
	logger.Info("auth_to_local rules reloaded", logger.KeyCount, len(mapper.Rules()))
	return nil
}
