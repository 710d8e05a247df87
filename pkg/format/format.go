// Package format recreates the master journal and the worker tier
// directories. When Kerberos is enabled the process logs in from its
// keytab before touching anything.
package format

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/marmos91/alluxio-auth/internal/logger"
	"github.com/marmos91/alluxio-auth/internal/telemetry"
	"github.com/marmos91/alluxio-auth/pkg/auth/login"
	"github.com/marmos91/alluxio-auth/pkg/config"
)

// Target selects what to format.
type Target string

const (
	TargetMaster Target = "MASTER"
	TargetWorker Target = "WORKER"
)

// formatMarkerPrefix names the marker file written into a freshly
// formatted journal, suffixed with the format time in milliseconds.
const formatMarkerPrefix = "_format_"

// ParseTarget parses MASTER or WORKER, case-insensitively.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToUpper(strings.TrimSpace(s))); t {
	case TargetMaster, TargetWorker:
		return t, nil
	default:
		return "", fmt.Errorf("unrecognized format target %q (want MASTER or WORKER)", s)
	}
}

// Formatter formats local state for one process.
type Formatter struct {
	cfg     *config.Config
	session *login.Session
	now     func() time.Time
}

// New returns a Formatter. session is only used when Kerberos is enabled.
func New(cfg *config.Config, session *login.Session) *Formatter {
	return &Formatter{cfg: cfg, session: session, now: time.Now}
}

// Format dispatches on target.
func (f *Formatter) Format(ctx context.Context, target Target) error {
	switch target {
	case TargetMaster:
		return f.FormatMaster(ctx)
	case TargetWorker:
		return f.FormatWorker(ctx)
	default:
		return fmt.Errorf("unrecognized format target %q", target)
	}
}

// FormatMaster empties every service journal under the journal directory
// and leaves a format marker in each.
func (f *Formatter) FormatMaster(ctx context.Context) (err error) {
	ctx, span := telemetry.StartFormatSpan(ctx, telemetry.SpanFormatMaster,
		attribute.String("format.journal_dir", f.cfg.Format.JournalDir))
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	dir := f.cfg.Format.JournalDir
	if dir == "" {
		return fmt.Errorf("format.journal_dir is not set")
	}
	if err := f.keytabLogin(ctx); err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Formatting master journal", logger.KeyPath, dir)
	for _, svc := range f.cfg.Format.JournalServices {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.formatJournal(filepath.Join(dir, svc)); err != nil {
			return err
		}
	}
	return nil
}

func (f *Formatter) formatJournal(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove journal %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create journal %s: %w", dir, err)
	}

	marker := filepath.Join(dir, formatMarkerPrefix+strconv.FormatInt(f.now().UnixMilli(), 10))
	if err := os.WriteFile(marker, nil, 0644); err != nil {
		return fmt.Errorf("write format marker: %w", err)
	}
	logger.Debug("Journal formatted", logger.KeyPath, dir)
	return nil
}

// FormatWorker recreates the worker data folder inside every tier
// directory. Others are granted execute permission on each so short
// circuit clients can traverse it.
func (f *Formatter) FormatWorker(ctx context.Context) (err error) {
	ctx, span := telemetry.StartFormatSpan(ctx, telemetry.SpanFormatWorker,
		attribute.Int("format.tiers", len(f.cfg.Format.WorkerTiers)))
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	folder := f.cfg.Format.WorkerDataFolder
	if folder == "" {
		return fmt.Errorf("format.worker_data_folder is not set")
	}
	if err := f.keytabLogin(ctx); err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Formatting worker data folder", logger.KeyPath, folder)
	for level, tier := range f.cfg.Format.WorkerTiers {
		for _, d := range tier.Dirs {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(strings.TrimSpace(d), folder)
			logger.InfoCtx(ctx, "Formatting tier directory",
				logger.KeyTier, tier.Alias, "level", level, logger.KeyPath, path)
			if err := formatWorkerDataFolder(path); err != nil {
				return err
			}
		}
	}
	return nil
}

func formatWorkerDataFolder(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	if err := os.Mkdir(path, 0777); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	perm := info.Mode().Perm()
	if perm&0o001 == 0 {
		if err := os.Chmod(path, perm|0o001); err != nil {
			return fmt.Errorf("chmod %s: %w", path, err)
		}
	}
	return nil
}

// keytabLogin logs the session in from the configured keytab when the mode
// is Kerberos. Other modes need no login to format.
func (f *Formatter) keytabLogin(ctx context.Context) error {
	mode, err := f.cfg.Mode()
	if err != nil {
		return err
	}
	if !mode.IsKerberos() {
		return nil
	}
	if f.session == nil {
		return errors.New("kerberos is enabled but no login session was provided")
	}

	krb := f.cfg.Security.Kerberos
	id, err := f.session.LoginWithKeytab(ctx, krb.Principal, krb.KeytabFile)
	if err != nil {
		return fmt.Errorf("keytab login as %s: %w", krb.Principal, err)
	}
	logger.InfoCtx(ctx, "Logged in from keytab", logger.KeyPrincipal, id.FullName())
	return nil
}
