package format

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/marmos91/alluxio-auth/pkg/auth"
	"github.com/marmos91/alluxio-auth/pkg/auth/login"
	"github.com/marmos91/alluxio-auth/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.Security.AuthenticationType = "SIMPLE"
	cfg.Format.JournalDir = filepath.Join(t.TempDir(), "journal")
	cfg.Format.WorkerTiers = []config.TierConfig{
		{Alias: "MEM", Dirs: []string{t.TempDir()}},
		{Alias: "SSD", Dirs: []string{t.TempDir(), t.TempDir()}},
	}
	return cfg
}

func TestParseTarget(t *testing.T) {
	for in, want := range map[string]Target{"master": TargetMaster, " WORKER ": TargetWorker, "Master": TargetMaster} {
		got, err := ParseTarget(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseTarget("journal")
	assert.Error(t, err)
}

func TestFormatMaster(t *testing.T) {
	cfg := testConfig(t)
	stale := filepath.Join(cfg.Format.JournalDir, "BlockMaster", "log.00001")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("entry"), 0644))

	f := New(cfg, nil)
	f.now = func() time.Time { return time.UnixMilli(1700000000123) }
	require.NoError(t, f.Format(context.Background(), TargetMaster))

	for _, svc := range cfg.Format.JournalServices {
		entries, err := os.ReadDir(filepath.Join(cfg.Format.JournalDir, svc))
		require.NoError(t, err)
		require.Len(t, entries, 1, svc)
		assert.Equal(t, "_format_1700000000123", entries[0].Name())
	}
	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestFormatMaster_RequiresJournalDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Format.JournalDir = ""
	assert.Error(t, New(cfg, nil).FormatMaster(context.Background()))
}

func TestFormatWorker(t *testing.T) {
	cfg := testConfig(t)
	first := filepath.Join(cfg.Format.WorkerTiers[0].Dirs[0], cfg.Format.WorkerDataFolder)
	require.NoError(t, os.MkdirAll(filepath.Join(first, "blocks"), 0755))

	old := unix.Umask(0o027)
	defer unix.Umask(old)

	require.NoError(t, New(cfg, nil).Format(context.Background(), TargetWorker))

	for _, tier := range cfg.Format.WorkerTiers {
		for _, d := range tier.Dirs {
			path := filepath.Join(d, cfg.Format.WorkerDataFolder)
			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.True(t, info.IsDir())
			assert.NotZero(t, info.Mode().Perm()&0o001, "others execute missing on %s", path)

			entries, err := os.ReadDir(path)
			require.NoError(t, err)
			assert.Empty(t, entries)
		}
	}
}

func TestFormat_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(testConfig(t), nil).FormatWorker(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// ============================================================================
// Kerberos
// ============================================================================

type stubCredential struct{ name string }

func (c *stubCredential) Principal() string { return c.name }
func (c *stubCredential) Destroy()          {}

type stubSource struct {
	opts map[string]string
	err  error
}

func (s *stubSource) Acquire(_ context.Context, opts map[string]string) (auth.Credential, error) {
	s.opts = opts
	if s.err != nil {
		return nil, s.err
	}
	return &stubCredential{name: opts[login.OptPrincipal]}, nil
}

func TestFormat_KerberosLogsInFromKeytab(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.AuthenticationType = "KERBEROS"
	cfg.Security.Kerberos.Principal = "alluxio/worker1@EXAMPLE.COM"
	cfg.Security.Kerberos.KeytabFile = "/etc/alluxio/worker.keytab"

	src := &stubSource{}
	session := login.NewSession(auth.ModeKerberos, nil, login.Environment{
		Credentials:  src,
		LookupOSUser: func() (string, error) { return "root", nil },
	})

	require.NoError(t, New(cfg, session).FormatWorker(context.Background()))

	assert.Equal(t, "/etc/alluxio/worker.keytab", src.opts[login.OptKeyTab])
	assert.Equal(t, "alluxio/worker1@EXAMPLE.COM", src.opts[login.OptPrincipal])

	id, err := session.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alluxio/worker1@EXAMPLE.COM", id.FullName())
}

func TestFormat_KerberosWithoutSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.AuthenticationType = "KERBEROS_KEYTAB"
	err := New(cfg, nil).FormatMaster(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no login session"))
}
