package realm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKrb5Conf = `[libdefaults]
  default_realm = EXAMPLE.COM
  dns_lookup_kdc = false

[realms]
  EXAMPLE.COM = {
    kdc = kdc.example.com:88
  }
`

func writeKrb5Conf(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "krb5.conf")
	require.NoError(t, os.WriteFile(path, []byte(testKrb5Conf), 0644))
	return path
}

func TestStatic(t *testing.T) {
	assert.Equal(t, "REALM.COM", Static(" REALM.COM ").DefaultRealm())
	assert.Equal(t, "", Static("").DefaultRealm())
}

func TestKrb5Conf_DefaultRealm(t *testing.T) {
	src := NewKrb5Conf(writeKrb5Conf(t))
	assert.Equal(t, "EXAMPLE.COM", src.DefaultRealm())
}

func TestKrb5Conf_MissingFileYieldsEmpty(t *testing.T) {
	src := NewKrb5Conf(filepath.Join(t.TempDir(), "missing.conf"))
	assert.Equal(t, "", src.DefaultRealm())
}

func TestResolveKrb5ConfPath(t *testing.T) {
	t.Setenv("KRB5_CONFIG", "/tmp/a.conf:/tmp/b.conf")
	assert.Equal(t, "/explicit.conf", ResolveKrb5ConfPath("/explicit.conf"))
	assert.Equal(t, "/tmp/a.conf", ResolveKrb5ConfPath(""))

	t.Setenv("KRB5_CONFIG", "")
	assert.Equal(t, DefaultKrb5ConfPath, ResolveKrb5ConfPath(""))
}

func TestChain_ExplicitOverridesKrb5Conf(t *testing.T) {
	path := writeKrb5Conf(t)

	assert.Equal(t, "OVERRIDE.ORG", New("OVERRIDE.ORG", path).DefaultRealm())
	assert.Equal(t, "EXAMPLE.COM", New("", path).DefaultRealm())
	assert.Equal(t, "", Chain{nil, Static("")}.DefaultRealm())
}
