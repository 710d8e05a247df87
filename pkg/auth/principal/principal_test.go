package principal

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/alluxio-auth/pkg/auth"
	"github.com/marmos91/alluxio-auth/pkg/auth/realm"
)

// ============================================================================
// Parse / String
// ============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Name
	}{
		{"alice@REALM.COM", Name{Service: "alice", Realm: "REALM.COM"}},
		{"nn/host1@REALM.COM", Name{Service: "nn", Host: "host1", Realm: "REALM.COM"}},
		{"plainuser", Name{Service: "plainuser"}},
		{"nn/host1", Name{Service: "nn", Host: "host1"}},
		{"a/b/c", Name{Service: "a/b/c"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, in := range []string{"bad@name@REALM", "alice@", "@REALM", "/host@REALM", ""} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.True(t, errors.Is(err, auth.ErrMalformedPrincipal), "err = %v", err)
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	for _, in := range []string{
		"alice",
		"alice@REALM.COM",
		"nn/host1",
		"nn/host1@REALM.COM",
		"HTTP/web.example.com@EXAMPLE.COM",
	} {
		n, err := Parse(in)
		require.NoError(t, err)
		assert.Equal(t, in, n.String())

		again, err := Parse(n.String())
		require.NoError(t, err)
		assert.Equal(t, n.String(), again.String())
	}
}

// ============================================================================
// CompileRules
// ============================================================================

func TestCompileRules(t *testing.T) {
	rules, err := CompileRules(`
		RULE:[2:$1@$0](.*@REALM\.COM)s/@.*//
		RULE:[1:$1](admin.*)s/^admin-//g/L
		DEFAULT
	`)
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.Equal(t, `RULE:[2:$1@$0](.*@REALM\.COM)s/@.*//`, rules[0].String())
	assert.Equal(t, `RULE:[1:$1](admin.*)s/^admin-//g/L`, rules[1].String())
	assert.True(t, rules[2].IsDefault())
	assert.Equal(t, "DEFAULT", rules[2].String())
}

func TestCompileRules_Empty(t *testing.T) {
	rules, err := CompileRules("   \n ")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestCompileRules_AbortsOnMalformedClause(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"garbage", "DEFAULT\nNOT_A_RULE"},
		{"unterminated", "RULE:[1:$1"},
		{"empty count", "RULE:[:$1]"},
		{"index out of range", "RULE:[1:$1$2]"},
		{"bad match regexp", "RULE:[1:$1](a(b)"},
		{"bad substitution regexp", "RULE:[1:$1]s/a(//"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := CompileRules(tt.text)
			assert.Nil(t, rules)
			require.Error(t, err)
			assert.ErrorIs(t, err, auth.ErrRuleCompile)

			var ce *auth.RuleCompileError
			require.ErrorAs(t, err, &ce)
		})
	}
}

// ============================================================================
// ApplyRules / Mapper
// ============================================================================

func newMapper(t *testing.T, rules string, defaultRealm string) *Mapper {
	t.Helper()
	m := NewMapper(realm.Static(defaultRealm))
	require.NoError(t, m.SetRules(&rules))
	return m
}

func TestMapper_ReferenceRules(t *testing.T) {
	m := newMapper(t, "RULE:[2:$1@$0](.*@REALM\\.COM)s/@.*//\nDEFAULT", "REALM.COM")

	id, err := m.Resolve("nn/host1@REALM.COM")
	require.NoError(t, err)
	assert.Equal(t, "nn", id.ShortName())
	assert.Equal(t, "nn/host1@REALM.COM", id.FullName())

	id, err = m.Resolve("alice@REALM.COM")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.ShortName())

	// Foreign realm: neither rule applies.
	id, err = m.Resolve("bob@OTHER.ORG")
	require.NoError(t, err)
	assert.Equal(t, "bob@OTHER.ORG", id.ShortName())
}

func TestMapper_NoRulesFallsBackToFullName(t *testing.T) {
	m := newMapper(t, "DEFAULT", "REALM.COM")
	require.NoError(t, m.SetRules(nil))

	for _, in := range []string{"alice@REALM.COM", "nn/host1@REALM.COM", "nn/host1"} {
		id, err := m.Resolve(in)
		require.NoError(t, err)
		assert.Equal(t, in, id.ShortName())
	}

	// No host and no realm short-circuits to the service.
	id, err := m.Resolve("plainuser")
	require.NoError(t, err)
	assert.Equal(t, "plainuser", id.ShortName())
}

func TestMapper_RuleOrderIsAuthoritative(t *testing.T) {
	first := "RULE:[1:$1]s/^/a-/\nRULE:[1:$1]s/^/b-/"
	swapped := "RULE:[1:$1]s/^/b-/\nRULE:[1:$1]s/^/a-/"

	id, err := newMapper(t, first, "").Resolve("alice@REALM.COM")
	require.NoError(t, err)
	assert.Equal(t, "a-alice", id.ShortName())

	id, err = newMapper(t, swapped, "").Resolve("alice@REALM.COM")
	require.NoError(t, err)
	assert.Equal(t, "b-alice", id.ShortName())
}

func TestMapper_FailedReloadKeepsPreviousRules(t *testing.T) {
	m := newMapper(t, "DEFAULT", "REALM.COM")

	bad := "RULE:[1:$1]\nRULE:[oops"
	require.Error(t, m.SetRules(&bad))

	text, ok := m.RuleText()
	require.True(t, ok)
	assert.Equal(t, "DEFAULT", text)

	id, err := m.Resolve("alice@REALM.COM")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.ShortName())
}

func TestApplyRules_Semantics(t *testing.T) {
	tests := []struct {
		name  string
		rules string
		realm string
		in    string
		want  string
	}{
		{"default ignores host", "DEFAULT", "R.COM", "nn/h@R.COM", "nn"},
		{"default needs realm match", "DEFAULT", "R.COM", "nn/h@X.COM", "nn/h@X.COM"},
		{"default needs realm", "DEFAULT", "", "nn/h", "nn/h"},
		{"lowercase", "RULE:[1:$1]/L", "", "Alice@R.COM", "alice"},
		{"literal dollar", "RULE:[1:$$1$x]", "", "bob@R.COM", "$bob$x"},
		{"match filter is a full match", "RULE:[1:$1](ali)", "", "alice@R.COM", "alice@R.COM"},
		{"first match replace", "RULE:[1:$1]s/a/_/", "", "banana@R.COM", "b_nana"},
		{"global replace", "RULE:[1:$1]s/a/_/g", "", "banana@R.COM", "b_n_n_"},
		{"group reference", "RULE:[2:$2-$1]s/(.*)-(.*)/$2_$1/", "", "svc/h1@R.COM", "svc_h1"},
		{"group followed by underscore", `RULE:[1:$1@$0](.*@EXAMPLE\.COM)s/(.*)@.*/$1_x/`, "", "alice@EXAMPLE.COM", "alice_x"},
		{"group followed by letter", "RULE:[1:$1]s/(.*)/$1x/", "", "alice@R.COM", "alicex"},
		{"group number capped by group count", "RULE:[1:$1]s/(.*)/$10/", "", "alice@R.COM", "alice0"},
		{"escaped dollar in target", `RULE:[1:$1]s/(.*)/\$$1/`, "", "alice@R.COM", "$alice"},
		{"component count mismatch", "RULE:[2:$1]", "", "alice@R.COM", "alice@R.COM"},
		{"empty result falls through", "RULE:[1:$1]s/.*//\nRULE:[1:x-$1]", "", "alice@R.COM", "x-alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := newMapper(t, tt.rules, tt.realm).Resolve(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, id.ShortName())
		})
	}
}

func TestExpandTemplate(t *testing.T) {
	tests := []struct {
		to        string
		numGroups int
		want      string
	}{
		{"$1_x", 1, "${1}_x"},
		{"$12", 12, "${12}"},
		{"$12", 1, "${1}2"},
		{`\$1`, 1, "$$1"},
		{`\\`, 0, `\`},
		{"a$", 0, "a$$"},
		{"${name}", 0, "$${name}"},
	}
	for _, tt := range tests {
		t.Run(tt.to, func(t *testing.T) {
			assert.Equal(t, tt.want, expandTemplate(tt.to, tt.numGroups))
		})
	}
}

func TestMapper_ConcurrentReload(t *testing.T) {
	m := newMapper(t, "RULE:[1:a-$1]", "")
	alt := "RULE:[1:b-$1]"
	orig := "RULE:[1:a-$1]"

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if i == 0 {
					if j%2 == 0 {
						_ = m.SetRules(&alt)
					} else {
						_ = m.SetRules(&orig)
					}
					continue
				}
				id, err := m.Resolve(fmt.Sprintf("u%d@R.COM", j))
				if err != nil {
					t.Errorf("resolve: %v", err)
					return
				}
				short := id.ShortName()
				if short != fmt.Sprintf("a-u%d", j) && short != fmt.Sprintf("b-u%d", j) {
					t.Errorf("unexpected short name %q", short)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
