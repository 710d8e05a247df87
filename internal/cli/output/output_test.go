package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"TABLE", FormatTable, false},
		{"json", FormatJSON, false},
		{" yml ", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestPrinter_Table(t *testing.T) {
	tbl := NewTable("Principal", "Short Name")
	tbl.AddRow("nn/host1@REALM.COM", "nn")
	tbl.AddRow("bob@OTHER.ORG", "bob@OTHER.ORG")

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable, false).Print(tbl))

	out := buf.String()
	assert.Contains(t, out, "PRINCIPAL")
	assert.Contains(t, out, "SHORT NAME")
	assert.Contains(t, out, "nn/host1@REALM.COM")
	assert.Contains(t, out, "bob@OTHER.ORG")
}

func TestPrinter_JSONAndYAML(t *testing.T) {
	data := map[string]string{"short_name": "alice"}

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatJSON, false).Print(data))
	assert.JSONEq(t, `{"short_name":"alice"}`, buf.String())

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatYAML, false).Print(data))
	assert.Equal(t, "short_name: alice\n", buf.String())

	// Non-renderers fall back to JSON in table mode.
	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatTable, false).Print(data))
	assert.JSONEq(t, `{"short_name":"alice"}`, buf.String())
}

func TestPrintKeyValues(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintKeyValues(&buf, [][2]string{{"Mode", "KERBEROS"}, {"State", "logged_in"}}))
	assert.Contains(t, buf.String(), "KERBEROS")
	assert.Contains(t, buf.String(), "logged_in")
}

func TestPrinter_Messages(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable, false)
	p.Success("formatted")
	p.Warning("careful")
	assert.Equal(t, "formatted\ncareful\n", buf.String())

	buf.Reset()
	NewPrinter(&buf, FormatTable, true).Success("ok")
	assert.Equal(t, "\033[32mok\033[0m\n", buf.String())
}
