package auth

import "strings"

// Mode is the configured authentication mode.
//
// The zero value is not a valid mode; use ParseMode to obtain one from
// configuration input.
type Mode string

const (
	// ModeNoSASL disables SASL entirely. It is recognized so that
	// configuration errors can be reported precisely, but no login chain exists
	// for it.
	ModeNoSASL Mode = "NOSASL"

	// ModeSimple authenticates as the OS (or application supplied) user
	// without any credential verification.
	ModeSimple Mode = "SIMPLE"

	// ModeCustom behaves like ModeSimple at login time; the server side
	// delegates verification to a pluggable provider.
	ModeCustom Mode = "CUSTOM"

	// ModeKerberos logs in from the Kerberos ticket cache.
	ModeKerberos Mode = "KERBEROS"

	// ModeKerberosKeytab logs in from a service keytab.
	ModeKerberosKeytab Mode = "KERBEROS_KEYTAB"
)

var knownModes = []Mode{ModeNoSASL, ModeSimple, ModeCustom, ModeKerberos, ModeKerberosKeytab}

// ParseMode matches s case-insensitively against the known mode tokens.
//
// Unknown tokens return an *UnsupportedModeError. Known but unsupported tokens
// (NOSASL) parse successfully; Supported reports whether a login chain exists.
func ParseMode(s string) (Mode, error) {
	token := strings.ToUpper(strings.TrimSpace(s))
	for _, m := range knownModes {
		if string(m) == token {
			return m, nil
		}
	}
	return "", &UnsupportedModeError{Mode: s}
}

// Supported reports whether the mode has a login chain.
func (m Mode) Supported() bool {
	switch m {
	case ModeSimple, ModeCustom, ModeKerberos, ModeKerberosKeytab:
		return true
	default:
		return false
	}
}

// IsKerberos reports whether the mode acquires Kerberos credentials.
func (m Mode) IsKerberos() bool {
	return m == ModeKerberos || m == ModeKerberosKeytab
}

func (m Mode) String() string { return string(m) }

// CheckSecurityEnabled returns an error unless mode is one of the modes for
// which a login user can be established.
func CheckSecurityEnabled(m Mode) error {
	if !m.Supported() {
		return &UnsupportedModeError{Mode: string(m)}
	}
	return nil
}
