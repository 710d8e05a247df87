package auth

import (
	"errors"
	"fmt"
)

// Standard authentication errors.
var (
	// ErrMalformedPrincipal indicates principal text containing a realm
	// separator that does not match service[/host][@realm].
	ErrMalformedPrincipal = errors.New("auth: malformed kerberos name")

	// ErrRuleCompile indicates malformed auth-to-local rule text.
	ErrRuleCompile = errors.New("auth: invalid auth_to_local rule")

	// ErrUnsupportedMode indicates a configured mode with no login chain.
	ErrUnsupportedMode = errors.New("auth: unsupported authentication mode")

	// ErrChainStepFailed indicates a mandatory login module failed.
	ErrChainStepFailed = errors.New("auth: login module failed")

	// ErrNoIdentityProduced indicates the login chain completed without
	// producing an identity.
	ErrNoIdentityProduced = errors.New("auth: login produced no user")

	// ErrAmbiguousIdentity indicates the login chain produced more than one
	// identity.
	ErrAmbiguousIdentity = errors.New("auth: login produced more than one user")

	// ErrUnauthenticated indicates a rejected handshake or an authorization
	// mismatch on a transport.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
)

// RuleCompileError describes the clause that failed to compile.
type RuleCompileError struct {
	// Offset is the byte offset of the clause within the rule text.
	Offset int
	// Clause is the offending text, truncated at the next rule boundary.
	Clause string
	// Err is the underlying cause, if any (e.g. a regexp syntax error).
	Err error
}

func (e *RuleCompileError) Error() string {
	msg := fmt.Sprintf("auth: invalid auth_to_local rule at offset %d: %q", e.Offset, e.Clause)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RuleCompileError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRuleCompile}
	}
	return []error{ErrRuleCompile, e.Err}
}

// UnsupportedModeError carries the rejected mode token.
type UnsupportedModeError struct {
	Mode string
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("auth: unsupported authentication mode %q", e.Mode)
}

func (e *UnsupportedModeError) Unwrap() error { return ErrUnsupportedMode }

// ChainStepError reports the mandatory login module that failed, with its
// cause attached.
type ChainStepError struct {
	Module string
	Err    error
}

func (e *ChainStepError) Error() string {
	return fmt.Sprintf("auth: login module %s failed: %v", e.Module, e.Err)
}

func (e *ChainStepError) Unwrap() []error {
	return []error{ErrChainStepFailed, e.Err}
}
