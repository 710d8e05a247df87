// Package auth provides the authentication core shared by alluxio clients and
// servers.
//
// This package defines the protocol-neutral pieces used by every sub-package:
//
//   - Identity: immutable (full name, short name) pair resolved from a principal
//   - Mode: the configured authentication mode (SIMPLE, CUSTOM, KERBEROS, ...)
//   - Standard error types for principal parsing, login and transport failures
//   - Context helpers that carry the identity an action runs as
//
// Sub-packages:
//   - principal/: principal parsing and auth-to-local rules
//   - realm/: default realm sources (explicit override, krb5.conf lookup)
//   - login/: credential chain registry and the login session state machine
//   - kerberos/: keytab and ticket-cache credential sources with hot reload
//   - transport/: GSSAPI SASL negotiation over an established connection
//   - group/: configuration based group mapping
package auth
