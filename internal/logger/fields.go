package logger

import (
	"log/slog"
	"time"
)

// Field keys shared by every package, so that login and handshake events
// can be correlated across clients and servers.
const (
	// Tracing, added from the active span.
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Identity and login.
	KeyPrincipal = "principal"  // Full principal name (service[/host][@realm])
	KeyShortName = "short_name" // Local user name after auth_to_local mapping
	KeyMode      = "mode"       // Authentication mode: SIMPLE, KERBEROS, ...
	KeyModule    = "module"     // Login module name
	KeyControl   = "control"    // Login module control flag
	KeyAuthzID   = "authz_id"   // Authorization id presented by the peer
	KeyAuthnID   = "authn_id"   // Authentication id proven by the handshake

	// Transport.
	KeyConnID  = "conn_id"
	KeyPeer    = "peer"
	KeyHost    = "host"    // Server host the service principal is bound to
	KeyService = "service" // SASL service name
	KeyStep    = "step"    // Handshake step

	// Files.
	KeyPath = "path"
	KeyTier = "tier" // Worker storage tier alias

	KeyCount      = "count"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyAddr       = "addr" // Listen address
)

// DurationMs returns the time elapsed since start as a duration_ms attr.
func DurationMs(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, elapsedMs(start))
}
