package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/marmos91/alluxio-auth"

// Attribute keys for authentication spans.
const (
	// ========================================================================
	// Peer attributes
	// ========================================================================
	AttrClientAddr = "client.address"
	AttrServerHost = "server.host"
	AttrConnID     = "net.conn_id"

	// ========================================================================
	// Authentication attributes
	// ========================================================================
	AttrAuthMode      = "auth.mode"
	AttrAuthModule    = "auth.module"
	AttrAuthPrincipal = "auth.principal"
	AttrAuthShortName = "auth.short_name"
	AttrAuthzID       = "auth.authz_id"
	AttrMechanism     = "sasl.mechanism"
	AttrService       = "sasl.service"
	AttrHandshakeStep = "sasl.step"
	AttrAuthorized    = "auth.authorized"
)

// Span names. Format: <component>.<operation>
const (
	SpanLogin        = "auth.login"
	SpanHandshake    = "auth.handshake"
	SpanRuleReload   = "auth.rules.reload"
	SpanFormatMaster = "format.master"
	SpanFormatWorker = "format.worker"
)

// ClientAddr returns an attribute for the peer address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// ServerHost returns an attribute for the host a service principal is bound to
func ServerHost(host string) attribute.KeyValue {
	return attribute.String(AttrServerHost, host)
}

// ConnID returns an attribute for a transport connection id
func ConnID(id string) attribute.KeyValue {
	return attribute.String(AttrConnID, id)
}

// AuthMode returns an attribute for the authentication mode
func AuthMode(mode string) attribute.KeyValue {
	return attribute.String(AttrAuthMode, mode)
}

// AuthModule returns an attribute for a login module kind
func AuthModule(kind string) attribute.KeyValue {
	return attribute.String(AttrAuthModule, kind)
}

// Principal returns an attribute for a full principal name
func Principal(name string) attribute.KeyValue {
	return attribute.String(AttrAuthPrincipal, name)
}

// ShortName returns an attribute for a mapped local name
func ShortName(name string) attribute.KeyValue {
	return attribute.String(AttrAuthShortName, name)
}

// AuthzID returns an attribute for the authorization id a client presented
func AuthzID(id string) attribute.KeyValue {
	return attribute.String(AttrAuthzID, id)
}

// Mechanism returns an attribute for the SASL mechanism
func Mechanism(name string) attribute.KeyValue {
	return attribute.String(AttrMechanism, name)
}

// Service returns an attribute for the SASL service name
func Service(name string) attribute.KeyValue {
	return attribute.String(AttrService, name)
}

// HandshakeStep returns an attribute for the handshake step reached
func HandshakeStep(step string) attribute.KeyValue {
	return attribute.String(AttrHandshakeStep, step)
}

// Authorized returns an attribute for the authorization decision
func Authorized(ok bool) attribute.KeyValue {
	return attribute.Bool(AttrAuthorized, ok)
}

// StartLoginSpan starts a span around one run of a login chain.
func StartLoginSpan(ctx context.Context, mode string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{AuthMode(mode)}, attrs...)
	return StartSpan(ctx, SpanLogin, trace.WithAttributes(allAttrs...))
}

// StartHandshakeSpan starts a span around one SASL handshake. side is
// "client" or "server".
func StartHandshakeSpan(ctx context.Context, side string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	kind := trace.SpanKindClient
	if side == "server" {
		kind = trace.SpanKindServer
	}
	return StartSpan(ctx, SpanHandshake, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// StartFormatSpan starts a span for a format operation.
func StartFormatSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}

// StartSpan starts a span from the global tracer provider. The caller must
// end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// AddEvent records an event on the span in ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError records err on the span in ctx and marks the span failed.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
