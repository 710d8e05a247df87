package transport

import (
	"github.com/marmos91/alluxio-auth/pkg/auth/principal"
)

const (
	// Mechanism is the only SASL mechanism negotiated.
	Mechanism = "GSSAPI"

	// DefaultServiceName is the service part of the server principal.
	DefaultServiceName = "alluxio"
)

type options struct {
	serviceName string
	metrics     *Metrics
	mapper      *principal.Mapper
}

// Option configures Open, Dialer and AcceptorFactory.
type Option func(*options)

// WithServiceName overrides the SASL service name. On the acceptor side the
// provider's service name is used unless this is set.
func WithServiceName(name string) Option {
	return func(o *options) { o.serviceName = name }
}

// WithMetrics records handshake outcomes.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMapper resolves the authorized principal to a local short name on
// accepted connections.
func WithMapper(m *principal.Mapper) Option {
	return func(o *options) { o.mapper = m }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
