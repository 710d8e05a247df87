package transport

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/alluxio-auth/internal/logger"
	"github.com/marmos91/alluxio-auth/internal/telemetry"
)

// Handshake steps, as recorded on spans and in debug logs.
const (
	stepMechanism     = "mechanism"
	stepAPExchange    = "ap-exchange"
	stepSecurityLayer = "security-layer"
	stepAuthorize     = "authorize"
)

// step marks a completed handshake step.
func step(ctx context.Context, name string) {
	telemetry.AddEvent(ctx, "sasl.step", telemetry.HandshakeStep(name))
	logger.DebugCtx(ctx, "SASL step complete", logger.KeyStep, name)
}

// Metrics tracks Prometheus metrics for SASL handshakes.
//
// Methods handle a nil receiver, so a nil *Metrics is a no-op.
type Metrics struct {
	// Handshakes counts completed handshakes.
	// Labels: side=[client, server], result=[success, failure]
	Handshakes *prometheus.CounterVec

	// Failures counts failed handshakes by reason.
	// Labels: reason=[frame, mechanism, ticket, aprep, wrap, unauthorized]
	Failures *prometheus.CounterVec

	// HandshakeDuration tracks time spent negotiating.
	HandshakeDuration *prometheus.HistogramVec
}

const (
	reasonFrame        = "frame"
	reasonMechanism    = "mechanism"
	reasonTicket       = "ticket"
	reasonAPRep        = "aprep"
	reasonWrap         = "wrap"
	reasonUnauthorized = "unauthorized"
)

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics creates and registers the handshake metrics. If registerer is
// nil, prometheus.DefaultRegisterer is used. Registration happens once per
// process; later calls return the same instance.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}

		m := &Metrics{
			Handshakes: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "alluxio_auth_handshakes_total",
					Help: "Total SASL handshakes by side and result",
				},
				[]string{"side", "result"},
			),
			Failures: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "alluxio_auth_handshake_failures_total",
					Help: "Failed SASL handshakes by reason",
				},
				[]string{"reason"},
			),
			HandshakeDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "alluxio_auth_handshake_duration_seconds",
					Help:    "SASL handshake duration in seconds",
					Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
				},
				[]string{"side"},
			),
		}

		registerer.MustRegister(m.Handshakes, m.Failures, m.HandshakeDuration)
		metricsInstance = m
	})

	return metricsInstance
}

func (m *Metrics) record(side string, reason string, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if reason != "" {
		result = "failure"
		m.Failures.WithLabelValues(reason).Inc()
	}
	m.Handshakes.WithLabelValues(side, result).Inc()
	m.HandshakeDuration.WithLabelValues(side).Observe(d.Seconds())
}
