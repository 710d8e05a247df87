package login

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks Prometheus metrics for login chain runs.
//
// Methods handle a nil receiver, so a nil *Metrics is a no-op.
type Metrics struct {
	// Logins counts chain runs by mode and result.
	// Labels: mode, result=[success, failure]
	Logins *prometheus.CounterVec

	// LoginDuration tracks chain run time by mode.
	LoginDuration *prometheus.HistogramVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics creates and registers the login metrics. If registerer is nil,
// prometheus.DefaultRegisterer is used. Registration happens once per
// process; later calls return the same instance.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}

		m := &Metrics{
			Logins: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "alluxio_auth_logins_total",
					Help: "Total login chain runs by mode and result",
				},
				[]string{"mode", "result"},
			),
			LoginDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "alluxio_auth_login_duration_seconds",
					Help:    "Login chain duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"mode"},
			),
		}

		registerer.MustRegister(m.Logins, m.LoginDuration)
		metricsInstance = m
	})

	return metricsInstance
}

// RecordLogin records one chain run.
func (m *Metrics) RecordLogin(mode string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.Logins.WithLabelValues(mode, result).Inc()
	if d > 0 {
		m.LoginDuration.WithLabelValues(mode).Observe(d.Seconds())
	}
}
