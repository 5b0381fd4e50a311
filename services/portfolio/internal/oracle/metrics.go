package oracle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	CallDuration *prometheus.HistogramVec
	Failures     *prometheus.CounterVec
	Retries      prometheus.Counter
	CacheLookups *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "krypt_oracle_call_duration_seconds",
				Help:    "Price oracle HTTP call duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "krypt_oracle_failures_total",
				Help: "Price lookups that gave up, by reason.",
			},
			[]string{"reason"},
		),
		Retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "krypt_oracle_retries_total",
				Help: "Price oracle call retries.",
			},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "krypt_oracle_cache_lookups_total",
				Help: "Price cache lookups by result.",
			},
			[]string{"result"},
		),
	}
	registry.MustRegister(m.CallDuration, m.Failures, m.Retries, m.CacheLookups)
	return m
}

func (m *Metrics) ObserveCall(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.CallDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) IncFailure(reason string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) IncCache(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}
