package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	EventsTotal     *prometheus.CounterVec
	HistoryLookups  *prometheus.CounterVec
	HistoryDuration prometheus.Histogram
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "krypt_activity_events_total",
				Help: "Portfolio events consumed, by type and outcome.",
			},
			[]string{"event_type", "status"},
		),
		HistoryLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "krypt_activity_history_lookups_total",
				Help: "Total history lookups.",
			},
			[]string{"status"},
		),
		HistoryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "krypt_activity_history_duration_seconds",
				Help:    "History lookup duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(m.EventsTotal, m.HistoryLookups, m.HistoryDuration)
	return m
}

func (m *Metrics) IncEvent(eventType, status string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) ObserveHistory(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HistoryLookups.WithLabelValues(status).Inc()
	m.HistoryDuration.Observe(duration.Seconds())
}
