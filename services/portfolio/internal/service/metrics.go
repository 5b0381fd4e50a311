package service

import (
	"errors"
	"time"

	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/ledger"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Retries           *prometheus.CounterVec
	PriceLookups      *prometheus.CounterVec
	PriceDuration     prometheus.Histogram
	PublishFailures   *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "krypt_portfolio_operations_total",
				Help: "Ledger and strategy operations by outcome.",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "krypt_portfolio_operation_duration_seconds",
				Help:    "Ledger and strategy operation duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "krypt_portfolio_retries_total",
				Help: "Writes retried after a concurrent modification.",
			},
			[]string{"operation"},
		),
		PriceLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "krypt_portfolio_price_lookups_total",
				Help: "Price lookups by outcome.",
			},
			[]string{"status"},
		),
		PriceDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "krypt_portfolio_price_lookup_duration_seconds",
				Help:    "Price lookup duration in seconds, cache included.",
				Buckets: prometheus.DefBuckets,
			},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "krypt_portfolio_publish_failures_total",
				Help: "Events that could not be published.",
			},
			[]string{"topic"},
		),
	}

	registry.MustRegister(m.Operations, m.OperationDuration, m.Retries, m.PriceLookups, m.PriceDuration, m.PublishFailures)
	return m
}

func (m *Metrics) ObserveOperation(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, statusLabel(err)).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) ObservePriceLookup(err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.PriceLookups.WithLabelValues(status).Inc()
	m.PriceDuration.Observe(d.Seconds())
}

func (m *Metrics) IncRetry(op string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(op).Inc()
}

func (m *Metrics) IncPublishFailure(topic string) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(topic).Inc()
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrRecipientNotFound), errors.Is(err, ledger.ErrStrategyNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, ledger.ErrConcurrentModification):
		return "conflict"
	default:
		return "error"
	}
}
