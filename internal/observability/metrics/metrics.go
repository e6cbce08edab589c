package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes application-level instruments.
type Metrics struct {
	Executions    *prometheus.CounterVec
	LedgerEntries *prometheus.CounterVec
	PaymentEvents *prometheus.CounterVec
	RateLimited   prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Executions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hooklane_executions_total",
			Help: "Agent executions by outcome status.",
		}, []string{"status"}),
		LedgerEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hooklane_ledger_entries_total",
			Help: "Ledger entries appended by kind.",
		}, []string{"kind"}),
		PaymentEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hooklane_payment_events_total",
			Help: "Payment provider webhook events by provider and type.",
		}, []string{"provider", "type"}),
		RateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hooklane_rate_limited_total",
			Help: "Execute requests rejected by the rate limiter.",
		}),
	}
}

func (m *Metrics) RecordExecution(status string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordLedgerEntry(kind string) {
	if m == nil {
		return
	}
	m.LedgerEntries.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordPaymentEvent(provider, eventType string) {
	if m == nil {
		return
	}
	m.PaymentEvents.WithLabelValues(provider, eventType).Inc()
}

func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}
