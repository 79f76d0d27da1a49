package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	OffensesCreated  prometheus.Counter
	OffensesOverdue  prometheus.Counter
	AppealsSubmitted prometheus.Counter
	AppealsDecided   *prometheus.CounterVec
	PaymentsTotal    *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
}

// New registers all collectors on reg. The server passes the default
// registerer (exposed at /metrics); tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OffensesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "fineledger_offenses_created_total",
			Help: "Offenses issued by officers.",
		}),
		OffensesOverdue: factory.NewCounter(prometheus.CounterOpts{
			Name: "fineledger_offenses_overdue_total",
			Help: "Offenses flipped to overdue by the sweep.",
		}),
		AppealsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "fineledger_appeals_submitted_total",
			Help: "Appeals submitted by drivers.",
		}),
		AppealsDecided: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fineledger_appeals_decided_total",
			Help: "Appeal decisions by outcome.",
		}, []string{"decision"}),
		PaymentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fineledger_payments_total",
			Help: "Payment attempts by final status.",
		}, []string{"status"}),
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fineledger_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}
