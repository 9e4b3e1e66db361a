package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_settlements_total",
			Help: "Settlement attempts by outcome",
		},
		[]string{"outcome"},
	)

	SettlementDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settlement_settle_seconds",
			Help:    "Duration of the settle transaction including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReservationConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_reservation_conflicts_total",
			Help: "Reservations rejected because capacity ran out",
		},
	)

	DisbursementTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_disbursement_transitions_total",
			Help: "Disbursement state transitions by target state",
		},
		[]string{"to"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "settlement_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
