package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Settlement outcomes used as the "outcome" label.
const (
	OutcomePaid                    = "paid"
	OutcomeIdempotent              = "idempotent"
	OutcomeDeclined                = "declined"
	OutcomeSignatureInvalid        = "signature_invalid"
	OutcomeAmountMismatch          = "amount_mismatch"
	OutcomeReplayDetected          = "replay_detected"
	OutcomeNotVerified             = "not_verified"
	OutcomeVerificationUnavailable = "verification_unavailable"
	OutcomeError                   = "error"
)

// SettlementMetrics records payment settlement attempts per channel.
type SettlementMetrics struct {
	attempts     *prometheus.CounterVec
	verification *prometheus.HistogramVec
	delivery     *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_settlement_attempts_total",
		Help: "Settlement attempts by payment channel and outcome.",
	}, []string{"channel", "outcome"})
	verification := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_payment_verification_duration_seconds",
		Help:    "Latency of external payment verification calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})
	delivery := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_delivery_transitions_total",
		Help: "Delivery status transitions by target status.",
	}, []string{"status"})
	reg.MustRegister(attempts, verification, delivery)
	return &SettlementMetrics{
		attempts:     attempts,
		verification: verification,
		delivery:     delivery,
	}
}

// IncAttempt counts one settlement attempt.
func (m *SettlementMetrics) IncAttempt(channel, outcome string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(channel), normalizeLabel(outcome)).Inc()
}

// ObserveVerification records how long a provider verification took.
func (m *SettlementMetrics) ObserveVerification(channel string, d time.Duration) {
	if m == nil || m.verification == nil {
		return
	}
	m.verification.WithLabelValues(normalizeLabel(channel)).Observe(d.Seconds())
}

// IncDeliveryTransition counts a delivery status change.
func (m *SettlementMetrics) IncDeliveryTransition(status string) {
	if m == nil || m.delivery == nil {
		return
	}
	m.delivery.WithLabelValues(normalizeLabel(status)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
