package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks order settlement, compensation, commission and
// payment notification outcomes.
type SettlementMetrics struct {
	submissions        *prometheus.CounterVec
	fulfillmentLatency *prometheus.HistogramVec
	compensations      *prometheus.CounterVec
	commissionCredits  *prometheus.CounterVec
	commissionFailures *prometheus.CounterVec
	notifications      *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	m := &SettlementMetrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_submissions_total",
			Help:      "Order submissions by outcome.",
		}, []string{"outcome"}),
		fulfillmentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fulfillment_request_duration_seconds",
			Help:      "Latency of upstream add-order calls.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_compensations_total",
			Help:      "Refunds issued after a failed upstream call, by result.",
		}, []string{"result"}),
		commissionCredits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_credits_total",
			Help:      "Commission records credited, by commission type.",
		}, []string{"type"}),
		commissionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_failures_total",
			Help:      "Commission credits that failed and were rolled back, by commission type.",
		}, []string{"type"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_notifications_total",
			Help:      "Payment gateway notifications by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.submissions, m.fulfillmentLatency, m.compensations, m.commissionCredits, m.commissionFailures, m.notifications)
	return m
}

func (m *SettlementMetrics) IncSubmission(outcome string) {
	if m == nil || m.submissions == nil {
		return
	}
	m.submissions.WithLabelValues(labelOrUnknown(outcome)).Inc()
}

func (m *SettlementMetrics) ObserveFulfillment(outcome string, d time.Duration) {
	if m == nil || m.fulfillmentLatency == nil {
		return
	}
	m.fulfillmentLatency.WithLabelValues(labelOrUnknown(outcome)).Observe(d.Seconds())
}

func (m *SettlementMetrics) IncCompensation(result string) {
	if m == nil || m.compensations == nil {
		return
	}
	m.compensations.WithLabelValues(labelOrUnknown(result)).Inc()
}

func (m *SettlementMetrics) IncCommissionCredit(commissionType string) {
	if m == nil || m.commissionCredits == nil {
		return
	}
	m.commissionCredits.WithLabelValues(labelOrUnknown(commissionType)).Inc()
}

func (m *SettlementMetrics) IncCommissionFailure(commissionType string) {
	if m == nil || m.commissionFailures == nil {
		return
	}
	m.commissionFailures.WithLabelValues(labelOrUnknown(commissionType)).Inc()
}

func (m *SettlementMetrics) IncNotification(outcome string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(labelOrUnknown(outcome)).Inc()
}
