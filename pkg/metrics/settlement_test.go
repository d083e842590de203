package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSettlementMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)

	m.IncSubmission("settled")
	m.IncSubmission("settled")
	m.IncSubmission("insufficient_funds")
	m.IncCompensation("refunded")
	m.IncCommissionCredit("direct")
	m.IncCommissionFailure("indirect")
	m.IncNotification("duplicate")
	m.ObserveFulfillment("accepted", 150*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	checks := []struct {
		name, label, value string
		want               float64
	}{
		{"smmhub_order_submissions_total", "outcome", "settled", 2},
		{"smmhub_order_submissions_total", "outcome", "insufficient_funds", 1},
		{"smmhub_fulfillment_compensations_total", "result", "refunded", 1},
		{"smmhub_commission_credits_total", "type", "direct", 1},
		{"smmhub_commission_failures_total", "type", "indirect", 1},
		{"smmhub_payment_notifications_total", "outcome", "duplicate", 1},
	}
	for _, c := range checks {
		got, err := fetchCounterValue(mfs, c.name, c.label, c.value)
		if err != nil {
			t.Fatalf("fetch %s: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("%s{%s=%s}: expected %v got %v", c.name, c.label, c.value, c.want, got)
		}
	}

	if sum, err := fetchHistogramSum(mfs, "smmhub_fulfillment_request_duration_seconds", "outcome", "accepted"); err != nil {
		t.Fatalf("fetch latency: %v", err)
	} else if sum <= 0 {
		t.Fatalf("expected latency sum > 0, got %f", sum)
	}
}

func TestSettlementMetricsNilSafe(t *testing.T) {
	var m *SettlementMetrics
	m.IncSubmission("settled")
	m.IncCompensation("failed")

	noop := NewSettlementMetrics(nil)
	noop.IncCommissionCredit("direct")
	noop.ObserveFulfillment("accepted", time.Second)
}
