package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func writeMetric(t *testing.T, collector prometheus.Metric) *dto.Metric {
	t.Helper()
	metric := &dto.Metric{}
	if err := collector.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric
}

func TestNewSettlementMetricsRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewSettlementMetricsWithRegisterer(reg)
	second := NewSettlementMetricsWithRegisterer(reg)

	first.RecordIntentCreated()
	second.RecordIntentCreated()

	if got := writeMetric(t, first.intentsCreated).Counter.GetValue(); got != 2 {
		t.Fatalf("expected shared counter value 2, got %f", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}
}

func TestRecordPurchaseBySource(t *testing.T) {
	m := NewSettlementMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordPurchase("confirm")
	m.RecordPurchase("webhook")
	m.RecordPurchase("webhook")

	confirm := writeMetric(t, m.purchases.WithLabelValues("confirm"))
	webhook := writeMetric(t, m.purchases.WithLabelValues("webhook"))
	if confirm.Counter.GetValue() != 1 || webhook.Counter.GetValue() != 2 {
		t.Fatalf("unexpected purchase counters: confirm=%f webhook=%f",
			confirm.Counter.GetValue(), webhook.Counter.GetValue())
	}
}

func TestStartSettleTracksInFlightAndDuration(t *testing.T) {
	m := NewSettlementMetricsWithRegisterer(prometheus.NewRegistry())

	done := m.StartSettle()
	if got := writeMetric(t, m.activeSettlement).Gauge.GetValue(); got != 1 {
		t.Fatalf("expected 1 active settlement, got %f", got)
	}
	done()

	if got := writeMetric(t, m.activeSettlement).Gauge.GetValue(); got != 0 {
		t.Fatalf("expected 0 active settlements, got %f", got)
	}
	if got := writeMetric(t, m.settleDuration).Histogram.GetSampleCount(); got != 1 {
		t.Fatalf("expected 1 duration sample, got %d", got)
	}
}

func TestRecordPayoutAmountOnlyOnRequest(t *testing.T) {
	m := NewSettlementMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordPayout("pending", 1500)
	m.RecordPayout("paid", 1500)

	if got := writeMetric(t, m.payoutAmount).Counter.GetValue(); got != 1500 {
		t.Fatalf("expected payout amount 1500, got %f", got)
	}
	if got := writeMetric(t, m.payouts.WithLabelValues("paid")).Counter.GetValue(); got != 1 {
		t.Fatalf("expected 1 paid payout, got %f", got)
	}
}

func TestGatewayMetrics(t *testing.T) {
	m := NewSettlementMetricsWithRegisterer(prometheus.NewRegistry())

	m.ObserveGatewayCall("create_intent", "ok", 120*time.Millisecond)
	m.ObserveGatewayCall("create_intent", "ok", 80*time.Millisecond)
	m.SetBreakerOpen("stripe", true)

	observer := m.gatewayDuration.WithLabelValues("create_intent", "ok")
	hist := writeMetric(t, observer.(prometheus.Histogram)).Histogram
	if hist.GetSampleCount() != 2 {
		t.Fatalf("expected 2 samples, got %d", hist.GetSampleCount())
	}
	if sum := hist.GetSampleSum(); sum < 0.19 || sum > 0.21 {
		t.Fatalf("expected sum around 0.2, got %f", sum)
	}
	if got := writeMetric(t, m.breakerOpen.WithLabelValues("stripe")).Gauge.GetValue(); got != 1 {
		t.Fatalf("expected breaker gauge 1, got %f", got)
	}
}

func TestNilSettlementMetricsIsNoop(t *testing.T) {
	var m *SettlementMetrics

	m.RecordIntentCreated()
	m.RecordPurchase("confirm")
	m.RecordConfirm("settled")
	m.StartSettle()()
	m.RecordRefund("ok")
	m.RecordWebhook("applied")
	m.RecordPayout("pending", 10)
	m.ObserveGatewayCall("refund", "error", time.Second)
	m.SetBreakerOpen("fake", false)
	m.RecordTimelineEvent()
	m.RecordOutboxEvent()
}
