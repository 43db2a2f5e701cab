package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marketpay"

// SettlementMetrics собирает метрики оплаты, расчётов, вебхуков и выплат.
// Нулевой указатель безопасен: все методы становятся no-op.
type SettlementMetrics struct {
	intentsCreated   prometheus.Counter
	purchases        *prometheus.CounterVec
	confirmOutcomes  *prometheus.CounterVec
	settleDuration   prometheus.Histogram
	refunds          *prometheus.CounterVec
	webhookOutcomes  *prometheus.CounterVec
	payouts          *prometheus.CounterVec
	payoutAmount     prometheus.Counter
	gatewayDuration  *prometheus.HistogramVec
	breakerOpen      *prometheus.GaugeVec
	timelineEvents   prometheus.Counter
	outboxPublished  prometheus.Counter
	activeSettlement prometheus.Gauge
}

// NewSettlementMetrics регистрирует метрики в DefaultRegisterer.
func NewSettlementMetrics() *SettlementMetrics {
	return NewSettlementMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSettlementMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewSettlementMetricsWithRegisterer(registerer prometheus.Registerer) *SettlementMetrics {
	return &SettlementMetrics{
		intentsCreated: registerCounter(registerer, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intents_created_total",
			Help:      "Payment intents created at the gateway",
		}),
		purchases: registerCounterVec(registerer, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_settled_total",
			Help:      "Purchases recorded, by settlement source",
		}, []string{"source"}),
		confirmOutcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirm_requests_total",
			Help:      "Client confirm requests by outcome",
		}, []string{"outcome"}),
		settleDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settle_duration_seconds",
			Help:      "Duration of the settle step including gateway status check",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		refunds: registerCounterVec(registerer, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_payment_refunds_total",
			Help:      "Refunds issued for duplicate purchases of an owned item",
		}, []string{"result"}),
		webhookOutcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Gateway webhook deliveries by outcome",
		}, []string{"outcome"}),
		payouts: registerCounterVec(registerer, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_total",
			Help:      "Payout requests by status transition",
		}, []string{"status"}),
		payoutAmount: registerCounter(registerer, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_requested_minor_total",
			Help:      "Sum of requested payouts in minor units",
		}),
		gatewayDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Payment gateway call latency by operation and result",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "result"}),
		breakerOpen: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_circuit_open",
			Help:      "1 when the gateway circuit breaker is open",
		}, []string{"gateway"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeline_events_total",
			Help:      "Payment intent timeline events recorded",
		}),
		outboxPublished: registerCounter(registerer, prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox events enqueued by services",
		}),
		activeSettlement: registerGauge(registerer, prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_settlements",
			Help:      "Settle operations currently in flight",
		}),
	}
}

// RecordIntentCreated учитывает созданный intent.
func (m *SettlementMetrics) RecordIntentCreated() {
	if m == nil {
		return
	}
	m.intentsCreated.Inc()
}

// RecordPurchase учитывает новую покупку по источнику (confirm/webhook).
func (m *SettlementMetrics) RecordPurchase(source string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(source).Inc()
}

// RecordConfirm учитывает исход запроса подтверждения.
func (m *SettlementMetrics) RecordConfirm(outcome string) {
	if m == nil {
		return
	}
	m.confirmOutcomes.WithLabelValues(outcome).Inc()
}

// StartSettle отмечает начало расчёта; возвращённая функция закрывает его.
func (m *SettlementMetrics) StartSettle() func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.activeSettlement.Inc()
	return func() {
		m.activeSettlement.Dec()
		m.settleDuration.Observe(time.Since(start).Seconds())
	}
}

// RecordRefund учитывает возврат дублирующего платежа.
func (m *SettlementMetrics) RecordRefund(result string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(result).Inc()
}

// RecordWebhook учитывает исход обработки вебхука.
func (m *SettlementMetrics) RecordWebhook(outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(outcome).Inc()
}

// RecordPayout учитывает переход выплаты в статус.
func (m *SettlementMetrics) RecordPayout(status string, amountMinor int64) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(status).Inc()
	if status == "pending" && amountMinor > 0 {
		m.payoutAmount.Add(float64(amountMinor))
	}
}

// ObserveGatewayCall записывает длительность вызова процессора.
func (m *SettlementMetrics) ObserveGatewayCall(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// SetBreakerOpen отражает состояние circuit breaker.
func (m *SettlementMetrics) SetBreakerOpen(gateway string, open bool) {
	if m == nil {
		return
	}
	value := 0.0
	if open {
		value = 1
	}
	m.breakerOpen.WithLabelValues(gateway).Set(value)
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *SettlementMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *SettlementMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxPublished.Inc()
}
