package domain

import "time"

// GatewayEventType - нормализованный тип события процессора.
type GatewayEventType string

const (
	GatewayEventIntentSucceeded GatewayEventType = "intent_succeeded"
	GatewayEventIntentFailed    GatewayEventType = "intent_failed"
	GatewayEventIntentCanceled  GatewayEventType = "intent_canceled"
	GatewayEventOther           GatewayEventType = "other"
)

// IntentStatus возвращает целевой статус intent для события.
func (t GatewayEventType) IntentStatus() (IntentStatus, bool) {
	switch t {
	case GatewayEventIntentSucceeded:
		return IntentStatusSucceeded, true
	case GatewayEventIntentFailed:
		return IntentStatusFailed, true
	case GatewayEventIntentCanceled:
		return IntentStatusCanceled, true
	default:
		return "", false
	}
}

// GatewayEvent - проверенное и разобранное событие процессора.
type GatewayEvent struct {
	ID          string
	Type        GatewayEventType
	RawType     string
	IntentID    string
	AmountMinor int64
	Currency    string
	Metadata    map[string]string
}

// WebhookOutcome - результат обработки доставленного события.
type WebhookOutcome string

const (
	WebhookOutcomeApplied   WebhookOutcome = "applied"
	WebhookOutcomeDuplicate WebhookOutcome = "duplicate"
	WebhookOutcomeIgnored   WebhookOutcome = "ignored"
	// WebhookOutcomeOrphaned - событие для неизвестного intent, сохранено без эффекта.
	WebhookOutcomeOrphaned WebhookOutcome = "orphaned"
	// WebhookOutcomeRejected - применение отклонено (например, товар уже куплен).
	WebhookOutcomeRejected WebhookOutcome = "rejected"
)

// WebhookEvent - запись о принятом событии процессора.
type WebhookEvent struct {
	ID         string
	Type       string
	IntentID   string
	Outcome    WebhookOutcome
	Payload    []byte
	ReceivedAt time.Time
}
