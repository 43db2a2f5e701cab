package domain

import "time"

// TimelineEvent описывает событие в жизненном цикле payment intent.
type TimelineEvent struct {
	IntentID string
	Type     string
	Reason   string
	Occurred time.Time
}

const (
	TimelineIntentCreated    = "intent_created"
	TimelineConfirmRequested = "confirm_requested"
	TimelinePurchaseSettled  = "purchase_settled"
	TimelineWebhookReceived  = "webhook_received"
	TimelineIntentFailed     = "intent_failed"
	TimelineIntentCanceled   = "intent_canceled"
	TimelineRefundRequested  = "refund_requested"
	TimelineRefundFailed     = "refund_failed"
)
