package domain

import (
	"encoding/json"
	"time"
)

// Агрегаты outbox.
const (
	AggregatePurchase = "purchase"
	AggregatePayout   = "payout"
	AggregateIntent   = "payment_intent"
)

// Типы событий outbox.
const (
	EventPurchaseCompleted     = "purchase.completed"
	EventPayoutRequested       = "payout.requested"
	EventPayoutPaid            = "payout.paid"
	EventPayoutRejected        = "payout.rejected"
	EventPaymentRefundRequired = "payment.refund_required"
)

// PurchaseCompletedEvent публикуется при создании покупки.
type PurchaseCompletedEvent struct {
	PurchaseID        string    `json:"purchase_id"`
	IntentID          string    `json:"intent_id"`
	ItemID            string    `json:"item_id"`
	BuyerID           string    `json:"buyer_id"`
	SellerID          string    `json:"seller_id"`
	AmountPaidMinor   int64     `json:"amount_paid_minor"`
	SellerAmountMinor int64     `json:"seller_amount_minor"`
	PlatformFeeMinor  int64     `json:"platform_fee_minor"`
	Currency          string    `json:"currency"`
	Source            string    `json:"source"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// PayoutEvent публикуется при создании и закрытии заявки на выплату.
type PayoutEvent struct {
	PayoutID    string    `json:"payout_id"`
	AccountID   string    `json:"account_id"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	Provider    string    `json:"provider,omitempty"`
	Destination string    `json:"destination,omitempty"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// RefundRequiredEvent просит оператора вернуть деньги, если автоматический возврат не удался.
type RefundRequiredEvent struct {
	IntentID    string    `json:"intent_id"`
	BuyerID     string    `json:"buyer_id"`
	ItemID      string    `json:"item_id"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	Reason      string    `json:"reason"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewOutboxMessage сериализует payload в сообщение outbox.
func NewOutboxMessage(aggregateType, aggregateID, eventType string, payload any) (OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
	}, nil
}
