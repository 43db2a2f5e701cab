package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v80"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

// Типы событий Stripe, влияющие на статус intent.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventIntentCanceled  = "payment_intent.canceled"

	intentEventPrefix = "payment_intent."
)

var errEventIDMissing = errors.New("gateway event id is missing")

// DecodeEvent разбирает тело вебхука в формате Stripe. Подпись должна быть
// проверена до вызова.
func DecodeEvent(payload []byte) (domain.GatewayEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.GatewayEvent{}, fmt.Errorf("decode gateway event: %w", err)
	}
	if event.ID == "" {
		return domain.GatewayEvent{}, errEventIDMissing
	}

	rawType := string(event.Type)
	result := domain.GatewayEvent{
		ID:      event.ID,
		RawType: rawType,
		Type:    eventType(rawType),
	}
	if !strings.HasPrefix(rawType, intentEventPrefix) || event.Data == nil || len(event.Data.Raw) == 0 {
		return result, nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return domain.GatewayEvent{}, fmt.Errorf("decode payment intent from event %s: %w", event.ID, err)
	}
	result.IntentID = intent.ID
	result.AmountMinor = intent.Amount
	result.Currency = string(intent.Currency)
	result.Metadata = intent.Metadata
	return result, nil
}

func eventType(raw string) domain.GatewayEventType {
	switch raw {
	case EventIntentSucceeded:
		return domain.GatewayEventIntentSucceeded
	case EventIntentFailed:
		return domain.GatewayEventIntentFailed
	case EventIntentCanceled:
		return domain.GatewayEventIntentCanceled
	default:
		return domain.GatewayEventOther
	}
}

// EncodeIntentEvent собирает тело события Stripe для intent; используется
// fake-процессором и тестами.
func EncodeIntentEvent(eventID, eventType string, intent domain.PaymentIntent) ([]byte, error) {
	object := map[string]any{
		"id":       intent.ID,
		"object":   "payment_intent",
		"amount":   intent.AmountMinor,
		"currency": strings.ToLower(intent.Currency),
		"status":   stripeStatus(intent.Status),
		"metadata": map[string]string{
			"item_id":   intent.ItemID,
			"buyer_id":  intent.BuyerID,
			"seller_id": intent.SellerID,
		},
	}
	return json.Marshal(map[string]any{
		"id":     eventID,
		"object": "event",
		"type":   eventType,
		"data":   map[string]any{"object": object},
	})
}

// stripeStatus возвращает статус Stripe, соответствующий локальному.
func stripeStatus(status domain.IntentStatus) string {
	switch status {
	case domain.IntentStatusSucceeded:
		return string(stripe.PaymentIntentStatusSucceeded)
	case domain.IntentStatusCanceled:
		return string(stripe.PaymentIntentStatusCanceled)
	case domain.IntentStatusFailed:
		return string(stripe.PaymentIntentStatusRequiresPaymentMethod)
	default:
		return string(stripe.PaymentIntentStatusRequiresConfirmation)
	}
}

// EventTypeFor возвращает тип события Stripe для терминального статуса.
func EventTypeFor(status domain.IntentStatus) string {
	switch status {
	case domain.IntentStatusSucceeded:
		return EventIntentSucceeded
	case domain.IntentStatusFailed:
		return EventIntentFailed
	case domain.IntentStatusCanceled:
		return EventIntentCanceled
	default:
		return "payment_intent.created"
	}
}
