package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

func TestDecodeEvent(t *testing.T) {
	intent := domain.PaymentIntent{
		ID: "pi_1", ItemID: "item-1", BuyerID: "buyer-1", SellerID: "seller-1",
		AmountMinor: 1299, Currency: "USD", Status: domain.IntentStatusSucceeded,
	}

	tests := []struct {
		name      string
		eventType string
		want      domain.GatewayEventType
	}{
		{name: "succeeded", eventType: EventIntentSucceeded, want: domain.GatewayEventIntentSucceeded},
		{name: "failed", eventType: EventIntentFailed, want: domain.GatewayEventIntentFailed},
		{name: "canceled", eventType: EventIntentCanceled, want: domain.GatewayEventIntentCanceled},
		{name: "other intent event", eventType: "payment_intent.processing", want: domain.GatewayEventOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := EncodeIntentEvent("evt_1", tt.eventType, intent)
			require.NoError(t, err)

			event, err := DecodeEvent(payload)
			require.NoError(t, err)
			require.Equal(t, "evt_1", event.ID)
			require.Equal(t, tt.want, event.Type)
			require.Equal(t, tt.eventType, event.RawType)
			require.Equal(t, "pi_1", event.IntentID)
			require.Equal(t, int64(1299), event.AmountMinor)
			require.Equal(t, "usd", event.Currency)
			require.Equal(t, "buyer-1", event.Metadata["buyer_id"])
		})
	}
}

func TestDecodeEventNonIntentType(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"id":"evt_2","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge"}}}`))
	require.NoError(t, err)
	require.Equal(t, domain.GatewayEventOther, event.Type)
	require.Empty(t, event.IntentID)
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	_, err := DecodeEvent([]byte(`not json`))
	require.Error(t, err)

	_, err = DecodeEvent([]byte(`{"object":"event","type":"payment_intent.succeeded"}`))
	require.ErrorIs(t, err, errEventIDMissing)
}

func TestEventTypeFor(t *testing.T) {
	require.Equal(t, EventIntentSucceeded, EventTypeFor(domain.IntentStatusSucceeded))
	require.Equal(t, EventIntentFailed, EventTypeFor(domain.IntentStatusFailed))
	require.Equal(t, EventIntentCanceled, EventTypeFor(domain.IntentStatusCanceled))
}
