package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

// CreateIntentInput - запрос покупателя на оплату товара.
type CreateIntentInput struct {
	BuyerID        string
	ItemID         string
	IdempotencyKey string
}

// CreateIntentResult - сохранённый intent; Replayed означает повтор по ключу.
type CreateIntentResult struct {
	Intent   domain.PaymentIntent
	Replayed bool
}

// CreateIntent создаёт payment intent у процессора и сохраняет его локально
// до того, как клиент получит client secret.
func (s *Service) CreateIntent(ctx context.Context, in CreateIntentInput) (CreateIntentResult, error) {
	if in.BuyerID == "" {
		return CreateIntentResult{}, domain.ErrBuyerRequired
	}
	if in.ItemID == "" {
		return CreateIntentResult{}, domain.ErrItemIDRequired
	}

	item, err := s.catalog.GetItem(ctx, in.ItemID)
	if err != nil {
		return CreateIntentResult{}, err
	}
	if !item.Active {
		return CreateIntentResult{}, fmt.Errorf("%w: %s is not for sale", domain.ErrItemNotFound, item.ID)
	}

	if _, err := s.ledger.FindPurchaseByBuyerItem(ctx, in.BuyerID, in.ItemID); err == nil {
		return CreateIntentResult{}, domain.ErrAlreadyOwned
	} else if !errors.Is(err, domain.ErrPurchaseNotFound) {
		return CreateIntentResult{}, fmt.Errorf("check ownership: %w", err)
	}

	key := in.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	} else {
		existing, err := s.intents.GetByIdempotencyKey(ctx, in.BuyerID, key)
		switch {
		case err == nil:
			if existing.ItemID != in.ItemID {
				return CreateIntentResult{}, domain.ErrIdempotencyHashMismatch
			}
			return CreateIntentResult{Intent: existing, Replayed: true}, nil
		case !errors.Is(err, domain.ErrIntentNotFound):
			return CreateIntentResult{}, fmt.Errorf("lookup intent by key: %w", err)
		}
	}

	gwIntent, err := s.gateway.CreateIntent(ctx, domain.CreateIntentRequest{
		AmountMinor:    item.PriceMinor,
		Currency:       item.Currency,
		IdempotencyKey: gatewayIntentKey(in.BuyerID, key),
		Metadata: map[string]string{
			"item_id":   item.ID,
			"buyer_id":  in.BuyerID,
			"seller_id": item.OwnerID,
		},
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"item_id":  item.ID,
			"buyer_id": in.BuyerID,
		}).Warn("gateway create intent failed")
		return CreateIntentResult{}, err
	}

	status := gwIntent.Status
	if !status.Valid() || status == domain.IntentStatusSucceeded {
		// succeeded фиксируется только через Settle.
		status = domain.IntentStatusCreated
	}
	intent := domain.PaymentIntent{
		ID:             gwIntent.ID,
		ItemID:         item.ID,
		BuyerID:        in.BuyerID,
		SellerID:       item.OwnerID,
		AmountMinor:    item.PriceMinor,
		Currency:       item.Currency,
		Status:         status,
		IdempotencyKey: key,
		ClientSecret:   gwIntent.ClientSecret,
	}
	saved, err := s.intents.Create(ctx, intent)
	if errors.Is(err, domain.ErrIntentAlreadyExists) {
		// Параллельный запрос с тем же ключом успел раньше.
		return CreateIntentResult{Intent: saved, Replayed: true}, nil
	}
	if err != nil {
		return CreateIntentResult{}, fmt.Errorf("persist intent: %w", err)
	}

	s.metrics.RecordIntentCreated()
	s.appendTimeline(saved.ID, domain.TimelineIntentCreated, "")
	s.logger.WithFields(log.Fields{
		"intent_id": saved.ID,
		"item_id":   saved.ItemID,
		"buyer_id":  saved.BuyerID,
		"amount":    saved.AmountMinor,
	}).Info("payment intent created")

	return CreateIntentResult{Intent: saved}, nil
}

// gatewayIntentKey ограничивает ключ покупателем: ключи процессора глобальны для аккаунта платформы.
func gatewayIntentKey(buyerID, key string) string {
	return "intent-" + buyerID + "-" + key
}
