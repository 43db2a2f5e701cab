package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

const (
	confirmSettled     = "settled"
	confirmExisting    = "existing"
	confirmNotComplete = "not_complete"
	confirmUnavailable = "gateway_unavailable"
	confirmOwned       = "already_owned"
	confirmError       = "error"
)

// ConfirmPurchase проверяет оплату у процессора и фиксирует покупку.
// Если покупка по intent уже есть, процессор не опрашивается.
func (s *Service) ConfirmPurchase(ctx context.Context, buyerID, intentID string) (domain.Purchase, error) {
	if buyerID == "" {
		return domain.Purchase{}, domain.ErrBuyerRequired
	}
	if intentID == "" {
		return domain.Purchase{}, domain.ErrIntentIDRequired
	}

	intent, err := s.intents.Get(ctx, intentID)
	if err != nil {
		return domain.Purchase{}, err
	}
	if intent.BuyerID != buyerID {
		return domain.Purchase{}, domain.ErrForbidden
	}

	if purchase, err := s.ledger.FindPurchaseByIntent(ctx, intentID); err == nil {
		s.metrics.RecordConfirm(confirmExisting)
		return purchase, nil
	} else if !errors.Is(err, domain.ErrPurchaseNotFound) {
		s.metrics.RecordConfirm(confirmError)
		return domain.Purchase{}, fmt.Errorf("lookup purchase: %w", err)
	}

	s.appendTimeline(intentID, domain.TimelineConfirmRequested, "")

	done := s.metrics.StartSettle()
	defer done()

	status, err := s.gateway.GetStatus(ctx, intentID)
	if err != nil {
		if domain.IsGatewayUnavailable(err) {
			s.metrics.RecordConfirm(confirmUnavailable)
		} else {
			s.metrics.RecordConfirm(confirmError)
		}
		s.logger.WithError(err).WithField("intent_id", intentID).Warn("gateway status check failed")
		return domain.Purchase{}, err
	}
	if status != domain.IntentStatusSucceeded {
		s.metrics.RecordConfirm(confirmNotComplete)
		return domain.Purchase{}, fmt.Errorf("%w: gateway status %s", domain.ErrPaymentNotComplete, status)
	}

	purchase, err := s.Settle(ctx, intent, domain.SettlementSourceConfirm)
	switch {
	case err == nil:
		s.metrics.RecordConfirm(confirmSettled)
	case errors.Is(err, domain.ErrAlreadyOwned):
		s.metrics.RecordConfirm(confirmOwned)
	default:
		s.metrics.RecordConfirm(confirmError)
	}
	return purchase, err
}

// Settle - общий идемпотентный путь фиксации оплаченного intent.
// Повторный вызов для того же intent возвращает уже созданную покупку.
func (s *Service) Settle(ctx context.Context, intent domain.PaymentIntent, source domain.SettlementSource) (domain.Purchase, error) {
	policy := s.fees
	account, err := s.catalog.GetAccount(ctx, intent.SellerID)
	switch {
	case err == nil:
		policy = policy.ForAccount(account)
	case errors.Is(err, domain.ErrAccountNotFound):
	default:
		return domain.Purchase{}, fmt.Errorf("load seller account: %w", err)
	}

	sellerAmount, fee := policy.Split(intent.AmountMinor)
	purchase := domain.Purchase{
		ID:                uuid.NewString(),
		ItemID:            intent.ItemID,
		BuyerID:           intent.BuyerID,
		SellerID:          intent.SellerID,
		IntentID:          intent.ID,
		AmountPaidMinor:   intent.AmountMinor,
		SellerAmountMinor: sellerAmount,
		PlatformFeeMinor:  fee,
		Currency:          intent.Currency,
		Source:            source,
		CreatedAt:         s.now(),
	}
	event, err := domain.NewOutboxMessage(domain.AggregatePurchase, purchase.ID, domain.EventPurchaseCompleted, domain.PurchaseCompletedEvent{
		PurchaseID:        purchase.ID,
		IntentID:          purchase.IntentID,
		ItemID:            purchase.ItemID,
		BuyerID:           purchase.BuyerID,
		SellerID:          purchase.SellerID,
		AmountPaidMinor:   purchase.AmountPaidMinor,
		SellerAmountMinor: purchase.SellerAmountMinor,
		PlatformFeeMinor:  purchase.PlatformFeeMinor,
		Currency:          purchase.Currency,
		Source:            string(source),
		OccurredAt:        purchase.CreatedAt,
	})
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("encode purchase event: %w", err)
	}

	saved, created, err := s.ledger.SettlePurchase(ctx, domain.Settlement{
		Purchase: purchase,
		Events:   []domain.OutboxMessage{event},
	})
	if errors.Is(err, domain.ErrAlreadyOwned) {
		s.logger.WithFields(log.Fields{
			"intent_id": intent.ID,
			"buyer_id":  intent.BuyerID,
			"item_id":   intent.ItemID,
		}).Warn("duplicate payment for owned item, refunding")
		s.refundUnsettled(ctx, intent, err)
		return domain.Purchase{}, err
	}
	if errors.Is(err, domain.ErrItemNotFound) {
		// Оплату приняли, а товара уже нет: покупку записать не на что.
		s.logger.WithFields(log.Fields{
			"intent_id": intent.ID,
			"item_id":   intent.ItemID,
		}).Warn("payment for missing item, refunding")
		s.refundUnsettled(ctx, intent, err)
		return domain.Purchase{}, err
	}
	if err != nil {
		s.logger.WithError(err).WithField("intent_id", intent.ID).Error("settle purchase failed")
		return domain.Purchase{}, err
	}
	if !created {
		return saved, nil
	}

	s.metrics.RecordPurchase(string(source))
	s.metrics.RecordOutboxEvent()
	s.appendTimeline(intent.ID, domain.TimelinePurchaseSettled, string(source))
	s.logger.WithFields(log.Fields{
		"intent_id":     intent.ID,
		"purchase_id":   saved.ID,
		"seller_id":     saved.SellerID,
		"seller_amount": saved.SellerAmountMinor,
		"platform_fee":  saved.PlatformFeeMinor,
		"source":        source,
	}).Info("purchase settled")
	return saved, nil
}

// MarkTerminal переводит intent в failed/canceled без влияния на журнал.
func (s *Service) MarkTerminal(ctx context.Context, intentID string, status domain.IntentStatus) (domain.PaymentIntent, error) {
	if status != domain.IntentStatusFailed && status != domain.IntentStatusCanceled {
		return domain.PaymentIntent{}, fmt.Errorf("%w: %s", domain.ErrInvalidIntentTransition, status)
	}
	intent, err := s.intents.UpdateStatus(ctx, intentID, status)
	if err != nil {
		return intent, err
	}

	eventType := domain.TimelineIntentFailed
	if status == domain.IntentStatusCanceled {
		eventType = domain.TimelineIntentCanceled
	}
	s.appendTimeline(intentID, eventType, "")
	s.logger.WithFields(log.Fields{
		"intent_id": intentID,
		"status":    status,
	}).Info("payment intent closed without purchase")
	return intent, nil
}

// refundUnsettled возвращает деньги за оплаченный intent, по которому покупка не создана:
// товар уже куплен этим покупателем или исчез из каталога.
// Если процессор отказал, в outbox уходит payment.refund_required для ручной обработки.
func (s *Service) refundUnsettled(ctx context.Context, intent domain.PaymentIntent, cause error) {
	s.appendTimeline(intent.ID, domain.TimelineRefundRequested, cause.Error())

	err := s.gateway.Refund(ctx, intent.ID, refundKey(intent.ID))
	if err == nil {
		s.metrics.RecordRefund("succeeded")
		return
	}

	s.metrics.RecordRefund("failed")
	s.appendTimeline(intent.ID, domain.TimelineRefundFailed, err.Error())
	s.logger.WithError(err).WithField("intent_id", intent.ID).Error("refund for unsettled payment failed")

	if s.outbox == nil {
		return
	}
	msg, encErr := domain.NewOutboxMessage(domain.AggregateIntent, intent.ID, domain.EventPaymentRefundRequired, domain.RefundRequiredEvent{
		IntentID:    intent.ID,
		BuyerID:     intent.BuyerID,
		ItemID:      intent.ItemID,
		AmountMinor: intent.AmountMinor,
		Currency:    intent.Currency,
		Reason:      err.Error(),
		OccurredAt:  s.now(),
	})
	if encErr != nil {
		s.logger.WithError(encErr).WithField("intent_id", intent.ID).Error("encode refund event failed")
		return
	}
	if _, encErr = s.outbox.Enqueue(msg); encErr != nil {
		s.logger.WithError(encErr).WithField("intent_id", intent.ID).Error("enqueue refund event failed")
		return
	}
	s.metrics.RecordOutboxEvent()
}

func refundKey(intentID string) string {
	return "refund-" + intentID
}
