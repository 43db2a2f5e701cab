package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

// PayoutResolver закрывает заявки на выплату.
type PayoutResolver interface {
	Resolve(ctx context.Context, payoutID string, status domain.PayoutStatus, externalRef, reason string) (domain.PayoutRequest, error)
}

// NewPayoutResultHandler применяет отчёты внешних исполнителей выплат.
// Неизвестная заявка или конфликт статусов не исправятся повтором и уходят в DLQ.
func NewPayoutResultHandler(resolver PayoutResolver, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payout-results")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		result, status, err := ParsePayoutResult(message)
		if err != nil {
			return err
		}

		payout, err := resolver.Resolve(ctx, result.PayoutID, status, result.ExternalRef, result.Reason)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrPayoutNotFound), errors.Is(err, domain.ErrPayoutNotPending):
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		default:
			return err
		}

		logger.WithFields(log.Fields{
			"payout_id": payout.ID,
			"status":    payout.Status,
		}).Info("payout result applied")
		return nil
	}
}
