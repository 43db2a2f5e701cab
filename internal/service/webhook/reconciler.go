package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/metrics"
)

// Settler - путь фиксации покупки, общий с подтверждением клиента.
type Settler interface {
	Settle(ctx context.Context, intent domain.PaymentIntent, source domain.SettlementSource) (domain.Purchase, error)
	MarkTerminal(ctx context.Context, intentID string, status domain.IntentStatus) (domain.PaymentIntent, error)
}

// Result - итог обработки доставки вебхука.
type Result struct {
	EventID string
	Outcome domain.WebhookOutcome
}

// Reconciler применяет события процессора к локальному состоянию.
type Reconciler struct {
	gateway  domain.PaymentGateway
	intents  domain.IntentRepository
	events   domain.WebhookEventRepository
	settler  Settler
	timeline domain.TimelineRepository
	metrics  *metrics.SettlementMetrics
	logger   *log.Entry
	now      func() time.Time
}

// Option настраивает Reconciler.
type Option func(*Reconciler)

func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(r *Reconciler) { r.timeline = timeline }
}

func WithMetrics(m *metrics.SettlementMetrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func WithLogger(logger *log.Entry) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReconciler создаёт обработчик вебхуков.
func NewReconciler(
	gateway domain.PaymentGateway,
	intents domain.IntentRepository,
	events domain.WebhookEventRepository,
	settler Settler,
	opts ...Option,
) *Reconciler {
	r := &Reconciler{
		gateway: gateway,
		intents: intents,
		events:  events,
		settler: settler,
		logger:  log.New().WithField("component", "webhook"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle проверяет подпись, применяет событие и записывает его.
// Запись делается после применения: при сбое посередине повторная доставка
// применит событие ещё раз, а Settle идемпотентен.
// Ошибка, отличная от ErrSignatureInvalid, означает сбой хранилища; процессор повторит доставку.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) (Result, error) {
	if !r.gateway.VerifyWebhookSignature(payload, signature) {
		r.metrics.RecordWebhook("invalid_signature")
		r.logger.WithField("payload_bytes", len(payload)).Warn("webhook signature verification failed")
		return Result{}, domain.ErrSignatureInvalid
	}

	event, err := r.gateway.ParseEvent(payload)
	if err != nil {
		// Подписанное, но нечитаемое тело не исправится повторной доставкой.
		r.metrics.RecordWebhook(string(domain.WebhookOutcomeIgnored))
		r.logger.WithError(err).Warn("webhook payload could not be parsed")
		return Result{Outcome: domain.WebhookOutcomeIgnored}, nil
	}

	logger := r.logger.WithFields(log.Fields{
		"event_id":   event.ID,
		"event_type": event.RawType,
		"intent_id":  event.IntentID,
	})

	if _, err := r.events.Get(ctx, event.ID); err == nil {
		r.metrics.RecordWebhook(string(domain.WebhookOutcomeDuplicate))
		logger.Debug("webhook event already processed")
		return Result{EventID: event.ID, Outcome: domain.WebhookOutcomeDuplicate}, nil
	} else if !errors.Is(err, domain.ErrWebhookEventNotFound) {
		return Result{}, fmt.Errorf("lookup webhook event: %w", err)
	}

	outcome, err := r.apply(ctx, event, logger)
	if err != nil {
		logger.WithError(err).Error("webhook event apply failed")
		return Result{}, err
	}

	if _, err := r.events.Record(ctx, domain.WebhookEvent{
		ID:         event.ID,
		Type:       event.RawType,
		IntentID:   event.IntentID,
		Outcome:    outcome,
		Payload:    payload,
		ReceivedAt: r.now(),
	}); err != nil {
		logger.WithError(err).Error("record webhook event failed")
		return Result{}, fmt.Errorf("record webhook event: %w", err)
	}

	r.metrics.RecordWebhook(string(outcome))
	logger.WithField("outcome", outcome).Info("webhook event processed")
	return Result{EventID: event.ID, Outcome: outcome}, nil
}

func (r *Reconciler) apply(ctx context.Context, event domain.GatewayEvent, logger *log.Entry) (domain.WebhookOutcome, error) {
	target, ok := event.Type.IntentStatus()
	if !ok || event.IntentID == "" {
		return domain.WebhookOutcomeIgnored, nil
	}

	intent, err := r.intents.Get(ctx, event.IntentID)
	if errors.Is(err, domain.ErrIntentNotFound) {
		logger.Warn("webhook for unknown payment intent")
		return domain.WebhookOutcomeOrphaned, nil
	}
	if err != nil {
		return "", fmt.Errorf("load intent: %w", err)
	}

	r.appendTimeline(intent.ID, event.RawType)

	if event.AmountMinor != 0 && event.AmountMinor != intent.AmountMinor {
		logger.WithFields(log.Fields{
			"event_amount":  event.AmountMinor,
			"intent_amount": intent.AmountMinor,
		}).Warn("webhook amount differs from intent snapshot")
	}

	switch target {
	case domain.IntentStatusSucceeded:
		_, err = r.settler.Settle(ctx, intent, domain.SettlementSourceWebhook)
	default:
		_, err = r.settler.MarkTerminal(ctx, intent.ID, target)
	}

	switch {
	case err == nil:
		return domain.WebhookOutcomeApplied, nil
	case errors.Is(err, domain.ErrAlreadyOwned), errors.Is(err, domain.ErrInvalidIntentTransition):
		logger.WithError(err).Warn("webhook event rejected")
		return domain.WebhookOutcomeRejected, nil
	case domain.IsNotFound(err):
		// Локального контекста больше нет; повторная доставка его не вернёт.
		logger.WithError(err).Warn("webhook event lost its local context")
		return domain.WebhookOutcomeRejected, nil
	default:
		return "", err
	}
}

func (r *Reconciler) appendTimeline(intentID, rawType string) {
	if r.timeline == nil {
		return
	}
	if err := r.timeline.Append(domain.TimelineEvent{
		IntentID: intentID,
		Type:     domain.TimelineWebhookReceived,
		Reason:   rawType,
		Occurred: r.now(),
	}); err != nil {
		r.logger.WithError(err).WithField("intent_id", intentID).Warn("append timeline event failed")
		return
	}
	r.metrics.RecordTimelineEvent()
}
