package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

type webhookEventRepository struct {
	db *sql.DB
}

// NewWebhookEventRepository создаёт PostgreSQL-реализацию WebhookEventRepository.
func NewWebhookEventRepository(store *Store) domain.WebhookEventRepository {
	return &webhookEventRepository{db: store.DB()}
}

func (r *webhookEventRepository) Get(ctx context.Context, id string) (domain.WebhookEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		event   domain.WebhookEvent
		outcome string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, type, intent_id, outcome, payload, received_at
		FROM webhook_events
		WHERE id = $1
	`, id).Scan(&event.ID, &event.Type, &event.IntentID, &outcome, &event.Payload, &event.ReceivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WebhookEvent{}, domain.ErrWebhookEventNotFound
		}
		return domain.WebhookEvent{}, fmt.Errorf("select webhook event: %w", err)
	}
	event.Outcome = domain.WebhookOutcome(outcome)
	return event, nil
}

// Record сохраняет событие; при повторной доставке возвращает первую запись.
func (r *webhookEventRepository) Record(ctx context.Context, event domain.WebhookEvent) (domain.WebhookEvent, error) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	insertCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(insertCtx, `
		INSERT INTO webhook_events (id, type, intent_id, outcome, payload, received_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, event.Type, event.IntentID, string(event.Outcome), event.Payload, event.ReceivedAt); err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("insert webhook event: %w", err)
	}
	return r.Get(ctx, event.ID)
}

var _ domain.WebhookEventRepository = (*webhookEventRepository)(nil)
