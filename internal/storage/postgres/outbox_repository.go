package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

// Статусы строки outbox_messages: failed ставится после отправки в DLQ.
const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"

	defaultOutboxBatch = 100
)

// outboxRepository отдаёт релею события, записанные расчётами и выплатами.
// Сами события пишутся через insertOutboxMessages в транзакции проводок.
type outboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := insertOutboxMessages(ctx, r.db, []domain.OutboxMessage{msg}, time.Now().UTC()); err != nil {
		return domain.OutboxMessage{}, err
	}
	return msg, nil
}

// insertOutboxMessages принимает *sql.DB или *sql.Tx; пустой ID заполняется uuid.
func insertOutboxMessages(ctx context.Context, db execer, msgs []domain.OutboxMessage, at time.Time) error {
	const stmt = `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, attempt_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,'` + outboxPending + `',0,$6,$6)`

	for _, msg := range msgs {
		id := msg.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := db.ExecContext(ctx, stmt, id, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, at); err != nil {
			return fmt.Errorf("outbox %s for %s %s: %w", msg.EventType, msg.AggregateType, msg.AggregateID, err)
		}
	}
	return nil
}

// PullPending возвращает самые старые неотправленные события.
func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return queryAll(ctx, r.db, "pending outbox", scanOutboxMessage, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2
	`, outboxPending, limit)
}

func scanOutboxMessage(row rowScanner) (domain.OutboxMessage, error) {
	var msg domain.OutboxMessage
	if err := row.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("scan outbox message: %w", err)
	}
	return msg, nil
}

// Stats питает gauges backlog: сколько ждёт отправки и с какого момента.
func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = $1`, outboxPending,
	).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox backlog: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(id string) error {
	return r.setStatus(id, outboxSent)
}

func (r *outboxRepository) MarkFailed(id string) error {
	return r.setStatus(id, outboxFailed)
}

func (r *outboxRepository) setStatus(id, status string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_messages SET status = $2, attempt_count = attempt_count + 1, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("outbox %s -> %s: %w", id, status, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("outbox %s -> %s: %w", id, status, err)
	} else if n == 0 {
		return fmt.Errorf("%w: message %s not found", domain.ErrOutboxPublish, id)
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
