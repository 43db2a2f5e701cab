package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

// timelineRepository пишет историю intent только добавлением; порядок задаёт (occurred, id).
type timelineRepository struct {
	db *sql.DB
}

func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

func (r *timelineRepository) Append(event domain.TimelineEvent) error {
	event.IntentID = strings.TrimSpace(event.IntentID)
	if event.IntentID == "" {
		return domain.ErrIntentIDRequired
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO timeline_events (intent_id, type, reason, occurred) VALUES ($1,$2,$3,$4)`,
		event.IntentID, event.Type, event.Reason, event.Occurred)
	if err != nil {
		return fmt.Errorf("append %s to intent %s timeline: %w", event.Type, event.IntentID, err)
	}
	return nil
}

func (r *timelineRepository) List(intentID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return queryAll(ctx, r.db, "timeline events", scanTimelineEvent,
		`SELECT intent_id, type, reason, occurred FROM timeline_events WHERE intent_id = $1 ORDER BY occurred, id`,
		intentID)
}

func scanTimelineEvent(row rowScanner) (domain.TimelineEvent, error) {
	var event domain.TimelineEvent
	if err := row.Scan(&event.IntentID, &event.Type, &event.Reason, &event.Occurred); err != nil {
		return domain.TimelineEvent{}, fmt.Errorf("scan timeline event: %w", err)
	}
	event.Occurred = event.Occurred.UTC()
	return event, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
