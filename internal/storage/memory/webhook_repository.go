package memory

import (
	"context"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

type webhookEventRepositoryInMemory struct {
	store *Store
}

func (r *webhookEventRepositoryInMemory) Get(_ context.Context, id string) (domain.WebhookEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	event, ok := r.store.webhooks[id]
	if !ok {
		return domain.WebhookEvent{}, domain.ErrWebhookEventNotFound
	}
	return event, nil
}

func (r *webhookEventRepositoryInMemory) Record(_ context.Context, event domain.WebhookEvent) (domain.WebhookEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if existing, ok := r.store.webhooks[event.ID]; ok {
		return existing, nil
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = r.store.now()
	}
	event.Payload = append([]byte(nil), event.Payload...)
	r.store.webhooks[event.ID] = event
	return event, nil
}

var _ domain.WebhookEventRepository = (*webhookEventRepositoryInMemory)(nil)
