package memory

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

type intentRepositoryInMemory struct {
	store *Store
}

func (r *intentRepositoryInMemory) Create(_ context.Context, intent domain.PaymentIntent) (domain.PaymentIntent, error) {
	if errs := intent.Validate(); len(errs) > 0 {
		return domain.PaymentIntent{}, errors.Join(errs...)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if existing, ok := r.store.intents[intent.ID]; ok {
		return existing, domain.ErrIntentAlreadyExists
	}
	if intent.IdempotencyKey != "" {
		if id, ok := r.store.intentKeys[compositeKey(intent.BuyerID, intent.IdempotencyKey)]; ok {
			return r.store.intents[id], domain.ErrIntentAlreadyExists
		}
	}

	now := r.store.now()
	if intent.Status == "" {
		intent.Status = domain.IntentStatusCreated
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	intent.UpdatedAt = now

	r.store.intents[intent.ID] = intent
	if intent.IdempotencyKey != "" {
		r.store.intentKeys[compositeKey(intent.BuyerID, intent.IdempotencyKey)] = intent.ID
	}
	return intent, nil
}

func (r *intentRepositoryInMemory) Get(_ context.Context, id string) (domain.PaymentIntent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	intent, ok := r.store.intents[id]
	if !ok {
		return domain.PaymentIntent{}, domain.ErrIntentNotFound
	}
	return intent, nil
}

func (r *intentRepositoryInMemory) GetByIdempotencyKey(_ context.Context, buyerID, key string) (domain.PaymentIntent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	id, ok := r.store.intentKeys[compositeKey(buyerID, key)]
	if !ok {
		return domain.PaymentIntent{}, domain.ErrIntentNotFound
	}
	return r.store.intents[id], nil
}

func (r *intentRepositoryInMemory) UpdateStatus(_ context.Context, id string, status domain.IntentStatus) (domain.PaymentIntent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	intent, ok := r.store.intents[id]
	if !ok {
		return domain.PaymentIntent{}, domain.ErrIntentNotFound
	}
	if !intent.Status.CanTransitionTo(status) {
		return intent, domain.ErrInvalidIntentTransition
	}
	if intent.Status == status {
		return intent, nil
	}

	intent.Status = status
	intent.UpdatedAt = r.store.now()
	r.store.intents[id] = intent
	return intent, nil
}

var _ domain.IntentRepository = (*intentRepositoryInMemory)(nil)
