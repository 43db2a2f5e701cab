package memory

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

type catalogRepositoryInMemory struct {
	store *Store
}

func (r *catalogRepositoryInMemory) GetItem(_ context.Context, id string) (domain.Item, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	item, ok := r.store.items[id]
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return item, nil
}

func (r *catalogRepositoryInMemory) UpsertItem(_ context.Context, item domain.Item) error {
	if errs := item.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := r.store.now()
	if existing, ok := r.store.items[item.ID]; ok {
		// Счётчики ведёт журнал, каталог их не перезаписывает.
		item.Downloads = existing.Downloads
		item.Purchases = existing.Purchases
		item.CreatedAt = existing.CreatedAt
	} else if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	r.store.items[item.ID] = item
	return nil
}

func (r *catalogRepositoryInMemory) GetAccount(_ context.Context, id string) (domain.Account, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	account, ok := r.store.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return account, nil
}

func (r *catalogRepositoryInMemory) UpsertAccount(_ context.Context, account domain.Account) error {
	if account.ID == "" {
		return domain.ErrAccountIDRequired
	}
	if account.PayoutProvider == "" {
		account.PayoutProvider = domain.PayoutProviderManual
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := r.store.now()
	if existing, ok := r.store.accounts[account.ID]; ok {
		// Баланс меняется только через журнал.
		account.BalanceMinor = existing.BalanceMinor
		account.CreatedAt = existing.CreatedAt
	} else {
		account.BalanceMinor = 0
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	r.store.accounts[account.ID] = account
	return nil
}

var _ domain.CatalogRepository = (*catalogRepositoryInMemory)(nil)
