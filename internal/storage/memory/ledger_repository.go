package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

type ledgerRepositoryInMemory struct {
	store *Store
}

func (r *ledgerRepositoryInMemory) SettlePurchase(_ context.Context, settlement domain.Settlement) (domain.Purchase, bool, error) {
	purchase := settlement.Purchase
	if errs := purchase.Validate(); len(errs) > 0 {
		return domain.Purchase{}, false, errors.Join(errs...)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[purchase.IntentID]
	if !ok {
		return domain.Purchase{}, false, domain.ErrIntentNotFound
	}
	if id, ok := s.purchaseByIntent[purchase.IntentID]; ok {
		return s.purchases[id], false, nil
	}
	if !intent.Status.CanTransitionTo(domain.IntentStatusSucceeded) {
		return domain.Purchase{}, false, domain.ErrInvalidIntentTransition
	}

	now := s.now()
	if _, owned := s.purchaseByOwner[compositeKey(purchase.BuyerID, purchase.ItemID)]; owned {
		// Деньги по этому intent уже у процессора: фиксируем статус, покупку не создаём.
		intent.Status = domain.IntentStatusSucceeded
		intent.UpdatedAt = now
		s.intents[intent.ID] = intent
		return domain.Purchase{}, false, domain.ErrAlreadyOwned
	}

	item, ok := s.items[purchase.ItemID]
	if !ok {
		return domain.Purchase{}, false, domain.ErrItemNotFound
	}

	if purchase.ID == "" {
		purchase.ID = uuid.NewString()
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = now
	}

	account, ok := s.accounts[purchase.SellerID]
	if !ok {
		account = domain.Account{
			ID:             purchase.SellerID,
			Currency:       purchase.Currency,
			PayoutProvider: domain.PayoutProviderManual,
			CreatedAt:      now,
		}
	}

	if err := s.enqueueLocked(settlement.Events); err != nil {
		return domain.Purchase{}, false, fmt.Errorf("enqueue settlement events: %w", err)
	}

	intent.Status = domain.IntentStatusSucceeded
	intent.UpdatedAt = now
	s.intents[intent.ID] = intent

	s.purchases[purchase.ID] = purchase
	s.purchaseByIntent[purchase.IntentID] = purchase.ID
	s.purchaseByOwner[compositeKey(purchase.BuyerID, purchase.ItemID)] = purchase.ID

	account.BalanceMinor += purchase.SellerAmountMinor
	account.UpdatedAt = now
	s.accounts[account.ID] = account
	if purchase.SellerAmountMinor > 0 {
		s.appendEntryLocked(account.ID, domain.EntryKindPurchaseCredit, purchase.SellerAmountMinor, purchase.Currency, purchase.ID)
	}

	item.Downloads++
	item.Purchases++
	item.UpdatedAt = now
	s.items[item.ID] = item

	return purchase, true, nil
}

func (r *ledgerRepositoryInMemory) FindPurchaseByIntent(_ context.Context, intentID string) (domain.Purchase, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	id, ok := r.store.purchaseByIntent[intentID]
	if !ok {
		return domain.Purchase{}, domain.ErrPurchaseNotFound
	}
	return r.store.purchases[id], nil
}

func (r *ledgerRepositoryInMemory) FindPurchaseByBuyerItem(_ context.Context, buyerID, itemID string) (domain.Purchase, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	id, ok := r.store.purchaseByOwner[compositeKey(buyerID, itemID)]
	if !ok {
		return domain.Purchase{}, domain.ErrPurchaseNotFound
	}
	return r.store.purchases[id], nil
}

func (r *ledgerRepositoryInMemory) ListPurchasesByBuyer(_ context.Context, buyerID string, limit int) ([]domain.Purchase, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.Purchase, 0)
	for _, p := range r.store.purchases {
		if p.BuyerID == buyerID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *ledgerRepositoryInMemory) SellerEarnings(_ context.Context, sellerID string) (domain.Earnings, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	earnings := domain.Earnings{SellerID: sellerID}
	for _, p := range r.store.purchases {
		if p.SellerID != sellerID {
			continue
		}
		earnings.TotalSales++
		earnings.GrossMinor += p.AmountPaidMinor
		earnings.NetMinor += p.SellerAmountMinor
		earnings.PlatformFeeMinor += p.PlatformFeeMinor
	}
	return earnings, nil
}

func (r *ledgerRepositoryInMemory) Balance(_ context.Context, accountID string) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	account, ok := r.store.accounts[accountID]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	return account.BalanceMinor, nil
}

func (r *ledgerRepositoryInMemory) ListEntries(_ context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	entries := r.store.entries[accountID]
	result := make([]domain.LedgerEntry, 0, len(entries))
	// Новые проводки первыми.
	for i := len(entries) - 1; i >= 0; i-- {
		result = append(result, entries[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *ledgerRepositoryInMemory) CreatePayout(_ context.Context, payout domain.PayoutRequest, events []domain.OutboxMessage) (domain.PayoutRequest, error) {
	if errs := payout.Validate(); len(errs) > 0 {
		return domain.PayoutRequest{}, errors.Join(errs...)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if payout.IdempotencyKey != "" {
		if id, ok := s.payoutKeys[compositeKey(payout.AccountID, payout.IdempotencyKey)]; ok {
			return s.payouts[id], nil
		}
	}

	account, ok := s.accounts[payout.AccountID]
	if !ok {
		return domain.PayoutRequest{}, domain.ErrAccountNotFound
	}
	if account.BalanceMinor < payout.AmountMinor {
		return domain.PayoutRequest{}, domain.ErrInsufficientBalance
	}

	if err := s.enqueueLocked(events); err != nil {
		return domain.PayoutRequest{}, fmt.Errorf("enqueue payout events: %w", err)
	}

	now := s.now()
	if payout.ID == "" {
		payout.ID = uuid.NewString()
	}
	payout.Status = domain.PayoutStatusPending
	if payout.Provider == "" {
		payout.Provider = account.PayoutProvider
	}
	if payout.Destination == "" {
		payout.Destination = account.PayoutIdentity
	}
	payout.CreatedAt = now
	payout.UpdatedAt = now

	account.BalanceMinor -= payout.AmountMinor
	account.UpdatedAt = now
	s.accounts[account.ID] = account
	s.appendEntryLocked(account.ID, domain.EntryKindPayoutDebit, payout.AmountMinor, payout.Currency, payout.ID)

	s.payouts[payout.ID] = payout
	if payout.IdempotencyKey != "" {
		s.payoutKeys[compositeKey(payout.AccountID, payout.IdempotencyKey)] = payout.ID
	}
	return payout, nil
}

func (r *ledgerRepositoryInMemory) ResolvePayout(_ context.Context, resolution domain.PayoutResolution) (domain.PayoutRequest, error) {
	if !resolution.Status.Terminal() {
		return domain.PayoutRequest{}, fmt.Errorf("%w: target status %q", domain.ErrPayoutNotPending, resolution.Status)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	payout, ok := s.payouts[resolution.PayoutID]
	if !ok {
		return domain.PayoutRequest{}, domain.ErrPayoutNotFound
	}
	if payout.Status == resolution.Status {
		return payout, nil
	}
	if payout.Status != domain.PayoutStatusPending {
		return payout, domain.ErrPayoutNotPending
	}

	if err := s.enqueueLocked(resolution.Events); err != nil {
		return domain.PayoutRequest{}, fmt.Errorf("enqueue payout events: %w", err)
	}

	now := s.now()
	payout.Status = resolution.Status
	payout.ExternalRef = resolution.ExternalRef
	payout.FailureReason = resolution.Reason
	payout.UpdatedAt = now
	s.payouts[payout.ID] = payout

	if resolution.Status == domain.PayoutStatusRejected {
		account := s.accounts[payout.AccountID]
		account.BalanceMinor += payout.AmountMinor
		account.UpdatedAt = now
		s.accounts[account.ID] = account
		s.appendEntryLocked(account.ID, domain.EntryKindPayoutReversal, payout.AmountMinor, payout.Currency, payout.ID)
	}
	return payout, nil
}

func (r *ledgerRepositoryInMemory) GetPayout(_ context.Context, id string) (domain.PayoutRequest, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	payout, ok := r.store.payouts[id]
	if !ok {
		return domain.PayoutRequest{}, domain.ErrPayoutNotFound
	}
	return payout, nil
}

func (r *ledgerRepositoryInMemory) ListPendingPayouts(_ context.Context, limit int) ([]domain.PayoutRequest, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.PayoutRequest, 0)
	for _, p := range r.store.payouts {
		if p.Status == domain.PayoutStatusPending {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// appendEntryLocked добавляет проводку; вызывается под s.mu.
func (s *Store) appendEntryLocked(accountID string, kind domain.EntryKind, amountMinor int64, currency, referenceID string) {
	s.entries[accountID] = append(s.entries[accountID], domain.LedgerEntry{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Kind:        kind,
		AmountMinor: domain.SignedAmount(kind, amountMinor),
		Currency:    currency,
		ReferenceID: referenceID,
		CreatedAt:   s.now(),
	})
}

var _ domain.LedgerRepository = (*ledgerRepositoryInMemory)(nil)
