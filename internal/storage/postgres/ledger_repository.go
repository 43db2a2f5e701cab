package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

const (
	purchaseColumns = `id, item_id, buyer_id, seller_id, intent_id, amount_paid_minor,
	seller_amount_minor, platform_fee_minor, currency, source, created_at`
	payoutColumns = `id, account_id, amount_minor, currency, status, provider, destination,
	external_ref, failure_reason, COALESCE(idempotency_key, ''), created_at, updated_at`

	// Гонка двух intent одного покупателя ловится уникальным индексом; второй проход видит покупку.
	maxSettleAttempts = 2
)

type ledgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository создаёт PostgreSQL-реализацию LedgerRepository.
// Покупки сериализуются блокировкой строки intent, изменения баланса
// блокировкой строки аккаунта; уникальные индексы страхуют оба инварианта.
func NewLedgerRepository(store *Store) domain.LedgerRepository {
	return &ledgerRepository{db: store.DB()}
}

func (r *ledgerRepository) SettlePurchase(ctx context.Context, settlement domain.Settlement) (domain.Purchase, bool, error) {
	if errs := settlement.Purchase.Validate(); len(errs) > 0 {
		return domain.Purchase{}, false, errors.Join(errs...)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxSettleAttempts; attempt++ {
		purchase, created, err := r.settleOnce(ctx, settlement)
		if err == nil || !isUniqueViolation(err) {
			return purchase, created, err
		}
		lastErr = err
	}
	return domain.Purchase{}, false, fmt.Errorf("settle purchase: %w", lastErr)
}

func (r *ledgerRepository) settleOnce(ctx context.Context, settlement domain.Settlement) (domain.Purchase, bool, error) {
	purchase := settlement.Purchase
	now := time.Now().UTC()
	if purchase.ID == "" {
		purchase.ID = uuid.NewString()
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = now
	}

	var (
		result       domain.Purchase
		created      bool
		alreadyOwned bool
	)
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRowContext(ctx, `
			SELECT status FROM payment_intents WHERE id = $1 FOR UPDATE
		`, purchase.IntentID).Scan(&status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrIntentNotFound
			}
			return fmt.Errorf("lock payment intent: %w", err)
		}

		existing, err := scanPurchase(tx.QueryRowContext(ctx,
			`SELECT `+purchaseColumns+` FROM purchases WHERE intent_id = $1`, purchase.IntentID))
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, domain.ErrPurchaseNotFound) {
			return err
		}

		if !domain.IntentStatus(status).CanTransitionTo(domain.IntentStatusSucceeded) {
			return domain.ErrInvalidIntentTransition
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE payment_intents SET status = 'succeeded', updated_at = $2 WHERE id = $1
		`, purchase.IntentID, now); err != nil {
			return fmt.Errorf("mark intent succeeded: %w", err)
		}

		var owned bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM purchases WHERE buyer_id = $1 AND item_id = $2)
		`, purchase.BuyerID, purchase.ItemID).Scan(&owned); err != nil {
			return fmt.Errorf("check ownership: %w", err)
		}
		if owned {
			// Статус intent фиксируем, покупку не создаём.
			alreadyOwned = true
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO purchases (
				id, item_id, buyer_id, seller_id, intent_id, amount_paid_minor,
				seller_amount_minor, platform_fee_minor, currency, source, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`,
			purchase.ID, purchase.ItemID, purchase.BuyerID, purchase.SellerID, purchase.IntentID,
			purchase.AmountPaidMinor, purchase.SellerAmountMinor, purchase.PlatformFeeMinor,
			purchase.Currency, string(purchase.Source), purchase.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert purchase: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, balance_minor, currency, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$4)
			ON CONFLICT (id) DO UPDATE
			SET balance_minor = accounts.balance_minor + EXCLUDED.balance_minor,
			    updated_at = EXCLUDED.updated_at
		`, purchase.SellerID, purchase.SellerAmountMinor, purchase.Currency, now); err != nil {
			return fmt.Errorf("credit seller balance: %w", err)
		}

		if purchase.SellerAmountMinor > 0 {
			if err := insertEntry(ctx, tx, purchase.SellerID, domain.EntryKindPurchaseCredit,
				purchase.SellerAmountMinor, purchase.Currency, purchase.ID, now); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE items
			SET downloads = downloads + 1, purchases = purchases + 1, updated_at = $2
			WHERE id = $1
		`, purchase.ItemID, now)
		if err != nil {
			return fmt.Errorf("increment item counters: %w", err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("item rows affected: %w", err)
		} else if affected == 0 {
			return domain.ErrItemNotFound
		}

		if err := insertOutboxMessages(ctx, tx, settlement.Events, now); err != nil {
			return err
		}

		result = purchase
		created = true
		return nil
	})
	if err != nil {
		return domain.Purchase{}, false, err
	}
	if alreadyOwned {
		return domain.Purchase{}, false, domain.ErrAlreadyOwned
	}
	return result, created, nil
}

func (r *ledgerRepository) FindPurchaseByIntent(ctx context.Context, intentID string) (domain.Purchase, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return scanPurchase(r.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE intent_id = $1`, intentID))
}

func (r *ledgerRepository) FindPurchaseByBuyerItem(ctx context.Context, buyerID, itemID string) (domain.Purchase, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return scanPurchase(r.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE buyer_id = $1 AND item_id = $2`, buyerID, itemID))
}

func (r *ledgerRepository) ListPurchasesByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Purchase, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query, args := withLimit(`SELECT `+purchaseColumns+` FROM purchases WHERE buyer_id = $1 ORDER BY created_at DESC, id DESC`,
		[]any{buyerID}, limit)
	return queryAll(ctx, r.db, "purchases", scanPurchase, query, args...)
}

func (r *ledgerRepository) SellerEarnings(ctx context.Context, sellerID string) (domain.Earnings, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	earnings := domain.Earnings{SellerID: sellerID}
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(amount_paid_minor), 0),
		       COALESCE(SUM(seller_amount_minor), 0),
		       COALESCE(SUM(platform_fee_minor), 0)
		FROM purchases
		WHERE seller_id = $1
	`, sellerID).Scan(&earnings.TotalSales, &earnings.GrossMinor, &earnings.NetMinor, &earnings.PlatformFeeMinor); err != nil {
		return domain.Earnings{}, fmt.Errorf("seller earnings: %w", err)
	}
	return earnings, nil
}

func (r *ledgerRepository) Balance(ctx context.Context, accountID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var balance int64
	if err := r.db.QueryRowContext(ctx, `SELECT balance_minor FROM accounts WHERE id = $1`, accountID).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrAccountNotFound
		}
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return balance, nil
}

func (r *ledgerRepository) ListEntries(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// seq задаёт порядок вставки: у проводок одной транзакции created_at совпадает.
	query, args := withLimit(`
		SELECT id, account_id, kind, amount_minor, currency, reference_id, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY seq DESC`, []any{accountID}, limit)
	return queryAll(ctx, r.db, "ledger entries", scanEntry, query, args...)
}

func (r *ledgerRepository) CreatePayout(ctx context.Context, payout domain.PayoutRequest, events []domain.OutboxMessage) (domain.PayoutRequest, error) {
	if errs := payout.Validate(); len(errs) > 0 {
		return domain.PayoutRequest{}, errors.Join(errs...)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	result, err := r.createPayoutOnce(ctx, payout, events)
	if isUniqueViolation(err) && payout.IdempotencyKey != "" {
		// Параллельный запрос с тем же ключом успел первым.
		return r.payoutByKey(ctx, r.db, payout.AccountID, payout.IdempotencyKey)
	}
	return result, err
}

func (r *ledgerRepository) createPayoutOnce(ctx context.Context, payout domain.PayoutRequest, events []domain.OutboxMessage) (domain.PayoutRequest, error) {
	now := time.Now().UTC()
	if payout.ID == "" {
		payout.ID = uuid.NewString()
	}

	var result domain.PayoutRequest
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		if payout.IdempotencyKey != "" {
			existing, err := r.payoutByKey(ctx, tx, payout.AccountID, payout.IdempotencyKey)
			if err == nil {
				result = existing
				return nil
			}
			if !errors.Is(err, domain.ErrPayoutNotFound) {
				return err
			}
		}

		// Условное списание: строка аккаунта блокируется, баланс не уходит в минус.
		var provider, identity string
		err := tx.QueryRowContext(ctx, `
			UPDATE accounts
			SET balance_minor = balance_minor - $2, updated_at = $3
			WHERE id = $1 AND balance_minor >= $2
			RETURNING payout_provider, payout_identity
		`, payout.AccountID, payout.AmountMinor, now).Scan(&provider, &identity)
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, payout.AccountID).Scan(&exists); err != nil {
				return fmt.Errorf("check account: %w", err)
			}
			if !exists {
				return domain.ErrAccountNotFound
			}
			return domain.ErrInsufficientBalance
		}
		if err != nil {
			if isCheckViolation(err) {
				return domain.ErrInsufficientBalance
			}
			return fmt.Errorf("debit balance: %w", err)
		}

		payout.Status = domain.PayoutStatusPending
		if payout.Provider == "" {
			payout.Provider = domain.PayoutProvider(provider)
		}
		if payout.Destination == "" {
			payout.Destination = identity
		}
		payout.CreatedAt = now
		payout.UpdatedAt = now

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payout_requests (
				id, account_id, amount_minor, currency, status, provider, destination,
				external_ref, failure_reason, idempotency_key, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,'','',$8,$9,$9)
		`,
			payout.ID, payout.AccountID, payout.AmountMinor, payout.Currency, string(payout.Status),
			string(payout.Provider), payout.Destination, nullableString(payout.IdempotencyKey), now,
		); err != nil {
			return fmt.Errorf("insert payout request: %w", err)
		}

		if err := insertEntry(ctx, tx, payout.AccountID, domain.EntryKindPayoutDebit,
			payout.AmountMinor, payout.Currency, payout.ID, now); err != nil {
			return err
		}
		if err := insertOutboxMessages(ctx, tx, events, now); err != nil {
			return err
		}

		result = payout
		return nil
	})
	if err != nil {
		return domain.PayoutRequest{}, err
	}
	return result, nil
}

func (r *ledgerRepository) ResolvePayout(ctx context.Context, resolution domain.PayoutResolution) (domain.PayoutRequest, error) {
	if !resolution.Status.Terminal() {
		return domain.PayoutRequest{}, fmt.Errorf("%w: target status %q", domain.ErrPayoutNotPending, resolution.Status)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	var result domain.PayoutRequest
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		payout, err := scanPayout(tx.QueryRowContext(ctx,
			`SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1 FOR UPDATE`, resolution.PayoutID))
		if err != nil {
			return err
		}
		if payout.Status == resolution.Status {
			result = payout
			return nil
		}
		if payout.Status != domain.PayoutStatusPending {
			result = payout
			return domain.ErrPayoutNotPending
		}

		payout.Status = resolution.Status
		payout.ExternalRef = resolution.ExternalRef
		payout.FailureReason = resolution.Reason
		payout.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `
			UPDATE payout_requests
			SET status = $2, external_ref = $3, failure_reason = $4, updated_at = $5
			WHERE id = $1
		`, payout.ID, string(payout.Status), payout.ExternalRef, payout.FailureReason, now); err != nil {
			return fmt.Errorf("update payout request: %w", err)
		}

		if payout.Status == domain.PayoutStatusRejected {
			if _, err := tx.ExecContext(ctx, `
				UPDATE accounts SET balance_minor = balance_minor + $2, updated_at = $3 WHERE id = $1
			`, payout.AccountID, payout.AmountMinor, now); err != nil {
				return fmt.Errorf("credit back balance: %w", err)
			}
			if err := insertEntry(ctx, tx, payout.AccountID, domain.EntryKindPayoutReversal,
				payout.AmountMinor, payout.Currency, payout.ID, now); err != nil {
				return err
			}
		}

		if err := insertOutboxMessages(ctx, tx, resolution.Events, now); err != nil {
			return err
		}
		result = payout
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrPayoutNotPending) {
			return result, err
		}
		return domain.PayoutRequest{}, err
	}
	return result, nil
}

func (r *ledgerRepository) GetPayout(ctx context.Context, id string) (domain.PayoutRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return scanPayout(r.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1`, id))
}

func (r *ledgerRepository) ListPendingPayouts(ctx context.Context, limit int) ([]domain.PayoutRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	return queryAll(ctx, r.db, "pending payouts", scanPayout, `
		SELECT `+payoutColumns+`
		FROM payout_requests
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *ledgerRepository) payoutByKey(ctx context.Context, q queryRower, accountID, key string) (domain.PayoutRequest, error) {
	return scanPayout(q.QueryRowContext(ctx, `
		SELECT `+payoutColumns+`
		FROM payout_requests
		WHERE account_id = $1 AND idempotency_key = $2
	`, accountID, key))
}

func insertEntry(ctx context.Context, tx execer, accountID string, kind domain.EntryKind, amountMinor int64, currency, referenceID string, at time.Time) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, kind, amount_minor, currency, reference_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, uuid.NewString(), accountID, string(kind), domain.SignedAmount(kind, amountMinor), currency, referenceID, at); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func scanPurchase(row rowScanner) (domain.Purchase, error) {
	var (
		p      domain.Purchase
		source string
	)
	err := row.Scan(&p.ID, &p.ItemID, &p.BuyerID, &p.SellerID, &p.IntentID, &p.AmountPaidMinor,
		&p.SellerAmountMinor, &p.PlatformFeeMinor, &p.Currency, &source, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Purchase{}, domain.ErrPurchaseNotFound
		}
		return domain.Purchase{}, fmt.Errorf("scan purchase: %w", err)
	}
	p.Source = domain.SettlementSource(source)
	return p, nil
}

func scanEntry(row rowScanner) (domain.LedgerEntry, error) {
	var (
		entry domain.LedgerEntry
		kind  string
	)
	if err := row.Scan(&entry.ID, &entry.AccountID, &kind, &entry.AmountMinor,
		&entry.Currency, &entry.ReferenceID, &entry.CreatedAt); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("scan ledger entry: %w", err)
	}
	entry.Kind = domain.EntryKind(kind)
	return entry, nil
}

func scanPayout(row rowScanner) (domain.PayoutRequest, error) {
	var (
		p        domain.PayoutRequest
		status   string
		provider string
	)
	err := row.Scan(&p.ID, &p.AccountID, &p.AmountMinor, &p.Currency, &status, &provider, &p.Destination,
		&p.ExternalRef, &p.FailureReason, &p.IdempotencyKey, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PayoutRequest{}, domain.ErrPayoutNotFound
		}
		return domain.PayoutRequest{}, fmt.Errorf("scan payout request: %w", err)
	}
	p.Status = domain.PayoutStatus(status)
	p.Provider = domain.PayoutProvider(provider)
	return p, nil
}

var _ domain.LedgerRepository = (*ledgerRepository)(nil)
