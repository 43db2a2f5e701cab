package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

type catalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-реализацию CatalogRepository.
func NewCatalogRepository(store *Store) domain.CatalogRepository {
	return &catalogRepository{db: store.DB()}
}

func (r *catalogRepository) GetItem(ctx context.Context, id string) (domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var item domain.Item
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, price_minor, currency, downloads, purchases, active, created_at, updated_at
		FROM items
		WHERE id = $1
	`, id).Scan(
		&item.ID, &item.OwnerID, &item.Title, &item.PriceMinor, &item.Currency,
		&item.Downloads, &item.Purchases, &item.Active, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, domain.ErrItemNotFound
		}
		return domain.Item{}, fmt.Errorf("select item: %w", err)
	}
	return item, nil
}

// UpsertItem обновляет карточку товара, не трогая счётчики продаж.
func (r *catalogRepository) UpsertItem(ctx context.Context, item domain.Item) error {
	if errs := item.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO items (id, owner_id, title, price_minor, currency, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		ON CONFLICT (id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id,
		    title = EXCLUDED.title,
		    price_minor = EXCLUDED.price_minor,
		    currency = EXCLUDED.currency,
		    active = EXCLUDED.active,
		    updated_at = EXCLUDED.updated_at
	`, item.ID, item.OwnerID, item.Title, item.PriceMinor, item.Currency, item.Active, now); err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

func (r *catalogRepository) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		account  domain.Account
		provider string
		share    decimal.NullDecimal
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, balance_minor, currency, payout_provider, payout_identity, seller_share, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id).Scan(
		&account.ID, &account.BalanceMinor, &account.Currency, &provider,
		&account.PayoutIdentity, &share, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, domain.ErrAccountNotFound
		}
		return domain.Account{}, fmt.Errorf("select account: %w", err)
	}
	account.PayoutProvider = domain.PayoutProvider(provider)
	if share.Valid {
		account.SellerShare = share.Decimal
	}
	return account, nil
}

// UpsertAccount обновляет платёжные реквизиты; баланс меняет только журнал.
func (r *catalogRepository) UpsertAccount(ctx context.Context, account domain.Account) error {
	if account.ID == "" {
		return domain.ErrAccountIDRequired
	}
	if account.PayoutProvider == "" {
		account.PayoutProvider = domain.PayoutProviderManual
	}
	if account.Currency == "" {
		account.Currency = "usd"
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	share := decimal.NullDecimal{Decimal: account.SellerShare, Valid: account.HasSellerShareOverride()}
	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, balance_minor, currency, payout_provider, payout_identity, seller_share, created_at, updated_at)
		VALUES ($1,0,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (id) DO UPDATE
		SET currency = EXCLUDED.currency,
		    payout_provider = EXCLUDED.payout_provider,
		    payout_identity = EXCLUDED.payout_identity,
		    seller_share = EXCLUDED.seller_share,
		    updated_at = EXCLUDED.updated_at
	`, account.ID, account.Currency, string(account.PayoutProvider), account.PayoutIdentity, share, now); err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
