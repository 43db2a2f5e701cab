package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

const intentColumns = `id, item_id, buyer_id, seller_id, amount_minor, currency, status,
	COALESCE(idempotency_key, ''), client_secret, created_at, updated_at`

type intentRepository struct {
	db *sql.DB
}

// NewIntentRepository создаёт PostgreSQL-реализацию IntentRepository.
func NewIntentRepository(store *Store) domain.IntentRepository {
	return &intentRepository{db: store.DB()}
}

func (r *intentRepository) Create(ctx context.Context, intent domain.PaymentIntent) (domain.PaymentIntent, error) {
	if errs := intent.Validate(); len(errs) > 0 {
		return domain.PaymentIntent{}, errors.Join(errs...)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if intent.Status == "" {
		intent.Status = domain.IntentStatusCreated
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	intent.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_intents (
			id, item_id, buyer_id, seller_id, amount_minor, currency, status,
			idempotency_key, client_secret, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		intent.ID, intent.ItemID, intent.BuyerID, intent.SellerID, intent.AmountMinor, intent.Currency,
		string(intent.Status), nullableString(intent.IdempotencyKey), intent.ClientSecret,
		intent.CreatedAt, intent.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := r.Get(ctx, intent.ID)
			if errors.Is(getErr, domain.ErrIntentNotFound) && intent.IdempotencyKey != "" {
				existing, getErr = r.GetByIdempotencyKey(ctx, intent.BuyerID, intent.IdempotencyKey)
			}
			if getErr != nil {
				return domain.PaymentIntent{}, fmt.Errorf("load conflicting intent: %w", getErr)
			}
			return existing, domain.ErrIntentAlreadyExists
		}
		return domain.PaymentIntent{}, fmt.Errorf("insert payment intent: %w", err)
	}
	return intent, nil
}

func (r *intentRepository) Get(ctx context.Context, id string) (domain.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return scanIntent(r.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id))
}

func (r *intentRepository) GetByIdempotencyKey(ctx context.Context, buyerID, key string) (domain.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return scanIntent(r.db.QueryRowContext(ctx, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE buyer_id = $1 AND idempotency_key = $2
	`, buyerID, key))
}

// UpdateStatus переводит intent из created или failed в терминальный статус одним условным UPDATE.
func (r *intentRepository) UpdateStatus(ctx context.Context, id string, status domain.IntentStatus) (domain.PaymentIntent, error) {
	if !status.Terminal() {
		return domain.PaymentIntent{}, domain.ErrInvalidIntentTransition
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	updated, err := scanIntent(r.db.QueryRowContext(ctx, `
		UPDATE payment_intents
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status IN ('created', 'failed') AND status <> $2
		RETURNING `+intentColumns,
		id, string(status), time.Now().UTC(),
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, domain.ErrIntentNotFound) {
		return domain.PaymentIntent{}, err
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if current.Status == status {
		return current, nil
	}
	return current, domain.ErrInvalidIntentTransition
}

func scanIntent(row rowScanner) (domain.PaymentIntent, error) {
	var (
		intent domain.PaymentIntent
		status string
	)
	err := row.Scan(
		&intent.ID, &intent.ItemID, &intent.BuyerID, &intent.SellerID, &intent.AmountMinor,
		&intent.Currency, &status, &intent.IdempotencyKey, &intent.ClientSecret,
		&intent.CreatedAt, &intent.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PaymentIntent{}, domain.ErrIntentNotFound
		}
		return domain.PaymentIntent{}, fmt.Errorf("scan payment intent: %w", err)
	}
	intent.Status = domain.IntentStatus(status)
	return intent, nil
}

var _ domain.IntentRepository = (*intentRepository)(nil)
