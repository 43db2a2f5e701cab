package settlement

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// IntentView - intent вместе с его timeline.
type IntentView struct {
	Intent   domain.PaymentIntent
	Purchase *domain.Purchase
	Timeline []domain.TimelineEvent
}

// Balance - текущий баланс продавца.
type Balance struct {
	AccountID   string
	AmountMinor int64
	Currency    string
}

// Formatted возвращает баланс для отображения, например "$12.34".
func (b Balance) Formatted() string {
	return domain.FormatMinor(b.AmountMinor, b.Currency)
}

// GetIntent возвращает intent покупателя; чужой intent даёт ErrForbidden.
func (s *Service) GetIntent(ctx context.Context, buyerID, intentID string) (IntentView, error) {
	intent, err := s.intents.Get(ctx, intentID)
	if err != nil {
		return IntentView{}, err
	}
	if intent.BuyerID != buyerID {
		return IntentView{}, domain.ErrForbidden
	}

	view := IntentView{Intent: intent}
	// Публичный ответ не раскрывает client secret повторно.
	view.Intent.ClientSecret = ""

	purchase, err := s.ledger.FindPurchaseByIntent(ctx, intentID)
	switch {
	case err == nil:
		view.Purchase = &purchase
	case !errors.Is(err, domain.ErrPurchaseNotFound):
		return IntentView{}, err
	}

	if s.timeline != nil {
		events, err := s.timeline.List(intentID)
		if err != nil {
			return IntentView{}, err
		}
		view.Timeline = events
	}
	return view, nil
}

// ListPurchases возвращает покупки покупателя, новые первыми.
func (s *Service) ListPurchases(ctx context.Context, buyerID string, limit int) ([]domain.Purchase, error) {
	if buyerID == "" {
		return nil, domain.ErrBuyerRequired
	}
	return s.ledger.ListPurchasesByBuyer(ctx, buyerID, clampLimit(limit))
}

// Earnings возвращает сводку продаж продавца.
func (s *Service) Earnings(ctx context.Context, sellerID string) (domain.Earnings, error) {
	if sellerID == "" {
		return domain.Earnings{}, domain.ErrSellerRequired
	}
	return s.ledger.SellerEarnings(ctx, sellerID)
}

// Balance возвращает баланс аккаунта. Неизвестный аккаунт даёт ErrAccountNotFound.
func (s *Service) Balance(ctx context.Context, accountID string) (Balance, error) {
	if accountID == "" {
		return Balance{}, domain.ErrAccountIDRequired
	}
	amount, err := s.ledger.Balance(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}

	balance := Balance{AccountID: accountID, AmountMinor: amount, Currency: "usd"}
	if account, err := s.catalog.GetAccount(ctx, accountID); err == nil && account.Currency != "" {
		balance.Currency = account.Currency
	}
	return balance, nil
}

// LedgerEntries возвращает проводки аккаунта, новые первыми.
func (s *Service) LedgerEntries(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	if accountID == "" {
		return nil, domain.ErrAccountIDRequired
	}
	return s.ledger.ListEntries(ctx, accountID, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
