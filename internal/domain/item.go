package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutProvider задаёт способ вывода средств продавцу.
type PayoutProvider string

const (
	// PayoutProviderStripeConnect - перевод на подключённый Stripe-аккаунт.
	PayoutProviderStripeConnect PayoutProvider = "stripe_connect"
	// PayoutProviderPayPal - выплата на PayPal email внешним исполнителем.
	PayoutProviderPayPal PayoutProvider = "paypal"
	// PayoutProviderManual - выплата вручную операторами.
	PayoutProviderManual PayoutProvider = "manual"
)

// Valid проверяет, что провайдер поддерживается.
func (p PayoutProvider) Valid() bool {
	switch p {
	case PayoutProviderStripeConnect, PayoutProviderPayPal, PayoutProviderManual:
		return true
	default:
		return false
	}
}

// Item - продаваемый промпт. Владелец и цена приходят из каталога маркетплейса.
type Item struct {
	ID         string
	OwnerID    string
	Title      string
	PriceMinor int64
	Currency   string
	Downloads  int64
	Purchases  int64
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate проверяет минимальный набор полей товара.
func (i *Item) Validate() []error {
	var errs []error
	if i.ID == "" {
		errs = append(errs, ErrItemIDRequired)
	}
	if i.OwnerID == "" {
		errs = append(errs, ErrSellerRequired)
	}
	if i.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if i.PriceMinor <= 0 {
		errs = append(errs, ErrAmountNotPositive)
	}
	return errs
}

// Account - аккаунт пользователя с балансом продавца.
type Account struct {
	ID             string
	BalanceMinor   int64
	Currency       string
	PayoutProvider PayoutProvider
	// PayoutIdentity - connected account id или PayPal email.
	PayoutIdentity string
	// SellerShare переопределяет долю продавца для аккаунта; нулевое значение - глобальная политика.
	SellerShare decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasSellerShareOverride сообщает, задана ли индивидуальная доля продавца.
func (a *Account) HasSellerShareOverride() bool {
	return !a.SellerShare.IsZero()
}
