package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultSellerShare - доля продавца по умолчанию (85/15).
var DefaultSellerShare = decimal.RequireFromString("0.85")

// FeePolicy делит сумму покупки между продавцом и платформой.
type FeePolicy struct {
	SellerShare decimal.Decimal
}

// NewFeePolicy создаёт политику и проверяет долю продавца.
func NewFeePolicy(sellerShare decimal.Decimal) (FeePolicy, error) {
	policy := FeePolicy{SellerShare: sellerShare}
	if err := policy.Validate(); err != nil {
		return FeePolicy{}, err
	}
	return policy, nil
}

// Validate проверяет, что доля лежит в (0, 1].
func (p FeePolicy) Validate() error {
	if !p.SellerShare.IsPositive() || p.SellerShare.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: %s", ErrSellerShareInvalid, p.SellerShare.String())
	}
	return nil
}

// ForAccount возвращает политику с учётом индивидуальной доли продавца.
func (p FeePolicy) ForAccount(account Account) FeePolicy {
	if account.HasSellerShareOverride() {
		override := FeePolicy{SellerShare: account.SellerShare}
		if override.Validate() == nil {
			return override
		}
	}
	return p
}

// Split возвращает долю продавца (с округлением вниз) и комиссию платформы.
// seller + fee всегда равно amount.
func (p FeePolicy) Split(amountMinor int64) (sellerMinor, feeMinor int64) {
	if amountMinor <= 0 {
		return 0, 0
	}
	seller := decimal.NewFromInt(amountMinor).Mul(p.SellerShare).Floor().IntPart()
	if seller > amountMinor {
		seller = amountMinor
	}
	return seller, amountMinor - seller
}

var currencySymbols = map[string]string{
	"usd": "$",
	"eur": "€",
	"gbp": "£",
}

// FormatMinor форматирует сумму в минимальных единицах, например 1234 usd -> "$12.34".
func FormatMinor(amountMinor int64, currency string) string {
	value := decimal.New(amountMinor, -2).StringFixed(2)
	cur := strings.ToLower(currency)
	if symbol, ok := currencySymbols[cur]; ok {
		if strings.HasPrefix(value, "-") {
			return "-" + symbol + strings.TrimPrefix(value, "-")
		}
		return symbol + value
	}
	return value + " " + strings.ToUpper(cur)
}
