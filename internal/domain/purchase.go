package domain

import "time"

// SettlementSource показывает, какой путь первым зафиксировал покупку.
type SettlementSource string

const (
	// SettlementSourceConfirm - подтверждение от клиента.
	SettlementSourceConfirm SettlementSource = "confirm"
	// SettlementSourceWebhook - событие процессора.
	SettlementSourceWebhook SettlementSource = "webhook"
)

// Purchase - факт оплаченной покупки. Создаётся ровно один раз на intent.
type Purchase struct {
	ID                string
	ItemID            string
	BuyerID           string
	SellerID          string
	IntentID          string
	AmountPaidMinor   int64
	SellerAmountMinor int64
	PlatformFeeMinor  int64
	Currency          string
	Source            SettlementSource
	CreatedAt         time.Time
}

// Validate проверяет инвариант разделения суммы.
func (p *Purchase) Validate() []error {
	var errs []error
	if p.IntentID == "" {
		errs = append(errs, ErrIntentIDRequired)
	}
	if p.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if p.SellerID == "" {
		errs = append(errs, ErrSellerRequired)
	}
	if p.ItemID == "" {
		errs = append(errs, ErrItemIDRequired)
	}
	if p.AmountPaidMinor <= 0 {
		errs = append(errs, ErrAmountNotPositive)
	}
	if p.SellerAmountMinor < 0 || p.PlatformFeeMinor < 0 ||
		p.SellerAmountMinor+p.PlatformFeeMinor != p.AmountPaidMinor {
		errs = append(errs, ErrSplitMismatch)
	}
	return errs
}

// Settlement - всё, что нужно записать одной транзакцией при успешной оплате.
type Settlement struct {
	Purchase Purchase
	// Events пишутся в outbox той же транзакцией.
	Events []OutboxMessage
}

// Earnings - сводка продаж продавца.
type Earnings struct {
	SellerID         string
	TotalSales       int64
	GrossMinor       int64
	NetMinor         int64
	PlatformFeeMinor int64
}
