package domain

import "time"

// PayoutStatus описывает жизненный цикл заявки на выплату.
type PayoutStatus string

const (
	// PayoutStatusPending - баланс уже списан, выплата ещё не исполнена.
	PayoutStatusPending PayoutStatus = "pending"
	// PayoutStatusPaid - выплата исполнена.
	PayoutStatusPaid PayoutStatus = "paid"
	// PayoutStatusRejected - выплата не прошла, сумма возвращена на баланс.
	PayoutStatusRejected PayoutStatus = "rejected"
)

// Valid проверяет, что статус поддерживается.
func (s PayoutStatus) Valid() bool {
	switch s {
	case PayoutStatusPending, PayoutStatusPaid, PayoutStatusRejected:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что заявка закрыта.
func (s PayoutStatus) Terminal() bool {
	return s == PayoutStatusPaid || s == PayoutStatusRejected
}

// PayoutRequest - заявка продавца на вывод средств.
type PayoutRequest struct {
	ID             string
	AccountID      string
	AmountMinor    int64
	Currency       string
	Status         PayoutStatus
	Provider       PayoutProvider
	Destination    string
	ExternalRef    string
	FailureReason  string
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate проверяет инварианты заявки.
func (p *PayoutRequest) Validate() []error {
	var errs []error
	if p.AccountID == "" {
		errs = append(errs, ErrAccountIDRequired)
	}
	if p.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if p.AmountMinor <= 0 {
		errs = append(errs, ErrAmountNotPositive)
	}
	return errs
}

// PayoutResolution - итог исполнения выплаты.
type PayoutResolution struct {
	PayoutID    string
	Status      PayoutStatus
	ExternalRef string
	Reason      string
	// Events пишутся в outbox той же транзакцией.
	Events []OutboxMessage
}
