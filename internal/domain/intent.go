package domain

import "time"

// IntentStatus описывает жизненный цикл payment intent.
type IntentStatus string

const (
	// IntentStatusCreated - intent создан, оплата ещё не завершена.
	IntentStatusCreated IntentStatus = "created"
	// IntentStatusSucceeded - процессор подтвердил оплату.
	IntentStatusSucceeded IntentStatus = "succeeded"
	// IntentStatusFailed - оплата отклонена.
	IntentStatusFailed IntentStatus = "failed"
	// IntentStatusCanceled - intent отменён.
	IntentStatusCanceled IntentStatus = "canceled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IntentStatus) Valid() bool {
	switch s {
	case IntentStatusCreated, IntentStatusSucceeded, IntentStatusFailed, IntentStatusCanceled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что статус больше не меняется.
func (s IntentStatus) Terminal() bool {
	return s == IntentStatusSucceeded || s == IntentStatusFailed || s == IntentStatusCanceled
}

// Retryable сообщает, что процессор ещё может провести оплату по intent:
// после отказа карты покупатель вправе повторить её с другим способом оплаты.
func (s IntentStatus) Retryable() bool {
	return s == IntentStatusCreated || s == IntentStatusFailed
}

// CanTransitionTo проверяет переход в терминальный статус.
// succeeded и canceled поглощающие, failed уступает последующему решению процессора.
// Повторное применение того же статуса допустимо (идемпотентность доставки событий).
func (s IntentStatus) CanTransitionTo(next IntentStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	return s.Retryable() && next.Terminal()
}

// PaymentIntent - локальная копия intent процессора с контекстом покупки.
type PaymentIntent struct {
	// ID - непрозрачный идентификатор процессора.
	ID             string
	ItemID         string
	BuyerID        string
	SellerID       string
	AmountMinor    int64
	Currency       string
	Status         IntentStatus
	IdempotencyKey string
	ClientSecret   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate проверяет инварианты intent перед сохранением.
func (p *PaymentIntent) Validate() []error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, ErrIntentIDRequired)
	}
	if p.ItemID == "" {
		errs = append(errs, ErrItemIDRequired)
	}
	if p.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if p.SellerID == "" {
		errs = append(errs, ErrSellerRequired)
	}
	if p.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if p.AmountMinor <= 0 {
		errs = append(errs, ErrAmountNotPositive)
	}
	return errs
}
