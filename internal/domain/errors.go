package domain

import "errors"

var (
	// ErrItemNotFound возвращается, если товар (промпт) отсутствует или снят с продажи.
	ErrItemNotFound = errors.New("item not found")
	// ErrIntentNotFound возвращается для неизвестного payment intent.
	ErrIntentNotFound = errors.New("payment intent not found")
	// ErrAccountNotFound возвращается, если аккаунт продавца/покупателя не найден.
	ErrAccountNotFound = errors.New("account not found")
	// ErrPurchaseNotFound возвращается, если покупка не найдена.
	ErrPurchaseNotFound = errors.New("purchase not found")
	// ErrPayoutNotFound возвращается, если заявка на выплату не найдена.
	ErrPayoutNotFound = errors.New("payout request not found")
	// ErrWebhookEventNotFound возвращается, если событие процессора ещё не записано.
	ErrWebhookEventNotFound = errors.New("webhook event not found")

	// ErrForbidden - вызывающий не владеет ресурсом.
	ErrForbidden = errors.New("forbidden")
	// ErrAlreadyOwned - покупатель уже купил этот товар.
	ErrAlreadyOwned = errors.New("item already owned by buyer")
	// ErrPaymentNotComplete - процессор ещё не подтвердил успешную оплату.
	ErrPaymentNotComplete = errors.New("payment not complete")
	// ErrInsufficientBalance - сумма выплаты больше баланса.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrBelowMinimum - сумма выплаты меньше настроенного минимума.
	ErrBelowMinimum = errors.New("payout amount below minimum")
	// ErrGatewayUnavailable - таймаут или недоступность процессора, можно повторить.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected - явный отказ процессора, повторять нельзя.
	ErrGatewayRejected = errors.New("payment gateway rejected request")
	// ErrSignatureInvalid - подпись вебхука не прошла проверку.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrInvalidIntentTransition - попытка перевести intent из одного терминального статуса в другой.
	ErrInvalidIntentTransition = errors.New("invalid payment intent transition")
	// ErrPayoutNotPending - заявка уже закрыта другим статусом.
	ErrPayoutNotPending = errors.New("payout request is not pending")
	// ErrIntentAlreadyExists - intent с таким id или ключом идемпотентности уже сохранён.
	ErrIntentAlreadyExists = errors.New("payment intent already exists")

	ErrBuyerRequired      = errors.New("buyer_id is required")
	ErrSellerRequired     = errors.New("seller_id is required")
	ErrItemIDRequired     = errors.New("item_id is required")
	ErrIntentIDRequired   = errors.New("intent_id is required")
	ErrAccountIDRequired  = errors.New("account_id is required")
	ErrCurrencyRequired   = errors.New("currency is required")
	ErrAmountNotPositive  = errors.New("amount_minor must be greater than zero")
	ErrSplitMismatch      = errors.New("seller amount and platform fee do not add up to amount paid")
	ErrSellerShareInvalid = errors.New("seller share must be within (0, 1]")

	// ErrOutboxPublish - ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired - пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired - пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists - ключ уже использован тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch - ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound - ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// IsNotFound проверяет, относится ли ошибка к классу "не найдено".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrIntentNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrPurchaseNotFound) ||
		errors.Is(err, ErrPayoutNotFound)
}

// IsGatewayUnavailable сообщает, что операцию с процессором можно повторить.
func IsGatewayUnavailable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsValidation проверяет ошибки валидации входных данных.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrBuyerRequired, ErrSellerRequired, ErrItemIDRequired, ErrIntentIDRequired,
		ErrAccountIDRequired, ErrCurrencyRequired, ErrAmountNotPositive, ErrSplitMismatch,
		ErrSellerShareInvalid,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
