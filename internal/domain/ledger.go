package domain

import "time"

// EntryKind - тип проводки в журнале баланса.
type EntryKind string

const (
	// EntryKindPurchaseCredit - зачисление доли продавца за покупку.
	EntryKindPurchaseCredit EntryKind = "purchase_credit"
	// EntryKindPayoutDebit - оптимистичное списание под выплату.
	EntryKindPayoutDebit EntryKind = "payout_debit"
	// EntryKindPayoutReversal - возврат списания при отклонённой выплате.
	EntryKindPayoutReversal EntryKind = "payout_reversal"
)

// LedgerEntry - неизменяемая проводка со знаком. Баланс равен сумме проводок аккаунта.
type LedgerEntry struct {
	ID          string
	AccountID   string
	Kind        EntryKind
	AmountMinor int64
	Currency    string
	// ReferenceID - id покупки или выплаты.
	ReferenceID string
	CreatedAt   time.Time
}

// SignedAmount возвращает сумму проводки со знаком по её типу.
func SignedAmount(kind EntryKind, amountMinor int64) int64 {
	if amountMinor < 0 {
		amountMinor = -amountMinor
	}
	if kind == EntryKindPayoutDebit {
		return -amountMinor
	}
	return amountMinor
}
