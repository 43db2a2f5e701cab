package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/service/payout"
	"github.com/vladislavdragonenkov/marketpay/internal/service/settlement"
	"github.com/vladislavdragonenkov/marketpay/internal/service/webhook"
)

const signatureHeader = "Stripe-Signature"

// PurchaseService - покупки и read-модели покупателя и продавца.
type PurchaseService interface {
	CreateIntent(ctx context.Context, in settlement.CreateIntentInput) (settlement.CreateIntentResult, error)
	ConfirmPurchase(ctx context.Context, buyerID, intentID string) (domain.Purchase, error)
	GetIntent(ctx context.Context, buyerID, intentID string) (settlement.IntentView, error)
	ListPurchases(ctx context.Context, buyerID string, limit int) ([]domain.Purchase, error)
	Earnings(ctx context.Context, sellerID string) (domain.Earnings, error)
	Balance(ctx context.Context, accountID string) (settlement.Balance, error)
	LedgerEntries(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error)
}

// PayoutService - заявки продавца на вывод средств.
type PayoutService interface {
	Request(ctx context.Context, in payout.RequestInput) (domain.PayoutRequest, error)
	Get(ctx context.Context, accountID, payoutID string) (domain.PayoutRequest, error)
}

// WebhookHandler - обработка подписанных событий процессора.
type WebhookHandler interface {
	Handle(ctx context.Context, payload []byte, signature string) (webhook.Result, error)
}

type handlers struct {
	purchases PurchaseService
	payouts   PayoutService
	webhooks  WebhookHandler
	logger    *log.Entry
}

func (h *handlers) createIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeProblem(c, http.StatusBadRequest, "validation_failed", "invalid request body")
		return
	}

	result, err := h.purchases.CreateIntent(c.Request.Context(), settlement.CreateIntentInput{
		BuyerID:        subject(c),
		ItemID:         req.ItemID,
		IdempotencyKey: idempotencyKey(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
		c.Header(headerReplayed, "true")
	}
	c.JSON(status, createIntentResponse{
		IntentID:     result.Intent.ID,
		ClientSecret: result.Intent.ClientSecret,
		AmountCents:  result.Intent.AmountMinor,
		Currency:     result.Intent.Currency,
		Status:       string(result.Intent.Status),
	})
}

func (h *handlers) confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeProblem(c, http.StatusBadRequest, "validation_failed", "invalid request body")
		return
	}

	purchase, err := h.purchases.ConfirmPurchase(c.Request.Context(), subject(c), req.IntentID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchase": toPurchaseDTO(purchase)})
}

// handleWebhook отвечает не-2xx только на неверную подпись и сбой хранилища:
// на остальное процессор не должен слать повторы.
func (h *handlers) handleWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(c, http.StatusRequestEntityTooLarge, "payload_too_large", errBodyTooLarge.Error())
			return
		}
		writeProblem(c, http.StatusBadRequest, "validation_failed", "failed to read payload")
		return
	}

	result, err := h.webhooks.Handle(c.Request.Context(), payload, c.GetHeader(signatureHeader))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "eventId": result.EventID, "outcome": string(result.Outcome)})
}

func (h *handlers) balance(c *gin.Context) {
	balance, err := h.purchases.Balance(c.Request.Context(), subject(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{
		BalanceCents:     balance.AmountMinor,
		BalanceFormatted: balance.Formatted(),
		Currency:         balance.Currency,
	})
}

func (h *handlers) requestPayout(c *gin.Context) {
	var req payoutRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		writeProblem(c, http.StatusBadRequest, "validation_failed", "invalid request body")
		return
	}

	p, err := h.payouts.Request(c.Request.Context(), payout.RequestInput{
		AccountID:      subject(c),
		AmountMinor:    req.AmountCents,
		IdempotencyKey: idempotencyKey(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toPayoutResponse(p))
}

func (h *handlers) getPayout(c *gin.Context) {
	p, err := h.payouts.Get(c.Request.Context(), subject(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPayoutResponse(p))
}

func (h *handlers) listPurchases(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	list, err := h.purchases.ListPurchases(c.Request.Context(), subject(c), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	items := make([]purchaseDTO, 0, len(list))
	for _, p := range list {
		items = append(items, toPurchaseDTO(p))
	}
	c.JSON(http.StatusOK, gin.H{"purchases": items})
}

func (h *handlers) earnings(c *gin.Context) {
	earnings, err := h.purchases.Earnings(c.Request.Context(), subject(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, earningsResponse{
		TotalEarningsCents:     earnings.NetMinor,
		TotalEarningsFormatted: domain.FormatMinor(earnings.NetMinor, defaultCurrency),
		TotalSales:             earnings.TotalSales,
		GrossCents:             earnings.GrossMinor,
		PlatformFeeCents:       earnings.PlatformFeeMinor,
	})
}

func (h *handlers) ledger(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	entries, err := h.purchases.LedgerEntries(c.Request.Context(), subject(c), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	items := make([]ledgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		items = append(items, ledgerEntryDTO{
			ID:          e.ID,
			Kind:        string(e.Kind),
			AmountCents: e.AmountMinor,
			Currency:    e.Currency,
			ReferenceID: e.ReferenceID,
			CreatedAt:   e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": items})
}

func (h *handlers) intent(c *gin.Context) {
	view, err := h.purchases.GetIntent(c.Request.Context(), subject(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toIntentView(view))
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeProblem(c, http.StatusBadRequest, "validation_failed", "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}
