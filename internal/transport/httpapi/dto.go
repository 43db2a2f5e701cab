package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/service/settlement"
)

const defaultCurrency = "usd"

type createIntentRequest struct {
	ItemID string `json:"itemId"`
}

type createIntentResponse struct {
	IntentID     string `json:"intentId"`
	ClientSecret string `json:"clientSecret"`
	AmountCents  int64  `json:"amountCents"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

type confirmRequest struct {
	IntentID string `json:"intentId"`
}

type payoutRequestBody struct {
	AmountCents int64 `json:"amountCents"`
}

type purchaseDTO struct {
	ID                string    `json:"id"`
	ItemID            string    `json:"itemId"`
	BuyerID           string    `json:"buyerId"`
	SellerID          string    `json:"sellerId"`
	IntentID          string    `json:"intentId"`
	AmountPaidCents   int64     `json:"amountPaidCents"`
	SellerAmountCents int64     `json:"sellerAmountCents"`
	PlatformFeeCents  int64     `json:"platformFeeCents"`
	Currency          string    `json:"currency"`
	Source            string    `json:"source"`
	CreatedAt         time.Time `json:"createdAt"`
}

func toPurchaseDTO(p domain.Purchase) purchaseDTO {
	return purchaseDTO{
		ID:                p.ID,
		ItemID:            p.ItemID,
		BuyerID:           p.BuyerID,
		SellerID:          p.SellerID,
		IntentID:          p.IntentID,
		AmountPaidCents:   p.AmountPaidMinor,
		SellerAmountCents: p.SellerAmountMinor,
		PlatformFeeCents:  p.PlatformFeeMinor,
		Currency:          p.Currency,
		Source:            string(p.Source),
		CreatedAt:         p.CreatedAt,
	}
}

type intentDTO struct {
	ID          string    `json:"id"`
	ItemID      string    `json:"itemId"`
	SellerID    string    `json:"sellerId"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type timelineEventDTO struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type intentViewResponse struct {
	Intent   intentDTO          `json:"intent"`
	Purchase *purchaseDTO       `json:"purchase"`
	Timeline []timelineEventDTO `json:"timeline"`
}

func toIntentView(view settlement.IntentView) intentViewResponse {
	resp := intentViewResponse{
		Intent: intentDTO{
			ID:          view.Intent.ID,
			ItemID:      view.Intent.ItemID,
			SellerID:    view.Intent.SellerID,
			AmountCents: view.Intent.AmountMinor,
			Currency:    view.Intent.Currency,
			Status:      string(view.Intent.Status),
			CreatedAt:   view.Intent.CreatedAt,
			UpdatedAt:   view.Intent.UpdatedAt,
		},
		Timeline: make([]timelineEventDTO, 0, len(view.Timeline)),
	}
	if view.Purchase != nil {
		p := toPurchaseDTO(*view.Purchase)
		resp.Purchase = &p
	}
	for _, event := range view.Timeline {
		resp.Timeline = append(resp.Timeline, timelineEventDTO{Type: event.Type, Reason: event.Reason, Occurred: event.Occurred})
	}
	return resp
}

type balanceResponse struct {
	BalanceCents     int64  `json:"balanceCents"`
	BalanceFormatted string `json:"balanceFormatted"`
	Currency         string `json:"currency"`
}

type earningsResponse struct {
	TotalEarningsCents     int64  `json:"totalEarningsCents"`
	TotalEarningsFormatted string `json:"totalEarningsFormatted"`
	TotalSales             int64  `json:"totalSales"`
	GrossCents             int64  `json:"grossCents"`
	PlatformFeeCents       int64  `json:"platformFeeCents"`
}

type ledgerEntryDTO struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	ReferenceID string    `json:"referenceId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type payoutResponse struct {
	PayoutRequestID string     `json:"payoutRequestId"`
	Status          string     `json:"status"`
	AmountCents     int64      `json:"amountCents"`
	Currency        string     `json:"currency"`
	Provider        string     `json:"provider"`
	ExternalRef     string     `json:"externalRef,omitempty"`
	FailureReason   string     `json:"failureReason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}

func toPayoutResponse(p domain.PayoutRequest) payoutResponse {
	resp := payoutResponse{
		PayoutRequestID: p.ID,
		Status:          string(p.Status),
		AmountCents:     p.AmountMinor,
		Currency:        p.Currency,
		Provider:        string(p.Provider),
		ExternalRef:     p.ExternalRef,
		FailureReason:   p.FailureReason,
		CreatedAt:       p.CreatedAt,
	}
	if !p.UpdatedAt.IsZero() {
		updated := p.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}
