package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/paymentintent"
	"github.com/stripe/stripe-go/v80/refund"
	"github.com/stripe/stripe-go/v80/transfer"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

const (
	defaultWebhookTolerance = 5 * time.Minute
	defaultHTTPTimeout      = 30 * time.Second
)

// StripeConfig описывает подключение к Stripe.
type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	// BaseURL переопределяет адрес API (тесты, stripe-mock).
	BaseURL    string
	HTTPClient *http.Client
}

// Stripe - адаптер PaymentGateway и PayoutExecutor поверх stripe-go.
// Повторы делает Resilient, поэтому встроенные ретраи клиента отключены.
type Stripe struct {
	intents   *paymentintent.Client
	refunds   *refund.Client
	transfers *transfer.Client

	webhookSecret string
	tolerance     time.Duration
	logger        *log.Entry
}

// NewStripe создаёт адаптер с собственным backend, без глобального stripe.Key.
func NewStripe(cfg StripeConfig, logger *log.Entry) (*Stripe, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	if logger == nil {
		logger = log.New().WithField("component", "stripe-gateway")
	}
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = defaultWebhookTolerance
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		LeveledLogger:     logger,
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	return &Stripe{
		intents:       &paymentintent.Client{B: backend, Key: cfg.SecretKey},
		refunds:       &refund.Client{B: backend, Key: cfg.SecretKey},
		transfers:     &transfer.Client{B: backend, Key: cfg.SecretKey},
		webhookSecret: cfg.WebhookSecret,
		tolerance:     cfg.WebhookTolerance,
		logger:        logger,
	}, nil
}

// CreateIntent создаёт PaymentIntent; ключ идемпотентности уходит в заголовок Idempotency-Key.
func (s *Stripe) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (domain.GatewayIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := s.intents.New(params)
	if err != nil {
		return domain.GatewayIntent{}, classifyStripeError("create intent", err)
	}
	return domain.GatewayIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       intentStatus(pi),
	}, nil
}

// GetStatus читает авторитетный статус intent.
func (s *Stripe) GetStatus(ctx context.Context, intentID string) (domain.IntentStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := s.intents.Get(intentID, params)
	if err != nil {
		return "", classifyStripeError("get intent", err)
	}
	return intentStatus(pi), nil
}

// VerifyWebhookSignature проверяет заголовок Stripe-Signature с допуском по времени.
func (s *Stripe) VerifyWebhookSignature(payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, signature, s.webhookSecret, s.tolerance); err != nil {
		s.logger.WithError(err).Debug("webhook signature rejected")
		return false
	}
	return true
}

// ParseEvent разбирает проверенное событие.
func (s *Stripe) ParseEvent(payload []byte) (domain.GatewayEvent, error) {
	return DecodeEvent(payload)
}

// Refund возвращает полную сумму intent.
func (s *Stripe) Refund(ctx context.Context, intentID, idempotencyKey string) error {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	params.AddMetadata("reason", "duplicate_purchase")

	if _, err := s.refunds.New(params); err != nil {
		return classifyStripeError("refund", err)
	}
	return nil
}

// Supports сообщает, что Stripe платит только на подключённые аккаунты Connect.
func (s *Stripe) Supports(provider domain.PayoutProvider) bool {
	return provider == domain.PayoutProviderStripeConnect
}

// Execute переводит сумму выплаты на Connect-аккаунт продавца.
// Idempotency-Key = id заявки, поэтому повтор после таймаута не платит дважды.
func (s *Stripe) Execute(ctx context.Context, payout domain.PayoutRequest) (string, error) {
	if strings.TrimSpace(payout.Destination) == "" {
		return "", fmt.Errorf("%w: payout %s has no connect account", domain.ErrGatewayRejected, payout.ID)
	}

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(payout.AmountMinor),
		Currency:    stripe.String(strings.ToLower(payout.Currency)),
		Destination: stripe.String(payout.Destination),
	}
	params.Context = ctx
	params.SetIdempotencyKey(payout.ID)
	params.AddMetadata("payout_id", payout.ID)
	params.AddMetadata("account_id", payout.AccountID)

	tr, err := s.transfers.New(params)
	if err != nil {
		return "", classifyStripeError("transfer", err)
	}
	return tr.ID, nil
}

func intentStatus(pi *stripe.PaymentIntent) domain.IntentStatus {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.IntentStatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return domain.IntentStatusCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// Без ошибки прошлой попытки это просто ещё не оплаченный intent.
		if pi.LastPaymentError != nil {
			return domain.IntentStatusFailed
		}
	}
	return domain.IntentStatusCreated
}

// classifyStripeError разделяет недоступность (повторяемо) и явный отказ.
func classifyStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.Type == stripe.ErrorTypeAPI {
			return fmt.Errorf("%w: %s: %s", domain.ErrGatewayUnavailable, op, stripeErr.Msg)
		}
		return fmt.Errorf("%w: %s: %s", domain.ErrGatewayRejected, op, stripeErr.Msg)
	}
	// Сетевые ошибки и таймауты: ответа от Stripe не было.
	return fmt.Errorf("%w: %s: %v", domain.ErrGatewayUnavailable, op, err)
}

var (
	_ domain.PaymentGateway = (*Stripe)(nil)
	_ domain.PayoutExecutor = (*Stripe)(nil)
)
