package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

// Операции fake-процессора для подсчёта вызовов и инъекции ошибок.
const (
	OpCreateIntent = "create_intent"
	OpGetStatus    = "get_status"
	OpRefund       = "refund"
	OpTransfer     = "transfer"
)

// DefaultFakeWebhookSecret - секрет подписи вебхуков в dev-режиме.
const DefaultFakeWebhookSecret = "whsec_marketpay_dev"

// Fake - in-memory процессор для dev-режима и тестов. Подписывает события
// той же схемой, что и Stripe, поэтому проверка подписи одинакова.
type Fake struct {
	mu sync.Mutex

	intents     map[string]domain.PaymentIntent
	intentByKey map[string]string
	refundKeys  map[string]string
	refunded    map[string]int
	transfers   map[string]string

	failures map[string][]error
	calls    map[string]int

	webhookSecret string
	autoSucceed   bool
}

// FakeOption настраивает Fake.
type FakeOption func(*Fake)

// WithAutoSucceed делает каждый новый intent сразу успешным (dev без фронтенда).
func WithAutoSucceed() FakeOption {
	return func(f *Fake) { f.autoSucceed = true }
}

// WithWebhookSecret задаёт секрет подписи вебхуков.
func WithWebhookSecret(secret string) FakeOption {
	return func(f *Fake) {
		if secret != "" {
			f.webhookSecret = secret
		}
	}
}

// NewFake создаёт пустой fake-процессор.
func NewFake(opts ...FakeOption) *Fake {
	f := &Fake{
		intents:       make(map[string]domain.PaymentIntent),
		intentByKey:   make(map[string]string),
		refundKeys:    make(map[string]string),
		refunded:      make(map[string]int),
		transfers:     make(map[string]string),
		failures:      make(map[string][]error),
		calls:         make(map[string]int),
		webhookSecret: DefaultFakeWebhookSecret,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FailNext ставит в очередь ошибку для следующего вызова операции.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], err)
}

// Calls возвращает число вызовов операции.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Refunds возвращает число фактических возвратов по intent.
func (f *Fake) Refunds(intentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refunded[intentID]
}

// SetStatus имитирует действие покупателя или процессора над intent.
func (f *Fake) SetStatus(intentID string, status domain.IntentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	intent, ok := f.intents[intentID]
	if !ok {
		return domain.ErrIntentNotFound
	}
	intent.Status = status
	f.intents[intentID] = intent
	return nil
}

// begin учитывает вызов и возвращает инъецированную ошибку; вызывается под f.mu.
func (f *Fake) begin(ctx context.Context, op string) error {
	f.calls[op]++
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrGatewayUnavailable, op, err)
	}
	if queue := f.failures[op]; len(queue) > 0 {
		f.failures[op] = queue[1:]
		return queue[0]
	}
	return nil
}

func (f *Fake) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (domain.GatewayIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.begin(ctx, OpCreateIntent); err != nil {
		return domain.GatewayIntent{}, err
	}
	if req.AmountMinor <= 0 {
		return domain.GatewayIntent{}, fmt.Errorf("%w: amount must be positive", domain.ErrGatewayRejected)
	}
	if req.IdempotencyKey != "" {
		if id, ok := f.intentByKey[req.IdempotencyKey]; ok {
			return toGatewayIntent(f.intents[id]), nil
		}
	}

	id := "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	status := domain.IntentStatusCreated
	if f.autoSucceed {
		status = domain.IntentStatusSucceeded
	}
	intent := domain.PaymentIntent{
		ID:           id,
		ItemID:       req.Metadata["item_id"],
		BuyerID:      req.Metadata["buyer_id"],
		SellerID:     req.Metadata["seller_id"],
		AmountMinor:  req.AmountMinor,
		Currency:     strings.ToLower(req.Currency),
		Status:       status,
		ClientSecret: id + "_secret_" + uuid.NewString()[:8],
	}
	f.intents[id] = intent
	if req.IdempotencyKey != "" {
		f.intentByKey[req.IdempotencyKey] = id
	}
	return toGatewayIntent(intent), nil
}

func (f *Fake) GetStatus(ctx context.Context, intentID string) (domain.IntentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.begin(ctx, OpGetStatus); err != nil {
		return "", err
	}
	intent, ok := f.intents[intentID]
	if !ok {
		return "", fmt.Errorf("%w: no such payment intent %s", domain.ErrGatewayRejected, intentID)
	}
	return intent.Status, nil
}

func (f *Fake) VerifyWebhookSignature(payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	return webhook.ValidatePayloadWithTolerance(payload, signature, f.webhookSecret, defaultWebhookTolerance) == nil
}

func (f *Fake) ParseEvent(payload []byte) (domain.GatewayEvent, error) {
	return DecodeEvent(payload)
}

func (f *Fake) Refund(ctx context.Context, intentID, idempotencyKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.begin(ctx, OpRefund); err != nil {
		return err
	}
	intent, ok := f.intents[intentID]
	if !ok {
		return fmt.Errorf("%w: no such payment intent %s", domain.ErrGatewayRejected, intentID)
	}
	if intent.Status != domain.IntentStatusSucceeded {
		return fmt.Errorf("%w: intent %s is not succeeded", domain.ErrGatewayRejected, intentID)
	}
	if idempotencyKey != "" {
		if _, seen := f.refundKeys[idempotencyKey]; seen {
			return nil
		}
		f.refundKeys[idempotencyKey] = intentID
	}
	f.refunded[intentID]++
	return nil
}

// Supports: fake исполняет только Stripe Connect, как и настоящий адаптер.
func (f *Fake) Supports(provider domain.PayoutProvider) bool {
	return provider == domain.PayoutProviderStripeConnect
}

// Execute имитирует перевод; повтор с тем же payout.ID возвращает тот же перевод.
func (f *Fake) Execute(ctx context.Context, payout domain.PayoutRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.begin(ctx, OpTransfer); err != nil {
		return "", err
	}
	if ref, ok := f.transfers[payout.ID]; ok {
		return ref, nil
	}
	if strings.TrimSpace(payout.Destination) == "" {
		return "", fmt.Errorf("%w: payout %s has no connect account", domain.ErrGatewayRejected, payout.ID)
	}
	ref := "tr_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	f.transfers[payout.ID] = ref
	return ref, nil
}

// SignedEvent собирает подписанный вебхук о текущем состоянии intent.
// Возвращает тело и значение заголовка Stripe-Signature.
func (f *Fake) SignedEvent(eventID, eventType, intentID string) ([]byte, string, error) {
	f.mu.Lock()
	intent, ok := f.intents[intentID]
	f.mu.Unlock()
	if !ok {
		intent = domain.PaymentIntent{ID: intentID, AmountMinor: 1, Currency: "usd"}
	}

	payload, err := EncodeIntentEvent(eventID, eventType, intent)
	if err != nil {
		return nil, "", err
	}
	return payload, f.Sign(payload), nil
}

// Sign подписывает произвольное тело секретом fake-процессора.
func (f *Fake) Sign(payload []byte) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  f.webhookSecret,
	})
	return signed.Header
}

func toGatewayIntent(intent domain.PaymentIntent) domain.GatewayIntent {
	return domain.GatewayIntent{ID: intent.ID, ClientSecret: intent.ClientSecret, Status: intent.Status}
}

var (
	_ domain.PaymentGateway = (*Fake)(nil)
	_ domain.PayoutExecutor = (*Fake)(nil)
)
