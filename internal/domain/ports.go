package domain

import (
	"context"
	"time"
)

// CreateIntentRequest - параметры создания intent у процессора.
type CreateIntentRequest struct {
	AmountMinor    int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// GatewayIntent - ответ процессора на создание intent.
type GatewayIntent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
}

// PaymentGateway описывает внешний платёжный процессор.
// Реализация обязана ограничивать вызовы таймаутом и различать
// недоступность (ErrGatewayUnavailable) и явный отказ (ErrGatewayRejected).
type PaymentGateway interface {
	// CreateIntent создаёт intent; повтор с тем же ключом возвращает тот же intent.
	CreateIntent(ctx context.Context, req CreateIntentRequest) (GatewayIntent, error)
	// GetStatus возвращает авторитетный статус intent.
	GetStatus(ctx context.Context, intentID string) (IntentStatus, error)
	// VerifyWebhookSignature проверяет подпись тела вебхука.
	VerifyWebhookSignature(payload []byte, signature string) bool
	// ParseEvent разбирает уже проверенное тело вебхука.
	ParseEvent(payload []byte) (GatewayEvent, error)
	// Refund возвращает деньги по успешному intent.
	Refund(ctx context.Context, intentID, idempotencyKey string) error
}

// PayoutExecutor исполняет выплату во внешней системе.
type PayoutExecutor interface {
	// Supports сообщает, умеет ли исполнитель платить этому провайдеру.
	Supports(provider PayoutProvider) bool
	// Execute переводит деньги; повтор с тем же payout.ID не должен платить дважды.
	Execute(ctx context.Context, payout PayoutRequest) (externalRef string, err error)
}

// CatalogRepository - локальная проекция каталога и аккаунтов маркетплейса.
type CatalogRepository interface {
	GetItem(ctx context.Context, id string) (Item, error)
	UpsertItem(ctx context.Context, item Item) error
	GetAccount(ctx context.Context, id string) (Account, error)
	UpsertAccount(ctx context.Context, account Account) error
}

// IntentRepository хранит payment intents.
type IntentRepository interface {
	// Create сохраняет intent; при конфликте по id или (buyer, key) возвращает
	// существующий intent и ErrIntentAlreadyExists.
	Create(ctx context.Context, intent PaymentIntent) (PaymentIntent, error)
	Get(ctx context.Context, id string) (PaymentIntent, error)
	GetByIdempotencyKey(ctx context.Context, buyerID, key string) (PaymentIntent, error)
	// UpdateStatus переводит intent в терминальный статус (идемпотентно).
	UpdateStatus(ctx context.Context, id string, status IntentStatus) (PaymentIntent, error)
}

// LedgerRepository - журнал балансов, покупок и выплат.
// Все изменения баланса одного аккаунта сериализуются.
type LedgerRepository interface {
	// SettlePurchase атомарно помечает intent успешным, создаёт покупку,
	// зачисляет долю продавцу, увеличивает счётчики товара и пишет outbox.
	// Если покупка по intent уже есть, возвращает её и created=false.
	SettlePurchase(ctx context.Context, settlement Settlement) (purchase Purchase, created bool, err error)
	FindPurchaseByIntent(ctx context.Context, intentID string) (Purchase, error)
	FindPurchaseByBuyerItem(ctx context.Context, buyerID, itemID string) (Purchase, error)
	ListPurchasesByBuyer(ctx context.Context, buyerID string, limit int) ([]Purchase, error)
	SellerEarnings(ctx context.Context, sellerID string) (Earnings, error)

	Balance(ctx context.Context, accountID string) (int64, error)
	ListEntries(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error)

	// CreatePayout атомарно списывает баланс и создаёт pending-заявку.
	CreatePayout(ctx context.Context, payout PayoutRequest, events []OutboxMessage) (PayoutRequest, error)
	// ResolvePayout закрывает заявку; rejected возвращает сумму на баланс.
	ResolvePayout(ctx context.Context, resolution PayoutResolution) (PayoutRequest, error)
	GetPayout(ctx context.Context, id string) (PayoutRequest, error)
	ListPendingPayouts(ctx context.Context, limit int) ([]PayoutRequest, error)
}

// WebhookEventRepository хранит принятые события процессора.
type WebhookEventRepository interface {
	Get(ctx context.Context, id string) (WebhookEvent, error)
	// Record сохраняет событие; повторная запись того же id не меняет исход.
	Record(ctx context.Context, event WebhookEvent) (WebhookEvent, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла intent.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(intentID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
