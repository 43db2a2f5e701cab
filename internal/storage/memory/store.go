package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

// Store держит всё состояние журнала под одним мьютексом.
// Покупка, зачисление, списание и возврат выполняются под ним целиком,
// поэтому частичное применение не наблюдаемо.
type Store struct {
	mu sync.RWMutex

	items    map[string]domain.Item
	accounts map[string]domain.Account

	intents    map[string]domain.PaymentIntent
	intentKeys map[string]string

	purchases        map[string]domain.Purchase
	purchaseByIntent map[string]string
	purchaseByOwner  map[string]string

	entries    map[string][]domain.LedgerEntry
	payouts    map[string]domain.PayoutRequest
	payoutKeys map[string]string

	webhooks map[string]domain.WebhookEvent

	outbox domain.OutboxRepository
	now    func() time.Time
}

// NewStore создаёт пустое in-memory хранилище. События outbox пишутся в переданный репозиторий.
func NewStore(outbox domain.OutboxRepository) *Store {
	if outbox == nil {
		outbox = NewOutboxRepository()
	}
	return &Store{
		items:            make(map[string]domain.Item),
		accounts:         make(map[string]domain.Account),
		intents:          make(map[string]domain.PaymentIntent),
		intentKeys:       make(map[string]string),
		purchases:        make(map[string]domain.Purchase),
		purchaseByIntent: make(map[string]string),
		purchaseByOwner:  make(map[string]string),
		entries:          make(map[string][]domain.LedgerEntry),
		payouts:          make(map[string]domain.PayoutRequest),
		payoutKeys:       make(map[string]string),
		webhooks:         make(map[string]domain.WebhookEvent),
		outbox:           outbox,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Catalog возвращает репозиторий товаров и аккаунтов поверх хранилища.
func (s *Store) Catalog() domain.CatalogRepository {
	return &catalogRepositoryInMemory{store: s}
}

// Intents возвращает репозиторий payment intents.
func (s *Store) Intents() domain.IntentRepository {
	return &intentRepositoryInMemory{store: s}
}

// Ledger возвращает журнал балансов, покупок и выплат.
func (s *Store) Ledger() domain.LedgerRepository {
	return &ledgerRepositoryInMemory{store: s}
}

// WebhookEvents возвращает репозиторий событий процессора.
func (s *Store) WebhookEvents() domain.WebhookEventRepository {
	return &webhookEventRepositoryInMemory{store: s}
}

func compositeKey(a, b string) string {
	return a + "\x00" + b
}

// enqueueLocked пишет события в outbox; вызывается под s.mu.
func (s *Store) enqueueLocked(events []domain.OutboxMessage) error {
	for _, event := range events {
		if _, err := s.outbox.Enqueue(event); err != nil {
			return err
		}
	}
	return nil
}
