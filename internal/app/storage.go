package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/storage/memory"
	"github.com/vladislavdragonenkov/marketpay/internal/storage/postgres"
)

// runtimeDependencies - репозитории выбранного backend и хуки его жизненного цикла.
type runtimeDependencies struct {
	Catalog       domain.CatalogRepository
	Intents       domain.IntentRepository
	Ledger        domain.LedgerRepository
	WebhookEvents domain.WebhookEventRepository
	Outbox        domain.OutboxRepository
	Timeline      domain.TimelineRepository
	Idempotency   domain.IdempotencyRepository

	// Ping проверяет доступность хранилища; nil для памяти.
	Ping  func(ctx context.Context) error
	Close func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		outboxRepo := memory.NewOutboxRepository()
		store := memory.NewStore(outboxRepo)
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			Catalog:       store.Catalog(),
			Intents:       store.Intents(),
			Ledger:        store.Ledger(),
			WebhookEvents: store.WebhookEvents(),
			Outbox:        outboxRepo,
			Timeline:      memory.NewTimelineRepository(),
			Idempotency:   memory.NewIdempotencyRepository(),
			Close:         func() error { return nil },
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("migrate postgres schema: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}
		logger.Info("using postgres storage")
		return &runtimeDependencies{
			Catalog:       postgres.NewCatalogRepository(store),
			Intents:       postgres.NewIntentRepository(store),
			Ledger:        postgres.NewLedgerRepository(store),
			WebhookEvents: postgres.NewWebhookEventRepository(store),
			Outbox:        postgres.NewOutboxRepository(store),
			Timeline:      postgres.NewTimelineRepository(store),
			Idempotency:   postgres.NewIdempotencyRepository(store),
			Ping:          store.Ping,
			Close:         store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
