package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/metrics"
)

// DefaultMinimumMinor - минимальная сумма выплаты ($10.00).
const DefaultMinimumMinor int64 = 1000

// RequestInput - запрос продавца на вывод средств.
type RequestInput struct {
	AccountID      string
	AmountMinor    int64
	IdempotencyKey string
}

// Service принимает и закрывает заявки на выплату.
type Service struct {
	catalog      domain.CatalogRepository
	ledger       domain.LedgerRepository
	minimumMinor int64
	metrics      *metrics.SettlementMetrics
	logger       *log.Entry
	now          func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithMinimum задаёт минимальную сумму выплаты.
func WithMinimum(minimumMinor int64) Option {
	return func(s *Service) {
		if minimumMinor > 0 {
			s.minimumMinor = minimumMinor
		}
	}
}

func WithMetrics(m *metrics.SettlementMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService создаёт сервис выплат.
func NewService(catalog domain.CatalogRepository, ledger domain.LedgerRepository, opts ...Option) *Service {
	s := &Service{
		catalog:      catalog,
		ledger:       ledger,
		minimumMinor: DefaultMinimumMinor,
		logger:       log.New().WithField("component", "payout"),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Minimum возвращает действующий минимум выплаты.
func (s *Service) Minimum() int64 {
	return s.minimumMinor
}

// Request списывает сумму с баланса и создаёт pending-заявку.
// Повтор с тем же ключом возвращает исходную заявку.
func (s *Service) Request(ctx context.Context, in RequestInput) (domain.PayoutRequest, error) {
	if in.AccountID == "" {
		return domain.PayoutRequest{}, domain.ErrAccountIDRequired
	}
	if in.AmountMinor <= 0 {
		return domain.PayoutRequest{}, domain.ErrAmountNotPositive
	}
	if in.AmountMinor < s.minimumMinor {
		return domain.PayoutRequest{}, fmt.Errorf("%w: %d < %d", domain.ErrBelowMinimum, in.AmountMinor, s.minimumMinor)
	}

	account, err := s.catalog.GetAccount(ctx, in.AccountID)
	if err != nil {
		return domain.PayoutRequest{}, err
	}
	currency := account.Currency
	if currency == "" {
		currency = "usd"
	}

	payout := domain.PayoutRequest{
		ID:             uuid.NewString(),
		AccountID:      account.ID,
		AmountMinor:    in.AmountMinor,
		Currency:       currency,
		Status:         domain.PayoutStatusPending,
		Provider:       account.PayoutProvider,
		Destination:    account.PayoutIdentity,
		IdempotencyKey: in.IdempotencyKey,
	}
	event, err := s.event(domain.EventPayoutRequested, payout)
	if err != nil {
		return domain.PayoutRequest{}, err
	}

	saved, err := s.ledger.CreatePayout(ctx, payout, []domain.OutboxMessage{event})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			s.metrics.RecordPayout("insufficient_balance", 0)
		}
		return domain.PayoutRequest{}, err
	}
	if saved.ID != payout.ID {
		return saved, nil
	}

	s.metrics.RecordPayout(string(domain.PayoutStatusPending), saved.AmountMinor)
	s.metrics.RecordOutboxEvent()
	s.logger.WithFields(log.Fields{
		"payout_id":  saved.ID,
		"account_id": saved.AccountID,
		"amount":     saved.AmountMinor,
		"provider":   saved.Provider,
	}).Info("payout requested")
	return saved, nil
}

// Resolve закрывает заявку как paid или rejected; rejected возвращает сумму на баланс.
func (s *Service) Resolve(ctx context.Context, payoutID string, status domain.PayoutStatus, externalRef, reason string) (domain.PayoutRequest, error) {
	if !status.Terminal() {
		return domain.PayoutRequest{}, fmt.Errorf("%w: target status %q", domain.ErrPayoutNotPending, status)
	}
	current, err := s.ledger.GetPayout(ctx, payoutID)
	if err != nil {
		return domain.PayoutRequest{}, err
	}
	if current.Status == status {
		return current, nil
	}

	resolved := current
	resolved.Status = status
	resolved.ExternalRef = externalRef
	resolved.FailureReason = reason
	eventType := domain.EventPayoutPaid
	if status == domain.PayoutStatusRejected {
		eventType = domain.EventPayoutRejected
	}
	event, err := s.event(eventType, resolved)
	if err != nil {
		return domain.PayoutRequest{}, err
	}

	saved, err := s.ledger.ResolvePayout(ctx, domain.PayoutResolution{
		PayoutID:    payoutID,
		Status:      status,
		ExternalRef: externalRef,
		Reason:      reason,
		Events:      []domain.OutboxMessage{event},
	})
	if err != nil {
		return saved, err
	}

	s.metrics.RecordPayout(string(status), saved.AmountMinor)
	s.metrics.RecordOutboxEvent()
	s.logger.WithFields(log.Fields{
		"payout_id":    saved.ID,
		"status":       saved.Status,
		"external_ref": externalRef,
		"reason":       reason,
	}).Info("payout resolved")
	return saved, nil
}

// Get возвращает заявку владельцу; чужая заявка даёт ErrForbidden.
func (s *Service) Get(ctx context.Context, accountID, payoutID string) (domain.PayoutRequest, error) {
	payout, err := s.ledger.GetPayout(ctx, payoutID)
	if err != nil {
		return domain.PayoutRequest{}, err
	}
	if payout.AccountID != accountID {
		return domain.PayoutRequest{}, domain.ErrForbidden
	}
	return payout, nil
}

func (s *Service) event(eventType string, p domain.PayoutRequest) (domain.OutboxMessage, error) {
	msg, err := domain.NewOutboxMessage(domain.AggregatePayout, p.ID, eventType, domain.PayoutEvent{
		PayoutID:    p.ID,
		AccountID:   p.AccountID,
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
		Status:      string(p.Status),
		Provider:    string(p.Provider),
		Destination: p.Destination,
		ExternalRef: p.ExternalRef,
		Reason:      p.FailureReason,
		OccurredAt:  s.now(),
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return msg, nil
}
