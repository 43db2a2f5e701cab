package settlement

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/metrics"
)

// Service ведёт покупку от создания intent до зачисления доли продавцу.
// Подтверждение клиента и вебхук процессора сходятся в одном пути Settle.
type Service struct {
	catalog  domain.CatalogRepository
	intents  domain.IntentRepository
	ledger   domain.LedgerRepository
	gateway  domain.PaymentGateway
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	fees     domain.FeePolicy
	metrics  *metrics.SettlementMetrics
	logger   *log.Entry
	now      func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithFeePolicy задаёт долю продавца по умолчанию.
func WithFeePolicy(policy domain.FeePolicy) Option {
	return func(s *Service) {
		if policy.Validate() == nil {
			s.fees = policy
		}
	}
}

// WithTimeline включает запись timeline intent.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(s *Service) { s.timeline = timeline }
}

// WithOutbox задаёт outbox для событий вне транзакции журнала (refund_required).
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) { s.outbox = outbox }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.SettlementMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет часы (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService собирает оркестратор покупок.
func NewService(
	catalog domain.CatalogRepository,
	intents domain.IntentRepository,
	ledger domain.LedgerRepository,
	gateway domain.PaymentGateway,
	opts ...Option,
) *Service {
	s := &Service{
		catalog: catalog,
		intents: intents,
		ledger:  ledger,
		gateway: gateway,
		fees:    domain.FeePolicy{SellerShare: domain.DefaultSellerShare},
		logger:  log.New().WithField("component", "settlement"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) appendTimeline(intentID, eventType, reason string) {
	if s.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		IntentID: intentID,
		Type:     eventType,
		Reason:   reason,
		Occurred: s.now(),
	}
	if err := s.timeline.Append(event); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"intent_id": intentID,
			"event":     eventType,
		}).Warn("append timeline event failed")
		return
	}
	s.metrics.RecordTimelineEvent()
}
