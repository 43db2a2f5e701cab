package payout

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 50
)

var (
	payoutExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketpay_payout_executions_total",
		Help: "Payout execution attempts grouped by result.",
	}, []string{"result"})
	payoutPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketpay_payout_pending_records",
		Help: "Pending payout requests seen by the last worker cycle.",
	})
)

// Resolver закрывает заявки; реализуется Service.
type Resolver interface {
	Resolve(ctx context.Context, payoutID string, status domain.PayoutStatus, externalRef, reason string) (domain.PayoutRequest, error)
}

// WorkerOptions задаёт параметры воркера выплат.
type WorkerOptions struct {
	Logger       *log.Entry
	PollInterval time.Duration
	BatchSize    int
}

// WorkerOption настраивает Worker.
type WorkerOption func(*WorkerOptions)

func WithWorkerLogger(logger *log.Entry) WorkerOption {
	return func(opts *WorkerOptions) { opts.Logger = logger }
}

func WithPollInterval(interval time.Duration) WorkerOption {
	return func(opts *WorkerOptions) { opts.PollInterval = interval }
}

func WithBatchSize(batchSize int) WorkerOption {
	return func(opts *WorkerOptions) { opts.BatchSize = batchSize }
}

// Worker исполняет pending-выплаты через подходящего исполнителя.
// Заявки провайдеров без исполнителя ждут результата из Kafka.
type Worker struct {
	ledger       domain.LedgerRepository
	resolver     Resolver
	executors    []domain.PayoutExecutor
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
}

// NewWorker создаёт воркер выплат.
func NewWorker(ledger domain.LedgerRepository, resolver Resolver, executors []domain.PayoutExecutor, options ...WorkerOption) *Worker {
	opts := WorkerOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "payout-worker")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Worker{
		ledger:       ledger,
		resolver:     resolver,
		executors:    executors,
		logger:       logger,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
	}
}

// Run опрашивает pending-заявки до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.ledger == nil || w.resolver == nil || len(w.executors) == 0 {
		w.logger.Warn("payout worker is disabled: no ledger, resolver or executors")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл исполнения.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	pending, err := w.ledger.ListPendingPayouts(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to list pending payouts")
		return
	}
	payoutPendingRecords.Set(float64(len(pending)))

	for _, payout := range pending {
		if ctx.Err() != nil {
			return
		}
		w.execute(ctx, payout)
	}
}

func (w *Worker) execute(ctx context.Context, payout domain.PayoutRequest) {
	logger := w.logger.WithFields(log.Fields{
		"payout_id": payout.ID,
		"provider":  payout.Provider,
	})

	executor := w.executorFor(payout.Provider)
	if executor == nil {
		payoutExecutions.WithLabelValues("skipped").Inc()
		logger.Debug("no executor for payout provider, waiting for external result")
		return
	}

	ref, err := executor.Execute(ctx, payout)
	switch {
	case err == nil:
		if _, err := w.resolver.Resolve(ctx, payout.ID, domain.PayoutStatusPaid, ref, ""); err != nil {
			payoutExecutions.WithLabelValues("resolve_error").Inc()
			logger.WithError(err).Error("failed to mark payout as paid")
			return
		}
		payoutExecutions.WithLabelValues("paid").Inc()
	case errors.Is(err, domain.ErrGatewayRejected):
		if _, resolveErr := w.resolver.Resolve(ctx, payout.ID, domain.PayoutStatusRejected, "", err.Error()); resolveErr != nil {
			payoutExecutions.WithLabelValues("resolve_error").Inc()
			logger.WithError(resolveErr).Error("failed to mark payout as rejected")
			return
		}
		payoutExecutions.WithLabelValues("rejected").Inc()
		logger.WithError(err).Warn("payout rejected, balance restored")
	default:
		payoutExecutions.WithLabelValues("retry").Inc()
		logger.WithError(err).Warn("payout execution failed, will retry")
	}
}

func (w *Worker) executorFor(provider domain.PayoutProvider) domain.PayoutExecutor {
	for _, executor := range w.executors {
		if executor != nil && executor.Supports(provider) {
			return executor
		}
	}
	return nil
}
