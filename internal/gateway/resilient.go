package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/metrics"
)

// RetryConfig - параметры повторов при недоступности процессора.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Resilient оборачивает PaymentGateway таймаутом на вызов, повторами с
// backoff и circuit breaker. Повторы идут с тем же ключом идемпотентности,
// поэтому процессор не создаёт дублей.
type Resilient struct {
	next    domain.PaymentGateway
	name    string
	timeout time.Duration
	retry   RetryConfig
	breaker *CircuitBreaker
	status  singleflight.Group
	metrics *metrics.SettlementMetrics
	logger  *log.Entry
	sleep   func(ctx context.Context, d time.Duration) error
}

// ResilientOption настраивает Resilient.
type ResilientOption func(*Resilient)

// WithCallTimeout ограничивает одну попытку вызова.
func WithCallTimeout(timeout time.Duration) ResilientOption {
	return func(r *Resilient) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithRetry задаёт политику повторов.
func WithRetry(cfg RetryConfig) ResilientOption {
	return func(r *Resilient) {
		if cfg.MaxAttempts > 0 {
			r.retry = cfg
		}
	}
}

// WithBreaker подключает circuit breaker.
func WithBreaker(breaker *CircuitBreaker) ResilientOption {
	return func(r *Resilient) { r.breaker = breaker }
}

// WithGatewayMetrics включает метрики вызовов.
func WithGatewayMetrics(m *metrics.SettlementMetrics) ResilientOption {
	return func(r *Resilient) { r.metrics = m }
}

// WithGatewayLogger задаёт логгер.
func WithGatewayLogger(logger *log.Entry) ResilientOption {
	return func(r *Resilient) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResilient оборачивает next. name используется в логах и метриках.
func NewResilient(next domain.PaymentGateway, name string, opts ...ResilientOption) *Resilient {
	r := &Resilient{
		next:    next,
		name:    name,
		timeout: 10 * time.Second,
		retry:   DefaultRetryConfig(),
		logger:  log.New().WithField("component", "gateway"),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithField("gateway", name)
	return r
}

func (r *Resilient) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (domain.GatewayIntent, error) {
	var result domain.GatewayIntent
	err := r.call(ctx, "create_intent", func(callCtx context.Context) error {
		var err error
		result, err = r.next.CreateIntent(callCtx, req)
		return err
	})
	return result, err
}

// GetStatus склеивает одновременные запросы статуса одного intent в один вызов.
// Общий вызов живёт по собственному бюджету и не обрывается, когда уходит
// инициатор; каждый ожидающий перестаёт ждать по своему ctx.
func (r *Resilient) GetStatus(ctx context.Context, intentID string) (domain.IntentStatus, error) {
	ch := r.status.DoChan(intentID, func() (any, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.sharedBudget())
		defer cancel()

		var status domain.IntentStatus
		err := r.call(sharedCtx, "get_status", func(callCtx context.Context) error {
			var err error
			status, err = r.next.GetStatus(callCtx, intentID)
			return err
		})
		return status, err
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: get_status: %v", domain.ErrGatewayUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(domain.IntentStatus), nil
	}
}

// sharedBudget покрывает все попытки и паузы между ними.
func (r *Resilient) sharedBudget() time.Duration {
	attempts := max(r.retry.MaxAttempts, 1)
	pause := r.retry.MaxDelay
	if pause <= 0 {
		pause = r.retry.InitialDelay
	}
	return time.Duration(attempts)*r.timeout + time.Duration(attempts-1)*pause
}

func (r *Resilient) VerifyWebhookSignature(payload []byte, signature string) bool {
	return r.next.VerifyWebhookSignature(payload, signature)
}

func (r *Resilient) ParseEvent(payload []byte) (domain.GatewayEvent, error) {
	return r.next.ParseEvent(payload)
}

func (r *Resilient) Refund(ctx context.Context, intentID, idempotencyKey string) error {
	return r.call(ctx, "refund", func(callCtx context.Context) error {
		return r.next.Refund(callCtx, intentID, idempotencyKey)
	})
}

func (r *Resilient) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	attempts := r.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := r.retry.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if r.breaker != nil {
			if err := r.breaker.Allow(); err != nil {
				r.metrics.ObserveGatewayCall(operation, "circuit_open", 0)
				return fmt.Errorf("%w: %s: %v", domain.ErrGatewayUnavailable, operation, err)
			}
		}

		start := time.Now()
		err := r.attempt(ctx, fn)
		r.metrics.ObserveGatewayCall(operation, resultLabel(err), time.Since(start))

		unavailable := domain.IsGatewayUnavailable(err)
		if r.breaker != nil {
			r.breaker.Record(unavailable)
		}
		if err == nil {
			if attempt > 1 {
				r.logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("gateway call succeeded after retry")
			}
			return nil
		}

		lastErr = err
		if !unavailable || attempt == attempts || ctx.Err() != nil {
			break
		}

		r.logger.WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay,
			"error":     err,
		}).Warn("gateway unavailable, retrying")
		if err := r.sleep(ctx, delay); err != nil {
			break
		}
		delay = time.Duration(float64(delay) * r.retry.BackoffFactor)
		if r.retry.MaxDelay > 0 && delay > r.retry.MaxDelay {
			delay = r.retry.MaxDelay
		}
	}
	return lastErr
}

// attempt выполняет одну попытку с таймаутом. Истечение таймаута попытки
// считается недоступностью, а не отказом.
func (r *Resilient) attempt(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if domain.IsGatewayUnavailable(err) || errors.Is(err, domain.ErrGatewayRejected) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsGatewayUnavailable(err):
		return "unavailable"
	case errors.Is(err, domain.ErrGatewayRejected):
		return "rejected"
	default:
		return "error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ domain.PaymentGateway = (*Resilient)(nil)
