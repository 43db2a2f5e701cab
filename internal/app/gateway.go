package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/gateway"
	"github.com/vladislavdragonenkov/marketpay/internal/metrics"
)

// gatewayStack - процессор, обёрнутый повторами и breaker, и исполнители выплат.
type gatewayStack struct {
	Gateway   domain.PaymentGateway
	Breaker   *gateway.CircuitBreaker
	Executors []domain.PayoutExecutor
	// Fake заполнен только для fake-драйвера.
	Fake *gateway.Fake
}

func initGateway(cfg Config, m *metrics.SettlementMetrics, logger *log.Entry) (*gatewayStack, error) {
	var (
		raw      domain.PaymentGateway
		executor domain.PayoutExecutor
		fake     *gateway.Fake
	)

	switch cfg.Gateway.Driver {
	case GatewayDriverFake, "":
		var opts []gateway.FakeOption
		if cfg.Gateway.FakeAutoSucceed {
			opts = append(opts, gateway.WithAutoSucceed())
		}
		if cfg.Stripe.WebhookSecret != "" {
			opts = append(opts, gateway.WithWebhookSecret(cfg.Stripe.WebhookSecret))
		}
		fake = gateway.NewFake(opts...)
		raw, executor = fake, fake
		logger.WithField("auto_succeed", cfg.Gateway.FakeAutoSucceed).Warn("using fake payment gateway")

	case GatewayDriverStripe:
		stripeGateway, err := gateway.NewStripe(gateway.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			BaseURL:       cfg.Stripe.BaseURL,
		}, logger.WithField("component", "stripe-gateway"))
		if err != nil {
			return nil, fmt.Errorf("init stripe gateway: %w", err)
		}
		raw, executor = stripeGateway, stripeGateway

	default:
		return nil, fmt.Errorf("unsupported gateway driver %q", cfg.Gateway.Driver)
	}

	name := string(cfg.Gateway.Driver)
	if name == "" {
		name = string(GatewayDriverFake)
	}
	breakerLogger := logger.WithField("component", "circuit-breaker")
	breaker := gateway.NewCircuitBreaker(cfg.Gateway.BreakerFailures, cfg.Gateway.BreakerReset, func(state gateway.CircuitState) {
		m.SetBreakerOpen(name, state == gateway.CircuitOpen)
	}, breakerLogger)

	retry := gateway.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Gateway.MaxAttempts
	if cfg.Gateway.RetryInitialDelay > 0 {
		retry.InitialDelay = cfg.Gateway.RetryInitialDelay
	}

	resilient := gateway.NewResilient(raw, name,
		gateway.WithCallTimeout(cfg.Gateway.CallTimeout),
		gateway.WithRetry(retry),
		gateway.WithBreaker(breaker),
		gateway.WithGatewayMetrics(m),
		gateway.WithGatewayLogger(logger.WithField("component", "gateway")),
	)

	return &gatewayStack{
		Gateway:   resilient,
		Breaker:   breaker,
		Executors: []domain.PayoutExecutor{executor},
		Fake:      fake,
	}, nil
}
