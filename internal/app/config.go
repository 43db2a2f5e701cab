package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/transport/httpapi"
)

const envPrefix = "MARKETPAY_"

// StorageDriver задаёт backend хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// GatewayDriver задаёт платёжный процессор.
type GatewayDriver string

const (
	GatewayDriverFake   GatewayDriver = "fake"
	GatewayDriverStripe GatewayDriver = "stripe"
)

// Config описывает настройки запуска сервиса. Значения по умолчанию берутся
// из DefaultConfig, переменные окружения MARKETPAY_* их переопределяют.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR"`
	GRPCAddr    string `env:"GRPC_ADDR"`
	MetricsAddr string `env:"METRICS_ADDR"`
	LogLevel    string `env:"LOG_LEVEL"`
	LogFormat   string `env:"LOG_FORMAT"`

	StorageDriver       StorageDriver `env:"STORAGE_DRIVER"`
	PostgresDSN         string        `env:"POSTGRES_DSN"`
	PostgresAutoMigrate bool          `env:"POSTGRES_AUTO_MIGRATE"`

	Gateway GatewayConfig `envPrefix:"GATEWAY_"`
	Stripe  StripeConfig  `envPrefix:"STRIPE_"`

	SellerShare        decimal.Decimal `env:"SELLER_SHARE"`
	PayoutMinimumMinor int64           `env:"PAYOUT_MINIMUM_MINOR"`
	Payout             PayoutConfig    `envPrefix:"PAYOUT_"`

	Auth AuthConfig `envPrefix:"AUTH_"`

	Kafka              KafkaConfig              `envPrefix:"KAFKA_"`
	Outbox             OutboxConfig             `envPrefix:"OUTBOX_"`
	Idempotency        IdempotencyConfig        `envPrefix:"IDEMPOTENCY_"`
	IdempotencyCleanup IdempotencyCleanupConfig `envPrefix:"IDEMPOTENCY_CLEANUP_"`

	SeedDemo bool `env:"SEED_DEMO"`
}

// GatewayConfig - выбор процессора и параметры устойчивости вызовов.
type GatewayConfig struct {
	Driver            GatewayDriver `env:"DRIVER"`
	FakeAutoSucceed   bool          `env:"FAKE_AUTO_SUCCEED"`
	CallTimeout       time.Duration `env:"CALL_TIMEOUT"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS"`
	RetryInitialDelay time.Duration `env:"RETRY_INITIAL_DELAY"`
	BreakerFailures   int           `env:"BREAKER_MAX_FAILURES"`
	BreakerReset      time.Duration `env:"BREAKER_RESET_TIMEOUT"`
}

// StripeConfig - ключи Stripe.
type StripeConfig struct {
	SecretKey     string `env:"SECRET_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	BaseURL       string `env:"BASE_URL"`
}

// PayoutConfig - параметры воркера выплат.
type PayoutConfig struct {
	PollInterval time.Duration `env:"POLL_INTERVAL"`
	BatchSize    int           `env:"BATCH_SIZE"`
}

// AuthConfig - аутентификация пользователей HTTP API.
type AuthConfig struct {
	Mode          string `env:"MODE"`
	JWTSecret     string `env:"JWT_SECRET"`
	JWTIssuer     string `env:"JWT_ISSUER"`
	SubjectHeader string `env:"SUBJECT_HEADER"`
}

// KafkaConfig - брокеры и consumer результатов выплат. Пустой список брокеров отключает Kafka.
type KafkaConfig struct {
	Brokers       []string `env:"BROKERS" envSeparator:","`
	ConsumerGroup string   `env:"CONSUMER_GROUP"`
	MaxRetries    int      `env:"MAX_RETRIES"`
}

// OutboxConfig - параметры публикации transactional outbox.
type OutboxConfig struct {
	PollInterval time.Duration `env:"POLL_INTERVAL"`
	BatchSize    int           `env:"BATCH_SIZE"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS"`
	RetryDelay   time.Duration `env:"RETRY_DELAY"`
	// MaxPending - порог backlog, выше которого готовность деградирует.
	MaxPending int `env:"MAX_PENDING"`
}

// IdempotencyConfig - хранение ответов по Idempotency-Key.
type IdempotencyConfig struct {
	TTL time.Duration `env:"TTL"`
}

// IdempotencyCleanupConfig - очистка просроченных ключей.
type IdempotencyCleanupConfig struct {
	Interval  time.Duration `env:"INTERVAL"`
	BatchSize int           `env:"BATCH_SIZE"`
}

// DefaultConfig возвращает настройки для локального запуска: память, fake-процессор.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:      ":8080",
		GRPCAddr:      ":50051",
		MetricsAddr:   ":9090",
		LogLevel:      "info",
		LogFormat:     "text",
		StorageDriver: StorageDriverMemory,
		Gateway: GatewayConfig{
			Driver:            GatewayDriverFake,
			CallTimeout:       10 * time.Second,
			MaxAttempts:       3,
			RetryInitialDelay: 200 * time.Millisecond,
			BreakerFailures:   5,
			BreakerReset:      30 * time.Second,
		},
		SellerShare:        domain.DefaultSellerShare,
		PayoutMinimumMinor: 1000,
		Payout: PayoutConfig{
			PollInterval: 5 * time.Second,
			BatchSize:    50,
		},
		Auth: AuthConfig{
			Mode:          string(httpapi.AuthModeJWT),
			SubjectHeader: "X-User-ID",
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "marketpay-payout-results",
			MaxRetries:    3,
		},
		Outbox: OutboxConfig{
			PollInterval: time.Second,
			BatchSize:    100,
			MaxAttempts:  3,
			RetryDelay:   100 * time.Millisecond,
			MaxPending:   1000,
		},
		Idempotency: IdempotencyConfig{TTL: 24 * time.Hour},
		IdempotencyCleanup: IdempotencyCleanupConfig{
			Interval:  time.Minute,
			BatchSize: 500,
		},
	}
}

// LoadConfig читает MARKETPAY_* поверх DefaultConfig и проверяет результат.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.StorageDriver = StorageDriver(strings.ToLower(strings.TrimSpace(string(c.StorageDriver))))
	c.Gateway.Driver = GatewayDriver(strings.ToLower(strings.TrimSpace(string(c.Gateway.Driver))))
	c.Auth.Mode = strings.ToLower(strings.TrimSpace(c.Auth.Mode))

	brokers := c.Kafka.Brokers[:0]
	for _, broker := range c.Kafka.Brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	c.Kafka.Brokers = brokers
}

// Validate возвращает все найденные ошибки конфигурации разом.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	if strings.TrimSpace(c.MetricsAddr) == "" {
		errs = append(errs, errors.New("metrics addr is required"))
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.Gateway.Driver {
	case GatewayDriverFake:
	case GatewayDriverStripe:
		if c.Stripe.SecretKey == "" || c.Stripe.WebhookSecret == "" {
			errs = append(errs, errors.New("stripe secret key and webhook secret are required for stripe gateway"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported gateway driver %q", c.Gateway.Driver))
	}
	if c.Gateway.MaxAttempts <= 0 {
		errs = append(errs, errors.New("gateway max attempts must be positive"))
	}

	if _, err := domain.NewFeePolicy(c.SellerShare); err != nil {
		errs = append(errs, err)
	}
	if c.PayoutMinimumMinor <= 0 {
		errs = append(errs, errors.New("payout minimum must be positive"))
	}
	if c.SeedDemo && c.StorageDriver != StorageDriverMemory {
		errs = append(errs, errors.New("demo seed is only supported with memory storage"))
	}

	if err := c.Auth.toHTTP().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.MaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox batch size and max attempts must be positive"))
	}
	if c.Idempotency.TTL <= 0 {
		errs = append(errs, errors.New("idempotency ttl must be positive"))
	}

	return errors.Join(errs...)
}

func (a AuthConfig) toHTTP() httpapi.AuthConfig {
	return httpapi.AuthConfig{
		Mode:          httpapi.AuthMode(a.Mode),
		JWTSecret:     a.JWTSecret,
		JWTIssuer:     a.JWTIssuer,
		SubjectHeader: a.SubjectHeader,
	}
}
