package app

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MARKETPAY_AUTH_JWT_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.Equal(t, GatewayDriverFake, cfg.Gateway.Driver)
	assert.True(t, cfg.SellerShare.Equal(decimal.RequireFromString("0.85")))
	assert.Equal(t, int64(1000), cfg.PayoutMinimumMinor)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("MARKETPAY_HTTP_ADDR", ":18080")
	t.Setenv("MARKETPAY_STORAGE_DRIVER", " Postgres ")
	t.Setenv("MARKETPAY_POSTGRES_DSN", "postgres://localhost/marketpay")
	t.Setenv("MARKETPAY_GATEWAY_DRIVER", "stripe")
	t.Setenv("MARKETPAY_STRIPE_SECRET_KEY", "sk_test_1")
	t.Setenv("MARKETPAY_STRIPE_WEBHOOK_SECRET", "whsec_1")
	t.Setenv("MARKETPAY_GATEWAY_BREAKER_RESET_TIMEOUT", "45s")
	t.Setenv("MARKETPAY_SELLER_SHARE", "0.7")
	t.Setenv("MARKETPAY_PAYOUT_MINIMUM_MINOR", "2500")
	t.Setenv("MARKETPAY_PAYOUT_POLL_INTERVAL", "2s")
	t.Setenv("MARKETPAY_AUTH_MODE", "header")
	t.Setenv("MARKETPAY_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("MARKETPAY_OUTBOX_MAX_PENDING", "50")
	t.Setenv("MARKETPAY_IDEMPOTENCY_CLEANUP_BATCH_SIZE", "10")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":18080", cfg.HTTPAddr)
	assert.Equal(t, StorageDriverPostgres, cfg.StorageDriver)
	assert.Equal(t, GatewayDriverStripe, cfg.Gateway.Driver)
	assert.Equal(t, "sk_test_1", cfg.Stripe.SecretKey)
	assert.Equal(t, 45*time.Second, cfg.Gateway.BreakerReset)
	assert.True(t, cfg.SellerShare.Equal(decimal.RequireFromString("0.7")))
	assert.Equal(t, int64(2500), cfg.PayoutMinimumMinor)
	assert.Equal(t, 2*time.Second, cfg.Payout.PollInterval)
	assert.Equal(t, "header", cfg.Auth.Mode)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 50, cfg.Outbox.MaxPending)
	assert.Equal(t, 10, cfg.IdempotencyCleanup.BatchSize)
}

func TestLoadConfigRejectsMalformedEnv(t *testing.T) {
	t.Setenv("MARKETPAY_AUTH_JWT_SECRET", "secret")
	t.Setenv("MARKETPAY_PAYOUT_MINIMUM_MINOR", "ten dollars")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Auth.JWTSecret = "secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{name: "defaults with secret"},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.StorageDriver = StorageDriverPostgres },
			wantErr: []string{"postgres dsn is required"},
		},
		{
			name:    "unknown storage",
			mutate:  func(c *Config) { c.StorageDriver = "redis" },
			wantErr: []string{`unsupported storage driver "redis"`},
		},
		{
			name:    "stripe without keys",
			mutate:  func(c *Config) { c.Gateway.Driver = GatewayDriverStripe },
			wantErr: []string{"stripe secret key and webhook secret are required"},
		},
		{
			name:    "seller share above one",
			mutate:  func(c *Config) { c.SellerShare = decimal.RequireFromString("1.2") },
			wantErr: []string{"1.2"},
		},
		{
			name:    "jwt without secret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "" },
			wantErr: []string{"jwt secret is required"},
		},
		{
			name:    "seed with postgres",
			mutate:  func(c *Config) { c.StorageDriver = StorageDriverPostgres; c.PostgresDSN = "postgres://x"; c.SeedDemo = true },
			wantErr: []string{"demo seed is only supported with memory storage"},
		},
		{
			name: "errors are aggregated",
			mutate: func(c *Config) {
				c.HTTPAddr = ""
				c.PayoutMinimumMinor = 0
				c.Idempotency.TTL = 0
			},
			wantErr: []string{"http addr is required", "payout minimum must be positive", "idempotency ttl must be positive"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}
