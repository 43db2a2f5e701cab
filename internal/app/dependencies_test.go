package app

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketpay/internal/metrics"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "app-test")
}

func TestInitRuntimeDependencies(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "memory", cfg: Config{StorageDriver: StorageDriverMemory}},
		{name: "empty driver falls back to memory", cfg: Config{}},
		{name: "postgres without dsn", cfg: Config{StorageDriver: StorageDriverPostgres}, wantErr: "postgres dsn is required"},
		{name: "unsupported", cfg: Config{StorageDriver: "sqlite"}, wantErr: "unsupported storage driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, err := initRuntimeDependencies(context.Background(), tt.cfg, quietLogger())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, deps.Ledger)
			assert.NotNil(t, deps.Outbox)
			assert.NotNil(t, deps.Idempotency)
			assert.Nil(t, deps.Ping)
			require.NoError(t, deps.Close())
		})
	}
}

func TestInitGateway(t *testing.T) {
	m := metrics.NewSettlementMetricsWithRegisterer(prometheus.NewRegistry())

	cfg := DefaultConfig()
	cfg.Gateway.FakeAutoSucceed = true
	stack, err := initGateway(cfg, m, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, stack.Fake)
	require.Len(t, stack.Executors, 1)
	assert.True(t, stack.Executors[0].Supports(domain.PayoutProviderStripeConnect))
	assert.False(t, stack.Breaker.IsOpen())

	intent, err := stack.Gateway.CreateIntent(context.Background(), domain.CreateIntentRequest{
		AmountMinor: 500, Currency: "usd", IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusSucceeded, intent.Status)

	cfg.Gateway.Driver = GatewayDriverStripe
	_, err = initGateway(cfg, m, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init stripe gateway")

	cfg.Gateway.Driver = "adyen"
	_, err = initGateway(cfg, m, quietLogger())
	require.Error(t, err)
}

type resolverNoop struct{}

func (resolverNoop) Resolve(context.Context, string, domain.PayoutStatus, string, string) (domain.PayoutRequest, error) {
	return domain.PayoutRequest{}, nil
}

func TestInitMessagingWithoutBrokers(t *testing.T) {
	deps, err := initMessaging(KafkaConfig{}, resolverNoop{}, quietLogger())
	require.NoError(t, err)

	assert.IsType(t, &kafka.LogPublisher{}, deps.Publisher)
	assert.Nil(t, deps.DLQPublisher)
	assert.Nil(t, deps.Consumer)
	deps.Close(quietLogger())
}

func TestInitMessagingWithBrokers(t *testing.T) {
	cfg := KafkaConfig{Brokers: []string{"kafka:9092"}, ConsumerGroup: "group-1", MaxRetries: 2}

	var gotTopics []string
	var gotRetries int
	newProducer := func(brokers []string) (*kafka.Producer, error) {
		assert.Equal(t, cfg.Brokers, brokers)
		return kafka.NewProducerFromSync(mocks.NewSyncProducer(t, nil), quietLogger()), nil
	}
	newConsumer := func(_ []string, groupID string, topics []string, _ kafka.MessageHandler, dlq *kafka.Producer, maxRetries int) (*kafka.Consumer, error) {
		assert.Equal(t, "group-1", groupID)
		assert.NotNil(t, dlq)
		gotTopics = topics
		gotRetries = maxRetries
		return nil, nil
	}

	deps, err := initMessagingWith(cfg, resolverNoop{}, quietLogger(), newProducer, newConsumer)
	require.NoError(t, err)
	assert.IsType(t, &kafka.OutboxTopicPublisher{}, deps.Publisher)
	assert.NotNil(t, deps.DLQPublisher)
	assert.Equal(t, []string{kafka.TopicPayoutResults}, gotTopics)
	assert.Equal(t, 2, gotRetries)
	deps.Close(quietLogger())

	failing := func([]string, string, []string, kafka.MessageHandler, *kafka.Producer, int) (*kafka.Consumer, error) {
		return nil, errors.New("no brokers available")
	}
	_, err = initMessagingWith(cfg, resolverNoop{}, quietLogger(), newProducer, failing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init kafka consumer")
}
