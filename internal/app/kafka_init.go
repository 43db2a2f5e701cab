package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/messaging/kafka"
)

// messagingDependencies - паблишеры outbox и consumer результатов выплат.
type messagingDependencies struct {
	Publisher    domain.OutboxPublisher
	DLQPublisher domain.OutboxPublisher
	Consumer     *kafka.Consumer
	Producer     *kafka.Producer
}

// Close закрывает consumer и producer; безопасен без Kafka.
func (m *messagingDependencies) Close(logger *log.Entry) {
	if m == nil {
		return
	}
	if m.Consumer != nil {
		if err := m.Consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
	if m.Producer != nil {
		if err := m.Producer.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka producer")
		} else {
			logger.Info("kafka producer closed")
		}
	}
}

type producerFactory func(brokers []string) (*kafka.Producer, error)

type consumerFactory func(brokers []string, groupID string, topics []string, handler kafka.MessageHandler, dlq *kafka.Producer, maxRetries int) (*kafka.Consumer, error)

// initMessaging подключает Kafka, если заданы брокеры. Без брокеров outbox
// вычитывается в лог, а результаты выплат не принимаются.
func initMessaging(cfg KafkaConfig, resolver kafka.PayoutResolver, logger *log.Entry) (*messagingDependencies, error) {
	return initMessagingWith(cfg, resolver, logger, kafka.NewProducer, kafka.NewConsumerWithDLQ)
}

func initMessagingWith(
	cfg KafkaConfig,
	resolver kafka.PayoutResolver,
	logger *log.Entry,
	newProducer producerFactory,
	newConsumer consumerFactory,
) (*messagingDependencies, error) {
	if len(cfg.Brokers) == 0 {
		logger.Info("kafka brokers are not configured, outbox events go to the log")
		return &messagingDependencies{
			Publisher: kafka.NewLogPublisher(logger.WithField("component", "outbox-log-publisher")),
		}, nil
	}

	producer, err := newProducer(cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("init kafka producer: %w", err)
	}
	logger.WithField("brokers", cfg.Brokers).Info("kafka producer initialized")

	handler := kafka.NewPayoutResultHandler(resolver, logger.WithField("component", "payout-results"))
	consumer, err := newConsumer(cfg.Brokers, cfg.ConsumerGroup, []string{kafka.TopicPayoutResults}, handler, producer, cfg.MaxRetries)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("init kafka consumer: %w", err)
	}

	return &messagingDependencies{
		Publisher:    kafka.NewOutboxPublisher(producer, kafka.TopicEvents),
		DLQPublisher: kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
		Consumer:     consumer,
		Producer:     producer,
	}, nil
}
