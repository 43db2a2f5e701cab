package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

// Topics для Kafka
const (
	TopicEvents          = "marketpay.events"
	TopicPayoutResults   = "marketpay.payout-results"
	TopicDeadLetterQueue = "marketpay.events.dlq"
)

// Заголовки сообщений: retry и DLQ у consumer-а, тип события и id строки outbox у релея.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
)

// ErrInvalidMessage - сообщение нельзя обработать ни с какой попытки.
var ErrInvalidMessage = errors.New("invalid kafka message")

// OutboxEnvelope - формат публикации outbox-сообщения в topic событий.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// OutboxDLQPayload - payload outbox-сообщения, отправленного в DLQ после исчерпания попыток.
type OutboxDLQPayload struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error,omitempty"`
	DLQPublishedAt string          `json:"dlq_published_at,omitempty"`
}

// ConsumerDLQMessage - сообщение consumer-а, которое не удалось обработать.
type ConsumerDLQMessage struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// PayoutResult - отчёт внешнего исполнителя выплаты (PayPal, операторы).
type PayoutResult struct {
	PayoutID    string `json:"payoutId"`
	Status      string `json:"status"`
	ExternalRef string `json:"externalRef,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// ParsePayoutResult разбирает и проверяет отчёт о выплате.
func ParsePayoutResult(message *sarama.ConsumerMessage) (PayoutResult, domain.PayoutStatus, error) {
	var result PayoutResult
	if err := json.Unmarshal(message.Value, &result); err != nil {
		return PayoutResult{}, "", fmt.Errorf("%w: unmarshal payout result: %v", ErrInvalidMessage, err)
	}
	if strings.TrimSpace(result.PayoutID) == "" {
		return PayoutResult{}, "", fmt.Errorf("%w: payoutId is required", ErrInvalidMessage)
	}
	status := domain.PayoutStatus(strings.ToLower(strings.TrimSpace(result.Status)))
	if !status.Terminal() {
		return PayoutResult{}, "", fmt.Errorf("%w: unsupported payout status %q", ErrInvalidMessage, result.Status)
	}
	return result, status, nil
}
