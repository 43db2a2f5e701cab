package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

// groupStub подменяет consumer group: Consume отдаёт управление тесту.
type groupStub struct {
	consume  func(context.Context) error
	errs     chan error
	closeErr error
}

func (g *groupStub) Consume(ctx context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
	if g.consume == nil {
		<-ctx.Done()
		return nil
	}
	return g.consume(ctx)
}

func (g *groupStub) Errors() <-chan error { return g.errs }

func (g *groupStub) Close() error {
	close(g.errs)
	return g.closeErr
}

func (*groupStub) Pause(map[string][]int32)  {}
func (*groupStub) Resume(map[string][]int32) {}
func (*groupStub) PauseAll()                 {}
func (*groupStub) ResumeAll()                {}

type sessionStub struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *sessionStub) Context() context.Context { return s.ctx }
func (s *sessionStub) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type claimStub struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *claimStub) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func newClaim(messages ...*sarama.ConsumerMessage) *claimStub {
	claim := &claimStub{messages: make(chan *sarama.ConsumerMessage, len(messages))}
	for _, msg := range messages {
		claim.messages <- msg
	}
	close(claim.messages)
	return claim
}

// payoutBook закрывает только известные заявки, как сервис выплат.
type payoutBook map[string]domain.PayoutStatus

func (b payoutBook) Resolve(_ context.Context, payoutID string, status domain.PayoutStatus, _, _ string) (domain.PayoutRequest, error) {
	current, ok := b[payoutID]
	switch {
	case !ok:
		return domain.PayoutRequest{}, domain.ErrPayoutNotFound
	case current != domain.PayoutStatusPending && current != status:
		return domain.PayoutRequest{}, domain.ErrPayoutNotPending
	}
	b[payoutID] = status
	return domain.PayoutRequest{ID: payoutID, Status: status}, nil
}

func payoutResultMessage(offset int64, payoutID, status string) *sarama.ConsumerMessage {
	value, _ := json.Marshal(PayoutResult{PayoutID: payoutID, Status: status})
	return &sarama.ConsumerMessage{Topic: TopicPayoutResults, Offset: offset, Key: []byte(payoutID), Value: value}
}

func dlqProducer(t *testing.T, expect func(*mocks.SyncProducer)) (*Producer, func()) {
	t.Helper()
	mock := mocks.NewSyncProducer(t, nil)
	expect(mock)
	return NewProducerFromSync(mock, log.WithField("test", t.Name())), func() { require.NoError(t, mock.Close()) }
}

func TestNewConsumerUnreachableBroker(t *testing.T) {
	noop := func(context.Context, *sarama.ConsumerMessage) error { return nil }

	_, err := NewConsumer([]string{"invalid-broker:9092"}, "marketpay-payouts", []string{TopicPayoutResults}, noop)
	require.Error(t, err)
	_, err = NewConsumerWithDLQ([]string{"invalid-broker:9092"}, "marketpay-payouts", []string{TopicPayoutResults}, noop, nil, 3)
	require.Error(t, err)
}

func TestConsumerLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rounds := 0
	group := &groupStub{errs: make(chan error, 1)}
	group.consume = func(context.Context) error {
		rounds++
		if rounds == 1 {
			// Rebalance: Consume возвращается и вызывается снова.
			return errors.New("rebalance in progress")
		}
		cancel()
		return nil
	}
	group.errs <- errors.New("broker disconnected")

	consumer := &Consumer{consumer: group, topics: []string{TopicPayoutResults}, logger: log.WithField("test", "lifecycle")}
	require.NoError(t, consumer.Start(ctx))
	require.Eventually(t, func() bool { return ctx.Err() != nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, consumer.Stop())
	require.Equal(t, 2, rounds)

	require.NoError(t, consumer.Setup(nil))
	require.NoError(t, consumer.Cleanup(nil))

	broken := &Consumer{consumer: &groupStub{errs: make(chan error), closeErr: errors.New("close failed")}, logger: log.WithField("test", "stop")}
	require.ErrorContains(t, broken.Stop(), "close failed")
}

func TestHandleMessageWithRetry(t *testing.T) {
	permanent := errors.New("ledger unavailable")

	tests := []struct {
		name       string
		failures   int
		failWith   error
		retryCount string
		dlq        func(*mocks.SyncProducer)
		attempts   int
		wantErr    bool
	}{
		{name: "applied first time", attempts: 1},
		{name: "transient failure recovers", failures: 1, failWith: permanent, attempts: 2},
		{name: "exhausted without dlq", failures: 99, failWith: permanent, attempts: 3, wantErr: true},
		{name: "retry header counts earlier attempts", failures: 99, failWith: permanent, retryCount: "2", attempts: 1, wantErr: true},
		{name: "malformed retry header starts over", failures: 99, failWith: permanent, retryCount: "two", attempts: 3, wantErr: true},
		{
			name: "exhausted into dlq",
			failures: 99, failWith: permanent, attempts: 3,
			dlq: func(p *mocks.SyncProducer) { p.ExpectSendMessageAndSucceed() },
		},
		{
			name: "dlq unavailable",
			failures: 99, failWith: permanent, attempts: 3, wantErr: true,
			dlq: func(p *mocks.SyncProducer) { p.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers) },
		},
		{
			name: "invalid message skips retries",
			failures: 99, failWith: fmt.Errorf("%w: payoutId is required", ErrInvalidMessage), attempts: 1,
			dlq: func(p *mocks.SyncProducer) { p.ExpectSendMessageAndSucceed() },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			attempts := 0
			consumer := &Consumer{
				handler: func(context.Context, *sarama.ConsumerMessage) error {
					attempts++
					if attempts <= tc.failures {
						return tc.failWith
					}
					return nil
				},
				logger:     log.WithField("test", tc.name),
				maxRetries: 3,
			}
			if tc.dlq != nil {
				producer, done := dlqProducer(t, tc.dlq)
				defer done()
				consumer.dlqProducer = producer
			}

			msg := payoutResultMessage(7, "payout-1", "paid")
			if tc.retryCount != "" {
				msg.Headers = []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte(tc.retryCount)}}
			}

			err := consumer.handleMessageWithRetry(context.Background(), msg)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.attempts, attempts)
		})
	}
}

func TestConsumeClaimAppliesPayoutResults(t *testing.T) {
	book := payoutBook{"payout-1": domain.PayoutStatusPending, "payout-2": domain.PayoutStatusPaid}

	var dead []ConsumerDLQMessage
	producer, done := dlqProducer(t, func(p *mocks.SyncProducer) {
		for i := 0; i < 2; i++ {
			p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
				var record ConsumerDLQMessage
				if err := json.Unmarshal(val, &record); err != nil {
					return err
				}
				dead = append(dead, record)
				return nil
			})
		}
	})
	defer done()

	consumer := &Consumer{
		handler:     NewPayoutResultHandler(book, log.WithField("test", "payout-results")),
		dlqProducer: producer,
		dlqTopic:    TopicDeadLetterQueue,
		logger:      log.WithField("test", "claim"),
		maxRetries:  3,
	}
	session := &sessionStub{ctx: context.Background()}
	claim := newClaim(
		payoutResultMessage(1, "payout-1", "paid"),
		payoutResultMessage(2, "payout-missing", "paid"),
		payoutResultMessage(3, "payout-2", "rejected"),
	)

	require.NoError(t, consumer.ConsumeClaim(session, claim))
	require.Equal(t, []int64{1, 2, 3}, session.marked)
	require.Equal(t, domain.PayoutStatusPaid, book["payout-1"])
	require.Equal(t, domain.PayoutStatusPaid, book["payout-2"])

	require.Len(t, dead, 2)
	require.Equal(t, TopicPayoutResults, dead[0].OriginalTopic)
	require.Equal(t, "payout-missing", dead[0].OriginalKey)
	require.Equal(t, int64(3), dead[1].OriginalOffset)
	require.Contains(t, dead[1].ErrorMessage, domain.ErrPayoutNotPending.Error())
}

func TestConsumeClaimLeavesFailedOffsetUncommitted(t *testing.T) {
	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("ledger unavailable") },
		logger:     log.WithField("test", "uncommitted"),
		maxRetries: 1,
	}
	session := &sessionStub{ctx: context.Background()}

	require.NoError(t, consumer.ConsumeClaim(session, newClaim(payoutResultMessage(5, "payout-1", "paid"))))
	require.Empty(t, session.marked)
}

func TestConsumeClaimStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := &Consumer{logger: log.WithField("test", "claim-stop")}
	claim := &claimStub{messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan error, 1)
	go func() { done <- consumer.ConsumeClaim(&sessionStub{ctx: ctx}, claim) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}
