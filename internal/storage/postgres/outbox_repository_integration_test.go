package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

func TestOutboxRepository_PostgresRelayBacklog(t *testing.T) {
	repo := NewOutboxRepository(openPostgresStoreForIntegrationTest(t))

	events := []domain.OutboxMessage{
		{AggregateType: domain.AggregatePurchase, AggregateID: "purchase-1", EventType: domain.EventPurchaseCompleted, Payload: []byte(`{"purchaseId":"purchase-1"}`)},
		{ID: "evt-payout-1", AggregateType: domain.AggregatePayout, AggregateID: "payout-1", EventType: domain.EventPayoutRequested, Payload: []byte(`{"payoutId":"payout-1"}`)},
		{AggregateType: domain.AggregateIntent, AggregateID: "pi_dup", EventType: domain.EventPaymentRefundRequired, Payload: []byte(`{"intentId":"pi_dup"}`)},
	}
	ids := make([]string, 0, len(events))
	for _, event := range events {
		stored, err := repo.Enqueue(event)
		require.NoError(t, err)
		require.NotEmpty(t, stored.ID)
		ids = append(ids, stored.ID)
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, "evt-payout-1", ids[1])

	stats, err := repo.Stats()
	require.NoError(t, err)
	require.Equal(t, 3, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())

	batch, err := repo.PullPending(2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, domain.EventPurchaseCompleted, batch[0].EventType)
	require.Equal(t, "payout-1", batch[1].AggregateID)
	require.JSONEq(t, `{"purchaseId":"purchase-1"}`, string(batch[0].Payload))

	// Отправленное и отправленное в DLQ больше не выдаётся релею.
	require.NoError(t, repo.MarkSent(ids[0]))
	require.NoError(t, repo.MarkFailed(ids[1]))

	rest, err := repo.PullPending(0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, domain.EventPaymentRefundRequired, rest[0].EventType)

	after, err := repo.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, after.PendingCount)
	require.False(t, after.OldestPendingAt.Before(stats.OldestPendingAt))

	require.NoError(t, repo.MarkSent(ids[2]))
	drained, err := repo.Stats()
	require.NoError(t, err)
	require.Zero(t, drained.PendingCount)
	require.True(t, drained.OldestPendingAt.IsZero())
}

func TestOutboxRepository_PostgresUnknownMessage(t *testing.T) {
	repo := NewOutboxRepository(openPostgresStoreForIntegrationTest(t))

	require.ErrorIs(t, repo.MarkSent("evt-missing"), domain.ErrOutboxPublish)
	require.ErrorIs(t, repo.MarkFailed("evt-missing"), domain.ErrOutboxPublish)
}
