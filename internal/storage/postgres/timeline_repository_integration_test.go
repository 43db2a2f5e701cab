package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

func TestTimelineRepository_PostgresAppendAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewTimelineRepository(store)

	base := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.Append(domain.TimelineEvent{
		IntentID: "pi_timeline",
		Type:     domain.TimelinePurchaseSettled,
		Occurred: base.Add(time.Second),
	}))
	require.NoError(t, repo.Append(domain.TimelineEvent{
		IntentID: "pi_timeline",
		Type:     domain.TimelineIntentCreated,
		Occurred: base,
	}))
	require.NoError(t, repo.Append(domain.TimelineEvent{
		IntentID: "pi_other",
		Type:     domain.TimelineIntentCreated,
	}))

	events, err := repo.List("pi_timeline")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.TimelineIntentCreated, events[0].Type)
	require.Equal(t, domain.TimelinePurchaseSettled, events[1].Type)
}

func TestTimelineRepository_PostgresRejectsEmptyIntent(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewTimelineRepository(store)

	err := repo.Append(domain.TimelineEvent{Type: domain.TimelineIntentCreated})
	require.True(t, errors.Is(err, domain.ErrIntentIDRequired))

	events, err := repo.List("missing")
	require.NoError(t, err)
	require.Empty(t, events)
}
