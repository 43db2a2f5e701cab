package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/storage/memory"
)

func TestCleanupWorker_DeleteExpired_Batches(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()
	// CreateProcessing считает просроченную запись свободной, поэтому TTL ставим в будущее
	// и чистим относительно момента после него.
	for i := 0; i < 5; i++ {
		_, err := repo.CreateProcessing(fmt.Sprintf("key-%d", i), "hash", now.Add(time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing("fresh", "hash", now.Add(48*time.Hour))
	require.NoError(t, err)

	worker := NewCleanupWorker(repo, WithBatchSize(2))
	deleted, err := worker.DeleteExpired(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 5, deleted)

	_, err = repo.Get("key-0")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get("fresh")
	require.NoError(t, err)
}

func TestCleanupWorker_DeleteExpired_Error(t *testing.T) {
	t.Parallel()

	repo := &failingCleanupRepo{IdempotencyRepository: memory.NewIdempotencyRepository(), err: errors.New("boom")}
	worker := NewCleanupWorker(repo, WithBatchSize(10))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	require.Error(t, err)
	require.Zero(t, deleted)
}

func TestCleanupWorker_DeleteExpired_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	worker := NewCleanupWorker(memory.NewIdempotencyRepository())
	_, err := worker.DeleteExpired(ctx, time.Now().UTC())
	require.ErrorIs(t, err, context.Canceled)
}

func TestCleanupWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := &failingCleanupRepo{IdempotencyRepository: memory.NewIdempotencyRepository()}
	worker := NewCleanupWorker(repo, WithInterval(5*time.Millisecond), WithBatchSize(10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
	require.Positive(t, repo.calls())
}

type failingCleanupRepo struct {
	domain.IdempotencyRepository

	mu        sync.Mutex
	err       error
	callCount int
}

func (r *failingCleanupRepo) DeleteExpired(before time.Time, limit int) (int, error) {
	r.mu.Lock()
	r.callCount++
	r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	return r.IdempotencyRepository.DeleteExpired(before, limit)
}

func (r *failingCleanupRepo) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.callCount
}
