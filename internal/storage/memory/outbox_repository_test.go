package memory

import (
	"testing"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

func TestOutboxRepository_FIFOAndStats(t *testing.T) {
	repo := NewOutboxRepository()

	var ids []string
	for _, eventType := range []string{"purchase.completed", "payout.requested", "payout.paid"} {
		saved, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "ledger", EventType: eventType})
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if saved.ID == "" {
			t.Fatal("expected generated id")
		}
		ids = append(ids, saved.ID)
	}

	pending, err := repo.PullPending(2)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != ids[0] || pending[1].ID != ids[1] {
		t.Fatalf("expected first two messages in order, got %+v", pending)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 3 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := repo.MarkSent(ids[0]); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	if err := repo.MarkFailed(ids[1]); err != nil {
		t.Fatalf("mark failed failed: %v", err)
	}
	if err := repo.MarkSent("missing"); err == nil {
		t.Fatal("expected error for missing record")
	}

	rest := repo.AllPending()
	if len(rest) != 1 || rest[0].ID != ids[2] {
		t.Fatalf("expected only the last message pending, got %+v", rest)
	}
}
