package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/storage/memory"
)

func TestIdempotencyRepository_CreateGetAndReplay(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing("seller-1:payout-7", "hash-1", ttl)
	if err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	if created.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("expected processing, got %s", created.Status)
	}

	if _, err := repo.CreateProcessing("seller-1:payout-7", "hash-1", ttl); !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if _, err := repo.CreateProcessing("seller-1:payout-7", "hash-2", ttl); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}

	if err := repo.MarkDone("seller-1:payout-7", []byte(`{"status":"pending"}`), 201); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}
	got, err := repo.Get("seller-1:payout-7")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.IdempotencyStatusDone || got.HTTPStatus != 201 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if string(got.ResponseBody) != `{"status":"pending"}` {
		t.Fatalf("unexpected body %q", got.ResponseBody)
	}
	if !got.TTLAt.Equal(ttl) {
		t.Fatalf("expected ttl %s, got %s", ttl, got.TTLAt)
	}
}

func TestIdempotencyRepository_Validation(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	if _, err := repo.CreateProcessing("  ", "hash", time.Time{}); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := repo.CreateProcessing("key", "", time.Time{}); !errors.Is(err, domain.ErrIdempotencyRequestHashRequired) {
		t.Fatalf("expected ErrIdempotencyRequestHashRequired, got %v", err)
	}
	if err := repo.MarkFailed("missing", nil, 500); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected ErrIdempotencyKeyNotFound, got %v", err)
	}
}

func TestIdempotencyRepository_ExpiredKeyIsReusable(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	if _, err := repo.CreateProcessing("stale", "hash-a", time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	record, err := repo.CreateProcessing("stale", "hash-b", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("expected expired key to be reusable, got %v", err)
	}
	if record.RequestHash != "hash-b" {
		t.Fatalf("expected new hash, got %s", record.RequestHash)
	}
}

func TestIdempotencyRepository_DeleteExpiredRespectsLimit(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	for i, key := range []string{"a", "b", "c"} {
		if _, err := repo.CreateProcessing(key, "h", now.Add(-time.Duration(3-i)*time.Minute)); err != nil {
			t.Fatalf("CreateProcessing %s failed: %v", key, err)
		}
	}
	if _, err := repo.CreateProcessing("live", "h", now.Add(time.Hour)); err != nil {
		t.Fatalf("CreateProcessing live failed: %v", err)
	}

	removed, err := repo.DeleteExpired(now, 2)
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 removed, got %d (%v)", removed, err)
	}
	// Удаляются самые старые.
	if _, err := repo.Get("a"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected a deleted, got %v", err)
	}
	if _, err := repo.Get("c"); err != nil {
		t.Fatalf("expected c kept, got %v", err)
	}

	removed, _ = repo.DeleteExpired(now, 0)
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := repo.Get("live"); err != nil {
		t.Fatalf("live key must survive: %v", err)
	}
}
