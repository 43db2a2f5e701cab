package gateway

import (
	"testing"
	"time"
)

func TestCircuitBreakerLifecycle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var states []CircuitState

	cb := NewCircuitBreaker(2, time.Minute, func(s CircuitState) { states = append(states, s) }, nil)
	cb.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if err := cb.Allow(); err != nil {
			t.Fatalf("closed breaker must allow calls: %v", err)
		}
		cb.Record(true)
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after 2 failures, got %s", cb.State())
	}
	if err := cb.Allow(); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected probe after reset timeout: %v", err)
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}
	if err := cb.Allow(); err != ErrCircuitOpen {
		t.Fatalf("half-open must allow a single probe, got %v", err)
	}

	cb.Record(false)
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after successful probe, got %s", cb.State())
	}

	want := []CircuitState{CircuitOpen, CircuitHalfOpen, CircuitClosed}
	if len(states) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, states)
		}
	}
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(1, time.Second, nil, nil)
	cb.now = func() time.Time { return now }

	_ = cb.Allow()
	cb.Record(true)
	now = now.Add(2 * time.Second)

	if err := cb.Allow(); err != nil {
		t.Fatalf("expected probe: %v", err)
	}
	cb.Record(true)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after failed probe, got %s", cb.State())
	}
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute, nil, nil)

	cb.Record(true)
	cb.Record(false)
	cb.Record(true)
	if cb.State() != CircuitClosed {
		t.Fatalf("non-consecutive failures must not open breaker, got %s", cb.State())
	}
}
