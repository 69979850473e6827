package resilience

import (
	"errors"
	"sync"
	"testing"
)

func transient() error {
	return NewTransientError(errors.New("unavailable"), 503)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	for i := range 3 {
		st := cb.Record(transient())
		if i < 2 && st != CircuitClosed {
			t.Fatalf("opened early after %d failures", i+1)
		}
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	if cb.Failures() != 3 {
		t.Errorf("expected 3 consecutive failures, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_NonTrippingErrorsReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})

	cb.Record(transient())
	cb.Record(NewMalformedError("analysis", errors.New("bad json")))
	cb.Record(transient())

	if cb.State() != CircuitClosed {
		t.Errorf("malformed errors should not trip, got %s", cb.State())
	}
	if cb.Failures() != 1 {
		t.Errorf("expected 1 consecutive failure, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_StaysOpenAfterSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	cb.Record(transient())

	if st := cb.Record(nil); st != CircuitOpen {
		t.Errorf("expected open circuit to stay open, got %s", st)
	}
	if cb.Failures() != 0 {
		t.Errorf("expected success to clear the count, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_DefaultThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	for range 4 {
		cb.Record(transient())
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after 4 failures, got %s", cb.State())
	}
	if cb.Record(transient()) != CircuitOpen {
		t.Error("expected open after the fifth failure")
	}
}

func TestSourceBreakers_GetIsStable(t *testing.T) {
	sb := NewSourceBreakers(CircuitBreakerConfig{FailureThreshold: 2})

	var wg sync.WaitGroup
	got := make([]*CircuitBreaker, 10)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = sb.Get("maps")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(got); i++ {
		if got[i] != got[0] {
			t.Fatal("expected the same breaker for the same source")
		}
	}
	if sb.Get("search") == got[0] {
		t.Error("expected distinct breakers per source")
	}
}
