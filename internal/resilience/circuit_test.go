package resilience

import (
	"errors"
	"testing"
	"time"
)

var errAuth = errors.New("401 unauthorized")

func TestCircuitBreaker_OpensOnTrippingError(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		ShouldTrip: func(err error) bool { return errors.Is(err, errAuth) },
	})

	cb.Record(errors.New("not found"))
	if cb.State() != CircuitClosed {
		t.Fatalf("non-tripping error should keep circuit closed, got %s", cb.State())
	}

	cb.Record(errAuth)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if !errors.Is(cb.LastFailure(), errAuth) {
		t.Errorf("expected last failure to be the auth error, got %v", cb.LastFailure())
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	cb.nowFunc = func() time.Time { return now }

	cb.Record(errAuth)
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed below threshold, got %s", cb.State())
	}
	cb.Record(errAuth)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open at threshold, got %s", cb.State())
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected trial call to be allowed, got %v", err)
	}
	cb.Record(nil)
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after successful trial call, got %s", cb.State())
	}
}

func TestServiceBreakers_PerProvider(t *testing.T) {
	sb := NewServiceBreakers(CircuitBreakerConfig{})
	sb.Get("apollo").Record(errAuth)

	states := sb.States()
	if states["apollo"] != CircuitOpen {
		t.Errorf("expected apollo open, got %s", states["apollo"])
	}
	if sb.Get("anymail").State() != CircuitClosed {
		t.Error("anymail should be unaffected")
	}
	if sb.Get("apollo") != sb.Get("apollo") {
		t.Error("Get should return the same breaker")
	}
}
