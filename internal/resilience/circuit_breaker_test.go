package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be Closed, got %d", cb.GetState())
	}
	if !cb.allowRequest() {
		t.Error("Expected to allow request in Closed state")
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Second)

	cb.recordResult(false)
	cb.recordResult(false)
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be Closed after 2 failures")
	}

	cb.recordResult(false)
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after 3 failures")
	}
	if cb.allowRequest() {
		t.Error("Expected to not allow request in Open state")
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 20*time.Millisecond)

	cb.recordResult(false)
	cb.recordResult(false)
	cb.recordResult(false)
	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be Open")
	}

	time.Sleep(30 * time.Millisecond)

	// The reset timeout elapsed, so the next request probes half-open.
	if !cb.allowRequest() {
		t.Fatal("Expected a probe request after the reset timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("Expected HalfOpen, got %d", cb.GetState())
	}

	// Enough successes close the circuit again.
	cb.recordResult(true)
	cb.recordResult(true)
	cb.recordResult(true)
	if cb.GetState() != StateClosed {
		t.Errorf("Expected Closed after successful probes, got %d", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 20*time.Millisecond)

	cb.recordResult(false)
	cb.recordResult(false)
	time.Sleep(30 * time.Millisecond)

	if !cb.allowRequest() {
		t.Fatal("Expected a probe request after the reset timeout")
	}

	cb.recordResult(false)
	if cb.GetState() != StateOpen {
		t.Errorf("Expected a half-open failure to reopen the circuit, got %d", cb.GetState())
	}
}

func TestCircuitBreaker_CallOpenFailsFast(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute)

	if err := cb.Call(func() error { return errors.New("dial failed") }); err == nil {
		t.Fatal("Expected the wrapped error")
	}
	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be Open")
	}

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected the request to be rejected without executing")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Second)

	cb.recordResult(false)
	cb.recordResult(false)
	cb.recordResult(true)
	cb.recordResult(false)
	cb.recordResult(false)

	if cb.GetState() != StateClosed {
		t.Error("Expected intermittent failures to keep the circuit Closed")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute)

	cb.recordResult(false)
	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be Open")
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("Expected Closed after Reset, got %d", cb.GetState())
	}
	if !cb.allowRequest() {
		t.Error("Expected requests allowed after Reset")
	}
}
