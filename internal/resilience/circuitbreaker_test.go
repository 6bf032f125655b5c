package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := New(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errBoom })
	}

	if cb.State() != StateOpen {
		t.Fatalf("expected Open after %d failures, got %v", 3, cb.State())
	}

	err := cb.Execute(func() error {
		t.Fatal("operation must not run while circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := New(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return nil })

	if cb.FailureCount() != 0 {
		t.Errorf("expected failure count reset to 0, got %d", cb.FailureCount())
	}
	if cb.State() != StateClosed {
		t.Errorf("expected Closed, got %v", cb.State())
	}
}

func TestCircuitBreakerHalfOpenAllowsSingleProbe(t *testing.T) {
	cb := New(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})

	_ = cb.Execute(func() error { return errBoom })
	if cb.State() != StateOpen {
		t.Fatalf("expected Open, got %v", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	probeStarted := make(chan struct{})
	probeBlock := make(chan struct{})
	go func() {
		_ = cb.Execute(func() error {
			close(probeStarted)
			<-probeBlock
			return nil
		})
	}()
	<-probeStarted

	// A second caller arriving while the probe is in flight must fail fast.
	err := cb.Execute(func() error {
		t.Fatal("only one probe may run in half-open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen for concurrent half-open caller, got %v", err)
	}

	close(probeBlock)
	time.Sleep(10 * time.Millisecond)

	if cb.State() != StateClosed {
		t.Errorf("expected Closed after successful probe, got %v", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := New(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})

	_ = cb.Execute(func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	_ = cb.Execute(func() error { return errBoom })

	if cb.State() != StateOpen {
		t.Errorf("expected Open after failed probe, got %v", cb.State())
	}
}

func TestCircuitBreakerResetForcesClosed(t *testing.T) {
	cb := New(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	_ = cb.Execute(func() error { return errBoom })

	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("expected Closed after Reset(), got %v", cb.State())
	}
	if len(cb.History()) != 0 {
		t.Errorf("expected empty history after Reset(), got %d entries", len(cb.History()))
	}
}

func TestCircuitBreakerHistoryCapped(t *testing.T) {
	cb := New(CircuitBreakerConfig{FailureThreshold: 1000, ResetTimeout: time.Minute})

	for i := 0; i < historyCap+10; i++ {
		_ = cb.Execute(func() error { return errBoom })
	}

	if len(cb.History()) != historyCap {
		t.Errorf("expected history capped at %d, got %d", historyCap, len(cb.History()))
	}
}

func TestCircuitBreakerFailFastLatency(t *testing.T) {
	cb := New(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	_ = cb.Execute(func() error { return errBoom })

	start := time.Now()
	_ = cb.Execute(func() error { return nil })
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("expected fail-fast under 100ms, took %s", elapsed)
	}
}
