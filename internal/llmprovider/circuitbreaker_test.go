package llmprovider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	fp := &fakeProvider{responses: []error{
		&Error{Kind: ErrRequestFailed},
		&Error{Kind: ErrRequestFailed},
		&Error{Kind: ErrRequestFailed},
	}}
	cfg := CircuitBreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Hour, RequiredSuccesses: 1}
	cb := NewCircuitBreaker(fp, cfg)

	for i := 0; i < 3; i++ {
		if _, err := cb.Complete(context.Background(), CompletionRequest{}); err == nil {
			t.Fatalf("expected failure on attempt %d", i)
		}
	}

	if cb.State() != CircuitOpen {
		t.Fatalf("expected circuit to be open, got %s", cb.State())
	}

	_, err := cb.Complete(context.Background(), CompletionRequest{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if fp.calls != 3 {
		t.Fatalf("rejected call while open must not reach inner provider, got %d calls", fp.calls)
	}
}

func TestCircuitBreakerHalfOpenClosesOnSuccess(t *testing.T) {
	fp := &fakeProvider{responses: []error{
		&Error{Kind: ErrRequestFailed},
		&Error{Kind: ErrRequestFailed},
	}}
	cfg := CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: 20 * time.Millisecond, RequiredSuccesses: 1}
	cb := NewCircuitBreaker(fp, cfg)

	for i := 0; i < 2; i++ {
		cb.Complete(context.Background(), CompletionRequest{})
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after threshold failures, got %s", cb.State())
	}

	time.Sleep(30 * time.Millisecond)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half_open after recovery timeout, got %s", cb.State())
	}

	resp, err := cb.Complete(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error on probe: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenReopensOnFailure(t *testing.T) {
	fp := &fakeProvider{responses: []error{
		&Error{Kind: ErrRequestFailed},
		&Error{Kind: ErrRequestFailed},
		&Error{Kind: ErrRequestFailed},
	}}
	cfg := CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: 20 * time.Millisecond, RequiredSuccesses: 1}
	cb := NewCircuitBreaker(fp, cfg)

	for i := 0; i < 2; i++ {
		cb.Complete(context.Background(), CompletionRequest{})
	}
	time.Sleep(30 * time.Millisecond)

	// The probe itself fails (third response), so the breaker must reopen.
	if _, err := cb.Complete(context.Background(), CompletionRequest{}); err == nil {
		t.Fatal("expected probe failure")
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected reopen after failed half-open probe, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenAllowsOnlyOneProbe(t *testing.T) {
	fp := &fakeProvider{responses: []error{
		&Error{Kind: ErrRequestFailed},
		&Error{Kind: ErrRequestFailed},
	}}
	cfg := CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: 20 * time.Millisecond, RequiredSuccesses: 1}
	cb := NewCircuitBreaker(fp, cfg)

	for i := 0; i < 2; i++ {
		cb.Complete(context.Background(), CompletionRequest{})
	}
	time.Sleep(30 * time.Millisecond)

	// Manually reserve the probe slot, then verify a concurrent attempt is rejected.
	if err := cb.admit(); err != nil {
		t.Fatalf("expected first probe admitted, got %v", err)
	}
	if err := cb.admit(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected second concurrent probe rejected, got %v", err)
	}
}

func TestCircuitBreakerClosedForwardsEveryCall(t *testing.T) {
	fp := &fakeProvider{result: &CompletionResponse{Content: "ok"}}
	cb := NewCircuitBreaker(fp, DefaultCircuitBreakerConfig())

	for i := 0; i < 5; i++ {
		if _, err := cb.Complete(context.Background(), CompletionRequest{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if fp.calls != 5 {
		t.Fatalf("expected all calls forwarded while closed, got %d", fp.calls)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}
}
