package llmprovider

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeProvider struct {
	calls     int
	responses []error
	result    *CompletionResponse
}

func (f *fakeProvider) ModelName() string                      { return "fake" }
func (f *fakeProvider) CostPerToken() (input, output float64) { return 0, 0 }

func (f *fakeProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.responses) && f.responses[idx] != nil {
		return nil, f.responses[idx]
	}
	if f.result != nil {
		return f.result, nil
	}
	return &CompletionResponse{Content: "ok"}, nil
}

func (f *fakeProvider) CompleteWithTools(ctx context.Context, req ToolCompletionRequest) (*ToolCompletionResponse, error) {
	resp, err := f.Complete(ctx, req.CompletionRequest)
	if err != nil {
		return nil, err
	}
	return &ToolCompletionResponse{CompletionResponse: *resp}, nil
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	fp := &fakeProvider{responses: []error{
		&Error{Kind: ErrRequestFailed},
		&Error{Kind: ErrRateLimited},
		nil,
	}}
	r := NewRetry(fp, fastRetryConfig())

	resp, err := r.Complete(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if fp.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", fp.calls)
	}
}

func TestRetryDoesNotRetryNonTransientErrors(t *testing.T) {
	fp := &fakeProvider{responses: []error{&Error{Kind: ErrAuthFailed}}}
	r := NewRetry(fp, fastRetryConfig())

	_, err := r.Complete(context.Background(), CompletionRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if fp.calls != 1 {
		t.Fatalf("expected exactly 1 call for non-transient error, got %d", fp.calls)
	}
}

func TestRetryRespectsMaxRetries(t *testing.T) {
	fp := &fakeProvider{responses: []error{
		&Error{Kind: ErrRequestFailed},
		&Error{Kind: ErrRequestFailed},
		&Error{Kind: ErrRequestFailed},
	}}
	r := NewRetry(fp, fastRetryConfig())

	_, err := r.Complete(context.Background(), CompletionRequest{})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if fp.calls != 3 {
		t.Fatalf("expected MaxRetries+1=3 calls, got %d", fp.calls)
	}
}

func TestRetryStopsOnContextCancellation(t *testing.T) {
	fp := &fakeProvider{responses: []error{
		&Error{Kind: ErrRequestFailed},
		&Error{Kind: ErrRequestFailed},
	}}
	cfg := RetryConfig{MaxRetries: 5, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}
	r := NewRetry(fp, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Complete(ctx, CompletionRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
