package llmprovider

import (
	"context"
	"time"
)

// RetryConfig configures the Retry decorator's exponential backoff.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig matches the teacher's failover orchestrator
// defaults (internal/agent/failover.go DefaultFailoverConfig).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// Retry wraps a Provider, retrying transient errors up to cfg.MaxRetries
// times with exponential backoff. Non-transient errors surface
// immediately without retrying.
type Retry struct {
	inner Provider
	cfg   RetryConfig
}

// NewRetry builds a Retry decorator around inner.
func NewRetry(inner Provider, cfg RetryConfig) *Retry {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultRetryConfig().MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultRetryConfig().InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultRetryConfig().MaxBackoff
	}
	return &Retry{inner: inner, cfg: cfg}
}

func (r *Retry) ModelName() string { return r.inner.ModelName() }

func (r *Retry) CostPerToken() (input, output float64) { return r.inner.CostPerToken() }

func (r *Retry) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var resp *CompletionResponse
	err := r.withRetry(ctx, func() error {
		var err error
		resp, err = r.inner.Complete(ctx, req)
		return err
	})
	return resp, err
}

func (r *Retry) CompleteWithTools(ctx context.Context, req ToolCompletionRequest) (*ToolCompletionResponse, error) {
	var resp *ToolCompletionResponse
	err := r.withRetry(ctx, func() error {
		var err error
		resp, err = r.inner.CompleteWithTools(ctx, req)
		return err
	})
	return resp, err
}

func (r *Retry) withRetry(ctx context.Context, op func() error) error {
	backoff := r.cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt >= r.cfg.MaxRetries {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > r.cfg.MaxBackoff {
				backoff = r.cfg.MaxBackoff
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
