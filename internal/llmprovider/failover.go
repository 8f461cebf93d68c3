package llmprovider

import (
	"context"
	"errors"
	"sync"
	"time"
)

// FailoverCooldown configures how a provider is temporarily skipped
// after repeated transient failures.
type FailoverCooldown struct {
	FailureThreshold int
	CooldownPeriod   time.Duration
}

// DefaultFailoverCooldown mirrors the teacher's circuit-breaker-style
// threshold/timeout pair (internal/agent/failover.go
// DefaultFailoverConfig's CircuitBreakerThreshold/Timeout), reused here
// purely as a provider-skip cooldown — independent of the separate
// CircuitBreaker decorator spec requires.
func DefaultFailoverCooldown() FailoverCooldown {
	return FailoverCooldown{
		FailureThreshold: 3,
		CooldownPeriod:   30 * time.Second,
	}
}

type providerHealth struct {
	consecutiveFailures int
	skippedUntil        time.Time
}

// Failover holds an ordered list of providers. On a transient failure
// from the current provider it advances to the next eligible one; a
// provider that racks up FailureThreshold consecutive failures is
// skipped for CooldownPeriod before being retried. A non-transient
// error from the provider actually attempted short-circuits the chain
// rather than trying the rest.
type Failover struct {
	mu        sync.Mutex
	providers []Provider
	cfg       FailoverCooldown
	health    map[int]*providerHealth
}

// NewFailover builds a Failover decorator. It requires at least one
// provider.
func NewFailover(providers []Provider, cfg FailoverCooldown) (*Failover, error) {
	if len(providers) == 0 {
		return nil, errors.New("llmprovider: failover requires at least one provider")
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailoverCooldown().FailureThreshold
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = DefaultFailoverCooldown().CooldownPeriod
	}
	return &Failover{
		providers: providers,
		cfg:       cfg,
		health:    make(map[int]*providerHealth),
	}, nil
}

func (f *Failover) ModelName() string { return f.providers[0].ModelName() }

func (f *Failover) CostPerToken() (input, output float64) { return f.providers[0].CostPerToken() }

func (f *Failover) eligible(idx int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.health[idx]
	if h == nil {
		return true
	}
	return time.Now().After(h.skippedUntil)
}

func (f *Failover) recordSuccess(idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.health, idx)
}

func (f *Failover) recordFailure(idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.health[idx]
	if h == nil {
		h = &providerHealth{}
		f.health[idx] = h
	}
	h.consecutiveFailures++
	if h.consecutiveFailures >= f.cfg.FailureThreshold {
		h.skippedUntil = time.Now().Add(f.cfg.CooldownPeriod)
	}
}

func (f *Failover) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error
	for idx, p := range f.providers {
		if !f.eligible(idx) {
			continue
		}
		resp, err := p.Complete(ctx, req)
		if err == nil {
			f.recordSuccess(idx)
			return resp, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
		f.recordFailure(idx)
	}
	if lastErr == nil {
		lastErr = errors.New("llmprovider: no eligible providers")
	}
	return nil, lastErr
}

func (f *Failover) CompleteWithTools(ctx context.Context, req ToolCompletionRequest) (*ToolCompletionResponse, error) {
	var lastErr error
	for idx, p := range f.providers {
		if !f.eligible(idx) {
			continue
		}
		resp, err := p.CompleteWithTools(ctx, req)
		if err == nil {
			f.recordSuccess(idx)
			return resp, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
		f.recordFailure(idx)
	}
	if lastErr == nil {
		lastErr = errors.New("llmprovider: no eligible providers")
	}
	return nil, lastErr
}
