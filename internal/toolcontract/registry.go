package toolcontract

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/agentforge/corerun/internal/jobctx"
	"github.com/agentforge/corerun/internal/toolrate"
)

// Definition is a tool's shape as surfaced to the LLM.
type Definition struct {
	Name             string
	Description      string
	ParametersSchema map[string]any
}

// Registry owns the name -> Tool mapping, enforces lenient schema
// validation once at registration, and drives execution through the
// rate limiter and a per-tool timeout.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	limiter *toolrate.Limiter
}

// NewRegistry builds an empty registry backed by its own rate limiter.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		limiter: toolrate.New(),
	}
}

// Register validates tool's schema and adds it to the registry,
// replacing any existing tool of the same name. It panics on an invalid
// schema: a malformed built-in tool schema is a programming error that
// should fail at startup, not at the first invocation.
func (r *Registry) Register(tool Tool) {
	if err := ValidateLenient(tool.ParametersSchema()); err != nil {
		panic(fmt.Sprintf("toolcontract: invalid schema for tool %q: %v", tool.Name(), err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ToolDefinitions returns every tool's LLM-facing definition.
func (r *Registry) ToolDefinitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Name:             t.Name(),
			Description:      t.Description(),
			ParametersSchema: t.ParametersSchema(),
		})
	}
	return defs
}

// RequiresApproval resolves a tool's approval requirement for a specific
// invocation. Enforcement (prompting, honoring an active auto-approve
// grant) is the caller's responsibility, same as sanitization.
func (r *Registry) RequiresApproval(name string, params json.RawMessage) ApprovalRequirement {
	t, ok := r.Get(name)
	if !ok {
		return ApprovalNever
	}
	return approvalOf(t, params)
}

// RequiresSanitization reports whether a tool's output should be passed
// through the leak detector before being handed to the model.
func (r *Registry) RequiresSanitization(name string) bool {
	t, ok := r.Get(name)
	if !ok {
		return false
	}
	return requiresSanitization(t)
}

// Domain reports whether a tool must be routed to the sandbox (C6)
// rather than executed in-process.
func (r *Registry) Domain(name string) Domain {
	t, ok := r.Get(name)
	if !ok {
		return DomainInProcess
	}
	return domainOf(t)
}

// Execute runs name with params under job, enforcing: rate limiting via
// C2 (when the tool declares a RateLimitConfig), and a timeout (the
// tool's ExecutionTimeout hint, or DefaultExecutionTimeout). Sanitization
// and approval are intentionally left to the caller.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage, job *jobctx.Context) (*Output, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, newError(ErrExecutionFailed, name, "tool not found", nil)
	}

	if cfg, hasLimit := rateLimitOf(t); hasLimit {
		userID := "default"
		if job != nil {
			userID = job.UserID
		}
		result := r.limiter.CheckAndRecord(userID, name, cfg)
		if !result.Allowed {
			return nil, &Error{
				Kind:       ErrRateLimited,
				ToolName:   name,
				Message:    "rate limit exceeded",
				RetryAfter: result.RetryAfter,
			}
		}
	}

	return r.executeWithTimeout(ctx, t, params, job)
}

func (r *Registry) executeWithTimeout(ctx context.Context, t Tool, params json.RawMessage, job *jobctx.Context) (*Output, error) {
	timeout := timeoutOf(t)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execResult struct {
		out *Output
		err error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resultCh <- execResult{err: newError(ErrExecutionFailed, t.Name(),
					fmt.Sprintf("panic: %v\n%s", rec, debug.Stack()), nil)}
			}
		}()
		out, err := t.Execute(execCtx, params, job)
		if err != nil {
			resultCh <- execResult{err: err}
			return
		}
		resultCh <- execResult{out: out}
	}()

	select {
	case res := <-resultCh:
		return res.out, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, newError(ErrTimeout, t.Name(), "context cancelled", ctx.Err())
		}
		return nil, newError(ErrTimeout, t.Name(), fmt.Sprintf("execution timed out after %s", timeout), nil)
	}
}
