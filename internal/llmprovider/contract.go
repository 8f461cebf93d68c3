// Package llmprovider defines the agent-facing LLM provider contract
// (simpler and non-streaming, unlike internal/agent/providers' channel-based
// LLMProvider used by the chat UI) plus the three independently
// composable decorators — retry, failover, circuit breaker — spec
// requires around it, and the OpenAI-compatible chat and reasoning
// adapters built on top.
package llmprovider

import (
	"context"
	"fmt"
)

// Message is one entry in a completion request's conversation history.
type Message struct {
	Role    string
	Content string
}

// ToolDefinition is a tool's shape as passed to a tool-capable completion
// call.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is one invocation the model asked for in a tool-completion
// response.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// CompletionRequest is a plain completion call with no tool use.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// FinishReason enumerates why a completion stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
	FinishError     FinishReason = "error"
)

// CompletionResponse is the result of a plain completion call.
type CompletionResponse struct {
	Content      string
	FinishReason FinishReason
	InputTokens  int
	OutputTokens int
}

// ToolCompletionRequest is a completion call offering tools to the model.
type ToolCompletionRequest struct {
	CompletionRequest
	Tools []ToolDefinition
}

// ToolCompletionResponse additionally carries any tool calls the model
// requested.
type ToolCompletionResponse struct {
	CompletionResponse
	ToolCalls []ToolCall
}

// Provider is the uniform LLM provider contract: complete, complete with
// tool definitions offered, and enough metadata for cost accounting and
// model switching.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	CompleteWithTools(ctx context.Context, req ToolCompletionRequest) (*ToolCompletionResponse, error)
	ModelName() string
	CostPerToken() (input, output float64)
}

// ModelLister is implemented by providers that can enumerate the models
// they serve.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ModelMetadata describes a single model's capabilities.
type ModelMetadata struct {
	ID             string
	ContextWindow  int
	SupportsTools  bool
	SupportsVision bool
}

// ModelMetadataProvider is implemented by providers that can describe a
// model's capabilities.
type ModelMetadataProvider interface {
	ModelMetadata(ctx context.Context, model string) (*ModelMetadata, error)
}

// ModelSetter is implemented by providers that allow switching the active
// model after construction.
type ModelSetter interface {
	SetModel(model string)
}

// ErrorKind is the provider-level error taxonomy (§4.4). Transience is
// explicit: RequestFailed/RateLimited are transient, AuthFailed and
// ContextLengthExceeded are terminal.
type ErrorKind string

const (
	ErrRequestFailed         ErrorKind = "request_failed"
	ErrRateLimited           ErrorKind = "rate_limited"
	ErrAuthFailed            ErrorKind = "auth_failed"
	ErrInvalidResponse       ErrorKind = "invalid_response"
	ErrContextLengthExceeded ErrorKind = "context_length_exceeded"
)

// IsTransient reports whether retrying (possibly against a different
// provider) could plausibly succeed.
func (k ErrorKind) IsTransient() bool {
	switch k {
	case ErrRequestFailed, ErrRateLimited:
		return true
	default:
		return false
	}
}

// Error is a structured provider error.
type Error struct {
	Kind        ErrorKind
	Provider    string
	Message     string
	Cause       error
	RetryAfter  int // seconds; populated when Kind == ErrRateLimited
	UsedTokens  int // populated when Kind == ErrContextLengthExceeded
	LimitTokens int
}

func (e *Error) Error() string {
	if e.Kind == ErrContextLengthExceeded {
		return fmt.Sprintf("[%s:%s] context length exceeded: used %d of %d tokens", e.Provider, e.Kind, e.UsedTokens, e.LimitTokens)
	}
	if e.Message != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Provider, e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s", e.Provider, e.Kind, e.Cause.Error())
	}
	return fmt.Sprintf("[%s:%s]", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsTransient reports whether err (if it's a *Error) is retryable.
func IsTransient(err error) bool {
	var pe *Error
	if e, ok := err.(*Error); ok {
		pe = e
	} else {
		return false
	}
	return pe.Kind.IsTransient()
}
