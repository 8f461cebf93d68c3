package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/agentforge/corerun/internal/jobctx"
	"github.com/agentforge/corerun/internal/llmprovider"
	"github.com/agentforge/corerun/internal/toolcontract"
)

// stubProvider answers CompleteWithTools from a canned queue of
// responses, one per call, mirroring compactor_test.go's stubLLM.
type stubProvider struct {
	mu        sync.Mutex
	responses []llmprovider.ToolCompletionResponse
	calls     int
}

func (s *stubProvider) ModelName() string { return "stub" }

func (s *stubProvider) CostPerToken() (input, output float64) { return 0, 0 }

func (s *stubProvider) Complete(ctx context.Context, req llmprovider.CompletionRequest) (*llmprovider.CompletionResponse, error) {
	resp, err := s.CompleteWithTools(ctx, llmprovider.ToolCompletionRequest{CompletionRequest: req})
	if err != nil {
		return nil, err
	}
	return &resp.CompletionResponse, nil
}

func (s *stubProvider) CompleteWithTools(ctx context.Context, req llmprovider.ToolCompletionRequest) (*llmprovider.ToolCompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.responses) {
		return nil, errors.New("stubProvider: no more canned responses")
	}
	resp := s.responses[s.calls]
	s.calls++
	return &resp, nil
}

// stubTool is a fixed-output tool used to exercise the registry path
// without needing a real built-in tool implementation.
type stubTool struct {
	name                 string
	output               string
	isError              bool
	requiresSanitization bool
	approval             toolcontract.ApprovalRequirement
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub tool for tests" }
func (t *stubTool) ParametersSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (t *stubTool) Execute(ctx context.Context, params json.RawMessage, job *jobctx.Context) (*toolcontract.Output, error) {
	return &toolcontract.Output{Content: t.output, IsError: t.isError, RequiresSanitization: t.requiresSanitization}, nil
}
func (t *stubTool) RequiresApproval(params json.RawMessage) toolcontract.ApprovalRequirement {
	return t.approval
}

// stubChannel delivers a fixed set of messages, then closes, and records
// every response/status it's asked to deliver.
type stubChannel struct {
	mu        sync.Mutex
	name      string
	inbox     []IncomingMessage
	responses []OutgoingResponse
	statuses  []StatusUpdate
	stopped   bool

	// neverClose, when set, leaves the returned stream open with no
	// further messages after inbox is drained, so a test can observe
	// ctx.Done() winning the loop's select deterministically instead of
	// racing against the stream's own closure.
	neverClose bool
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Start(ctx context.Context) (<-chan IncomingMessage, error) {
	ch := make(chan IncomingMessage, len(c.inbox))
	for _, m := range c.inbox {
		ch <- m
	}
	if !c.neverClose {
		close(ch)
	}
	return ch, nil
}

func (c *stubChannel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}

func (c *stubChannel) Respond(ctx context.Context, msg IncomingMessage, resp OutgoingResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, resp)
	return nil
}

func (c *stubChannel) SendStatus(ctx context.Context, update StatusUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, update)
	return nil
}

func (c *stubChannel) recordedResponses() []OutgoingResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]OutgoingResponse, len(c.responses))
	copy(out, c.responses)
	return out
}

func (c *stubChannel) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
