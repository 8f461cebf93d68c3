package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentforge/corerun/internal/metrics"
)

// maxOpenAICompatibleResponseBytes is the configured cap above which a
// response body is refused outright (§4.4).
const maxOpenAICompatibleResponseBytes = 10 << 20

// toolNameProxyPrefix marks a tool call name that was routed through the
// sandbox HTTP proxy and must be normalized back to its real name before
// being matched against the registered tool set.
const toolNameProxyPrefix = "proxy_"

// OpenAICompatibleChat talks to any OpenAI-chat-completions-compatible
// endpoint over plain net/http rather than a vendor SDK, since the
// flexible base-URL and proxy-prefix handling this adapter needs is
// specific to this platform's proxying/sandboxing setup, not something a
// vendor-official client is built to do.
type OpenAICompatibleChat struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	costInput  float64
	costOutput float64
	metrics    *metrics.Metrics
}

// OpenAICompatibleConfig configures the adapter.
type OpenAICompatibleConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	CostPerInputToken float64
	CostPerOutputToken float64
	HTTPClient        *http.Client
}

// NewOpenAICompatibleChat builds the adapter, normalizing BaseURL so both
// `/v1`-suffixed and unsuffixed base URLs work.
func NewOpenAICompatibleChat(cfg OpenAICompatibleConfig) *OpenAICompatibleChat {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &OpenAICompatibleChat{
		httpClient: client,
		baseURL:    normalizeBaseURL(cfg.BaseURL),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		costInput:  cfg.CostPerInputToken,
		costOutput: cfg.CostPerOutputToken,
	}
}

func normalizeBaseURL(base string) string {
	trimmed := strings.TrimRight(base, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}

func (c *OpenAICompatibleChat) ModelName() string { return c.model }

func (c *OpenAICompatibleChat) CostPerToken() (input, output float64) {
	return c.costInput, c.costOutput
}

// SetModel implements ModelSetter.
func (c *OpenAICompatibleChat) SetModel(model string) { c.model = model }

// SetMetrics installs optional Prometheus instrumentation (C4, per
// SPEC_FULL.md §11). Nil (the default) disables recording.
func (c *OpenAICompatibleChat) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []wireCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type wireCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type chatRequestBody struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
}

type chatResponseBody struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int  `json:"prompt_tokens"`
		CompletionTokens *int `json:"completion_tokens"`
		TotalTokens      int  `json:"total_tokens"`
	} `json:"usage"`
}

func buildMessages(req CompletionRequest) []chatMessage {
	msgs := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}
	return msgs
}

func (c *OpenAICompatibleChat) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	body := chatRequestBody{
		Model:       firstNonEmpty(req.Model, c.model),
		Messages:    buildMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	parsed, err := c.doChat(ctx, body)
	if err != nil {
		return nil, err
	}
	return &parsed.CompletionResponse, nil
}

func (c *OpenAICompatibleChat) CompleteWithTools(ctx context.Context, req ToolCompletionRequest) (*ToolCompletionResponse, error) {
	body := chatRequestBody{
		Model:       firstNonEmpty(req.Model, c.model),
		Messages:    buildMessages(req.CompletionRequest),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, t := range req.Tools {
		wt := wireTool{Type: "function"}
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		body.Tools = append(body.Tools, wt)
	}
	return c.doChat(ctx, body)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// doChat times and records the outcome of one completion request, then
// delegates to doChatRequest for the actual HTTP round trip.
func (c *OpenAICompatibleChat) doChat(ctx context.Context, body chatRequestBody) (*ToolCompletionResponse, error) {
	start := time.Now()
	resp, err := c.doChatRequest(ctx, body)
	outcome := "success"
	if err != nil {
		outcome = "error"
		if tcErr, ok := err.(*Error); ok {
			outcome = string(tcErr.Kind)
		}
	}
	c.metrics.RecordLLMRequest("openai_compatible", outcome, time.Since(start))
	return resp, err
}

func (c *OpenAICompatibleChat) doChatRequest(ctx context.Context, body chatRequestBody) (*ToolCompletionResponse, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidResponse, Provider: "openai_compatible", Message: "failed to encode request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return nil, &Error{Kind: ErrRequestFailed, Provider: "openai_compatible", Message: "failed to build request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: ErrRequestFailed, Provider: "openai_compatible", Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &Error{Kind: ErrAuthFailed, Provider: "openai_compatible", Message: "unauthorized"}
	}

	limited := io.LimitReader(resp.Body, maxOpenAICompatibleResponseBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, &Error{Kind: ErrRequestFailed, Provider: "openai_compatible", Message: "failed reading response", Cause: err}
	}
	if len(data) > maxOpenAICompatibleResponseBytes {
		return nil, &Error{Kind: ErrInvalidResponse, Provider: "openai_compatible", Message: "response exceeds maximum size"}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &Error{Kind: ErrRateLimited, Provider: "openai_compatible", Message: "rate limited", RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode >= 500 {
		return nil, &Error{Kind: ErrRequestFailed, Provider: "openai_compatible", Message: fmt.Sprintf("server error: %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{Kind: ErrInvalidResponse, Provider: "openai_compatible", Message: fmt.Sprintf("unexpected status: %d", resp.StatusCode)}
	}

	var parsed chatResponseBody
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &Error{Kind: ErrInvalidResponse, Provider: "openai_compatible", Message: "malformed response body", Cause: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{Kind: ErrInvalidResponse, Provider: "openai_compatible", Message: "no choices in response"}
	}

	choice := parsed.Choices[0]
	outputTokens := deriveOutputTokens(parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens, parsed.Usage.TotalTokens)

	result := &ToolCompletionResponse{
		CompletionResponse: CompletionResponse{
			Content:      choice.Message.Content,
			FinishReason: mapFinishReason(choice.FinishReason),
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: outputTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      normalizeProxyToolName(tc.Function.Name),
			Arguments: args,
		})
	}

	return result, nil
}

// deriveOutputTokens implements the usage-parsing fallback chain: prefer
// completion_tokens; else derive completion from total minus prompt
// using saturating subtraction; else fall back to total-as-output or
// prompt-only.
func deriveOutputTokens(prompt int, completion *int, total int) int {
	if completion != nil {
		return *completion
	}
	if total > 0 {
		if total >= prompt {
			return total - prompt
		}
		return total
	}
	return 0
}

func mapFinishReason(raw string) FinishReason {
	switch raw {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	case "tool_calls", "function_call":
		return FinishToolCalls
	default:
		return FinishStop
	}
}

func normalizeProxyToolName(name string) string {
	return strings.TrimPrefix(name, toolNameProxyPrefix)
}

func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err != nil {
		return 0
	}
	return seconds
}
