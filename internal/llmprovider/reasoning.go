package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ReasoningContext carries the conversation, available tools, and job
// framing a Reasoning call needs.
type ReasoningContext struct {
	Messages       []Message
	AvailableTools []ToolDefinition
	JobDescription string
	CurrentState   string
}

// PlannedAction is one step of an ActionPlan.
type PlannedAction struct {
	ToolName        string         `json:"tool_name"`
	Parameters      map[string]any `json:"parameters"`
	Reasoning       string         `json:"reasoning"`
	ExpectedOutcome string         `json:"expected_outcome"`
}

// ActionPlan is the structured result of Plan.
type ActionPlan struct {
	Goal              string          `json:"goal"`
	Actions           []PlannedAction `json:"actions"`
	EstimatedCost     *float64        `json:"estimated_cost,omitempty"`
	EstimatedTimeSecs *uint64         `json:"estimated_time_secs,omitempty"`
	Confidence        float64         `json:"confidence"`
}

// ToolSelection is one tool the model chose to invoke.
type ToolSelection struct {
	ToolName     string
	Parameters   map[string]any
	Reasoning    string
	Alternatives []string
}

// SuccessEvaluation is the structured result of EvaluateSuccess.
type SuccessEvaluation struct {
	Success     bool     `json:"success"`
	Confidence  float64  `json:"confidence"`
	Reasoning   string   `json:"reasoning"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Reasoning wraps a Provider with the agent's planning, tool-selection,
// evaluation, and conversational-response operations (§4.4/§4.10). It
// builds the system prompts the raw Provider contract has no notion of,
// and cleans model output of thinking tags and self-narration before it
// reaches a user.
type Reasoning struct {
	llm Provider
}

// NewReasoning builds a Reasoning engine around llm.
func NewReasoning(llm Provider) *Reasoning {
	return &Reasoning{llm: llm}
}

func (r *Reasoning) Plan(ctx context.Context, rc ReasoningContext) (*ActionPlan, error) {
	messages := make([]Message, 0, len(rc.Messages)+1)
	messages = append(messages, rc.Messages...)
	if rc.JobDescription != "" {
		messages = append(messages, Message{
			Role:    "user",
			Content: fmt.Sprintf("Please create a plan to complete this job:\n\n%s", rc.JobDescription),
		})
	}

	resp, err := r.llm.Complete(ctx, CompletionRequest{
		System:      buildPlanningPrompt(rc),
		Messages:    messages,
		MaxTokens:   2048,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, err
	}

	var plan ActionPlan
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &plan); err != nil {
		return nil, &Error{Kind: ErrInvalidResponse, Provider: r.llm.ModelName(), Message: fmt.Sprintf("failed to parse plan: %v", err), Cause: err}
	}
	return &plan, nil
}

func (r *Reasoning) SelectTool(ctx context.Context, rc ReasoningContext) (*ToolSelection, error) {
	selections, err := r.SelectTools(ctx, rc)
	if err != nil {
		return nil, err
	}
	if len(selections) == 0 {
		return nil, nil
	}
	return &selections[0], nil
}

// SelectTools may return multiple selections when the model determines
// several tool calls can execute in parallel.
func (r *Reasoning) SelectTools(ctx context.Context, rc ReasoningContext) ([]ToolSelection, error) {
	if len(rc.AvailableTools) == 0 {
		return nil, nil
	}

	resp, err := r.llm.CompleteWithTools(ctx, ToolCompletionRequest{
		CompletionRequest: CompletionRequest{
			Messages:  rc.Messages,
			MaxTokens: 1024,
		},
		Tools: rc.AvailableTools,
	})
	if err != nil {
		return nil, err
	}

	selections := make([]ToolSelection, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		selections = append(selections, ToolSelection{
			ToolName:   call.Name,
			Parameters: call.Arguments,
			Reasoning:  resp.Content,
		})
	}
	return selections, nil
}

const evaluationSystemPrompt = `You are an evaluation assistant. Your job is to determine if a task was completed successfully.

Analyze the task description and the result, then provide:
1. Whether the task was successful (true/false)
2. A confidence score (0-1)
3. Detailed reasoning
4. Any issues found
5. Suggestions for improvement

Respond in JSON format:
{
    "success": true/false,
    "confidence": 0.0-1.0,
    "reasoning": "...",
    "issues": ["..."],
    "suggestions": ["..."]
}`

func (r *Reasoning) EvaluateSuccess(ctx context.Context, rc ReasoningContext, result string) (*SuccessEvaluation, error) {
	var user string
	if rc.JobDescription != "" {
		user = fmt.Sprintf("Task description:\n%s\n\nResult:\n%s", rc.JobDescription, result)
	} else {
		user = fmt.Sprintf("Result to evaluate:\n%s", result)
	}

	resp, err := r.llm.Complete(ctx, CompletionRequest{
		System:      evaluationSystemPrompt,
		Messages:    []Message{{Role: "user", Content: user}},
		MaxTokens:   1024,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	var eval SuccessEvaluation
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &eval); err != nil {
		return nil, &Error{Kind: ErrInvalidResponse, Provider: r.llm.ModelName(), Message: fmt.Sprintf("failed to parse evaluation: %v", err), Cause: err}
	}
	return &eval, nil
}

// Respond generates a reply to the conversation. If tools are available
// it uses tool-completion mode and reports any tool calls in canonical
// short form rather than executing them — execution is the caller's job.
func (r *Reasoning) Respond(ctx context.Context, rc ReasoningContext) (string, error) {
	system := buildConversationPrompt(rc)

	if len(rc.AvailableTools) > 0 {
		resp, err := r.llm.CompleteWithTools(ctx, ToolCompletionRequest{
			CompletionRequest: CompletionRequest{
				System:      system,
				Messages:    rc.Messages,
				MaxTokens:   4096,
				Temperature: 0.7,
			},
			Tools: rc.AvailableTools,
		})
		if err != nil {
			return "", err
		}

		if len(resp.ToolCalls) > 0 {
			infos := make([]string, 0, len(resp.ToolCalls))
			for _, tc := range resp.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				infos = append(infos, fmt.Sprintf("`%s(%s)`", tc.Name, args))
			}
			return fmt.Sprintf("[Calling tools: %s]", strings.Join(infos, ", ")), nil
		}

		content := resp.Content
		if content == "" {
			content = "I'm not sure how to respond to that."
		}
		return cleanResponse(content), nil
	}

	resp, err := r.llm.Complete(ctx, CompletionRequest{
		System:      system,
		Messages:    rc.Messages,
		MaxTokens:   4096,
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}
	return cleanResponse(resp.Content), nil
}

// ConversationSystemPrompt exposes the system prompt Respond builds
// internally, for callers (the agent main loop, C11) that run their own
// tool-calling loop directly against a Provider instead of going
// through Respond, but still want the same forbidden-self-narration
// framing and tool announcement.
func (r *Reasoning) ConversationSystemPrompt(rc ReasoningContext) string {
	return buildConversationPrompt(rc)
}

// CleanResponse applies the same thinking-tag and self-narration
// stripping Respond applies to its own output, for callers that obtain
// a final response by some other path (e.g. C11's own tool-calling
// loop against CompleteWithTools).
func CleanResponse(text string) string {
	return cleanResponse(text)
}

func buildPlanningPrompt(rc ReasoningContext) string {
	toolsDesc := "No tools available."
	if len(rc.AvailableTools) > 0 {
		var b strings.Builder
		for i, t := range rc.AvailableTools {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "- %s: %s", t.Name, t.Description)
		}
		toolsDesc = b.String()
	}

	return fmt.Sprintf(`You are a planning assistant for an autonomous agent. Your job is to create detailed, actionable plans.

Available tools:
%s

When creating a plan:
1. Break down the goal into specific, achievable steps
2. Select the most appropriate tool for each step
3. Consider dependencies between steps
4. Estimate costs and time realistically
5. Identify potential failure points

Respond with a JSON plan in this format:
{
    "goal": "Clear statement of the goal",
    "actions": [
        {
            "tool_name": "tool_to_use",
            "parameters": {},
            "reasoning": "Why this action",
            "expected_outcome": "What should happen"
        }
    ],
    "estimated_cost": 0.0,
    "estimated_time_secs": 0,
    "confidence": 0.0-1.0
}`, toolsDesc)
}

func buildConversationPrompt(rc ReasoningContext) string {
	toolsSection := ""
	if len(rc.AvailableTools) > 0 {
		var b strings.Builder
		for _, t := range rc.AvailableTools {
			fmt.Fprintf(&b, "  - %s: %s\n", t.Name, t.Description)
		}
		toolsSection = fmt.Sprintf("\n\n## Available Tools\nYou have access to these tools:\n%s\nCall tools directly when needed - don't announce what you're going to do.", strings.TrimRight(b.String(), "\n"))
	}

	return fmt.Sprintf(`You are an autonomous agent assistant.

CRITICAL: Never output your internal reasoning or thinking process. Your response must contain ONLY the final answer or action.

FORBIDDEN patterns (never start with these):
- "The user wants..." / "The user is asking..."
- "I need to..." / "I should..." / "I will..."
- "Let me think..." / "Let me first..."
- "This is a request to..."
- Any self-narration about what you're doing

CORRECT behavior:
- Answer questions directly
- Call tools without announcing it
- Ask clarifying questions if genuinely needed
- Provide code/content without preamble%s

## Format
- Be concise
- Use markdown where helpful
- Code blocks with language tags`, toolsSection)
}

// extractJSON pulls a JSON object out of prose by locating the first "{"
// and last "}". If none is found the original text is returned so
// unmarshal fails with a useful error rather than silently on "".
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || start >= end {
		return text
	}
	return text[start : end+1]
}

func cleanResponse(text string) string {
	return stripReasoningPatterns(stripThinkingTags(text))
}

// stripThinkingTags removes <thinking>...</thinking> blocks, including a
// malformed unclosed tag (everything from its start is discarded).
func stripThinkingTags(text string) string {
	var b strings.Builder
	remaining := text

	for {
		start := strings.Index(remaining, "<thinking>")
		if start == -1 {
			break
		}
		b.WriteString(remaining[:start])

		rest := remaining[start:]
		closeIdx := strings.Index(rest, "</thinking>")
		if closeIdx == -1 {
			remaining = ""
			break
		}
		remaining = rest[closeIdx+len("</thinking>"):]
	}
	b.WriteString(remaining)

	cleaned := strings.TrimSpace(b.String())
	for strings.Contains(cleaned, "\n\n\n") {
		cleaned = strings.ReplaceAll(cleaned, "\n\n\n", "\n\n")
	}
	return cleaned
}

var reasoningPrefixes = []string{
	"the user wants",
	"the user is asking",
	"the user would like",
	"i need to",
	"i should",
	"i will",
	"i'll",
	"let me think",
	"let me first",
	"let me check",
	"let me look",
	"let me explore",
	"let me search",
	"this is a request",
	"this request",
	"to answer this",
	"to help with this",
	"first, i",
	"okay, so",
	"alright, ",
}

// stripReasoningPatterns drops leading lines that look like self-narrated
// reasoning. If doing so would strip the entire response, the original
// text is kept rather than returning an empty string.
func stripReasoningPatterns(text string) string {
	text = strings.TrimSpace(text)
	lines := strings.Split(text, "\n")
	skipUntil := 0

	for i, line := range lines {
		lower := strings.ToLower(strings.TrimSpace(line))
		isReasoning := false
		for _, p := range reasoningPrefixes {
			if strings.HasPrefix(lower, p) {
				isReasoning = true
				break
			}
		}
		if isReasoning {
			skipUntil = i + 1
		} else if strings.TrimSpace(line) != "" && skipUntil <= i {
			break
		}
	}

	if skipUntil > 0 && skipUntil < len(lines) {
		result := strings.TrimSpace(strings.Join(lines[skipUntil:], "\n"))
		if result != "" {
			return result
		}
	}
	return text
}
