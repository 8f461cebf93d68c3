package llmprovider

import (
	"context"
	"testing"
)

type scriptedProvider struct {
	content   string
	toolCalls []ToolCall
}

func (s *scriptedProvider) ModelName() string                      { return "scripted" }
func (s *scriptedProvider) CostPerToken() (input, output float64) { return 0, 0 }

func (s *scriptedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return &CompletionResponse{Content: s.content}, nil
}

func (s *scriptedProvider) CompleteWithTools(ctx context.Context, req ToolCompletionRequest) (*ToolCompletionResponse, error) {
	return &ToolCompletionResponse{
		CompletionResponse: CompletionResponse{Content: s.content},
		ToolCalls:          s.toolCalls,
	}, nil
}

func TestExtractJSON(t *testing.T) {
	text := "Here's the plan:\n{\"goal\": \"test\", \"actions\": []}\nThat's my plan."
	got := extractJSON(text)
	if got[0] != '{' || got[len(got)-1] != '}' {
		t.Fatalf("expected JSON object bounds, got %q", got)
	}
}

func TestStripThinkingTagsBasic(t *testing.T) {
	in := "<thinking>Let me think about this...</thinking>Hello, user!"
	got := stripThinkingTags(in)
	if got != "Hello, user!" {
		t.Fatalf("got %q", got)
	}
}

func TestStripThinkingTagsMultiple(t *testing.T) {
	in := "<thinking>First thought</thinking>Hello<thinking>Second thought</thinking> world!"
	got := stripThinkingTags(in)
	if got != "Hello world!" {
		t.Fatalf("got %q", got)
	}
}

func TestStripThinkingTagsMultiline(t *testing.T) {
	in := "<thinking>\nI need to consider:\n1. What the user wants\n2. How to respond\n</thinking>\nHere is my response to your question."
	got := stripThinkingTags(in)
	if got != "Here is my response to your question." {
		t.Fatalf("got %q", got)
	}
}

func TestStripThinkingTagsNoTags(t *testing.T) {
	in := "Just a normal response without thinking tags."
	got := stripThinkingTags(in)
	if got != in {
		t.Fatalf("got %q", got)
	}
}

func TestStripThinkingTagsUnclosed(t *testing.T) {
	in := "Hello <thinking>this never closes"
	got := stripThinkingTags(in)
	if got != "Hello" {
		t.Fatalf("got %q", got)
	}
}

func TestStripReasoningPatternsBasic(t *testing.T) {
	in := "The user wants me to implement something.\n\nHere's the implementation:"
	got := stripReasoningPatterns(in)
	if got != "Here's the implementation:" {
		t.Fatalf("got %q", got)
	}
}

func TestStripReasoningPatternsMultiline(t *testing.T) {
	in := "The user is asking about Telegram.\nI need to think about what this involves.\nLet me first check the existing code.\n\nHere's what I found in the codebase."
	got := stripReasoningPatterns(in)
	if got != "Here's what I found in the codebase." {
		t.Fatalf("got %q", got)
	}
}

func TestStripReasoningNoPatterns(t *testing.T) {
	in := "Here's a direct answer to your question."
	got := stripReasoningPatterns(in)
	if got != in {
		t.Fatalf("got %q", got)
	}
}

func TestStripReasoningPreservesAllIfOnlyReasoning(t *testing.T) {
	in := "The user wants to know X."
	got := stripReasoningPatterns(in)
	if got != in {
		t.Fatalf("expected original text preserved, got %q", got)
	}
}

func TestCleanResponseCombined(t *testing.T) {
	in := "<thinking>Internal thought</thinking>I need to check this.\n\nActual response here."
	got := cleanResponse(in)
	if got != "Actual response here." {
		t.Fatalf("got %q", got)
	}
}

func TestReasoningRespondWithoutToolsCleansOutput(t *testing.T) {
	sp := &scriptedProvider{content: "<thinking>plan</thinking>I need to answer.\n\nThe answer is 42."}
	r := NewReasoning(sp)

	got, err := r.Respond(context.Background(), ReasoningContext{
		Messages: []Message{{Role: "user", Content: "what is the answer?"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "The answer is 42." {
		t.Fatalf("got %q", got)
	}
}

func TestReasoningRespondWithToolsReportsCalls(t *testing.T) {
	sp := &scriptedProvider{toolCalls: []ToolCall{{ID: "1", Name: "search", Arguments: map[string]any{"q": "go"}}}}
	r := NewReasoning(sp)

	got, err := r.Respond(context.Background(), ReasoningContext{
		Messages:       []Message{{Role: "user", Content: "search for go"}},
		AvailableTools: []ToolDefinition{{Name: "search", Description: "web search"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == "" {
		t.Fatal("expected non-empty tool-call summary")
	}
}

func TestReasoningSelectToolsEmptyWithoutTools(t *testing.T) {
	sp := &scriptedProvider{}
	r := NewReasoning(sp)

	selections, err := r.SelectTools(context.Background(), ReasoningContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selections) != 0 {
		t.Fatalf("expected no selections without available tools, got %d", len(selections))
	}
}
