package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/corerun/internal/jobctx"
	"github.com/agentforge/corerun/internal/llmprovider"
	"github.com/agentforge/corerun/internal/session"
	"github.com/agentforge/corerun/internal/toolcontract"
)

// handleUserInput processes a chat-shaped submission: it starts the turn
// via the session engine (which handles auto-compaction, the pre-turn
// checkpoint, and the Idle->Processing transition), runs the
// reasoning/tool-execution loop, and completes or fails the turn
// depending on the outcome.
func (l *Loop) handleUserInput(ctx context.Context, msg IncomingMessage, content string) (*OutgoingResponse, error) {
	result, err := l.cfg.SessionEngine.Submit(msg.UserID, content)
	if err != nil {
		return nil, err
	}
	if !result.NeedsLLM {
		resp := TextResponse(result.Message)
		return &resp, nil
	}

	thread := result.Thread
	l.sendStatus(ctx, msg.Channel, StatusUpdate{Kind: StatusThinking, Text: "Thinking..."})

	response, err := l.runReasoning(ctx, thread)
	return l.finishTurn(ctx, msg, thread, response, err)
}

// resumeApproval re-dispatches a tool call that was parked awaiting
// exec-approval (§13 Open Question 1): it executes the approved call
// directly (bypassing the approval gate, already satisfied), records
// the result on the thread, and continues the reasoning loop from the
// thread's current message state exactly as handleUserInput does.
func (l *Loop) resumeApproval(ctx context.Context, msg IncomingMessage, thread *session.Thread, pending *session.ApprovalRequest) (*OutgoingResponse, error) {
	l.sendStatus(ctx, msg.Channel, StatusUpdate{Kind: StatusThinking, Text: "Resuming approved tool call..."})

	tc := llmprovider.ToolCall{ID: pending.ID, Name: pending.ToolName}
	if len(pending.Params) > 0 {
		var args map[string]any
		if err := json.Unmarshal(pending.Params, &args); err == nil {
			tc.Arguments = args
		}
	}

	out := l.executeTool(ctx, tc, nil)
	thread.AppendToolMessage(fmt.Sprintf("%s -> %s", tc.Name, out))

	response, err := l.runReasoning(ctx, thread)
	return l.finishTurn(ctx, msg, thread, response, err)
}

// finishTurn applies a reasoning-loop outcome to thread and builds the
// response to send back on the originating channel. Shared by
// handleUserInput's first pass and resumeApproval's continuation so
// Interrupted/AwaitingApproval/failure/completion are handled
// identically regardless of which dispatch produced them.
func (l *Loop) finishTurn(ctx context.Context, msg IncomingMessage, thread *session.Thread, response string, err error) (*OutgoingResponse, error) {
	if thread.State == session.ThreadInterrupted {
		l.sendStatus(ctx, msg.Channel, StatusUpdate{Kind: StatusInterrupted})
		resp := TextResponse("Interrupted.")
		return &resp, nil
	}
	if thread.State == session.ThreadAwaitingApproval {
		resp := TextResponse(response)
		return &resp, nil
	}
	if err != nil {
		_ = thread.FailTurn()
		return nil, err
	}

	if err := thread.CompleteTurn(response); err != nil {
		return nil, err
	}
	l.sendStatus(ctx, msg.Channel, StatusUpdate{Kind: StatusDone})
	resp := TextResponse(response)
	return &resp, nil
}

// runReasoning drives the model against Provider.CompleteWithTools
// directly rather than through Reasoning.Respond: Respond only ever
// announces a requested tool call in canonical short form and leaves
// execution to its caller (see internal/llmprovider/reasoning.go), so
// this loop is that caller — it executes each tool call via the tool
// registry (C3), feeds the results back, and repeats until the model
// stops requesting tools or maxToolIterations is reached.
func (l *Loop) runReasoning(ctx context.Context, thread *session.Thread) (string, error) {
	messages := toProviderMessages(thread.Messages())
	toolDefs := toProviderToolDefs(l.cfg.Tools.ToolDefinitions())
	system := ""
	if l.cfg.Reasoning != nil {
		system = l.cfg.Reasoning.ConversationSystemPrompt(llmprovider.ReasoningContext{AvailableTools: toolDefs})
	}

	for i := 0; i < maxToolIterations; i++ {
		if thread.State == session.ThreadInterrupted {
			return "", nil
		}

		llmCtx, span := l.cfg.Tracer.TraceLLMRequest(ctx, "llm", l.cfg.Provider.ModelName())
		resp, err := l.cfg.Provider.CompleteWithTools(llmCtx, llmprovider.ToolCompletionRequest{
			CompletionRequest: llmprovider.CompletionRequest{
				System:      system,
				Messages:    messages,
				MaxTokens:   4096,
				Temperature: 0.7,
			},
			Tools: toolDefs,
		})
		l.cfg.Tracer.RecordError(span, err)
		span.End()
		if err != nil {
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			content := resp.Content
			if content == "" {
				content = "I'm not sure how to respond to that."
			}
			return llmprovider.CleanResponse(content), nil
		}

		messages = append(messages, llmprovider.Message{Role: "assistant", Content: resp.Content})
		for _, tc := range resp.ToolCalls {
			params, merr := json.Marshal(tc.Arguments)
			if merr != nil {
				return "", fmt.Errorf("agentloop: marshal tool arguments: %w", merr)
			}
			if l.cfg.Tools.RequiresApproval(tc.Name, params) == toolcontract.ApprovalAlways {
				return l.requestApproval(thread, tc, params)
			}
			out := l.executeTool(ctx, tc, nil)
			thread.AppendToolMessage(fmt.Sprintf("%s -> %s", tc.Name, out))
			messages = append(messages, llmprovider.Message{Role: "tool", Content: fmt.Sprintf("[%s] %s", tc.Name, out)})
		}
	}

	return "", fmt.Errorf("agentloop: exceeded %d tool-calling iterations", maxToolIterations)
}

// requestApproval parks tc on thread as a pending ApprovalRequest,
// transitions the thread to AwaitingApproval, and returns the prompt
// telling the user how to resolve it via "/exec-approval <id> allow|deny".
func (l *Loop) requestApproval(thread *session.Thread, tc llmprovider.ToolCall, params json.RawMessage) (string, error) {
	reqID := uuid.NewString()
	var token string
	if l.cfg.Approvals != nil {
		t, err := l.cfg.Approvals.Issue(reqID, tc.Name)
		if err != nil {
			return "", fmt.Errorf("agentloop: issue exec-approval token: %w", err)
		}
		token = t
	}

	thread.PendingApproval = &session.ApprovalRequest{
		ID:       reqID,
		ToolName: tc.Name,
		Params:   params,
		Token:    token,
		IssuedAt: time.Now().UTC(),
	}
	if err := thread.RequireApproval(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s requires approval before it can run. Reply \"/exec-approval %s allow\" to proceed or \"/exec-approval %s deny\" to cancel.",
		tc.Name, reqID, reqID), nil
}

// executeTool runs one model-requested tool call through the registry
// (C3), applying leak-scanning to its output when the tool requires
// sanitization. Callers are responsible for the approval gate (§4.3):
// runReasoning checks RequiresApproval before ever reaching here, and
// resumeApproval calls this only for a call the engine has already
// approved.
func (l *Loop) executeTool(ctx context.Context, tc llmprovider.ToolCall, job *jobctx.Context) string {
	ctx, span := l.cfg.Tracer.TraceTool(ctx, tc.Name)
	defer span.End()

	params, err := json.Marshal(tc.Arguments)
	if err != nil {
		l.cfg.Tracer.RecordError(span, err)
		return "error: invalid arguments: " + err.Error()
	}

	out, err := l.cfg.Tools.Execute(ctx, tc.Name, params, job)
	l.cfg.Tracer.RecordError(span, err)
	if err != nil {
		if tcErr, ok := err.(*toolcontract.Error); ok && tcErr.Kind == toolcontract.ErrRateLimited {
			return fmt.Sprintf("rate limited: retry after %s", tcErr.RetryAfter)
		}
		return "error: " + err.Error()
	}

	content := out.Content
	if out.IsError {
		return "error: " + content
	}
	if l.cfg.Tools.RequiresSanitization(tc.Name) && l.cfg.Leak != nil {
		cleaned, serr := l.cfg.Leak.ScanAndClean(content)
		if serr != nil {
			return "error: " + serr.Error()
		}
		content = cleaned
	}
	return content
}

func toProviderMessages(messages []session.Message) []llmprovider.Message {
	out := make([]llmprovider.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, llmprovider.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func toProviderToolDefs(defs []toolcontract.Definition) []llmprovider.ToolDefinition {
	out := make([]llmprovider.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, llmprovider.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.ParametersSchema,
		})
	}
	return out
}
