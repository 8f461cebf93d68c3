package session

import (
	"errors"
	"testing"
)

type stubCompactor struct {
	calls int
	err   error
}

func (c *stubCompactor) MaybeCompact(thread *Thread) error {
	c.calls++
	return c.err
}

type stubForceCompactor struct {
	stubCompactor
	forceCalls int
}

func (c *stubForceCompactor) ForceCompact(thread *Thread) error {
	c.forceCalls++
	return c.err
}

func TestEngineUserInputStartsTurnAndCheckspoints(t *testing.T) {
	e := NewEngine(NewManager(), nil)

	result, err := e.Submit("alice", "what's the weather")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.NeedsLLM {
		t.Fatal("expected NeedsLLM for user input")
	}
	if result.Thread.State != ThreadProcessing {
		t.Fatalf("expected Processing, got %v", result.Thread.State)
	}
	if result.Thread.Undo.UndoCount() != 1 {
		t.Fatalf("expected one checkpoint pushed, got %d", result.Thread.Undo.UndoCount())
	}
}

func TestEngineRefusesInputWhileProcessing(t *testing.T) {
	e := NewEngine(NewManager(), nil)

	if _, err := e.Submit("alice", "first message"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.Submit("alice", "second message"); err == nil {
		t.Fatal("expected refusal while a turn is in progress")
	}
}

func TestEngineCallsCompactorBeforeUserInputTurn(t *testing.T) {
	compactor := &stubCompactor{}
	e := NewEngine(NewManager(), compactor)

	if _, err := e.Submit("alice", "hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if compactor.calls != 1 {
		t.Fatalf("expected compactor to be called once, got %d", compactor.calls)
	}
}

func TestEngineAbsorbsCompactionFailure(t *testing.T) {
	compactor := &stubCompactor{err: errCompactionBoom}
	e := NewEngine(NewManager(), compactor)

	result, err := e.Submit("alice", "hello")
	if err != nil {
		t.Fatalf("expected compaction failure to be absorbed, got %v", err)
	}
	if !result.NeedsLLM {
		t.Fatal("expected the turn to still start despite compaction failure")
	}
}

func TestEngineUndoRedoViaSubmit(t *testing.T) {
	e := NewEngine(NewManager(), nil)

	res, err := e.Submit("bob", "first turn")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := res.Thread.CompleteTurn("reply one"); err != nil {
		t.Fatalf("complete turn: %v", err)
	}

	undoRes, err := e.Submit("bob", "/undo")
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if len(undoRes.Thread.Messages()) != 0 {
		t.Fatalf("expected empty messages after undo, got %d", len(undoRes.Thread.Messages()))
	}

	redoRes, err := e.Submit("bob", "/redo")
	if err != nil {
		t.Fatalf("redo: %v", err)
	}
	if len(redoRes.Thread.Messages()) != 2 {
		t.Fatalf("expected 2 messages restored after redo, got %d", len(redoRes.Thread.Messages()))
	}
}

func TestEngineClearResetsThread(t *testing.T) {
	e := NewEngine(NewManager(), nil)

	res, err := e.Submit("carol", "hi")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := res.Thread.CompleteTurn("hello"); err != nil {
		t.Fatalf("complete turn: %v", err)
	}

	if _, err := e.Submit("carol", "/clear"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	thread, err := e.Manager.GetThread("carol", res.Thread.ID)
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if len(thread.Turns) != 0 {
		t.Fatalf("expected turns cleared, got %d", len(thread.Turns))
	}
}

func TestEngineThreadNewAndSwitch(t *testing.T) {
	e := NewEngine(NewManager(), nil)

	first, _, err := e.Manager.ActiveThread("dave")
	if err != nil {
		t.Fatalf("active thread: %v", err)
	}
	firstThreadID := first.ActiveThreadID

	newRes, err := e.Submit("dave", "/thread new")
	if err != nil {
		t.Fatalf("thread new: %v", err)
	}
	if newRes.Thread.ID == firstThreadID {
		t.Fatal("expected a distinct thread id")
	}

	switchRes, err := e.Submit("dave", "/thread "+firstThreadID)
	if err != nil {
		t.Fatalf("thread switch: %v", err)
	}
	if switchRes.Thread.ID != firstThreadID {
		t.Fatalf("got thread %q, want %q", switchRes.Thread.ID, firstThreadID)
	}
}

func TestEngineCompactPrefersForceCompactOverThreshold(t *testing.T) {
	force := &stubForceCompactor{}
	e := NewEngine(NewManager(), force)

	res, err := e.Submit("erin", "hi")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := res.Thread.CompleteTurn("hello"); err != nil {
		t.Fatalf("complete turn: %v", err)
	}

	if _, err := e.Submit("erin", "/compact"); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if force.forceCalls != 1 {
		t.Fatalf("expected ForceCompact called once, got %d", force.forceCalls)
	}
	if force.calls != 0 {
		t.Fatalf("expected MaybeCompact not called when ForceCompact is available, got %d", force.calls)
	}
}

func TestEngineExecApprovalAllowResumesTurn(t *testing.T) {
	e := NewEngine(NewManager(), nil)

	res, err := e.Submit("frank", "do the dangerous thing")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	thread := res.Thread
	thread.PendingApproval = &ApprovalRequest{ID: "req-1", ToolName: "danger"}
	if err := thread.RequireApproval(); err != nil {
		t.Fatalf("RequireApproval: %v", err)
	}

	result, err := e.Submit("frank", "/exec-approval req-1 allow")
	if err != nil {
		t.Fatalf("exec-approval: %v", err)
	}
	if !result.NeedsLLM {
		t.Fatal("expected NeedsLLM on an allowed exec-approval")
	}
	if result.ResumedApproval == nil || result.ResumedApproval.ID != "req-1" {
		t.Fatal("expected the pending request to be handed back for resume")
	}
	if thread.State != ThreadProcessing {
		t.Fatalf("state = %v, want Processing", thread.State)
	}
	if thread.PendingApproval != nil {
		t.Fatal("expected PendingApproval cleared once resolved")
	}
}

func TestEngineExecApprovalDenyInterruptsThread(t *testing.T) {
	e := NewEngine(NewManager(), nil)

	res, err := e.Submit("grace", "do the dangerous thing")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	thread := res.Thread
	thread.PendingApproval = &ApprovalRequest{ID: "req-2", ToolName: "danger"}
	if err := thread.RequireApproval(); err != nil {
		t.Fatalf("RequireApproval: %v", err)
	}

	result, err := e.Submit("grace", "/exec-approval req-2 deny")
	if err != nil {
		t.Fatalf("exec-approval: %v", err)
	}
	if result.NeedsLLM {
		t.Fatal("a denied exec-approval should not resume the reasoning loop")
	}
	if thread.State != ThreadInterrupted {
		t.Fatalf("state = %v, want Interrupted", thread.State)
	}
}

func TestEngineExecApprovalUnknownIDIsNoop(t *testing.T) {
	e := NewEngine(NewManager(), nil)
	if _, err := e.Submit("heidi", "hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	result, err := e.Submit("heidi", "/exec-approval nonexistent allow")
	if err != nil {
		t.Fatalf("exec-approval: %v", err)
	}
	if result.NeedsLLM {
		t.Fatal("an unmatched exec-approval id should never resume the reasoning loop")
	}
}

func TestEngineExecApprovalVerifiesToken(t *testing.T) {
	signer := NewApprovalSigner([]byte("test-key"), 0)
	e := NewEngine(NewManager(), nil)
	e.Approvals = signer

	res, err := e.Submit("ivan", "do the dangerous thing")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	thread := res.Thread
	thread.PendingApproval = &ApprovalRequest{ID: "req-3", ToolName: "danger", Token: "not-a-real-token"}
	if err := thread.RequireApproval(); err != nil {
		t.Fatalf("RequireApproval: %v", err)
	}

	result, err := e.Submit("ivan", "/exec-approval req-3 allow")
	if err != nil {
		t.Fatalf("exec-approval: %v", err)
	}
	if result.NeedsLLM {
		t.Fatal("a tampered/invalid token must not be allowed to resume")
	}

	token, err := signer.Issue("req-4", "danger")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	thread.PendingApproval = &ApprovalRequest{ID: "req-4", ToolName: "danger", Token: token}
	if err := thread.RequireApproval(); err != nil {
		t.Fatalf("RequireApproval: %v", err)
	}
	result, err = e.Submit("ivan", "/exec-approval req-4 allow")
	if err != nil {
		t.Fatalf("exec-approval: %v", err)
	}
	if !result.NeedsLLM {
		t.Fatal("a correctly signed token should be allowed to resume")
	}
}

var errCompactionBoom = errors.New("compaction: llm unavailable")
