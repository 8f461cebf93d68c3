package session

import "testing"

func TestThreadStateMachineTransitions(t *testing.T) {
	th := NewThread()
	if th.State != ThreadIdle {
		t.Fatalf("expected initial state Idle, got %v", th.State)
	}

	if _, err := th.StartTurn("hello"); err != nil {
		t.Fatalf("start turn: %v", err)
	}
	if th.State != ThreadProcessing {
		t.Fatalf("expected Processing, got %v", th.State)
	}

	if err := th.CompleteTurn("hi there"); err != nil {
		t.Fatalf("complete turn: %v", err)
	}
	if th.State != ThreadIdle {
		t.Fatalf("expected Idle after completion, got %v", th.State)
	}
}

func TestThreadRefusesSubmissionWhileProcessing(t *testing.T) {
	th := NewThread()
	if _, err := th.StartTurn("hello"); err != nil {
		t.Fatalf("start turn: %v", err)
	}
	if err := th.CanAcceptSubmission(); err == nil {
		t.Fatal("expected refusal while Processing")
	}
}

func TestThreadRefusesSubmissionAfterCompleted(t *testing.T) {
	th := NewThread()
	if err := th.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := th.CanAcceptSubmission(); err == nil {
		t.Fatal("expected refusal once Completed")
	}
}

func TestThreadApprovalFlow(t *testing.T) {
	th := NewThread()
	if _, err := th.StartTurn("run a tool"); err != nil {
		t.Fatalf("start turn: %v", err)
	}
	if err := th.RequireApproval(); err != nil {
		t.Fatalf("require approval: %v", err)
	}
	if th.State != ThreadAwaitingApproval {
		t.Fatalf("expected AwaitingApproval, got %v", th.State)
	}
	if err := th.Deny(); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if th.State != ThreadInterrupted {
		t.Fatalf("expected Interrupted after denial, got %v", th.State)
	}
}

func TestThreadIllegalTransitionRejected(t *testing.T) {
	th := NewThread()
	err := th.transitionTo(ThreadAwaitingApproval)
	if err == nil {
		t.Fatal("expected Idle -> AwaitingApproval to be rejected")
	}
	if _, ok := err.(*TransitionError); !ok {
		t.Fatalf("expected *TransitionError, got %T", err)
	}
}

// TestClearEmptiesTurnsAndStacks covers property P4: after clear, the
// thread's turn sequence is empty and both undo and redo stacks are
// empty.
func TestClearEmptiesTurnsAndStacks(t *testing.T) {
	th := NewThread()
	th.Undo.Push(0, nil, "checkpoint")
	if _, err := th.StartTurn("hello"); err != nil {
		t.Fatalf("start turn: %v", err)
	}
	if err := th.CompleteTurn("hi"); err != nil {
		t.Fatalf("complete turn: %v", err)
	}

	th.Clear()

	if len(th.Turns) != 0 {
		t.Fatalf("expected empty turn sequence, got %d", len(th.Turns))
	}
	if th.Undo.UndoCount() != 0 || th.Undo.RedoCount() != 0 {
		t.Fatal("expected both stacks empty after clear")
	}
	if th.State != ThreadIdle {
		t.Fatalf("expected Idle after clear, got %v", th.State)
	}
}

func TestMessagesProjectionInterleavesRoles(t *testing.T) {
	th := NewThread()
	if _, err := th.StartTurn("do the thing"); err != nil {
		t.Fatalf("start turn: %v", err)
	}
	th.AppendToolMessage("tool output")
	if err := th.CompleteTurn("done"); err != nil {
		t.Fatalf("complete turn: %v", err)
	}

	msgs := th.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleTool || msgs[2].Role != RoleAssistant {
		t.Fatalf("got roles %v/%v/%v", msgs[0].Role, msgs[1].Role, msgs[2].Role)
	}
}
