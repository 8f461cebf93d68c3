package session

import "testing"

func messagesEqual(a, b []Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Role != b[i].Role || a[i].Content != b[i].Content {
			return false
		}
	}
	return true
}

// TestUndoRedoRoundTrip covers property P5: after undo followed by redo
// from a clean checkpoint, the thread's messages equal the state before
// undo.
func TestUndoRedoRoundTrip(t *testing.T) {
	u := NewUndoManager()

	before := []Message{{Role: RoleUser, Content: "turn one"}}
	u.Push(0, before, "checkpoint 0")

	after := []Message{{Role: RoleUser, Content: "turn one"}, {Role: RoleAssistant, Content: "turn two"}}

	cp, remaining, ok := u.Undo(1, after)
	if !ok {
		t.Fatal("expected undo to succeed")
	}
	if remaining != 0 {
		t.Fatalf("expected 0 undo remaining, got %d", remaining)
	}
	if !messagesEqual(cp.Messages, before) {
		t.Fatalf("undo restored %v, want %v", cp.Messages, before)
	}

	redone, _, ok := u.Redo(0, cp.Messages)
	if !ok {
		t.Fatal("expected redo to succeed")
	}
	if !messagesEqual(redone.Messages, after) {
		t.Fatalf("redo restored %v, want %v", redone.Messages, after)
	}
}

// TestUndoStackBookkeeping covers scenario S3: push three turns, then
// undo, undo, redo — the second undo should report "1 undo remaining".
func TestUndoStackBookkeeping(t *testing.T) {
	u := NewUndoManager()

	u.Push(0, []Message{{Role: RoleUser, Content: "t0"}}, "cp0")
	u.Push(1, []Message{{Role: RoleUser, Content: "t0"}, {Role: RoleUser, Content: "t1"}}, "cp1")
	u.Push(2, []Message{{Role: RoleUser, Content: "t0"}, {Role: RoleUser, Content: "t1"}, {Role: RoleUser, Content: "t2"}}, "cp2")

	current := []Message{{Role: RoleUser, Content: "t0"}, {Role: RoleUser, Content: "t1"}, {Role: RoleUser, Content: "t2"}, {Role: RoleAssistant, Content: "t3"}}

	_, remaining1, ok := u.Undo(3, current)
	if !ok || remaining1 != 2 {
		t.Fatalf("first undo: ok=%v remaining=%d", ok, remaining1)
	}

	cp, remaining2, ok := u.Undo(2, []Message{{Role: RoleUser, Content: "t0"}, {Role: RoleUser, Content: "t1"}, {Role: RoleUser, Content: "t2"}})
	if !ok || remaining2 != 1 {
		t.Fatalf("second undo: ok=%v remaining=%d, want 1 remaining", ok, remaining2)
	}

	_, _, ok = u.Redo(cp.TurnNumber, cp.Messages)
	if !ok {
		t.Fatal("expected redo to succeed")
	}
}

func TestResumeLooksUpByCheckpointID(t *testing.T) {
	u := NewUndoManager()
	cp := u.Push(0, []Message{{Role: RoleUser, Content: "hi"}}, "named checkpoint")

	got, ok := u.Resume(cp.ID)
	if !ok {
		t.Fatal("expected checkpoint to be found")
	}
	if got.ID != cp.ID {
		t.Fatalf("got checkpoint %q, want %q", got.ID, cp.ID)
	}

	if _, ok := u.Resume("does-not-exist"); ok {
		t.Fatal("expected lookup of unknown id to fail")
	}
}

func TestUndoOnEmptyStackReportsNotOK(t *testing.T) {
	u := NewUndoManager()
	if _, _, ok := u.Undo(0, nil); ok {
		t.Fatal("expected undo on empty stack to report not ok")
	}
}
