// Package session implements the per-user session and thread engine
// (C8, §4.8): threads, turns, undo/redo checkpoints, and the submission
// parser that routes incoming text into thread operations.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ThreadState is one of the permitted thread lifecycle states.
type ThreadState string

const (
	ThreadIdle             ThreadState = "idle"
	ThreadProcessing       ThreadState = "processing"
	ThreadAwaitingApproval ThreadState = "awaiting_approval"
	ThreadInterrupted      ThreadState = "interrupted"
	ThreadCompleted        ThreadState = "completed"
	ThreadFailed           ThreadState = "failed"
)

// threadTransitionEdges enumerates every permitted (from, to) edge per
// §4.8's state machine. Completed is absorbing: no outbound edges.
var threadTransitionEdges = map[ThreadState]map[ThreadState]bool{
	ThreadIdle: {
		ThreadProcessing: true,
		ThreadCompleted:  true,
	},
	ThreadInterrupted: {
		ThreadProcessing: true,
	},
	ThreadProcessing: {
		ThreadIdle:             true,
		ThreadInterrupted:      true,
		ThreadFailed:           true,
		ThreadAwaitingApproval: true,
	},
	ThreadAwaitingApproval: {
		ThreadProcessing:  true,
		ThreadInterrupted: true,
	},
	ThreadFailed: {
		ThreadProcessing: true,
	},
}

// CanTransitionTo reports whether moving from s to target is a permitted
// edge.
func (s ThreadState) CanTransitionTo(target ThreadState) bool {
	return threadTransitionEdges[s][target]
}

// TransitionError reports an illegal thread state-machine edge.
type TransitionError struct {
	From ThreadState
	To   ThreadState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("thread: illegal transition %s -> %s", e.From, e.To)
}

// Role distinguishes the author of a Message within a turn's projection.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a thread's flattened message projection.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// Turn is one user-input/assistant-response exchange within a thread.
type Turn struct {
	Number      int
	Messages    []Message
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Thread is an ordered sequence of turns within a session, with its own
// state machine and undo/redo history. Not safe for concurrent use
// directly — callers reach it only through Manager, which guards every
// access with its own lock.
type Thread struct {
	ID    string
	State ThreadState

	Turns      []Turn
	turnNumber int

	Undo *UndoManager

	// PendingApproval holds the tool invocation parked while the thread
	// is AwaitingApproval, resolved by the engine's exec-approval
	// submission handler.
	PendingApproval *ApprovalRequest

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewThread creates a thread in state Idle with empty turn history.
func NewThread() *Thread {
	now := time.Now().UTC()
	return &Thread{
		ID:        uuid.NewString(),
		State:     ThreadIdle,
		Undo:      NewUndoManager(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// transitionTo applies a state change, refusing edges not present in
// threadTransitionEdges.
func (t *Thread) transitionTo(target ThreadState) error {
	if !t.State.CanTransitionTo(target) {
		return &TransitionError{From: t.State, To: target}
	}
	t.State = target
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// CanAcceptSubmission reports whether the thread may start processing a
// new user-input submission, and an error message when it cannot.
func (t *Thread) CanAcceptSubmission() error {
	switch t.State {
	case ThreadProcessing, ThreadAwaitingApproval:
		return fmt.Errorf("turn in progress / awaiting approval")
	case ThreadCompleted:
		return fmt.Errorf("start a new thread")
	default:
		return nil
	}
}

// Messages flattens every turn's messages into a single ordered
// projection, interleaving user/assistant/tool entries as they occurred.
func (t *Thread) Messages() []Message {
	var out []Message
	for _, turn := range t.Turns {
		out = append(out, turn.Messages...)
	}
	return out
}

// StartTurn transitions the thread into Processing and appends a new,
// in-flight turn. Callers must have already pushed a pre-turn checkpoint
// via t.Undo.
func (t *Thread) StartTurn(userMessage string) (*Turn, error) {
	if err := t.transitionTo(ThreadProcessing); err != nil {
		return nil, err
	}
	turn := Turn{
		Number:    t.turnNumber,
		StartedAt: time.Now().UTC(),
		Messages:  []Message{{Role: RoleUser, Content: userMessage, Timestamp: time.Now().UTC()}},
	}
	t.turnNumber++
	t.Turns = append(t.Turns, turn)
	return &t.Turns[len(t.Turns)-1], nil
}

// AppendToolMessage records a tool-call/tool-result entry against the
// in-flight turn.
func (t *Thread) AppendToolMessage(content string) {
	if len(t.Turns) == 0 {
		return
	}
	last := &t.Turns[len(t.Turns)-1]
	last.Messages = append(last.Messages, Message{Role: RoleTool, Content: content, Timestamp: time.Now().UTC()})
}

// CompleteTurn appends the assistant's final response and transitions
// the thread back to Idle.
func (t *Thread) CompleteTurn(assistantMessage string) error {
	if err := t.transitionTo(ThreadIdle); err != nil {
		return err
	}
	if len(t.Turns) == 0 {
		return nil
	}
	last := &t.Turns[len(t.Turns)-1]
	now := time.Now().UTC()
	last.Messages = append(last.Messages, Message{Role: RoleAssistant, Content: assistantMessage, Timestamp: now})
	last.CompletedAt = &now
	return nil
}

// FailTurn transitions the thread to Failed, e.g. on an unrecoverable
// LLM or tool error during processing.
func (t *Thread) FailTurn() error {
	return t.transitionTo(ThreadFailed)
}

// RequireApproval transitions the thread into AwaitingApproval because a
// tool invocation needs explicit sign-off.
func (t *Thread) RequireApproval() error {
	return t.transitionTo(ThreadAwaitingApproval)
}

// Approve resumes processing after an approval grant.
func (t *Thread) Approve() error {
	return t.transitionTo(ThreadProcessing)
}

// Deny interrupts the thread after an approval denial.
func (t *Thread) Deny() error {
	return t.transitionTo(ThreadInterrupted)
}

// Interrupt marks the thread Interrupted, detected by the session engine
// once any in-flight LLM call returns (cancellation is best-effort).
func (t *Thread) Interrupt() error {
	return t.transitionTo(ThreadInterrupted)
}

// Complete explicitly terminates an Idle thread.
func (t *Thread) Complete() error {
	return t.transitionTo(ThreadCompleted)
}

// Clear empties the turn sequence and both undo/redo stacks, resetting
// the thread to Idle.
func (t *Thread) Clear() {
	t.Turns = nil
	t.turnNumber = 0
	t.Undo.Clear()
	t.State = ThreadIdle
	t.UpdatedAt = time.Now().UTC()
}

// TruncateTurns keeps only the last keepRecent turns, renumbering them
// 0..N-1, and reports how many turns were dropped. Used by the context
// compactor (C9); a no-op when the thread already has keepRecent turns
// or fewer.
func (t *Thread) TruncateTurns(keepRecent int) int {
	if keepRecent < 0 {
		keepRecent = 0
	}
	if len(t.Turns) <= keepRecent {
		return 0
	}
	removed := len(t.Turns) - keepRecent
	kept := make([]Turn, keepRecent)
	copy(kept, t.Turns[removed:])
	for i := range kept {
		kept[i].Number = i
	}
	t.Turns = kept
	t.turnNumber = keepRecent
	t.UpdatedAt = time.Now().UTC()
	return removed
}

// OldTurns returns the turns that TruncateTurns(keepRecent) would drop,
// without mutating the thread — used to build the summarization/archive
// payload before truncating.
func (t *Thread) OldTurns(keepRecent int) []Turn {
	if keepRecent < 0 {
		keepRecent = 0
	}
	if len(t.Turns) <= keepRecent {
		return nil
	}
	return t.Turns[:len(t.Turns)-keepRecent]
}

// restoreMessages replaces the turn sequence with a flat reconstruction
// of the given messages as a single synthetic turn, used by undo/redo/
// resume which operate on whole-message-list snapshots rather than
// turn-granular state.
func (t *Thread) restoreMessages(turnNumber int, messages []Message) {
	if messages == nil {
		t.Turns = nil
		t.turnNumber = 0
		return
	}
	t.Turns = []Turn{{Number: turnNumber, Messages: messages, StartedAt: time.Now().UTC()}}
	t.turnNumber = turnNumber + 1
}
