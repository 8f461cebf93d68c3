package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Checkpoint is a frozen copy of a thread's (turn number, message list)
// plus a human description, retained for undo/redo/resume.
type Checkpoint struct {
	ID          string
	TurnNumber  int
	Messages    []Message
	Description string
	CreatedAt   time.Time
}

func cloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}

// UndoManager maintains a thread's two LIFO checkpoint stacks plus a
// flat, id-indexed log of every checkpoint ever pushed so Resume can
// restore an arbitrary named checkpoint rather than only the most recent
// undo/redo entry.
type UndoManager struct {
	mu        sync.Mutex
	undoStack []*Checkpoint
	redoStack []*Checkpoint
	all       []*Checkpoint
	byID      map[string]int
}

func NewUndoManager() *UndoManager {
	return &UndoManager{byID: map[string]int{}}
}

// Push records a checkpoint of the current (turnNumber, messages) state
// and pushes it onto the undo stack. Called before every turn.
func (u *UndoManager) Push(turnNumber int, messages []Message, description string) *Checkpoint {
	u.mu.Lock()
	defer u.mu.Unlock()

	cp := &Checkpoint{
		ID:          uuid.NewString(),
		TurnNumber:  turnNumber,
		Messages:    cloneMessages(messages),
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	u.undoStack = append(u.undoStack, cp)
	u.byID[cp.ID] = len(u.all)
	u.all = append(u.all, cp)
	return cp
}

// Undo saves the caller-supplied current state onto the redo stack,
// pops the most recent undo checkpoint, and returns the checkpoint to
// restore plus the number of undo entries remaining.
func (u *UndoManager) Undo(currentTurnNumber int, currentMessages []Message) (*Checkpoint, int, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.undoStack) == 0 {
		return nil, 0, false
	}

	redoEntry := &Checkpoint{
		ID:          uuid.NewString(),
		TurnNumber:  currentTurnNumber,
		Messages:    cloneMessages(currentMessages),
		Description: "pre-undo state",
		CreatedAt:   time.Now().UTC(),
	}
	u.redoStack = append(u.redoStack, redoEntry)

	n := len(u.undoStack)
	cp := u.undoStack[n-1]
	u.undoStack = u.undoStack[:n-1]
	return cp, len(u.undoStack), true
}

// Redo saves the caller-supplied current state onto the undo stack,
// pops the most recent redo checkpoint, and returns the checkpoint to
// restore plus the number of redo entries remaining.
func (u *UndoManager) Redo(currentTurnNumber int, currentMessages []Message) (*Checkpoint, int, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.redoStack) == 0 {
		return nil, 0, false
	}

	undoEntry := &Checkpoint{
		ID:          uuid.NewString(),
		TurnNumber:  currentTurnNumber,
		Messages:    cloneMessages(currentMessages),
		Description: "pre-redo state",
		CreatedAt:   time.Now().UTC(),
	}
	u.undoStack = append(u.undoStack, undoEntry)

	n := len(u.redoStack)
	cp := u.redoStack[n-1]
	u.redoStack = u.redoStack[:n-1]
	return cp, len(u.redoStack), true
}

// Resume looks up an arbitrary checkpoint by id, scanning the flat log
// rather than either stack (size is small; per SPEC_FULL.md's Redesign
// Flags, a linear scan is acceptable here).
func (u *UndoManager) Resume(id string) (*Checkpoint, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	idx, ok := u.byID[id]
	if !ok {
		return nil, false
	}
	return u.all[idx], true
}

// UndoCount reports the number of entries currently on the undo stack.
func (u *UndoManager) UndoCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.undoStack)
}

// RedoCount reports the number of entries currently on the redo stack.
func (u *UndoManager) RedoCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.redoStack)
}

// Clear empties both stacks and the flat checkpoint log.
func (u *UndoManager) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.undoStack = nil
	u.redoStack = nil
	u.all = nil
	u.byID = map[string]int{}
}
