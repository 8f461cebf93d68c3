package session

import (
	"fmt"
	"log/slog"
)

// Compactor is satisfied by the context compactor (C9). MaybeCompact
// inspects a thread's messages and, if a monitor recommends a strategy,
// applies it in place. Compaction failures are logged by the engine but
// never abort the turn.
type Compactor interface {
	MaybeCompact(thread *Thread) error
}

// ForceCompactor is satisfied by compactors that can also compact
// unconditionally, regardless of whether the configured monitor
// currently recommends it. The explicit "/compact" submission must
// always compact even when the thread is under the auto-compaction
// threshold — unlike handleUserInput's auto-compaction, which only
// fires when the monitor recommends a strategy. Engines wired with a
// Compactor that doesn't implement this fall back to MaybeCompact, so
// an explicit "/compact" against an under-threshold thread becomes a
// silent no-op rather than an error.
type ForceCompactor interface {
	Compactor
	ForceCompact(thread *Thread) error
}

// SubmitResult reports what the engine did with a parsed submission.
type SubmitResult struct {
	Kind        SubmissionKind
	Thread      *Thread
	Message     string
	UndoCount   int
	RedoCount   int
	NeedsLLM    bool
	UserMessage string

	// ResumedApproval is set on an allowed ExecApproval result: the
	// caller (C11) must re-dispatch this tool call through the normal
	// tool-execution path and continue the reasoning loop.
	ResumedApproval *ApprovalRequest
}

// Engine wires the session Manager to the submission parser and the
// per-thread undo/redo/compaction operations described in §4.8.
type Engine struct {
	Manager   *Manager
	Compactor Compactor

	// Approvals verifies exec-approval bearer tokens minted by C11. A
	// nil Approvals skips verification, resolving purely by id — used
	// by tests that don't exercise the jwt wiring.
	Approvals *ApprovalSigner

	logger *slog.Logger
}

// NewEngine builds an Engine. compactor may be nil to disable
// auto-compaction (e.g. in unit tests exercising only the state
// machine).
func NewEngine(manager *Manager, compactor Compactor) *Engine {
	return &Engine{Manager: manager, Compactor: compactor, logger: slog.Default()}
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Submit parses text and dispatches it to the appropriate thread
// operation for userID, per §4.10 step 3's dispatch table.
func (e *Engine) Submit(userID, text string) (*SubmitResult, error) {
	sub := ParseSubmission(text)

	switch sub.Kind {
	case SubmissionUserInput:
		return e.handleUserInput(userID, sub.Content)
	case SubmissionUndo:
		return e.handleUndo(userID)
	case SubmissionRedo:
		return e.handleRedo(userID)
	case SubmissionInterrupt:
		return e.handleInterrupt(userID)
	case SubmissionCompact:
		return e.handleCompact(userID)
	case SubmissionClear:
		return e.handleClear(userID)
	case SubmissionThreadNew:
		thread := e.Manager.NewThread(userID)
		return &SubmitResult{Kind: sub.Kind, Thread: thread, Message: "started a new thread"}, nil
	case SubmissionThreadSwitch:
		thread, err := e.Manager.SwitchThread(userID, sub.ID)
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Kind: sub.Kind, Thread: thread, Message: "switched thread"}, nil
	case SubmissionResume:
		return e.handleResume(userID, sub.ID)
	case SubmissionExecApproval:
		return e.handleExecApproval(userID, sub.ID, sub.Decision)
	default:
		return nil, fmt.Errorf("session: unrecognized submission")
	}
}

func (e *Engine) handleUserInput(userID, content string) (*SubmitResult, error) {
	_, thread, err := e.Manager.ActiveThread(userID)
	if err != nil {
		return nil, err
	}

	if err := thread.CanAcceptSubmission(); err != nil {
		return nil, err
	}

	if e.Compactor != nil {
		if err := e.Compactor.MaybeCompact(thread); err != nil {
			e.logger.Warn("auto-compaction failed, continuing with uncompacted thread", "thread", thread.ID, "error", err)
		}
	}

	thread.Undo.Push(thread.turnNumber, thread.Messages(), "pre-turn checkpoint")

	if _, err := thread.StartTurn(content); err != nil {
		return nil, err
	}

	return &SubmitResult{
		Kind:        SubmissionUserInput,
		Thread:      thread,
		NeedsLLM:    true,
		UserMessage: content,
	}, nil
}

func (e *Engine) handleUndo(userID string) (*SubmitResult, error) {
	_, thread, err := e.Manager.ActiveThread(userID)
	if err != nil {
		return nil, err
	}

	cp, remaining, ok := thread.Undo.Undo(thread.turnNumber, thread.Messages())
	if !ok {
		return &SubmitResult{Kind: SubmissionUndo, Thread: thread, Message: "nothing to undo"}, nil
	}
	thread.restoreMessages(cp.TurnNumber, cp.Messages)
	return &SubmitResult{
		Kind:      SubmissionUndo,
		Thread:    thread,
		Message:   fmt.Sprintf("%d undo remaining", remaining),
		UndoCount: remaining,
	}, nil
}

func (e *Engine) handleRedo(userID string) (*SubmitResult, error) {
	_, thread, err := e.Manager.ActiveThread(userID)
	if err != nil {
		return nil, err
	}

	cp, remaining, ok := thread.Undo.Redo(thread.turnNumber, thread.Messages())
	if !ok {
		return &SubmitResult{Kind: SubmissionRedo, Thread: thread, Message: "nothing to redo"}, nil
	}
	thread.restoreMessages(cp.TurnNumber, cp.Messages)
	return &SubmitResult{
		Kind:      SubmissionRedo,
		Thread:    thread,
		Message:   fmt.Sprintf("%d redo remaining", remaining),
		RedoCount: remaining,
	}, nil
}

func (e *Engine) handleInterrupt(userID string) (*SubmitResult, error) {
	_, thread, err := e.Manager.ActiveThread(userID)
	if err != nil {
		return nil, err
	}
	if err := thread.Interrupt(); err != nil {
		return nil, err
	}
	return &SubmitResult{Kind: SubmissionInterrupt, Thread: thread, Message: "interrupted"}, nil
}

func (e *Engine) handleCompact(userID string) (*SubmitResult, error) {
	_, thread, err := e.Manager.ActiveThread(userID)
	if err != nil {
		return nil, err
	}
	if e.Compactor == nil {
		return &SubmitResult{Kind: SubmissionCompact, Thread: thread, Message: "compaction unavailable"}, nil
	}
	if forced, ok := e.Compactor.(ForceCompactor); ok {
		if err := forced.ForceCompact(thread); err != nil {
			return nil, err
		}
		return &SubmitResult{Kind: SubmissionCompact, Thread: thread, Message: "compacted"}, nil
	}
	if err := e.Compactor.MaybeCompact(thread); err != nil {
		return nil, err
	}
	return &SubmitResult{Kind: SubmissionCompact, Thread: thread, Message: "compacted"}, nil
}

func (e *Engine) handleClear(userID string) (*SubmitResult, error) {
	_, thread, err := e.Manager.ActiveThread(userID)
	if err != nil {
		return nil, err
	}
	thread.Clear()
	return &SubmitResult{Kind: SubmissionClear, Thread: thread, Message: "cleared"}, nil
}

func (e *Engine) handleResume(userID, checkpointID string) (*SubmitResult, error) {
	_, thread, err := e.Manager.ActiveThread(userID)
	if err != nil {
		return nil, err
	}
	cp, ok := thread.Undo.Resume(checkpointID)
	if !ok {
		return nil, fmt.Errorf("session: checkpoint %q not found", checkpointID)
	}
	thread.restoreMessages(cp.TurnNumber, cp.Messages)
	thread.State = ThreadIdle
	return &SubmitResult{Kind: SubmissionResume, Thread: thread, Message: "resumed checkpoint " + cp.ID}, nil
}

// handleExecApproval resolves a pending ApprovalRequest by id (§13 Open
// Question 1): "allow" re-dispatches the parked tool call through the
// normal tool-execution path by transitioning AwaitingApproval back to
// Processing and handing the request back to the caller via
// ResumedApproval; "deny" transitions the thread to Interrupted.
func (e *Engine) handleExecApproval(userID, id, decision string) (*SubmitResult, error) {
	_, thread, err := e.Manager.ActiveThread(userID)
	if err != nil {
		return nil, err
	}

	pending := thread.PendingApproval
	if pending == nil || pending.ID != id {
		return &SubmitResult{Kind: SubmissionExecApproval, Thread: thread, Message: "no matching pending exec-approval"}, nil
	}
	if e.Approvals != nil {
		if verr := e.Approvals.Verify(id, pending.Token); verr != nil {
			return &SubmitResult{Kind: SubmissionExecApproval, Thread: thread, Message: verr.Error()}, nil
		}
	}

	switch decision {
	case "allow", "allowed", "approve", "approved", "yes":
		thread.PendingApproval = nil
		if err := thread.Approve(); err != nil {
			return nil, err
		}
		return &SubmitResult{Kind: SubmissionExecApproval, Thread: thread, NeedsLLM: true, ResumedApproval: pending}, nil
	case "deny", "denied", "no", "":
		thread.PendingApproval = nil
		if err := thread.Deny(); err != nil {
			return nil, err
		}
		return &SubmitResult{Kind: SubmissionExecApproval, Thread: thread, Message: "denied, thread interrupted"}, nil
	default:
		return &SubmitResult{Kind: SubmissionExecApproval, Thread: thread, Message: "exec-approval: decision must be allow or deny"}, nil
	}
}
