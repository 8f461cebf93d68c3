package compactor

import "github.com/agentforge/corerun/internal/session"

// Monitor decides whether a thread's accumulated turns warrant
// auto-compaction before the next user-input turn starts (§4.8's
// "auto-compaction" paragraph: "if a monitor recommends a strategy").
// Thresholds are turn-count based rather than a precise token count,
// since session.Thread does not itself carry a model's context window —
// the agent main loop (C11) is what knows the active model's limits and
// can replace this Monitor with a token-budget-aware one if needed.
type Monitor struct {
	MaxTurns   int
	KeepRecent int
}

// DefaultMonitor returns the monitor used when the engine is wired with
// no explicit thresholds: compact once a thread accumulates more than
// 30 turns, keeping the most recent 10.
func DefaultMonitor() Monitor {
	return Monitor{MaxTurns: 30, KeepRecent: 10}
}

// Recommend reports the strategy to apply, if any. ok is false when the
// thread is within budget and no compaction is needed.
func (m Monitor) Recommend(thread *session.Thread) (Strategy, bool) {
	maxTurns := m.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMonitor().MaxTurns
	}
	keepRecent := m.KeepRecent
	if keepRecent <= 0 {
		keepRecent = DefaultMonitor().KeepRecent
	}
	if len(thread.Turns) <= maxTurns {
		return Strategy{}, false
	}
	return Summarize(keepRecent), true
}
