// Package compactor implements context compaction for the session/turn
// engine (C9, §4.9): summarizing, truncating, or archiving old turns so
// a thread's message history stays within the active model's context
// window.
package compactor

import "fmt"

// StrategyKind selects which compaction behavior Compactor.Compact
// applies.
type StrategyKind int

const (
	// StrategySummarize asks the LLM to summarize every turn older than
	// KeepRecent, writes the summary to the workspace daily log, then
	// truncates.
	StrategySummarize StrategyKind = iota
	// StrategyTruncate drops every turn older than KeepRecent with no
	// LLM call and no archive.
	StrategyTruncate
	// StrategyMoveToWorkspace archives turns older than the last 10 to
	// the workspace daily log verbatim (no summarization), falling back
	// to StrategyTruncate{KeepRecent: 5} when no workspace is
	// configured.
	StrategyMoveToWorkspace
)

func (k StrategyKind) String() string {
	switch k {
	case StrategySummarize:
		return "summarize"
	case StrategyTruncate:
		return "truncate"
	case StrategyMoveToWorkspace:
		return "move_to_workspace"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Strategy is a compaction strategy selection. KeepRecent is only
// consulted for StrategySummarize and StrategyTruncate; MoveToWorkspace
// has fixed keep-counts (10 with a workspace, 5 without).
type Strategy struct {
	Kind       StrategyKind
	KeepRecent int
}

// Summarize builds a StrategySummarize selection.
func Summarize(keepRecent int) Strategy {
	return Strategy{Kind: StrategySummarize, KeepRecent: keepRecent}
}

// Truncate builds a StrategyTruncate selection.
func Truncate(keepRecent int) Strategy {
	return Strategy{Kind: StrategyTruncate, KeepRecent: keepRecent}
}

// MoveToWorkspace builds a StrategyMoveToWorkspace selection.
func MoveToWorkspace() Strategy {
	return Strategy{Kind: StrategyMoveToWorkspace}
}
