package compactor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agentforge/corerun/internal/llmprovider"
	"github.com/agentforge/corerun/internal/session"
	"github.com/agentforge/corerun/internal/workspace"
)

const (
	summaryMaxTokens   = 1024
	summaryTemperature = 0.3

	// moveToWorkspaceKeep is how many turns MoveToWorkspace keeps when a
	// workspace is configured.
	moveToWorkspaceKeep = 10
	// moveToWorkspaceFallbackKeep is the Truncate keep_recent used when
	// MoveToWorkspace is selected but no workspace root is configured.
	moveToWorkspaceFallbackKeep = 5

	summarySystemPrompt = `Summarize the following conversation concisely. Focus on:
- Key decisions made
- Important information exchanged
- Actions taken
- Outcomes achieved

Be brief but capture all important details. Use bullet points.`
)

// Result reports what a compaction pass did, mirroring the Rust
// original's CompactionResult (§4.9's "Contract" paragraph).
type Result struct {
	TurnsRemoved   int
	TokensBefore   int
	TokensAfter    int
	SummaryWritten bool
	Summary        string
}

// Compactor applies §4.9's three compaction strategies to a
// session.Thread, optionally calling out to an LLM provider for
// summarization and to a workspace root for archival writes.
type Compactor struct {
	llm           llmprovider.Provider
	workspaceRoot string
	monitor       Monitor
	logger        *slog.Logger
}

// New builds a Compactor. workspaceRoot may be empty, in which case
// Summarize never writes a day log and MoveToWorkspace always falls
// back to Truncate{keep_recent: 5}, per §4.9.
func New(llm llmprovider.Provider, workspaceRoot string) *Compactor {
	return &Compactor{llm: llm, workspaceRoot: workspaceRoot, monitor: DefaultMonitor(), logger: slog.Default()}
}

// WithMonitor overrides the default auto-compaction thresholds.
func (c *Compactor) WithMonitor(m Monitor) *Compactor {
	c.monitor = m
	return c
}

// SetLogger overrides the default logger.
func (c *Compactor) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// MaybeCompact satisfies session.Compactor: it consults the configured
// Monitor and, if it recommends a strategy, applies it. A nil return
// means either no compaction was needed or it succeeded; callers in
// session.Engine already treat a non-nil return as "log and continue".
func (c *Compactor) MaybeCompact(thread *session.Thread) error {
	strategy, ok := c.monitor.Recommend(thread)
	if !ok {
		return nil
	}
	_, err := c.Compact(context.Background(), thread, strategy)
	return err
}

// ForceCompact satisfies session.ForceCompactor: unlike MaybeCompact, it
// always applies a strategy, regardless of whether the Monitor currently
// recommends one. This mirrors the Rust original's process_compact,
// which compacts unconditionally on an explicit "/compact" submission,
// falling back to Summarize{keep_recent} using the configured Monitor's
// KeepRecent when the thread is under the auto-compaction threshold.
func (c *Compactor) ForceCompact(thread *session.Thread) error {
	strategy, ok := c.monitor.Recommend(thread)
	if !ok {
		strategy = Summarize(c.monitor.KeepRecent)
		if strategy.KeepRecent <= 0 {
			strategy = Summarize(DefaultMonitor().KeepRecent)
		}
	}
	_, err := c.Compact(context.Background(), thread, strategy)
	return err
}

// Compact applies strategy to thread and reports the outcome.
func (c *Compactor) Compact(ctx context.Context, thread *session.Thread, strategy Strategy) (*Result, error) {
	tokensBefore := estimateThreadTokens(thread)

	var (
		turnsRemoved   int
		summaryWritten bool
		summary        string
		err            error
	)

	switch strategy.Kind {
	case StrategySummarize:
		turnsRemoved, summaryWritten, summary, err = c.compactWithSummary(ctx, thread, strategy.KeepRecent)
	case StrategyTruncate:
		turnsRemoved = thread.TruncateTurns(strategy.KeepRecent)
	case StrategyMoveToWorkspace:
		turnsRemoved, summaryWritten, err = c.compactToWorkspace(ctx, thread)
	default:
		return nil, fmt.Errorf("compactor: unknown strategy %s", strategy.Kind)
	}
	if err != nil {
		return nil, err
	}

	return &Result{
		TurnsRemoved:   turnsRemoved,
		TokensBefore:   tokensBefore,
		TokensAfter:    estimateThreadTokens(thread),
		SummaryWritten: summaryWritten,
		Summary:        summary,
	}, nil
}

// compactWithSummary implements StrategySummarize. On LLM failure the
// thread is left untouched: the summary is generated, and truncation
// only happens, before any mutation occurs.
func (c *Compactor) compactWithSummary(ctx context.Context, thread *session.Thread, keepRecent int) (turnsRemoved int, summaryWritten bool, summary string, err error) {
	old := thread.OldTurns(keepRecent)
	if len(old) == 0 {
		return 0, false, "", nil
	}

	summary, err = c.generateSummary(ctx, old)
	if err != nil {
		return 0, false, "", fmt.Errorf("compactor: summarization failed: %w", err)
	}

	if c.workspaceRoot != "" {
		if werr := c.writeSummaryToWorkspace(summary); werr != nil {
			c.logger.Warn("compaction summary write failed, turns still truncated", "error", werr)
			summaryWritten = false
		} else {
			summaryWritten = true
		}
	}

	turnsRemoved = thread.TruncateTurns(keepRecent)
	return turnsRemoved, summaryWritten, summary, nil
}

// compactToWorkspace implements StrategyMoveToWorkspace.
func (c *Compactor) compactToWorkspace(ctx context.Context, thread *session.Thread) (turnsRemoved int, summaryWritten bool, err error) {
	if c.workspaceRoot == "" {
		return thread.TruncateTurns(moveToWorkspaceFallbackKeep), false, nil
	}

	old := thread.OldTurns(moveToWorkspaceKeep)
	if len(old) == 0 {
		return 0, false, nil
	}

	content := formatTurnsForStorage(old)
	if werr := c.writeArchiveToWorkspace(content); werr != nil {
		c.logger.Warn("compaction archive write failed, turns still truncated", "error", werr)
	} else {
		summaryWritten = true
	}

	turnsRemoved = thread.TruncateTurns(moveToWorkspaceKeep)
	return turnsRemoved, summaryWritten, nil
}

// generateSummary asks the LLM to summarize old turns flattened into
// role-prefixed lines, per §4.9.
func (c *Compactor) generateSummary(ctx context.Context, turns []session.Turn) (string, error) {
	if c.llm == nil {
		return "", fmt.Errorf("compactor: no LLM provider configured for summarization")
	}

	formatted := formatTurnsForSummaryPrompt(turns)
	resp, err := c.llm.Complete(ctx, llmprovider.CompletionRequest{
		System:      summarySystemPrompt,
		Messages:    []llmprovider.Message{{Role: "user", Content: "Please summarize this conversation:\n\n" + formatted}},
		MaxTokens:   summaryMaxTokens,
		Temperature: summaryTemperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *Compactor) writeSummaryToWorkspace(summary string) error {
	now := time.Now().UTC()
	entry := fmt.Sprintf("\n## Context Summary (%s)\n\n%s\n", now.Format("15:04 UTC"), summary)
	return workspace.Append(c.workspaceRoot, dailyLogPath(now), entry)
}

func (c *Compactor) writeArchiveToWorkspace(content string) error {
	now := time.Now().UTC()
	entry := fmt.Sprintf("\n## Archived Context (%s)\n\n%s\n", now.Format("15:04 UTC"), content)
	return workspace.Append(c.workspaceRoot, dailyLogPath(now), entry)
}

func dailyLogPath(t time.Time) string {
	return fmt.Sprintf("daily/%s.md", t.Format("2006-01-02"))
}

// estimateThreadTokens approximates a thread's total token count using
// the same ~4-chars-per-token heuristic as internal/compaction's
// EstimateTokens, applied to the flattened message projection.
func estimateThreadTokens(thread *session.Thread) int {
	total := 0
	for _, msg := range thread.Messages() {
		total += (len(msg.Content) + 3) / 4
	}
	return total
}

// formatTurnsForSummaryPrompt flattens turns into "Role: content" lines
// for the summarization request, mirroring compaction.rs's
// generate_summary formatting.
func formatTurnsForSummaryPrompt(turns []session.Turn) string {
	var lines []string
	for _, turn := range turns {
		for _, msg := range turn.Messages {
			lines = append(lines, fmt.Sprintf("%s: %s", roleLabel(msg.Role), msg.Content))
		}
	}
	return strings.Join(lines, "\n\n")
}

// formatTurnsForStorage renders turns for workspace archival, mirroring
// compaction.rs's format_turns_for_storage.
func formatTurnsForStorage(turns []session.Turn) string {
	var blocks []string
	for i, turn := range turns {
		var b strings.Builder
		fmt.Fprintf(&b, "**Turn %d**\n", i+1)
		var tools []string
		for _, msg := range turn.Messages {
			switch msg.Role {
			case session.RoleUser:
				fmt.Fprintf(&b, "User: %s\n", msg.Content)
			case session.RoleAssistant:
				fmt.Fprintf(&b, "Agent: %s\n", msg.Content)
			case session.RoleTool:
				tools = append(tools, msg.Content)
			}
		}
		if len(tools) > 0 {
			fmt.Fprintf(&b, "Tools: %s\n", strings.Join(tools, ", "))
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n")
}

func roleLabel(role session.Role) string {
	switch role {
	case session.RoleUser:
		return "User"
	case session.RoleAssistant:
		return "Assistant"
	case session.RoleTool:
		return "Tool"
	default:
		return string(role)
	}
}
