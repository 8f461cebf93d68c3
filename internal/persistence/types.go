package persistence

import "time"

// Conversation is a durable conversation header; the live message buffer
// lives in internal/session, this is its append-only backing record.
type Conversation struct {
	ID        string
	UserID    string
	Title     string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversationSummary is the lightweight row returned by ListConversations:
// a header plus a preview of the most recent message.
type ConversationSummary struct {
	Conversation
	PreviewContent string
	MessageCount   int
}

// ConversationMessage is one durable message in a conversation's history.
type ConversationMessage struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// JobStatus mirrors jobctx.State's string values for the durable record;
// kept as a distinct type so persistence does not import jobctx.
type JobStatus string

// JobRecord is the durable mirror of a jobctx.Context: jobctx owns live
// in-memory state and transition rules, JobRecord is what survives a
// restart.
type JobRecord struct {
	ID             string
	UserID         string
	Title          string
	Description    string
	Category       string
	Status         JobStatus
	CostUSD        float64
	Tokens         int
	RepairAttempts int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobActionRecord is one recorded action taken by a job (a tool call, a
// decision, a checkpoint) kept for audit and replay.
type JobActionRecord struct {
	ID        string
	JobID     string
	Kind      string
	Detail    string
	CreatedAt time.Time
}

// JobEventRecord is a lower-level lifecycle event (state transition,
// heartbeat, repair attempt) distinct from JobActionRecord's task-level
// actions.
type JobEventRecord struct {
	ID        string
	JobID     string
	Event     string
	Detail    string
	CreatedAt time.Time
}

// LLMCallRecord is an insert-only audit row for one provider completion
// call, used for cost accounting and debugging.
type LLMCallRecord struct {
	ID           string
	JobID        string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	CreatedAt    time.Time
}

// EstimationSnapshot records a job's cost/margin estimate at creation time,
// later reconciled against actuals once the job completes.
type EstimationSnapshot struct {
	JobID          string
	EstimatedCost  float64
	EstimatedHours float64
	Price          float64
	ActualCost     float64
	ActualHours    float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SandboxJobRecord is the durable record of a sandboxed tool execution.
type SandboxJobRecord struct {
	ID        string
	UserID    string
	Mode      string
	Status    string
	Image     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SandboxSummary aggregates sandbox job counts by status.
type SandboxSummary struct {
	Total     int
	Running   int
	Succeeded int
	Failed    int
}

// Routine is a scheduled or event-triggered recurring task definition.
type Routine struct {
	ID        string
	UserID    string
	Name      string
	Event     string
	CronSpec  string
	Prompt    string
	Enabled   bool
	LastRunAt time.Time
	NextRunAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoutineRunStatus enumerates a routine run's outcome.
type RoutineRunStatus string

const (
	RoutineRunRunning   RoutineRunStatus = "running"
	RoutineRunSucceeded RoutineRunStatus = "succeeded"
	RoutineRunFailed    RoutineRunStatus = "failed"
)

// RoutineRun is one execution of a Routine.
type RoutineRun struct {
	ID         string
	RoutineID  string
	Status     RoutineRunStatus
	Output     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// BrokenTool is a tool whose failure count has crossed the repair
// threshold.
type BrokenTool struct {
	ToolName    string
	Attempts    int
	LastError   string
	LastFailure time.Time
}

// SettingRow is one per-user key/value setting.
type SettingRow struct {
	UserID    string
	Key       string
	Value     string
	UpdatedAt time.Time
}

// WorkspaceDocument is a path-addressed document in the agent's workspace
// (distinct from pkg/models.Document, which is scoped to the RAG ingestion
// pipeline rather than a live directory tree).
type WorkspaceDocument struct {
	ID         string
	Path       string
	Content    string
	IsDir      bool
	ChunkCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// WorkspaceChunk is a chunk of a WorkspaceDocument with an optional
// embedding for hybrid search.
type WorkspaceChunk struct {
	ID         string
	DocumentID string
	Index      int
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
}

// WorkspaceSearchResult is one hybrid-search hit: a chunk plus its combined
// lexical/vector score.
type WorkspaceSearchResult struct {
	Chunk *WorkspaceChunk
	Score float32
}
