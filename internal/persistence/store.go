package persistence

import (
	"context"
	"time"
)

// Store is the durable-storage facade every backend implements. It covers
// conversations, durable job/sandbox/routine records, settings, and the
// workspace document/chunk tree, plus the idempotent schema migration
// entry point. Every method takes a context first and returns a *Error
// classifiable with IsNotFound/IsConflict.
type Store interface {
	// RunMigrations brings the schema up to date. It is safe to call on
	// every startup: each migration is idempotent.
	RunMigrations(ctx context.Context) error
	Close() error

	// Conversations.
	CreateConversation(ctx context.Context, userID, title string) (*Conversation, error)
	CreateConversationWithMetadata(ctx context.Context, userID, title string, metadata map[string]any) (*Conversation, error)
	TouchConversation(ctx context.Context, id string) error
	EnsureConversation(ctx context.Context, id, userID string) (*Conversation, error)
	GetOrCreateAssistantConversation(ctx context.Context, userID string) (*Conversation, error)
	AddMessage(ctx context.Context, conversationID string, msg *ConversationMessage) error
	ListMessages(ctx context.Context, conversationID string, limit, offset int) (messages []*ConversationMessage, hasMore bool, err error)
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]*ConversationSummary, error)
	UpdateConversationMetadataField(ctx context.Context, conversationID, key string, value any) error
	GetConversationMetadata(ctx context.Context, conversationID string) (map[string]any, error)
	ConversationBelongsToUser(ctx context.Context, conversationID, userID string) (bool, error)

	// Jobs (durable mirror of jobctx.Context).
	// CreateJobForUser saves job only if userID's count of non-terminal
	// jobs is below maxActive, checking and inserting atomically so no
	// two concurrent requests can both observe room and both insert
	// (the spec's no-TOCTOU data integrity contract). jobctx.ContextManager
	// enforces the same budget for live in-memory jobs; this is the
	// durable-storage side of that guard, exercised when a job is
	// recovered across a restart before jobctx has rebuilt its own count.
	CreateJobForUser(ctx context.Context, job *JobRecord, maxActive int) error
	SaveJob(ctx context.Context, job *JobRecord) error
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error
	MarkJobStuck(ctx context.Context, jobID, reason string) error
	GetStuckJobs(ctx context.Context) ([]*JobRecord, error)

	// Job actions and lower-level lifecycle events.
	SaveJobAction(ctx context.Context, action *JobActionRecord) error
	ListJobActions(ctx context.Context, jobID string) ([]*JobActionRecord, error)
	SaveJobEvent(ctx context.Context, event *JobEventRecord) error
	ListJobEvents(ctx context.Context, jobID string, limit int) ([]*JobEventRecord, error)

	// LLM call records (insert-only audit trail).
	RecordLLMCall(ctx context.Context, call *LLMCallRecord) error

	// Estimation snapshots.
	SaveEstimationSnapshot(ctx context.Context, snap *EstimationSnapshot) error
	UpdateEstimationActuals(ctx context.Context, jobID string, actualCost, actualHours float64) error
	GetEstimationSnapshot(ctx context.Context, jobID string) (*EstimationSnapshot, error)

	// Sandbox job records.
	SaveSandboxJob(ctx context.Context, job *SandboxJobRecord) error
	GetSandboxJob(ctx context.Context, id string) (*SandboxJobRecord, error)
	ListSandboxJobs(ctx context.Context, limit, offset int) ([]*SandboxJobRecord, error)
	ListSandboxJobsForUser(ctx context.Context, userID string, limit, offset int) ([]*SandboxJobRecord, error)
	UpdateSandboxJobStatus(ctx context.Context, id, status string) error
	UpdateSandboxJobMode(ctx context.Context, id, mode string) error
	GetSandboxJobMode(ctx context.Context, id string) (string, error)
	SandboxJobBelongsToUser(ctx context.Context, id, userID string) (bool, error)
	CleanupStaleSandboxJobs(ctx context.Context, olderThan time.Duration) (int64, error)
	SandboxJobSummary(ctx context.Context) (*SandboxSummary, error)
	SandboxJobSummaryForUser(ctx context.Context, userID string) (*SandboxSummary, error)

	// Routines and their runs.
	CreateRoutine(ctx context.Context, r *Routine) error
	GetRoutine(ctx context.Context, id string) (*Routine, error)
	GetRoutineByName(ctx context.Context, userID, name string) (*Routine, error)
	ListRoutines(ctx context.Context, userID string) ([]*Routine, error)
	ListEventRoutines(ctx context.Context, event string) ([]*Routine, error)
	ListDueCronRoutines(ctx context.Context, asOf time.Time) ([]*Routine, error)
	UpdateRoutine(ctx context.Context, r *Routine) error
	UpdateRoutineRuntime(ctx context.Context, id string, lastRun, nextRun time.Time) error
	DeleteRoutine(ctx context.Context, id string) error
	CreateRoutineRun(ctx context.Context, run *RoutineRun) error
	CompleteRoutineRun(ctx context.Context, runID string, status RoutineRunStatus, output string) error
	ListRoutineRuns(ctx context.Context, routineID string, limit int) ([]*RoutineRun, error)
	CountRunningRoutineRuns(ctx context.Context, routineID string) (int, error)

	// Tool failure counters (the repair-loop's persisted state).
	RecordToolFailure(ctx context.Context, toolName, errMessage string) error
	IncrementToolFailureAttempts(ctx context.Context, toolName string) error
	GetBrokenTools(ctx context.Context, minAttempts int) ([]*BrokenTool, error)
	MarkToolRepaired(ctx context.Context, toolName string) error

	// Per-user settings.
	GetSetting(ctx context.Context, userID, key string) (string, error)
	GetFullSetting(ctx context.Context, userID, key string) (*SettingRow, error)
	SetSetting(ctx context.Context, userID, key, value string) error
	DeleteSetting(ctx context.Context, userID, key string) error
	ListSettings(ctx context.Context, userID string) ([]*SettingRow, error)
	GetAllSettings(ctx context.Context, userID string) (map[string]string, error)
	SetAllSettings(ctx context.Context, userID string, values map[string]string) error
	HasSetting(ctx context.Context, userID, key string) (bool, error)

	// Workspace documents and chunks.
	GetWorkspaceDocumentByPath(ctx context.Context, path string) (*WorkspaceDocument, error)
	GetWorkspaceDocumentByID(ctx context.Context, id string) (*WorkspaceDocument, error)
	GetOrCreateWorkspaceDocument(ctx context.Context, path string) (*WorkspaceDocument, error)
	UpdateWorkspaceDocument(ctx context.Context, doc *WorkspaceDocument) error
	DeleteWorkspaceDocument(ctx context.Context, id string) error
	ListDirectory(ctx context.Context, dirPath string) ([]*WorkspaceDocument, error)
	ListAllWorkspacePaths(ctx context.Context) ([]string, error)
	ListWorkspaceDocuments(ctx context.Context, limit, offset int) ([]*WorkspaceDocument, error)
	DeleteWorkspaceChunks(ctx context.Context, documentID string) error
	InsertWorkspaceChunk(ctx context.Context, chunk *WorkspaceChunk) error
	UpdateWorkspaceChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error
	GetWorkspaceChunksWithoutEmbeddings(ctx context.Context, limit int) ([]*WorkspaceChunk, error)
	HybridSearch(ctx context.Context, query string, queryEmbedding []float32, limit int) ([]*WorkspaceSearchResult, error)
}

// activeJobStatuses are the JobStatus values that count against a user's
// active-job budget; terminal states (completed/failed/cancelled) do not.
var activeJobStatuses = map[JobStatus]bool{
	JobStatus("pending"):     true,
	JobStatus("in_progress"): true,
	JobStatus("submitted"):   true,
	JobStatus("accepted"):    true,
	JobStatus("stuck"):       true,
}
