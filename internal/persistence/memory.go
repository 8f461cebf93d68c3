package persistence

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps every persistence.Store record in memory, cloning on
// every read and write so callers can never mutate shared state through a
// returned pointer. It is the reference implementation used by tests and
// by single-process deployments that don't need a real database.
type MemoryStore struct {
	mu sync.RWMutex

	conversations map[string]*Conversation
	convKeys      []string
	messages      map[string][]*ConversationMessage

	jobs    map[string]*JobRecord
	jobKeys []string

	jobActions map[string][]*JobActionRecord
	jobEvents  map[string][]*JobEventRecord

	llmCalls []*LLMCallRecord

	estimations map[string]*EstimationSnapshot

	sandboxJobs    map[string]*SandboxJobRecord
	sandboxJobKeys []string

	routines     map[string]*Routine
	routineByKey map[string]string // userID+"\x00"+name -> id
	routineRuns  map[string][]*RoutineRun

	toolFailures map[string]*BrokenTool

	settings map[string]map[string]*SettingRow

	workspaceDocs    map[string]*WorkspaceDocument
	workspacePathIdx map[string]string // path -> id
	workspaceDocKeys []string
	workspaceChunks  map[string][]*WorkspaceChunk
}

// NewMemoryStore returns an empty in-memory store. RunMigrations is a
// no-op on it; there is no schema to apply.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations:    make(map[string]*Conversation),
		messages:         make(map[string][]*ConversationMessage),
		jobs:             make(map[string]*JobRecord),
		jobActions:       make(map[string][]*JobActionRecord),
		jobEvents:        make(map[string][]*JobEventRecord),
		estimations:      make(map[string]*EstimationSnapshot),
		sandboxJobs:      make(map[string]*SandboxJobRecord),
		routines:         make(map[string]*Routine),
		routineByKey:     make(map[string]string),
		routineRuns:      make(map[string][]*RoutineRun),
		toolFailures:     make(map[string]*BrokenTool),
		settings:         make(map[string]map[string]*SettingRow),
		workspaceDocs:    make(map[string]*WorkspaceDocument),
		workspacePathIdx: make(map[string]string),
		workspaceChunks:  make(map[string][]*WorkspaceChunk),
	}
}

func (s *MemoryStore) RunMigrations(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                            { return nil }

func newID() string { return uuid.NewString() }

// --- Conversations ---------------------------------------------------

func (s *MemoryStore) CreateConversation(ctx context.Context, userID, title string) (*Conversation, error) {
	return s.CreateConversationWithMetadata(ctx, userID, title, nil)
}

func (s *MemoryStore) CreateConversationWithMetadata(ctx context.Context, userID, title string, metadata map[string]any) (*Conversation, error) {
	now := time.Now()
	c := &Conversation{
		ID:        newID(),
		UserID:    userID,
		Title:     title,
		Metadata:  cloneMeta(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = cloneConversation(c)
	s.convKeys = append(s.convKeys, c.ID)
	return cloneConversation(c), nil
}

func (s *MemoryStore) TouchConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return NotFound("TouchConversation", id)
	}
	c.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) EnsureConversation(ctx context.Context, id, userID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		return cloneConversation(c), nil
	}
	now := time.Now()
	c := &Conversation{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now}
	s.conversations[id] = c
	s.convKeys = append(s.convKeys, id)
	return cloneConversation(c), nil
}

func (s *MemoryStore) GetOrCreateAssistantConversation(ctx context.Context, userID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.convKeys {
		c := s.conversations[id]
		if c.UserID == userID && c.Title == "assistant" {
			return cloneConversation(c), nil
		}
	}
	now := time.Now()
	c := &Conversation{ID: newID(), UserID: userID, Title: "assistant", CreatedAt: now, UpdatedAt: now}
	s.conversations[c.ID] = c
	s.convKeys = append(s.convKeys, c.ID)
	return cloneConversation(c), nil
}

func (s *MemoryStore) AddMessage(ctx context.Context, conversationID string, msg *ConversationMessage) error {
	if msg == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return NotFound("AddMessage", conversationID)
	}
	clone := *msg
	clone.ConversationID = conversationID
	if clone.ID == "" {
		clone.ID = newID()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	s.messages[conversationID] = append(s.messages[conversationID], &clone)
	s.conversations[conversationID].UpdatedAt = clone.CreatedAt
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*ConversationMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[conversationID]
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil, false, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	hasMore := end < len(all)
	out := make([]*ConversationMessage, 0, end-offset)
	for _, m := range all[offset:end] {
		clone := *m
		out = append(out, &clone)
	}
	return out, hasMore, nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []string
	for _, id := range s.convKeys {
		if s.conversations[id].UserID == userID {
			matched = append(matched, id)
		}
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*ConversationSummary, 0, end-offset)
	for _, id := range matched[offset:end] {
		c := s.conversations[id]
		summary := &ConversationSummary{Conversation: *c}
		summary.Metadata = cloneMeta(c.Metadata)
		msgs := s.messages[id]
		summary.MessageCount = len(msgs)
		if len(msgs) > 0 {
			summary.PreviewContent = msgs[len(msgs)-1].Content
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *MemoryStore) UpdateConversationMetadataField(ctx context.Context, conversationID, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return NotFound("UpdateConversationMetadataField", conversationID)
	}
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
	c.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetConversationMetadata(ctx context.Context, conversationID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, NotFound("GetConversationMetadata", conversationID)
	}
	return cloneMeta(c.Metadata), nil
}

func (s *MemoryStore) ConversationBelongsToUser(ctx context.Context, conversationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return false, NotFound("ConversationBelongsToUser", conversationID)
	}
	return c.UserID == userID, nil
}

// --- Jobs --------------------------------------------------------------

func (s *MemoryStore) activeJobCountLocked(userID string) int {
	count := 0
	for _, id := range s.jobKeys {
		j := s.jobs[id]
		if j.UserID == userID && activeJobStatuses[j.Status] {
			count++
		}
	}
	return count
}

func (s *MemoryStore) CreateJobForUser(ctx context.Context, job *JobRecord, maxActive int) error {
	if job == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxActive > 0 && s.activeJobCountLocked(job.UserID) >= maxActive {
		return Conflict("CreateJobForUser", "active job budget exceeded")
	}
	s.saveJobLocked(job)
	return nil
}

func (s *MemoryStore) saveJobLocked(job *JobRecord) {
	if _, exists := s.jobs[job.ID]; !exists {
		s.jobKeys = append(s.jobKeys, job.ID)
	}
	s.jobs[job.ID] = cloneJobRecord(job)
}

func (s *MemoryStore) SaveJob(ctx context.Context, job *JobRecord) error {
	if job == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveJobLocked(job)
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, NotFound("GetJob", jobID)
	}
	return cloneJobRecord(j), nil
}

func (s *MemoryStore) UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return NotFound("UpdateJobStatus", jobID)
	}
	j.Status = status
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) MarkJobStuck(ctx context.Context, jobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return NotFound("MarkJobStuck", jobID)
	}
	j.Status = JobStatus("stuck")
	j.UpdatedAt = time.Now()
	return s.appendJobEventLocked(jobID, "stuck", reason)
}

func (s *MemoryStore) GetStuckJobs(ctx context.Context) ([]*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*JobRecord
	for _, id := range s.jobKeys {
		if s.jobs[id].Status == JobStatus("stuck") {
			out = append(out, cloneJobRecord(s.jobs[id]))
		}
	}
	return out, nil
}

// --- Job actions and events ---------------------------------------------

func (s *MemoryStore) SaveJobAction(ctx context.Context, action *JobActionRecord) error {
	if action == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *action
	if clone.ID == "" {
		clone.ID = newID()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	s.jobActions[action.JobID] = append(s.jobActions[action.JobID], &clone)
	return nil
}

func (s *MemoryStore) ListJobActions(ctx context.Context, jobID string) ([]*JobActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.jobActions[jobID]
	out := make([]*JobActionRecord, len(src))
	for i, a := range src {
		clone := *a
		out[i] = &clone
	}
	return out, nil
}

func (s *MemoryStore) appendJobEventLocked(jobID, event, detail string) error {
	s.jobEvents[jobID] = append(s.jobEvents[jobID], &JobEventRecord{
		ID: newID(), JobID: jobID, Event: event, Detail: detail, CreatedAt: time.Now(),
	})
	return nil
}

func (s *MemoryStore) SaveJobEvent(ctx context.Context, event *JobEventRecord) error {
	if event == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendJobEventLocked(event.JobID, event.Event, event.Detail)
}

func (s *MemoryStore) ListJobEvents(ctx context.Context, jobID string, limit int) ([]*JobEventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.jobEvents[jobID]
	if limit > 0 && limit < len(src) {
		src = src[len(src)-limit:]
	}
	out := make([]*JobEventRecord, len(src))
	for i, e := range src {
		clone := *e
		out[i] = &clone
	}
	return out, nil
}

// --- LLM calls and estimation --------------------------------------------

func (s *MemoryStore) RecordLLMCall(ctx context.Context, call *LLMCallRecord) error {
	if call == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *call
	if clone.ID == "" {
		clone.ID = newID()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	s.llmCalls = append(s.llmCalls, &clone)
	return nil
}

func (s *MemoryStore) SaveEstimationSnapshot(ctx context.Context, snap *EstimationSnapshot) error {
	if snap == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *snap
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	s.estimations[snap.JobID] = &clone
	return nil
}

func (s *MemoryStore) UpdateEstimationActuals(ctx context.Context, jobID string, actualCost, actualHours float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.estimations[jobID]
	if !ok {
		return NotFound("UpdateEstimationActuals", jobID)
	}
	snap.ActualCost = actualCost
	snap.ActualHours = actualHours
	snap.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetEstimationSnapshot(ctx context.Context, jobID string) (*EstimationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.estimations[jobID]
	if !ok {
		return nil, NotFound("GetEstimationSnapshot", jobID)
	}
	clone := *snap
	return &clone, nil
}

// --- Sandbox jobs --------------------------------------------------------

func (s *MemoryStore) SaveSandboxJob(ctx context.Context, job *SandboxJobRecord) error {
	if job == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sandboxJobs[job.ID]; !exists {
		s.sandboxJobKeys = append(s.sandboxJobKeys, job.ID)
	}
	clone := *job
	s.sandboxJobs[job.ID] = &clone
	return nil
}

func (s *MemoryStore) GetSandboxJob(ctx context.Context, id string) (*SandboxJobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.sandboxJobs[id]
	if !ok {
		return nil, NotFound("GetSandboxJob", id)
	}
	clone := *j
	return &clone, nil
}

func (s *MemoryStore) listSandboxJobsLocked(userID string, limit, offset int) []*SandboxJobRecord {
	var matched []string
	for _, id := range s.sandboxJobKeys {
		j := s.sandboxJobs[id]
		if userID == "" || j.UserID == userID {
			matched = append(matched, id)
		}
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*SandboxJobRecord, 0, end-offset)
	for _, id := range matched[offset:end] {
		clone := *s.sandboxJobs[id]
		out = append(out, &clone)
	}
	return out
}

func (s *MemoryStore) ListSandboxJobs(ctx context.Context, limit, offset int) ([]*SandboxJobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listSandboxJobsLocked("", limit, offset), nil
}

func (s *MemoryStore) ListSandboxJobsForUser(ctx context.Context, userID string, limit, offset int) ([]*SandboxJobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listSandboxJobsLocked(userID, limit, offset), nil
}

func (s *MemoryStore) UpdateSandboxJobStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.sandboxJobs[id]
	if !ok {
		return NotFound("UpdateSandboxJobStatus", id)
	}
	j.Status = status
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateSandboxJobMode(ctx context.Context, id, mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.sandboxJobs[id]
	if !ok {
		return NotFound("UpdateSandboxJobMode", id)
	}
	j.Mode = mode
	return nil
}

func (s *MemoryStore) GetSandboxJobMode(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.sandboxJobs[id]
	if !ok {
		return "", NotFound("GetSandboxJobMode", id)
	}
	return j.Mode, nil
}

func (s *MemoryStore) SandboxJobBelongsToUser(ctx context.Context, id, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.sandboxJobs[id]
	if !ok {
		return false, NotFound("SandboxJobBelongsToUser", id)
	}
	return j.UserID == userID, nil
}

func (s *MemoryStore) CleanupStaleSandboxJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var pruned int64
	var remaining []string
	for _, id := range s.sandboxJobKeys {
		j := s.sandboxJobs[id]
		if j.UpdatedAt.Before(cutoff) && (j.Status == "succeeded" || j.Status == "failed") {
			delete(s.sandboxJobs, id)
			pruned++
			continue
		}
		remaining = append(remaining, id)
	}
	s.sandboxJobKeys = remaining
	return pruned, nil
}

func summarize(jobs []*SandboxJobRecord) *SandboxSummary {
	summary := &SandboxSummary{}
	for _, j := range jobs {
		summary.Total++
		switch j.Status {
		case "running":
			summary.Running++
		case "succeeded":
			summary.Succeeded++
		case "failed":
			summary.Failed++
		}
	}
	return summary
}

func (s *MemoryStore) SandboxJobSummary(ctx context.Context) (*SandboxSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return summarize(s.listSandboxJobsLocked("", 0, 0)), nil
}

func (s *MemoryStore) SandboxJobSummaryForUser(ctx context.Context, userID string) (*SandboxSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return summarize(s.listSandboxJobsLocked(userID, 0, 0)), nil
}

// --- Routines ------------------------------------------------------------

func routineKey(userID, name string) string { return userID + "\x00" + name }

func (s *MemoryStore) CreateRoutine(ctx context.Context, r *Routine) error {
	if r == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *r
	if clone.ID == "" {
		clone.ID = newID()
	}
	now := time.Now()
	clone.CreatedAt, clone.UpdatedAt = now, now
	s.routines[clone.ID] = &clone
	s.routineByKey[routineKey(clone.UserID, clone.Name)] = clone.ID
	return nil
}

func (s *MemoryStore) GetRoutine(ctx context.Context, id string) (*Routine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routines[id]
	if !ok {
		return nil, NotFound("GetRoutine", id)
	}
	clone := *r
	return &clone, nil
}

func (s *MemoryStore) GetRoutineByName(ctx context.Context, userID, name string) (*Routine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.routineByKey[routineKey(userID, name)]
	if !ok {
		return nil, NotFound("GetRoutineByName", name)
	}
	clone := *s.routines[id]
	return &clone, nil
}

func (s *MemoryStore) ListRoutines(ctx context.Context, userID string) ([]*Routine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Routine
	for _, r := range s.routines {
		if r.UserID == userID {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListEventRoutines(ctx context.Context, event string) ([]*Routine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Routine
	for _, r := range s.routines {
		if r.Enabled && r.Event == event {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListDueCronRoutines(ctx context.Context, asOf time.Time) ([]*Routine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Routine
	for _, r := range s.routines {
		if r.Enabled && r.CronSpec != "" && !r.NextRunAt.IsZero() && !r.NextRunAt.After(asOf) {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateRoutine(ctx context.Context, r *Routine) error {
	if r == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.routines[r.ID]
	if !ok {
		return NotFound("UpdateRoutine", r.ID)
	}
	delete(s.routineByKey, routineKey(existing.UserID, existing.Name))
	clone := *r
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	s.routines[r.ID] = &clone
	s.routineByKey[routineKey(clone.UserID, clone.Name)] = clone.ID
	return nil
}

func (s *MemoryStore) UpdateRoutineRuntime(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routines[id]
	if !ok {
		return NotFound("UpdateRoutineRuntime", id)
	}
	r.LastRunAt = lastRun
	r.NextRunAt = nextRun
	r.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteRoutine(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routines[id]
	if !ok {
		return NotFound("DeleteRoutine", id)
	}
	delete(s.routineByKey, routineKey(r.UserID, r.Name))
	delete(s.routines, id)
	delete(s.routineRuns, id)
	return nil
}

func (s *MemoryStore) CreateRoutineRun(ctx context.Context, run *RoutineRun) error {
	if run == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *run
	if clone.ID == "" {
		clone.ID = newID()
	}
	if clone.StartedAt.IsZero() {
		clone.StartedAt = time.Now()
	}
	if clone.Status == "" {
		clone.Status = RoutineRunRunning
	}
	s.routineRuns[run.RoutineID] = append(s.routineRuns[run.RoutineID], &clone)
	return nil
}

func (s *MemoryStore) CompleteRoutineRun(ctx context.Context, runID string, status RoutineRunStatus, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, runs := range s.routineRuns {
		for _, r := range runs {
			if r.ID == runID {
				r.Status = status
				r.Output = output
				r.FinishedAt = time.Now()
				return nil
			}
		}
	}
	return NotFound("CompleteRoutineRun", runID)
}

func (s *MemoryStore) ListRoutineRuns(ctx context.Context, routineID string, limit int) ([]*RoutineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.routineRuns[routineID]
	if limit > 0 && limit < len(src) {
		src = src[len(src)-limit:]
	}
	out := make([]*RoutineRun, len(src))
	for i, r := range src {
		clone := *r
		out[i] = &clone
	}
	return out, nil
}

func (s *MemoryStore) CountRunningRoutineRuns(ctx context.Context, routineID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, r := range s.routineRuns[routineID] {
		if r.Status == RoutineRunRunning {
			count++
		}
	}
	return count, nil
}

// --- Tool failures ---------------------------------------------------

func (s *MemoryStore) RecordToolFailure(ctx context.Context, toolName, errMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bt, ok := s.toolFailures[toolName]
	if !ok {
		bt = &BrokenTool{ToolName: toolName}
		s.toolFailures[toolName] = bt
	}
	bt.Attempts++
	bt.LastError = errMessage
	bt.LastFailure = time.Now()
	return nil
}

func (s *MemoryStore) IncrementToolFailureAttempts(ctx context.Context, toolName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bt, ok := s.toolFailures[toolName]
	if !ok {
		bt = &BrokenTool{ToolName: toolName}
		s.toolFailures[toolName] = bt
	}
	bt.Attempts++
	return nil
}

func (s *MemoryStore) GetBrokenTools(ctx context.Context, minAttempts int) ([]*BrokenTool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*BrokenTool
	for _, bt := range s.toolFailures {
		if bt.Attempts >= minAttempts {
			clone := *bt
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkToolRepaired(ctx context.Context, toolName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.toolFailures, toolName)
	return nil
}

// --- Settings ------------------------------------------------------------

func (s *MemoryStore) SetSetting(ctx context.Context, userID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings[userID] == nil {
		s.settings[userID] = make(map[string]*SettingRow)
	}
	s.settings[userID][key] = &SettingRow{UserID: userID, Key: key, Value: value, UpdatedAt: time.Now()}
	return nil
}

func (s *MemoryStore) GetSetting(ctx context.Context, userID, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.settings[userID][key]
	if !ok {
		return "", NotFound("GetSetting", key)
	}
	return row.Value, nil
}

func (s *MemoryStore) GetFullSetting(ctx context.Context, userID, key string) (*SettingRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.settings[userID][key]
	if !ok {
		return nil, NotFound("GetFullSetting", key)
	}
	clone := *row
	return &clone, nil
}

func (s *MemoryStore) DeleteSetting(ctx context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings[userID], key)
	return nil
}

func (s *MemoryStore) ListSettings(ctx context.Context, userID string) ([]*SettingRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*SettingRow
	for _, row := range s.settings[userID] {
		clone := *row
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) GetAllSettings(ctx context.Context, userID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.settings[userID]))
	for k, row := range s.settings[userID] {
		out[k] = row.Value
	}
	return out, nil
}

func (s *MemoryStore) SetAllSettings(ctx context.Context, userID string, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings[userID] == nil {
		s.settings[userID] = make(map[string]*SettingRow)
	}
	now := time.Now()
	for k, v := range values {
		s.settings[userID][k] = &SettingRow{UserID: userID, Key: k, Value: v, UpdatedAt: now}
	}
	return nil
}

func (s *MemoryStore) HasSetting(ctx context.Context, userID, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.settings[userID][key]
	return ok, nil
}

// --- Workspace documents and chunks --------------------------------------

func (s *MemoryStore) GetWorkspaceDocumentByPath(ctx context.Context, path string) (*WorkspaceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.workspacePathIdx[path]
	if !ok {
		return nil, NotFound("GetWorkspaceDocumentByPath", path)
	}
	clone := *s.workspaceDocs[id]
	return &clone, nil
}

func (s *MemoryStore) GetWorkspaceDocumentByID(ctx context.Context, id string) (*WorkspaceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.workspaceDocs[id]
	if !ok {
		return nil, NotFound("GetWorkspaceDocumentByID", id)
	}
	clone := *doc
	return &clone, nil
}

func (s *MemoryStore) GetOrCreateWorkspaceDocument(ctx context.Context, path string) (*WorkspaceDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.workspacePathIdx[path]; ok {
		clone := *s.workspaceDocs[id]
		return &clone, nil
	}
	now := time.Now()
	doc := &WorkspaceDocument{ID: newID(), Path: path, CreatedAt: now, UpdatedAt: now}
	s.workspaceDocs[doc.ID] = doc
	s.workspacePathIdx[path] = doc.ID
	s.workspaceDocKeys = append(s.workspaceDocKeys, doc.ID)
	clone := *doc
	return &clone, nil
}

func (s *MemoryStore) UpdateWorkspaceDocument(ctx context.Context, doc *WorkspaceDocument) error {
	if doc == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.workspaceDocs[doc.ID]
	if !ok {
		return NotFound("UpdateWorkspaceDocument", doc.ID)
	}
	clone := *doc
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	s.workspaceDocs[doc.ID] = &clone
	if existing.Path != clone.Path {
		delete(s.workspacePathIdx, existing.Path)
		s.workspacePathIdx[clone.Path] = doc.ID
	}
	return nil
}

func (s *MemoryStore) DeleteWorkspaceDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.workspaceDocs[id]
	if !ok {
		return NotFound("DeleteWorkspaceDocument", id)
	}
	delete(s.workspacePathIdx, doc.Path)
	delete(s.workspaceDocs, id)
	delete(s.workspaceChunks, id)
	remaining := s.workspaceDocKeys[:0:0]
	for _, k := range s.workspaceDocKeys {
		if k != id {
			remaining = append(remaining, k)
		}
	}
	s.workspaceDocKeys = remaining
	return nil
}

func (s *MemoryStore) ListDirectory(ctx context.Context, dirPath string) ([]*WorkspaceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := strings.TrimSuffix(dirPath, "/") + "/"
	var out []*WorkspaceDocument
	for _, id := range s.workspaceDocKeys {
		doc := s.workspaceDocs[id]
		rest := strings.TrimPrefix(doc.Path, prefix)
		if rest == doc.Path || rest == "" {
			continue
		}
		if strings.Contains(rest, "/") {
			continue
		}
		clone := *doc
		out = append(out, &clone)
	}
	return out, nil
}

func (s *MemoryStore) ListAllWorkspacePaths(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.workspaceDocKeys))
	for _, id := range s.workspaceDocKeys {
		out = append(out, s.workspaceDocs[id].Path)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) ListWorkspaceDocuments(ctx context.Context, limit, offset int) ([]*WorkspaceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.workspaceDocKeys) {
		return nil, nil
	}
	end := len(s.workspaceDocKeys)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*WorkspaceDocument, 0, end-offset)
	for _, id := range s.workspaceDocKeys[offset:end] {
		clone := *s.workspaceDocs[id]
		out = append(out, &clone)
	}
	return out, nil
}

func (s *MemoryStore) DeleteWorkspaceChunks(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workspaceChunks, documentID)
	return nil
}

func (s *MemoryStore) InsertWorkspaceChunk(ctx context.Context, chunk *WorkspaceChunk) error {
	if chunk == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *chunk
	if clone.ID == "" {
		clone.ID = newID()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.Embedding = append([]float32(nil), chunk.Embedding...)
	s.workspaceChunks[chunk.DocumentID] = append(s.workspaceChunks[chunk.DocumentID], &clone)
	return nil
}

func (s *MemoryStore) UpdateWorkspaceChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunks := range s.workspaceChunks {
		for _, c := range chunks {
			if c.ID == chunkID {
				c.Embedding = append([]float32(nil), embedding...)
				return nil
			}
		}
	}
	return NotFound("UpdateWorkspaceChunkEmbedding", chunkID)
}

func (s *MemoryStore) GetWorkspaceChunksWithoutEmbeddings(ctx context.Context, limit int) ([]*WorkspaceChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*WorkspaceChunk
	for _, id := range s.workspaceDocKeys {
		for _, c := range s.workspaceChunks[id] {
			if len(c.Embedding) == 0 {
				clone := *c
				out = append(out, &clone)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

// HybridSearch scores every chunk that has both an embedding and lexical
// content: vector similarity via cosine distance, lexical relevance via a
// substring-count heuristic. There is no FTS/vec0 extension available in
// pure-Go SQLite, so every backend scores in application code the same
// way sqlitevec's Backend.Search does for its embeddings.
func (s *MemoryStore) HybridSearch(ctx context.Context, query string, queryEmbedding []float32, limit int) ([]*WorkspaceSearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	lowerQuery := strings.ToLower(query)
	var results []*WorkspaceSearchResult
	for _, chunks := range s.workspaceChunks {
		for _, c := range chunks {
			lexical := float32(strings.Count(strings.ToLower(c.Content), lowerQuery))
			vector := cosineSimilarity(queryEmbedding, c.Embedding)
			score := vector + lexical*0.1
			if score <= 0 {
				continue
			}
			clone := *c
			results = append(results, &WorkspaceSearchResult{Chunk: &clone, Score: score})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB)))
}

// --- clone helpers ---------------------------------------------------

func cloneMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneConversation(c *Conversation) *Conversation {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Metadata = cloneMeta(c.Metadata)
	return &clone
}

func cloneJobRecord(j *JobRecord) *JobRecord {
	if j == nil {
		return nil
	}
	clone := *j
	return &clone
}
