package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteConfig configures the embedded single-file backend.
type SQLiteConfig struct {
	Path string
}

// SQLiteStore implements Store against an embedded SQLite database via
// modernc.org/sqlite, the teacher's pure-Go driver for on-device storage
// (internal/memory/backend/sqlitevec/backend.go). The driver registers
// itself as "sqlite", not "sqlite3" as internal/channels/whatsapp/adapter.go
// and the teacher's sqlitevec package assume when calling sql.Open --
// sql.Open("sqlite3", ...) against modernc.org/sqlite's registration would
// fail with "unknown driver"; this store opens with the correct name.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) the database file at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers at the file level; a single connection
	// avoids SQLITE_BUSY races between goroutines that don't share a tx.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) RunMigrations(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return Wrap("RunMigrations", err)
		}
	}
	return nil
}

// --- Conversations ---------------------------------------------------

func (s *SQLiteStore) CreateConversation(ctx context.Context, userID, title string) (*Conversation, error) {
	return s.CreateConversationWithMetadata(ctx, userID, title, nil)
}

func (s *SQLiteStore) CreateConversationWithMetadata(ctx context.Context, userID, title string, metadata map[string]any) (*Conversation, error) {
	metaJSON, err := marshalMeta(metadata)
	if err != nil {
		return nil, Wrap("CreateConversationWithMetadata", err)
	}
	now := time.Now()
	c := &Conversation{ID: newID(), UserID: userID, Title: title, Metadata: metadata, CreatedAt: now, UpdatedAt: now}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, metadata, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
	`, c.ID, c.UserID, c.Title, metaJSON, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, Wrap("CreateConversationWithMetadata", err)
	}
	return c, nil
}

func (s *SQLiteStore) TouchConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return Wrap("TouchConversation", err)
	}
	return requireRowsAffected(res, "TouchConversation", id)
}

func (s *SQLiteStore) EnsureConversation(ctx context.Context, id, userID string) (*Conversation, error) {
	existing, err := s.getConversation(ctx, id)
	if err == nil {
		return existing, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}
	now := time.Now()
	c := &Conversation{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, metadata, created_at, updated_at)
		VALUES (?,?,'',NULL,?,?)
		ON CONFLICT (id) DO NOTHING
	`, c.ID, c.UserID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, Wrap("EnsureConversation", err)
	}
	return c, nil
}

func (s *SQLiteStore) GetOrCreateAssistantConversation(ctx context.Context, userID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, metadata, created_at, updated_at
		FROM conversations WHERE user_id = ? AND title = 'assistant' LIMIT 1
	`, userID)
	c, err := scanConversation(row)
	if err == nil {
		return c, nil
	}
	if err != sql.ErrNoRows {
		return nil, Wrap("GetOrCreateAssistantConversation", err)
	}
	return s.CreateConversation(ctx, userID, "assistant")
}

func (s *SQLiteStore) getConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, metadata, created_at, updated_at FROM conversations WHERE id = ?
	`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("GetConversation", id)
	}
	if err != nil {
		return nil, Wrap("GetConversation", err)
	}
	return c, nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, conversationID string, msg *ConversationMessage) error {
	if msg == nil {
		return nil
	}
	id := msg.ID
	if id == "" {
		id = newID()
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Wrap("AddMessage", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_messages (id, conversation_id, role, content, created_at)
		VALUES (?,?,?,?,?)
	`, id, conversationID, msg.Role, msg.Content, createdAt); err != nil {
		return Wrap("AddMessage", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, createdAt, conversationID); err != nil {
		return Wrap("AddMessage", err)
	}
	if err := tx.Commit(); err != nil {
		return Wrap("AddMessage", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*ConversationMessage, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM conversation_messages WHERE conversation_id = ?
		ORDER BY created_at ASC
		LIMIT ? OFFSET ?
	`, conversationID, limit+1, offset)
	if err != nil {
		return nil, false, Wrap("ListMessages", err)
	}
	defer rows.Close()

	var out []*ConversationMessage
	for rows.Next() {
		var m ConversationMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, false, Wrap("ListMessages", err)
		}
		out = append(out, &m)
	}
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*ConversationSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, c.title, c.metadata, c.created_at, c.updated_at,
			(SELECT content FROM conversation_messages m WHERE m.conversation_id = c.id ORDER BY m.created_at DESC LIMIT 1),
			(SELECT count(*) FROM conversation_messages m WHERE m.conversation_id = c.id)
		FROM conversations c WHERE c.user_id = ?
		ORDER BY c.updated_at DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, Wrap("ListConversations", err)
	}
	defer rows.Close()

	var out []*ConversationSummary
	for rows.Next() {
		var summary ConversationSummary
		var metaJSON []byte
		var preview sql.NullString
		if err := rows.Scan(&summary.ID, &summary.UserID, &summary.Title, &metaJSON,
			&summary.CreatedAt, &summary.UpdatedAt, &preview, &summary.MessageCount); err != nil {
			return nil, Wrap("ListConversations", err)
		}
		summary.Metadata, err = unmarshalMeta(metaJSON)
		if err != nil {
			return nil, Wrap("ListConversations", err)
		}
		summary.PreviewContent = preview.String
		out = append(out, &summary)
	}
	return out, nil
}

// UpdateConversationMetadataField does a read-modify-write under a
// transaction rather than Postgres's jsonb_build_object merge: SQLite's
// JSON1 functions are inconsistently available across builds, and this
// table is never write-contended enough to need a single-statement merge.
func (s *SQLiteStore) UpdateConversationMetadataField(ctx context.Context, conversationID, key string, value any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Wrap("UpdateConversationMetadataField", err)
	}
	defer tx.Rollback()

	var metaJSON []byte
	err = tx.QueryRowContext(ctx, `SELECT metadata FROM conversations WHERE id = ?`, conversationID).Scan(&metaJSON)
	if err == sql.ErrNoRows {
		return NotFound("UpdateConversationMetadataField", conversationID)
	}
	if err != nil {
		return Wrap("UpdateConversationMetadataField", err)
	}
	meta, err := unmarshalMeta(metaJSON)
	if err != nil {
		return Wrap("UpdateConversationMetadataField", err)
	}
	if meta == nil {
		meta = make(map[string]any)
	}
	meta[key] = value
	newJSON, err := marshalMeta(meta)
	if err != nil {
		return Wrap("UpdateConversationMetadataField", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET metadata = ?, updated_at = ? WHERE id = ?`,
		newJSON, time.Now(), conversationID); err != nil {
		return Wrap("UpdateConversationMetadataField", err)
	}
	return Wrap("UpdateConversationMetadataField", tx.Commit())
}

func (s *SQLiteStore) GetConversationMetadata(ctx context.Context, conversationID string) (map[string]any, error) {
	var metaJSON []byte
	err := s.db.QueryRowContext(ctx, `SELECT metadata FROM conversations WHERE id = ?`, conversationID).Scan(&metaJSON)
	if err == sql.ErrNoRows {
		return nil, NotFound("GetConversationMetadata", conversationID)
	}
	if err != nil {
		return nil, Wrap("GetConversationMetadata", err)
	}
	return unmarshalMeta(metaJSON)
}

func (s *SQLiteStore) ConversationBelongsToUser(ctx context.Context, conversationID, userID string) (bool, error) {
	var actual string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM conversations WHERE id = ?`, conversationID).Scan(&actual)
	if err == sql.ErrNoRows {
		return false, NotFound("ConversationBelongsToUser", conversationID)
	}
	if err != nil {
		return false, Wrap("ConversationBelongsToUser", err)
	}
	return actual == userID, nil
}

// --- Jobs --------------------------------------------------------------

func (s *SQLiteStore) CreateJobForUser(ctx context.Context, job *JobRecord, maxActive int) error {
	if job == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Wrap("CreateJobForUser", err)
	}
	defer tx.Rollback()

	if maxActive > 0 {
		rows, err := tx.QueryContext(ctx, `SELECT status FROM agent_jobs WHERE user_id = ?`, job.UserID)
		if err != nil {
			return Wrap("CreateJobForUser", err)
		}
		var count int
		for rows.Next() {
			var status string
			if err := rows.Scan(&status); err != nil {
				rows.Close()
				return Wrap("CreateJobForUser", err)
			}
			if activeJobStatuses[JobStatus(status)] {
				count++
			}
		}
		rows.Close()
		if count >= maxActive {
			return Conflict("CreateJobForUser", "active job budget exceeded")
		}
	}

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agent_jobs (id, user_id, title, description, category, status, cost_usd, tokens, repair_attempts, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
	`, job.ID, job.UserID, job.Title, job.Description, job.Category, string(job.Status), job.CostUSD, job.Tokens, job.RepairAttempts, job.CreatedAt, job.UpdatedAt); err != nil {
		return Wrap("CreateJobForUser", err)
	}
	return Wrap("CreateJobForUser", tx.Commit())
}

func (s *SQLiteStore) SaveJob(ctx context.Context, job *JobRecord) error {
	if job == nil {
		return nil
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_jobs (id, user_id, title, description, category, status, cost_usd, tokens, repair_attempts, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title, description = excluded.description, category = excluded.category,
			status = excluded.status, cost_usd = excluded.cost_usd, tokens = excluded.tokens,
			repair_attempts = excluded.repair_attempts, updated_at = excluded.updated_at
	`, job.ID, job.UserID, job.Title, job.Description, job.Category, string(job.Status), job.CostUSD, job.Tokens, job.RepairAttempts, job.CreatedAt, job.UpdatedAt)
	return Wrap("SaveJob", err)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, description, category, status, cost_usd, tokens, repair_attempts, created_at, updated_at
		FROM agent_jobs WHERE id = ?
	`, jobID)
	j, err := scanJobRecord(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("GetJob", jobID)
	}
	if err != nil {
		return nil, Wrap("GetJob", err)
	}
	return j, nil
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agent_jobs SET status = ?, updated_at = ? WHERE id = ?`, string(status), time.Now(), jobID)
	if err != nil {
		return Wrap("UpdateJobStatus", err)
	}
	return requireRowsAffected(res, "UpdateJobStatus", jobID)
}

func (s *SQLiteStore) MarkJobStuck(ctx context.Context, jobID, reason string) error {
	if err := s.UpdateJobStatus(ctx, jobID, JobStatus("stuck")); err != nil {
		return err
	}
	return s.SaveJobEvent(ctx, &JobEventRecord{JobID: jobID, Event: "stuck", Detail: reason})
}

func (s *SQLiteStore) GetStuckJobs(ctx context.Context) ([]*JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, description, category, status, cost_usd, tokens, repair_attempts, created_at, updated_at
		FROM agent_jobs WHERE status = 'stuck'
	`)
	if err != nil {
		return nil, Wrap("GetStuckJobs", err)
	}
	defer rows.Close()
	var out []*JobRecord
	for rows.Next() {
		j, err := scanJobRecord(rows)
		if err != nil {
			return nil, Wrap("GetStuckJobs", err)
		}
		out = append(out, j)
	}
	return out, nil
}

// --- Job actions and events ---------------------------------------------

func (s *SQLiteStore) SaveJobAction(ctx context.Context, action *JobActionRecord) error {
	if action == nil {
		return nil
	}
	id := action.ID
	if id == "" {
		id = newID()
	}
	createdAt := action.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_actions (id, job_id, kind, detail, created_at) VALUES (?,?,?,?,?)
	`, id, action.JobID, action.Kind, action.Detail, createdAt)
	return Wrap("SaveJobAction", err)
}

func (s *SQLiteStore) ListJobActions(ctx context.Context, jobID string) ([]*JobActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, kind, detail, created_at FROM job_actions WHERE job_id = ? ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, Wrap("ListJobActions", err)
	}
	defer rows.Close()
	var out []*JobActionRecord
	for rows.Next() {
		var a JobActionRecord
		if err := rows.Scan(&a.ID, &a.JobID, &a.Kind, &a.Detail, &a.CreatedAt); err != nil {
			return nil, Wrap("ListJobActions", err)
		}
		out = append(out, &a)
	}
	return out, nil
}

func (s *SQLiteStore) SaveJobEvent(ctx context.Context, event *JobEventRecord) error {
	if event == nil {
		return nil
	}
	id := event.ID
	if id == "" {
		id = newID()
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_events (id, job_id, event, detail, created_at) VALUES (?,?,?,?,?)
	`, id, event.JobID, event.Event, event.Detail, createdAt)
	return Wrap("SaveJobEvent", err)
}

func (s *SQLiteStore) ListJobEvents(ctx context.Context, jobID string, limit int) ([]*JobEventRecord, error) {
	query := `SELECT id, job_id, event, detail, created_at FROM job_events WHERE job_id = ? ORDER BY created_at DESC`
	args := []any{jobID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Wrap("ListJobEvents", err)
	}
	defer rows.Close()
	var out []*JobEventRecord
	for rows.Next() {
		var e JobEventRecord
		if err := rows.Scan(&e.ID, &e.JobID, &e.Event, &e.Detail, &e.CreatedAt); err != nil {
			return nil, Wrap("ListJobEvents", err)
		}
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- LLM calls and estimation --------------------------------------------

func (s *SQLiteStore) RecordLLMCall(ctx context.Context, call *LLMCallRecord) error {
	if call == nil {
		return nil
	}
	id := call.ID
	if id == "" {
		id = newID()
	}
	createdAt := call.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_calls (id, job_id, provider, model, input_tokens, output_tokens, cost_usd, created_at)
		VALUES (?,?,?,?,?,?,?,?)
	`, id, call.JobID, call.Provider, call.Model, call.InputTokens, call.OutputTokens, call.CostUSD, createdAt)
	return Wrap("RecordLLMCall", err)
}

func (s *SQLiteStore) SaveEstimationSnapshot(ctx context.Context, snap *EstimationSnapshot) error {
	if snap == nil {
		return nil
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO estimation_snapshots (job_id, estimated_cost, estimated_hours, price, actual_cost, actual_hours, created_at, updated_at)
		VALUES (?,?,?,?,0,0,?,?)
		ON CONFLICT (job_id) DO UPDATE SET
			estimated_cost = excluded.estimated_cost, estimated_hours = excluded.estimated_hours,
			price = excluded.price, updated_at = excluded.updated_at
	`, snap.JobID, snap.EstimatedCost, snap.EstimatedHours, snap.Price, now, now)
	return Wrap("SaveEstimationSnapshot", err)
}

func (s *SQLiteStore) UpdateEstimationActuals(ctx context.Context, jobID string, actualCost, actualHours float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE estimation_snapshots SET actual_cost = ?, actual_hours = ?, updated_at = ? WHERE job_id = ?
	`, actualCost, actualHours, time.Now(), jobID)
	if err != nil {
		return Wrap("UpdateEstimationActuals", err)
	}
	return requireRowsAffected(res, "UpdateEstimationActuals", jobID)
}

func (s *SQLiteStore) GetEstimationSnapshot(ctx context.Context, jobID string) (*EstimationSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, estimated_cost, estimated_hours, price, actual_cost, actual_hours, created_at, updated_at
		FROM estimation_snapshots WHERE job_id = ?
	`, jobID)
	var snap EstimationSnapshot
	err := row.Scan(&snap.JobID, &snap.EstimatedCost, &snap.EstimatedHours, &snap.Price, &snap.ActualCost, &snap.ActualHours, &snap.CreatedAt, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("GetEstimationSnapshot", jobID)
	}
	if err != nil {
		return nil, Wrap("GetEstimationSnapshot", err)
	}
	return &snap, nil
}

// --- Sandbox jobs --------------------------------------------------------

func (s *SQLiteStore) SaveSandboxJob(ctx context.Context, job *SandboxJobRecord) error {
	if job == nil {
		return nil
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sandbox_jobs (id, user_id, mode, status, image, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			mode = excluded.mode, status = excluded.status, image = excluded.image, updated_at = excluded.updated_at
	`, job.ID, job.UserID, job.Mode, job.Status, job.Image, job.CreatedAt, job.UpdatedAt)
	return Wrap("SaveSandboxJob", err)
}

func (s *SQLiteStore) GetSandboxJob(ctx context.Context, id string) (*SandboxJobRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, mode, status, image, created_at, updated_at FROM sandbox_jobs WHERE id = ?
	`, id)
	j, err := scanSandboxJob(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("GetSandboxJob", id)
	}
	if err != nil {
		return nil, Wrap("GetSandboxJob", err)
	}
	return j, nil
}

func (s *SQLiteStore) listSandboxJobs(ctx context.Context, userID string, limit, offset int) ([]*SandboxJobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, mode, status, image, created_at, updated_at FROM sandbox_jobs`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Wrap("ListSandboxJobs", err)
	}
	defer rows.Close()
	var out []*SandboxJobRecord
	for rows.Next() {
		j, err := scanSandboxJob(rows)
		if err != nil {
			return nil, Wrap("ListSandboxJobs", err)
		}
		out = append(out, j)
	}
	return out, nil
}

func (s *SQLiteStore) ListSandboxJobs(ctx context.Context, limit, offset int) ([]*SandboxJobRecord, error) {
	return s.listSandboxJobs(ctx, "", limit, offset)
}

func (s *SQLiteStore) ListSandboxJobsForUser(ctx context.Context, userID string, limit, offset int) ([]*SandboxJobRecord, error) {
	return s.listSandboxJobs(ctx, userID, limit, offset)
}

func (s *SQLiteStore) UpdateSandboxJobStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sandbox_jobs SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now(), id)
	if err != nil {
		return Wrap("UpdateSandboxJobStatus", err)
	}
	return requireRowsAffected(res, "UpdateSandboxJobStatus", id)
}

func (s *SQLiteStore) UpdateSandboxJobMode(ctx context.Context, id, mode string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sandbox_jobs SET mode = ?, updated_at = ? WHERE id = ?`, mode, time.Now(), id)
	if err != nil {
		return Wrap("UpdateSandboxJobMode", err)
	}
	return requireRowsAffected(res, "UpdateSandboxJobMode", id)
}

func (s *SQLiteStore) GetSandboxJobMode(ctx context.Context, id string) (string, error) {
	var mode string
	err := s.db.QueryRowContext(ctx, `SELECT mode FROM sandbox_jobs WHERE id = ?`, id).Scan(&mode)
	if err == sql.ErrNoRows {
		return "", NotFound("GetSandboxJobMode", id)
	}
	if err != nil {
		return "", Wrap("GetSandboxJobMode", err)
	}
	return mode, nil
}

func (s *SQLiteStore) SandboxJobBelongsToUser(ctx context.Context, id, userID string) (bool, error) {
	var actual string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM sandbox_jobs WHERE id = ?`, id).Scan(&actual)
	if err == sql.ErrNoRows {
		return false, NotFound("SandboxJobBelongsToUser", id)
	}
	if err != nil {
		return false, Wrap("SandboxJobBelongsToUser", err)
	}
	return actual == userID, nil
}

func (s *SQLiteStore) CleanupStaleSandboxJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sandbox_jobs WHERE updated_at < ? AND status IN ('succeeded', 'failed')
	`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, Wrap("CleanupStaleSandboxJobs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, Wrap("CleanupStaleSandboxJobs", err)
	}
	return n, nil
}

func (s *SQLiteStore) sandboxSummary(ctx context.Context, userID string) (*SandboxSummary, error) {
	query := `SELECT status, count(*) FROM sandbox_jobs`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY status`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Wrap("SandboxJobSummary", err)
	}
	defer rows.Close()
	summary := &SandboxSummary{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, Wrap("SandboxJobSummary", err)
		}
		summary.Total += count
		switch status {
		case "running":
			summary.Running = count
		case "succeeded":
			summary.Succeeded = count
		case "failed":
			summary.Failed = count
		}
	}
	return summary, nil
}

func (s *SQLiteStore) SandboxJobSummary(ctx context.Context) (*SandboxSummary, error) {
	return s.sandboxSummary(ctx, "")
}

func (s *SQLiteStore) SandboxJobSummaryForUser(ctx context.Context, userID string) (*SandboxSummary, error) {
	return s.sandboxSummary(ctx, userID)
}

// --- Routines ------------------------------------------------------------

func (s *SQLiteStore) CreateRoutine(ctx context.Context, r *Routine) error {
	if r == nil {
		return nil
	}
	id := r.ID
	if id == "" {
		id = newID()
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routines (id, user_id, name, event, cron_spec, prompt, enabled, last_run_at, next_run_at, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
	`, id, r.UserID, r.Name, r.Event, r.CronSpec, r.Prompt, r.Enabled, nullTime(r.LastRunAt), nullTime(r.NextRunAt), now, now)
	return Wrap("CreateRoutine", err)
}

func (s *SQLiteStore) GetRoutine(ctx context.Context, id string) (*Routine, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, event, cron_spec, prompt, enabled, last_run_at, next_run_at, created_at, updated_at
		FROM routines WHERE id = ?
	`, id)
	r, err := scanRoutine(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("GetRoutine", id)
	}
	if err != nil {
		return nil, Wrap("GetRoutine", err)
	}
	return r, nil
}

func (s *SQLiteStore) GetRoutineByName(ctx context.Context, userID, name string) (*Routine, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, event, cron_spec, prompt, enabled, last_run_at, next_run_at, created_at, updated_at
		FROM routines WHERE user_id = ? AND name = ?
	`, userID, name)
	r, err := scanRoutine(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("GetRoutineByName", name)
	}
	if err != nil {
		return nil, Wrap("GetRoutineByName", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRoutines(ctx context.Context, userID string) ([]*Routine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, event, cron_spec, prompt, enabled, last_run_at, next_run_at, created_at, updated_at
		FROM routines WHERE user_id = ? ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, Wrap("ListRoutines", err)
	}
	defer rows.Close()
	var out []*Routine
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, Wrap("ListRoutines", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLiteStore) ListEventRoutines(ctx context.Context, event string) ([]*Routine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, event, cron_spec, prompt, enabled, last_run_at, next_run_at, created_at, updated_at
		FROM routines WHERE enabled = 1 AND event = ?
	`, event)
	if err != nil {
		return nil, Wrap("ListEventRoutines", err)
	}
	defer rows.Close()
	var out []*Routine
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, Wrap("ListEventRoutines", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLiteStore) ListDueCronRoutines(ctx context.Context, asOf time.Time) ([]*Routine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, event, cron_spec, prompt, enabled, last_run_at, next_run_at, created_at, updated_at
		FROM routines WHERE enabled = 1 AND cron_spec <> '' AND next_run_at IS NOT NULL AND next_run_at <= ?
	`, asOf)
	if err != nil {
		return nil, Wrap("ListDueCronRoutines", err)
	}
	defer rows.Close()
	var out []*Routine
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, Wrap("ListDueCronRoutines", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateRoutine(ctx context.Context, r *Routine) error {
	if r == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE routines SET name = ?, event = ?, cron_spec = ?, prompt = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`, r.Name, r.Event, r.CronSpec, r.Prompt, r.Enabled, time.Now(), r.ID)
	if err != nil {
		return Wrap("UpdateRoutine", err)
	}
	return requireRowsAffected(res, "UpdateRoutine", r.ID)
}

func (s *SQLiteStore) UpdateRoutineRuntime(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE routines SET last_run_at = ?, next_run_at = ?, updated_at = ? WHERE id = ?
	`, nullTime(lastRun), nullTime(nextRun), time.Now(), id)
	if err != nil {
		return Wrap("UpdateRoutineRuntime", err)
	}
	return requireRowsAffected(res, "UpdateRoutineRuntime", id)
}

func (s *SQLiteStore) DeleteRoutine(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM routines WHERE id = ?`, id)
	if err != nil {
		return Wrap("DeleteRoutine", err)
	}
	return requireRowsAffected(res, "DeleteRoutine", id)
}

func (s *SQLiteStore) CreateRoutineRun(ctx context.Context, run *RoutineRun) error {
	if run == nil {
		return nil
	}
	id := run.ID
	if id == "" {
		id = newID()
	}
	status := run.Status
	if status == "" {
		status = RoutineRunRunning
	}
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routine_runs (id, routine_id, status, output, started_at, finished_at)
		VALUES (?,?,?,?,?,NULL)
	`, id, run.RoutineID, string(status), run.Output, startedAt)
	return Wrap("CreateRoutineRun", err)
}

func (s *SQLiteStore) CompleteRoutineRun(ctx context.Context, runID string, status RoutineRunStatus, output string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE routine_runs SET status = ?, output = ?, finished_at = ? WHERE id = ?
	`, string(status), output, time.Now(), runID)
	if err != nil {
		return Wrap("CompleteRoutineRun", err)
	}
	return requireRowsAffected(res, "CompleteRoutineRun", runID)
}

func (s *SQLiteStore) ListRoutineRuns(ctx context.Context, routineID string, limit int) ([]*RoutineRun, error) {
	query := `SELECT id, routine_id, status, output, started_at, finished_at FROM routine_runs WHERE routine_id = ? ORDER BY started_at DESC`
	args := []any{routineID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Wrap("ListRoutineRuns", err)
	}
	defer rows.Close()
	var out []*RoutineRun
	for rows.Next() {
		r, err := scanRoutineRun(rows)
		if err != nil {
			return nil, Wrap("ListRoutineRuns", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *SQLiteStore) CountRunningRoutineRuns(ctx context.Context, routineID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM routine_runs WHERE routine_id = ? AND status = ?
	`, routineID, string(RoutineRunRunning)).Scan(&count)
	if err != nil {
		return 0, Wrap("CountRunningRoutineRuns", err)
	}
	return count, nil
}

// --- Tool failures ---------------------------------------------------

func (s *SQLiteStore) RecordToolFailure(ctx context.Context, toolName, errMessage string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_failures (tool_name, attempts, last_error, last_failure)
		VALUES (?,1,?,?)
		ON CONFLICT (tool_name) DO UPDATE SET
			attempts = tool_failures.attempts + 1, last_error = excluded.last_error, last_failure = excluded.last_failure
	`, toolName, errMessage, time.Now())
	return Wrap("RecordToolFailure", err)
}

func (s *SQLiteStore) IncrementToolFailureAttempts(ctx context.Context, toolName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_failures (tool_name, attempts) VALUES (?,1)
		ON CONFLICT (tool_name) DO UPDATE SET attempts = tool_failures.attempts + 1
	`, toolName)
	return Wrap("IncrementToolFailureAttempts", err)
}

func (s *SQLiteStore) GetBrokenTools(ctx context.Context, minAttempts int) ([]*BrokenTool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, attempts, last_error, last_failure FROM tool_failures WHERE attempts >= ?
	`, minAttempts)
	if err != nil {
		return nil, Wrap("GetBrokenTools", err)
	}
	defer rows.Close()
	var out []*BrokenTool
	for rows.Next() {
		var bt BrokenTool
		var lastFailure sql.NullTime
		if err := rows.Scan(&bt.ToolName, &bt.Attempts, &bt.LastError, &lastFailure); err != nil {
			return nil, Wrap("GetBrokenTools", err)
		}
		bt.LastFailure = lastFailure.Time
		out = append(out, &bt)
	}
	return out, nil
}

func (s *SQLiteStore) MarkToolRepaired(ctx context.Context, toolName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tool_failures WHERE tool_name = ?`, toolName)
	return Wrap("MarkToolRepaired", err)
}

// --- Settings ------------------------------------------------------------

func (s *SQLiteStore) SetSetting(ctx context.Context, userID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (user_id, key, value, updated_at) VALUES (?,?,?,?)
		ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, userID, key, value, time.Now())
	return Wrap("SetSetting", err)
}

func (s *SQLiteStore) GetSetting(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE user_id = ? AND key = ?`, userID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", NotFound("GetSetting", key)
	}
	if err != nil {
		return "", Wrap("GetSetting", err)
	}
	return value, nil
}

func (s *SQLiteStore) GetFullSetting(ctx context.Context, userID, key string) (*SettingRow, error) {
	row := &SettingRow{UserID: userID, Key: key}
	err := s.db.QueryRowContext(ctx, `SELECT value, updated_at FROM settings WHERE user_id = ? AND key = ?`, userID, key).
		Scan(&row.Value, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("GetFullSetting", key)
	}
	if err != nil {
		return nil, Wrap("GetFullSetting", err)
	}
	return row, nil
}

func (s *SQLiteStore) DeleteSetting(ctx context.Context, userID, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE user_id = ? AND key = ?`, userID, key)
	return Wrap("DeleteSetting", err)
}

func (s *SQLiteStore) ListSettings(ctx context.Context, userID string) ([]*SettingRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, key, value, updated_at FROM settings WHERE user_id = ? ORDER BY key ASC`, userID)
	if err != nil {
		return nil, Wrap("ListSettings", err)
	}
	defer rows.Close()
	var out []*SettingRow
	for rows.Next() {
		var row SettingRow
		if err := rows.Scan(&row.UserID, &row.Key, &row.Value, &row.UpdatedAt); err != nil {
			return nil, Wrap("ListSettings", err)
		}
		out = append(out, &row)
	}
	return out, nil
}

func (s *SQLiteStore) GetAllSettings(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.ListSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *SQLiteStore) SetAllSettings(ctx context.Context, userID string, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Wrap("SetAllSettings", err)
	}
	defer tx.Rollback()
	now := time.Now()
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (user_id, key, value, updated_at) VALUES (?,?,?,?)
			ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, userID, k, v, now); err != nil {
			return Wrap("SetAllSettings", err)
		}
	}
	return Wrap("SetAllSettings", tx.Commit())
}

func (s *SQLiteStore) HasSetting(ctx context.Context, userID, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM settings WHERE user_id = ? AND key = ?)`, userID, key).Scan(&exists)
	if err != nil {
		return false, Wrap("HasSetting", err)
	}
	return exists, nil
}

// --- Workspace documents and chunks --------------------------------------

func (s *SQLiteStore) GetWorkspaceDocumentByPath(ctx context.Context, path string) (*WorkspaceDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, path, content, is_dir, chunk_count, created_at, updated_at FROM workspace_documents WHERE path = ?
	`, path)
	doc, err := scanWorkspaceDocument(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("GetWorkspaceDocumentByPath", path)
	}
	if err != nil {
		return nil, Wrap("GetWorkspaceDocumentByPath", err)
	}
	return doc, nil
}

func (s *SQLiteStore) GetWorkspaceDocumentByID(ctx context.Context, id string) (*WorkspaceDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, path, content, is_dir, chunk_count, created_at, updated_at FROM workspace_documents WHERE id = ?
	`, id)
	doc, err := scanWorkspaceDocument(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("GetWorkspaceDocumentByID", id)
	}
	if err != nil {
		return nil, Wrap("GetWorkspaceDocumentByID", err)
	}
	return doc, nil
}

func (s *SQLiteStore) GetOrCreateWorkspaceDocument(ctx context.Context, path string) (*WorkspaceDocument, error) {
	doc, err := s.GetWorkspaceDocumentByPath(ctx, path)
	if err == nil {
		return doc, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}
	now := time.Now()
	doc = &WorkspaceDocument{ID: newID(), Path: path, CreatedAt: now, UpdatedAt: now}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workspace_documents (id, path, content, is_dir, chunk_count, created_at, updated_at)
		VALUES (?,?,'',0,0,?,?)
		ON CONFLICT (path) DO NOTHING
	`, doc.ID, doc.Path, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return nil, Wrap("GetOrCreateWorkspaceDocument", err)
	}
	return s.GetWorkspaceDocumentByPath(ctx, path)
}

func (s *SQLiteStore) UpdateWorkspaceDocument(ctx context.Context, doc *WorkspaceDocument) error {
	if doc == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workspace_documents SET path = ?, content = ?, is_dir = ?, chunk_count = ?, updated_at = ?
		WHERE id = ?
	`, doc.Path, doc.Content, doc.IsDir, doc.ChunkCount, time.Now(), doc.ID)
	if err != nil {
		return Wrap("UpdateWorkspaceDocument", err)
	}
	return requireRowsAffected(res, "UpdateWorkspaceDocument", doc.ID)
}

func (s *SQLiteStore) DeleteWorkspaceDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Wrap("DeleteWorkspaceDocument", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM workspace_chunks WHERE document_id = ?`, id); err != nil {
		return Wrap("DeleteWorkspaceDocument", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM workspace_documents WHERE id = ?`, id)
	if err != nil {
		return Wrap("DeleteWorkspaceDocument", err)
	}
	if err := requireRowsAffected(res, "DeleteWorkspaceDocument", id); err != nil {
		return err
	}
	return Wrap("DeleteWorkspaceDocument", tx.Commit())
}

func (s *SQLiteStore) ListDirectory(ctx context.Context, dirPath string) ([]*WorkspaceDocument, error) {
	prefix := strings.TrimSuffix(dirPath, "/") + "/"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, content, is_dir, chunk_count, created_at, updated_at
		FROM workspace_documents WHERE path LIKE ? || '%'
	`, prefix)
	if err != nil {
		return nil, Wrap("ListDirectory", err)
	}
	defer rows.Close()
	var out []*WorkspaceDocument
	for rows.Next() {
		doc, err := scanWorkspaceDocument(rows)
		if err != nil {
			return nil, Wrap("ListDirectory", err)
		}
		rest := strings.TrimPrefix(doc.Path, prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *SQLiteStore) ListAllWorkspacePaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM workspace_documents ORDER BY path ASC`)
	if err != nil {
		return nil, Wrap("ListAllWorkspacePaths", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, Wrap("ListAllWorkspacePaths", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SQLiteStore) ListWorkspaceDocuments(ctx context.Context, limit, offset int) ([]*WorkspaceDocument, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, content, is_dir, chunk_count, created_at, updated_at
		FROM workspace_documents ORDER BY path ASC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, Wrap("ListWorkspaceDocuments", err)
	}
	defer rows.Close()
	var out []*WorkspaceDocument
	for rows.Next() {
		doc, err := scanWorkspaceDocument(rows)
		if err != nil {
			return nil, Wrap("ListWorkspaceDocuments", err)
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteWorkspaceChunks(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workspace_chunks WHERE document_id = ?`, documentID)
	return Wrap("DeleteWorkspaceChunks", err)
}

func (s *SQLiteStore) InsertWorkspaceChunk(ctx context.Context, chunk *WorkspaceChunk) error {
	if chunk == nil {
		return nil
	}
	id := chunk.ID
	if id == "" {
		id = newID()
	}
	createdAt := chunk.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_chunks (id, document_id, index_in_doc, content, embedding, created_at)
		VALUES (?,?,?,?,?,?)
	`, id, chunk.DocumentID, chunk.Index, chunk.Content, encodeEmbedding(chunk.Embedding), createdAt)
	return Wrap("InsertWorkspaceChunk", err)
}

func (s *SQLiteStore) UpdateWorkspaceChunkEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	res, err := s.db.ExecContext(ctx, `UPDATE workspace_chunks SET embedding = ? WHERE id = ?`, encodeEmbedding(embedding), chunkID)
	if err != nil {
		return Wrap("UpdateWorkspaceChunkEmbedding", err)
	}
	return requireRowsAffected(res, "UpdateWorkspaceChunkEmbedding", chunkID)
}

func (s *SQLiteStore) GetWorkspaceChunksWithoutEmbeddings(ctx context.Context, limit int) ([]*WorkspaceChunk, error) {
	query := `SELECT id, document_id, index_in_doc, content, embedding, created_at FROM workspace_chunks WHERE embedding IS NULL`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Wrap("GetWorkspaceChunksWithoutEmbeddings", err)
	}
	defer rows.Close()
	var out []*WorkspaceChunk
	for rows.Next() {
		c, err := scanWorkspaceChunk(rows)
		if err != nil {
			return nil, Wrap("GetWorkspaceChunksWithoutEmbeddings", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// HybridSearch mirrors sqlitevec.Backend.Search's brute-force approach:
// fetch every chunk, decode its embedding BLOB, score in Go. There is no
// vec0/FTS5 extension loaded in the pure-Go modernc.org/sqlite build, so
// this is the same pattern the teacher already uses for vector search.
func (s *SQLiteStore) HybridSearch(ctx context.Context, query string, queryEmbedding []float32, limit int) ([]*WorkspaceSearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, document_id, index_in_doc, content, embedding, created_at FROM workspace_chunks`)
	if err != nil {
		return nil, Wrap("HybridSearch", err)
	}
	defer rows.Close()

	lowerQuery := strings.ToLower(query)
	var results []*WorkspaceSearchResult
	for rows.Next() {
		c, err := scanWorkspaceChunk(rows)
		if err != nil {
			return nil, Wrap("HybridSearch", err)
		}
		lexical := float32(strings.Count(strings.ToLower(c.Content), lowerQuery))
		vector := cosineSimilarity(queryEmbedding, c.Embedding)
		score := vector + lexical*0.1
		if score <= 0 {
			continue
		}
		results = append(results, &WorkspaceSearchResult{Chunk: c, Score: score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
