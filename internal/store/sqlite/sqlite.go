// Package sqlite implements the store contracts on SQLite.
//
// The database is opened in WAL mode with a busy timeout, and the schema is
// migrated idempotently on startup. All timestamps are persisted as RFC 3339
// UTC text.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/apollohq/apollo/internal/store"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Config holds sqlite driver configuration.
type Config struct {
	DataDir string
}

// DefaultConfig returns the default configuration for the sqlite store.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{DataDir: filepath.Join(home, ".apollo")}
}

// Store is the SQLite-backed persistence engine.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database under cfg.DataDir and runs
// migrations.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("sqlite: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "apollo.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("sqlite: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conv_user ON conversations(user_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			tool_calls      TEXT,
			created_at      TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_msg_conv ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS tasks (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			title        TEXT NOT NULL,
			description  TEXT,
			status       TEXT NOT NULL DEFAULT 'pending',
			milestone_id TEXT,
			project      TEXT,
			priority     TEXT NOT NULL DEFAULT 'medium',
			due_date     TEXT,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_task_user    ON tasks(user_id, status);
		CREATE INDEX IF NOT EXISTS idx_task_created ON tasks(created_at DESC);

		CREATE TABLE IF NOT EXISTS goals (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT,
			target_date TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'active',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_goal_user ON goals(user_id, status);

		CREATE TABLE IF NOT EXISTS milestones (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			goal_id     TEXT NOT NULL DEFAULT '',
			title       TEXT NOT NULL,
			description TEXT,
			target_date TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'not_started',
			progress    INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_ms_user ON milestones(user_id, status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Conversations ───────────────────────────────────────────────────────────

// GetOrCreateConversation implements store.ConversationStore.
func (s *Store) GetOrCreateConversation(ctx context.Context, userID, conversationID, titleIfNew string) (*store.Conversation, error) {
	if conversationID != "" {
		row := s.db.QueryRowContext(ctx,
			`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?`,
			conversationID,
		)
		var c store.Conversation
		var created, updated string
		err := row.Scan(&c.ID, &c.UserID, &c.Title, &created, &updated)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("sqlite: get conversation: %w", err)
		}
		// Ownership mismatch is indistinguishable from absence.
		if c.UserID != userID {
			return nil, store.ErrNotFound
		}
		c.CreatedAt = parseTime(created)
		c.UpdatedAt = parseTime(updated)
		return &c, nil
	}

	now := time.Now().UTC()
	c := &store.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     titleIfNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create conversation: %w", err)
	}
	return c, nil
}

// ListConversations implements store.ConversationStore.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]store.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations
		 WHERE user_id = ? ORDER BY updated_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list conversations: %w", err)
	}
	defer rows.Close()

	var convs []store.Conversation
	for rows.Next() {
		var c store.Conversation
		var created, updated string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("sqlite: scan conversation: %w", err)
		}
		c.CreatedAt = parseTime(created)
		c.UpdatedAt = parseTime(updated)
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// AppendMessage implements store.ConversationStore.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string, toolCalls []store.ToolCallRecord) (string, error) {
	var toolJSON any
	if len(toolCalls) > 0 {
		data, err := json.Marshal(toolCalls)
		if err != nil {
			return "", fmt.Errorf("sqlite: marshal tool calls: %w", err)
		}
		toolJSON = string(data)
	}

	id := uuid.NewString()
	now := formatTime(time.Now().UTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, tool_calls, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, conversationID, role, content, toolJSON, now,
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: append message: %w", err)
	}

	// Last-activity timestamp only moves forward: the max() guards against
	// clock skew making it regress.
	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = max(updated_at, ?) WHERE id = ?`,
		now, conversationID,
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: touch conversation: %w", err)
	}
	return id, nil
}

// RecentMessages implements store.ConversationStore.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, tool_calls, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent messages: %w", err)
	}
	defer rows.Close()

	var result []store.Message
	for rows.Next() {
		var m store.Message
		var toolJSON sql.NullString
		var created string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &toolJSON, &created); err != nil {
			return nil, err
		}
		if toolJSON.Valid && toolJSON.String != "" {
			if err := json.Unmarshal([]byte(toolJSON.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("sqlite: parse tool calls for %s: %w", m.ID, err)
			}
		}
		m.CreatedAt = parseTime(created)
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first for the LIMIT; callers get chronological order.
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ─── Tasks ───────────────────────────────────────────────────────────────────

// ListActiveTasks returns pending and in-progress tasks, most recent first.
func (s *Store) ListActiveTasks(ctx context.Context, userID string, limit int) ([]store.Task, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, ifnull(description, ''), status, ifnull(milestone_id, ''),
		        ifnull(project, ''), priority, ifnull(due_date, ''), created_at, updated_at
		 FROM tasks
		 WHERE user_id = ? AND status IN (?, ?)
		 ORDER BY created_at DESC LIMIT ?`,
		userID, store.TaskPending, store.TaskInProgress, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*store.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, ifnull(description, ''), status, ifnull(milestone_id, ''),
		        ifnull(project, ''), priority, ifnull(due_date, ''), created_at, updated_at
		 FROM tasks WHERE id = ?`, id,
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get task: %w", err)
	}
	return t, nil
}

// InsertTask creates a task, assigning id and timestamps.
func (s *Store) InsertTask(ctx context.Context, t *store.Task) (*store.Task, error) {
	now := time.Now().UTC()
	created := *t
	created.ID = uuid.NewString()
	created.CreatedAt = now
	created.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, title, description, status, milestone_id, project, priority, due_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		created.ID, created.UserID, created.Title, nullable(created.Description), created.Status,
		nullable(created.MilestoneID), nullable(created.Project), created.Priority,
		nullable(created.DueDate), formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: insert task: %w", err)
	}
	return &created, nil
}

// UpdateTask applies the given fields to a task and returns the updated row.
func (s *Store) UpdateTask(ctx context.Context, id string, fields map[string]any) (*store.Task, error) {
	if err := s.applyUpdate(ctx, "tasks", id, fields); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

// DeleteTask removes a task by id.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ─── Goals ───────────────────────────────────────────────────────────────────

// ListActiveGoals returns active goals ordered by ascending target date.
func (s *Store) ListActiveGoals(ctx context.Context, userID string, limit int) ([]store.Goal, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, ifnull(description, ''), target_date, status, created_at, updated_at
		 FROM goals WHERE user_id = ? AND status = ?
		 ORDER BY target_date ASC LIMIT ?`,
		userID, store.GoalActive, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active goals: %w", err)
	}
	defer rows.Close()
	return scanGoals(rows)
}

// ListGoals returns a user's goals, optionally filtered by status.
func (s *Store) ListGoals(ctx context.Context, userID, status string) ([]store.Goal, error) {
	query := `SELECT id, user_id, title, ifnull(description, ''), target_date, status, created_at, updated_at
	          FROM goals WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY target_date ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list goals: %w", err)
	}
	defer rows.Close()
	return scanGoals(rows)
}

// GetGoal retrieves a goal by id.
func (s *Store) GetGoal(ctx context.Context, id string) (*store.Goal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, ifnull(description, ''), target_date, status, created_at, updated_at
		 FROM goals WHERE id = ?`, id,
	)
	var g store.Goal
	var created, updated string
	err := row.Scan(&g.ID, &g.UserID, &g.Title, &g.Description, &g.TargetDate, &g.Status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get goal: %w", err)
	}
	g.CreatedAt = parseTime(created)
	g.UpdatedAt = parseTime(updated)
	return &g, nil
}

// InsertGoal creates a goal, assigning id and timestamps.
func (s *Store) InsertGoal(ctx context.Context, g *store.Goal) (*store.Goal, error) {
	now := time.Now().UTC()
	created := *g
	created.ID = uuid.NewString()
	created.CreatedAt = now
	created.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO goals (id, user_id, title, description, target_date, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		created.ID, created.UserID, created.Title, nullable(created.Description),
		created.TargetDate, created.Status, formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: insert goal: %w", err)
	}
	return &created, nil
}

// UpdateGoal applies the given fields to a goal and returns the updated row.
func (s *Store) UpdateGoal(ctx context.Context, id string, fields map[string]any) (*store.Goal, error) {
	if err := s.applyUpdate(ctx, "goals", id, fields); err != nil {
		return nil, err
	}
	return s.GetGoal(ctx, id)
}

// ─── Milestones ──────────────────────────────────────────────────────────────

// ListActiveMilestones returns not-started and in-progress milestones ordered
// by ascending target date.
func (s *Store) ListActiveMilestones(ctx context.Context, userID string, limit int) ([]store.Milestone, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, goal_id, title, ifnull(description, ''), target_date, status, progress, created_at, updated_at
		 FROM milestones WHERE user_id = ? AND status IN (?, ?)
		 ORDER BY target_date ASC LIMIT ?`,
		userID, store.MilestoneNotStarted, store.MilestoneInProgress, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active milestones: %w", err)
	}
	defer rows.Close()
	return scanMilestones(rows)
}

// ListMilestones returns a user's milestones, optionally filtered by status.
func (s *Store) ListMilestones(ctx context.Context, userID, status string) ([]store.Milestone, error) {
	query := `SELECT id, user_id, goal_id, title, ifnull(description, ''), target_date, status, progress, created_at, updated_at
	          FROM milestones WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY target_date ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list milestones: %w", err)
	}
	defer rows.Close()
	return scanMilestones(rows)
}

// GetMilestone retrieves a milestone by id.
func (s *Store) GetMilestone(ctx context.Context, id string) (*store.Milestone, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, goal_id, title, ifnull(description, ''), target_date, status, progress, created_at, updated_at
		 FROM milestones WHERE id = ?`, id,
	)
	var m store.Milestone
	var created, updated string
	err := row.Scan(&m.ID, &m.UserID, &m.GoalID, &m.Title, &m.Description, &m.TargetDate, &m.Status, &m.Progress, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get milestone: %w", err)
	}
	m.CreatedAt = parseTime(created)
	m.UpdatedAt = parseTime(updated)
	return &m, nil
}

// InsertMilestone creates a milestone, assigning id and timestamps.
func (s *Store) InsertMilestone(ctx context.Context, m *store.Milestone) (*store.Milestone, error) {
	now := time.Now().UTC()
	created := *m
	created.ID = uuid.NewString()
	created.CreatedAt = now
	created.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO milestones (id, user_id, goal_id, title, description, target_date, status, progress, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		created.ID, created.UserID, created.GoalID, created.Title, nullable(created.Description),
		created.TargetDate, created.Status, created.Progress, formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: insert milestone: %w", err)
	}
	return &created, nil
}

// UpdateMilestone applies the given fields to a milestone and returns the
// updated row.
func (s *Store) UpdateMilestone(ctx context.Context, id string, fields map[string]any) (*store.Milestone, error) {
	if err := s.applyUpdate(ctx, "milestones", id, fields); err != nil {
		return nil, err
	}
	return s.GetMilestone(ctx, id)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// applyUpdate builds a SET clause from the field map. Callers (the tool
// executor) have already whitelisted and validated the keys.
func (s *Store) applyUpdate(ctx context.Context, table, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sets []string
	var args []any
	for _, k := range keys {
		sets = append(sets, k+" = ?")
		args = append(args, fields[k])
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now().UTC()))
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`, table, strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: update %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*store.Task, error) {
	var t store.Task
	var created, updated string
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Status, &t.MilestoneID,
		&t.Project, &t.Priority, &t.DueDate, &created, &updated); err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]store.Task, error) {
	var result []store.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func scanGoals(rows *sql.Rows) ([]store.Goal, error) {
	var result []store.Goal
	for rows.Next() {
		var g store.Goal
		var created, updated string
		if err := rows.Scan(&g.ID, &g.UserID, &g.Title, &g.Description, &g.TargetDate, &g.Status, &created, &updated); err != nil {
			return nil, err
		}
		g.CreatedAt = parseTime(created)
		g.UpdatedAt = parseTime(updated)
		result = append(result, g)
	}
	return result, rows.Err()
}

func scanMilestones(rows *sql.Rows) ([]store.Milestone, error) {
	var result []store.Milestone
	for rows.Next() {
		var m store.Milestone
		var created, updated string
		if err := rows.Scan(&m.ID, &m.UserID, &m.GoalID, &m.Title, &m.Description, &m.TargetDate, &m.Status, &m.Progress, &created, &updated); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(created)
		m.UpdatedAt = parseTime(updated)
		result = append(result, m)
	}
	return result, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
