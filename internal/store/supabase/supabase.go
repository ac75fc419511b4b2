// Package supabase implements the store contracts on a Supabase project,
// matching the schema of the hosted deployment (tables conversations,
// messages, tasks, goals, milestones).
//
// PostgREST filters cover equality and membership; ordering and limits are
// applied client-side so the driver sticks to the well-trodden parts of the
// API surface.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"

	"github.com/apollohq/apollo/internal/store"
)

// Config holds Supabase connection configuration.
type Config struct {
	URL    string
	APIKey string
}

// Store implements store.Store using a Supabase project.
type Store struct {
	client *supabase.Client
}

// New creates a Supabase-backed store.
func New(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}
	return &Store{client: client}, nil
}

// Close implements store.Store. The Supabase client holds no resources that
// need explicit release.
func (s *Store) Close() error { return nil }

// ctxErr short-circuits a call whose context is already canceled or past its
// deadline. The PostgREST client offers no per-request context, so this check
// at each entry point is where the caller's deadline is honored.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("supabase: %w", err)
	}
	return nil
}

// ─── Conversations ───────────────────────────────────────────────────────────

// messageRow mirrors the messages table; tool_calls is a JSONB column.
type messageRow struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	ToolCalls      json.RawMessage `json:"tool_calls,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// GetOrCreateConversation implements store.ConversationStore.
func (s *Store) GetOrCreateConversation(ctx context.Context, userID, conversationID, titleIfNew string) (*store.Conversation, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if conversationID != "" {
		var rows []store.Conversation
		_, err := s.client.From("conversations").
			Select("*", "", false).
			Eq("id", conversationID).
			ExecuteTo(&rows)
		if err != nil {
			return nil, fmt.Errorf("supabase: get conversation: %w", err)
		}
		if len(rows) == 0 || rows[0].UserID != userID {
			return nil, store.ErrNotFound
		}
		return &rows[0], nil
	}

	now := time.Now().UTC()
	c := store.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     titleIfNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var inserted []store.Conversation
	_, err := s.client.From("conversations").
		Insert(c, false, "", "representation", "").
		ExecuteTo(&inserted)
	if err != nil {
		return nil, fmt.Errorf("supabase: create conversation: %w", err)
	}
	if len(inserted) > 0 {
		return &inserted[0], nil
	}
	return &c, nil
}

// ListConversations implements store.ConversationStore.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]store.Conversation, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var rows []store.Conversation
	_, err := s.client.From("conversations").
		Select("*", "", false).
		Eq("user_id", userID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase: list conversations: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UpdatedAt.After(rows[j].UpdatedAt) })
	return rows, nil
}

// AppendMessage implements store.ConversationStore.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string, toolCalls []store.ToolCallRecord) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	row := messageRow{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if len(toolCalls) > 0 {
		data, err := json.Marshal(toolCalls)
		if err != nil {
			return "", fmt.Errorf("supabase: marshal tool calls: %w", err)
		}
		row.ToolCalls = data
	}

	var inserted []messageRow
	_, err := s.client.From("messages").
		Insert(row, false, "", "representation", "").
		ExecuteTo(&inserted)
	if err != nil {
		return "", fmt.Errorf("supabase: append message: %w", err)
	}

	// Touch last activity only when this message moves it forward.
	touch := map[string]any{"updated_at": row.CreatedAt}
	var updated []store.Conversation
	_, err = s.client.From("conversations").
		Update(touch, "representation", "").
		Eq("id", conversationID).
		Lt("updated_at", row.CreatedAt.Format(time.RFC3339Nano)).
		ExecuteTo(&updated)
	if err != nil {
		return "", fmt.Errorf("supabase: touch conversation: %w", err)
	}
	return row.ID, nil
}

// RecentMessages implements store.ConversationStore.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	var rows []messageRow
	_, err := s.client.From("messages").
		Select("*", "", false).
		Eq("conversation_id", conversationID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase: recent messages: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}

	result := make([]store.Message, 0, len(rows))
	for _, r := range rows {
		m := store.Message{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			Role:           r.Role,
			Content:        r.Content,
			CreatedAt:      r.CreatedAt,
		}
		if len(r.ToolCalls) > 0 {
			if err := json.Unmarshal(r.ToolCalls, &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("supabase: parse tool calls for %s: %w", r.ID, err)
			}
		}
		result = append(result, m)
	}
	return result, nil
}

// ─── Tasks ───────────────────────────────────────────────────────────────────

// ListActiveTasks implements store.EntityStore.
func (s *Store) ListActiveTasks(ctx context.Context, userID string, limit int) ([]store.Task, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	var rows []store.Task
	_, err := s.client.From("tasks").
		Select("*", "", false).
		Eq("user_id", userID).
		In("status", []string{store.TaskPending, store.TaskInProgress}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase: list active tasks: %w", err)
	}
	// Most recent first.
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// GetTask implements store.EntityStore.
func (s *Store) GetTask(ctx context.Context, id string) (*store.Task, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var rows []store.Task
	_, err := s.client.From("tasks").
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase: get task: %w", err)
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return &rows[0], nil
}

// InsertTask implements store.EntityStore.
func (s *Store) InsertTask(ctx context.Context, t *store.Task) (*store.Task, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	created := *t
	created.ID = uuid.NewString()
	created.CreatedAt = now
	created.UpdatedAt = now

	var inserted []store.Task
	_, err := s.client.From("tasks").
		Insert(created, false, "", "representation", "").
		ExecuteTo(&inserted)
	if err != nil {
		return nil, fmt.Errorf("supabase: insert task: %w", err)
	}
	if len(inserted) > 0 {
		return &inserted[0], nil
	}
	return &created, nil
}

// UpdateTask implements store.EntityStore.
func (s *Store) UpdateTask(ctx context.Context, id string, fields map[string]any) (*store.Task, error) {
	var updated []store.Task
	if err := s.applyUpdate(ctx, "tasks", id, fields, &updated); err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return nil, store.ErrNotFound
	}
	return &updated[0], nil
}

// DeleteTask implements store.EntityStore.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	var deleted []store.Task
	_, err := s.client.From("tasks").
		Delete("representation", "").
		Eq("id", id).
		ExecuteTo(&deleted)
	if err != nil {
		return fmt.Errorf("supabase: delete task: %w", err)
	}
	if len(deleted) == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ─── Goals ───────────────────────────────────────────────────────────────────

// ListActiveGoals implements store.EntityStore.
func (s *Store) ListActiveGoals(ctx context.Context, userID string, limit int) ([]store.Goal, error) {
	if limit <= 0 {
		limit = 10
	}
	goals, err := s.ListGoals(ctx, userID, store.GoalActive)
	if err != nil {
		return nil, err
	}
	if len(goals) > limit {
		goals = goals[:limit]
	}
	return goals, nil
}

// ListGoals implements store.EntityStore.
func (s *Store) ListGoals(ctx context.Context, userID, status string) ([]store.Goal, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	query := s.client.From("goals").
		Select("*", "", false).
		Eq("user_id", userID)
	if status != "" {
		query = query.Eq("status", status)
	}
	var rows []store.Goal
	if _, err := query.ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("supabase: list goals: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].TargetDate < rows[j].TargetDate })
	return rows, nil
}

// GetGoal implements store.EntityStore.
func (s *Store) GetGoal(ctx context.Context, id string) (*store.Goal, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var rows []store.Goal
	_, err := s.client.From("goals").
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase: get goal: %w", err)
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return &rows[0], nil
}

// InsertGoal implements store.EntityStore.
func (s *Store) InsertGoal(ctx context.Context, g *store.Goal) (*store.Goal, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	created := *g
	created.ID = uuid.NewString()
	created.CreatedAt = now
	created.UpdatedAt = now

	var inserted []store.Goal
	_, err := s.client.From("goals").
		Insert(created, false, "", "representation", "").
		ExecuteTo(&inserted)
	if err != nil {
		return nil, fmt.Errorf("supabase: insert goal: %w", err)
	}
	if len(inserted) > 0 {
		return &inserted[0], nil
	}
	return &created, nil
}

// UpdateGoal implements store.EntityStore.
func (s *Store) UpdateGoal(ctx context.Context, id string, fields map[string]any) (*store.Goal, error) {
	var updated []store.Goal
	if err := s.applyUpdate(ctx, "goals", id, fields, &updated); err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return nil, store.ErrNotFound
	}
	return &updated[0], nil
}

// ─── Milestones ──────────────────────────────────────────────────────────────

// ListActiveMilestones implements store.EntityStore.
func (s *Store) ListActiveMilestones(ctx context.Context, userID string, limit int) ([]store.Milestone, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	var rows []store.Milestone
	_, err := s.client.From("milestones").
		Select("*", "", false).
		Eq("user_id", userID).
		In("status", []string{store.MilestoneNotStarted, store.MilestoneInProgress}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase: list active milestones: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].TargetDate < rows[j].TargetDate })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// ListMilestones implements store.EntityStore.
func (s *Store) ListMilestones(ctx context.Context, userID, status string) ([]store.Milestone, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	query := s.client.From("milestones").
		Select("*", "", false).
		Eq("user_id", userID)
	if status != "" {
		query = query.Eq("status", status)
	}
	var rows []store.Milestone
	if _, err := query.ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("supabase: list milestones: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].TargetDate < rows[j].TargetDate })
	return rows, nil
}

// GetMilestone implements store.EntityStore.
func (s *Store) GetMilestone(ctx context.Context, id string) (*store.Milestone, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var rows []store.Milestone
	_, err := s.client.From("milestones").
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase: get milestone: %w", err)
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return &rows[0], nil
}

// InsertMilestone implements store.EntityStore.
func (s *Store) InsertMilestone(ctx context.Context, m *store.Milestone) (*store.Milestone, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	created := *m
	created.ID = uuid.NewString()
	created.CreatedAt = now
	created.UpdatedAt = now

	var inserted []store.Milestone
	_, err := s.client.From("milestones").
		Insert(created, false, "", "representation", "").
		ExecuteTo(&inserted)
	if err != nil {
		return nil, fmt.Errorf("supabase: insert milestone: %w", err)
	}
	if len(inserted) > 0 {
		return &inserted[0], nil
	}
	return &created, nil
}

// UpdateMilestone implements store.EntityStore.
func (s *Store) UpdateMilestone(ctx context.Context, id string, fields map[string]any) (*store.Milestone, error) {
	var updated []store.Milestone
	if err := s.applyUpdate(ctx, "milestones", id, fields, &updated); err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return nil, store.ErrNotFound
	}
	return &updated[0], nil
}

// applyUpdate runs a whitelisted-field update against one row by id.
func (s *Store) applyUpdate(ctx context.Context, table, id string, fields map[string]any, dest any) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if len(fields) == 0 {
		fields = map[string]any{}
	}
	fields["updated_at"] = time.Now().UTC()
	_, err := s.client.From(table).
		Update(fields, "representation", "").
		Eq("id", id).
		ExecuteTo(dest)
	if err != nil {
		return fmt.Errorf("supabase: update %s: %w", table, err)
	}
	return nil
}

// Compile-time check that Store implements the combined contract.
var _ store.Store = (*Store)(nil)
