// Package store defines the persistence contracts for conversations and
// domain entities, with row types shared by the sqlite and supabase drivers.
//
// Drivers treat the relational store as an opaque row store: single-row
// inserts and updates keyed by id, no cross-row transactions. Each row's
// invariants are self-contained.
package store

import (
	"context"
	"errors"
)

// Common errors for store operations.
var (
	// ErrNotFound is returned for rows that do not exist. Drivers also
	// return it when an id exists but belongs to another user, so callers
	// cannot distinguish the two cases.
	ErrNotFound = errors.New("not found")
	// ErrInvalidDriver is returned by the factory for unknown driver names.
	ErrInvalidDriver = errors.New("invalid storage driver")
)

// ConversationStore persists conversations and their append-only messages.
type ConversationStore interface {
	// GetOrCreateConversation resolves an existing conversation owned by
	// userID, or creates a new one when conversationID is empty. titleIfNew
	// seeds the display title on creation and is ignored otherwise.
	// A conversationID that does not exist or is owned by another user
	// yields ErrNotFound.
	GetOrCreateConversation(ctx context.Context, userID, conversationID, titleIfNew string) (*Conversation, error)

	// AppendMessage appends one message and advances the conversation's
	// last-activity timestamp. Returns the new message id.
	AppendMessage(ctx context.Context, conversationID, role, content string, toolCalls []ToolCallRecord) (string, error)

	// RecentMessages returns up to limit most recent messages in
	// chronological (oldest-first) order.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// ListConversations returns the user's conversations, most recently
	// active first.
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
}

// EntityStore persists the user's planning entities (tasks, goals,
// milestones). Reads used for ownership verification return the full row so
// the caller can compare the owning user id.
type EntityStore interface {
	// Active listings feed context assembly. Goals and milestones order by
	// ascending target date; tasks by descending creation time.
	ListActiveGoals(ctx context.Context, userID string, limit int) ([]Goal, error)
	ListActiveMilestones(ctx context.Context, userID string, limit int) ([]Milestone, error)
	ListActiveTasks(ctx context.Context, userID string, limit int) ([]Task, error)

	GetTask(ctx context.Context, id string) (*Task, error)
	InsertTask(ctx context.Context, t *Task) (*Task, error)
	UpdateTask(ctx context.Context, id string, fields map[string]any) (*Task, error)
	DeleteTask(ctx context.Context, id string) error

	GetGoal(ctx context.Context, id string) (*Goal, error)
	InsertGoal(ctx context.Context, g *Goal) (*Goal, error)
	UpdateGoal(ctx context.Context, id string, fields map[string]any) (*Goal, error)
	ListGoals(ctx context.Context, userID, status string) ([]Goal, error)

	GetMilestone(ctx context.Context, id string) (*Milestone, error)
	InsertMilestone(ctx context.Context, m *Milestone) (*Milestone, error)
	UpdateMilestone(ctx context.Context, id string, fields map[string]any) (*Milestone, error)
	ListMilestones(ctx context.Context, userID, status string) ([]Milestone, error)
}

// Store is the combined persistence surface a driver provides.
type Store interface {
	ConversationStore
	EntityStore
	Close() error
}
