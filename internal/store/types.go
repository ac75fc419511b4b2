package store

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Task statuses.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
)

// Task priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Goal statuses.
const (
	GoalActive    = "active"
	GoalCompleted = "completed"
	GoalArchived  = "archived"
)

// Milestone statuses.
const (
	MilestoneNotStarted = "not_started"
	MilestoneInProgress = "in_progress"
	MilestoneCompleted  = "completed"
)

// Conversation groups the messages of one ongoing chat. Title is derived
// from the first user message when the conversation is created lazily.
// UpdatedAt advances on every appended message.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToolCallRecord is the persisted trace of one tool invocation made while
// producing an assistant message.
type ToolCallRecord struct {
	Tool   string `json:"tool"`
	Status string `json:"status"` // "success" or "error"
	Error  string `json:"error,omitempty"`
}

// Message is one turn entry in a conversation. Content may be empty only for
// an assistant message that exclusively carries tool call records.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           string           `json:"role"`
	Content        string           `json:"content"`
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Task is a daily/weekly action item, optionally linked to a milestone.
type Task struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	MilestoneID string    `json:"milestone_id,omitempty"`
	Project     string    `json:"project,omitempty"`
	Priority    string    `json:"priority"`
	DueDate     string    `json:"due_date,omitempty"` // ISO date (YYYY-MM-DD)
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Goal is a yearly vision-level objective with a target date.
type Goal struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	TargetDate  string    `json:"target_date"` // ISO date
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Milestone is a quarterly checkpoint that advances toward a goal.
type Milestone struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	GoalID      string    `json:"goal_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	TargetDate  string    `json:"target_date"` // ISO date
	Status      string    `json:"status"`
	Progress    int       `json:"progress"` // 0-100
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
