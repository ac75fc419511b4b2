package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/apollohq/apollo/internal/store"
)

// ─── create_task ─────────────────────────────────────────────────────────────

type CreateTask struct {
	store store.EntityStore
}

func NewCreateTask(s store.EntityStore) *CreateTask {
	return &CreateTask{store: s}
}

func (t *CreateTask) Definition() mcp.Tool {
	return mcp.NewTool("create_task",
		mcp.WithDescription("Create a new task for the user. Use when the user mentions something they need to do."),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Short task title, 3 to 200 characters."),
		),
		mcp.WithString("description",
			mcp.Description("Optional longer description."),
		),
		mcp.WithString("priority",
			mcp.Description("Task priority: high, medium or low. Defaults to medium."),
		),
		mcp.WithString("due_date",
			mcp.Description("Optional due date in YYYY-MM-DD format."),
		),
		mcp.WithString("project",
			mcp.Description("Optional project label to group the task under."),
		),
		mcp.WithString("milestone_id",
			mcp.Description("Optional id of a milestone this task contributes to."),
		),
	)
}

func (t *CreateTask) Handle(ctx context.Context, userID string, args map[string]any) (any, error) {
	title, err := requireString(args, "title")
	if err != nil {
		return nil, err
	}
	if err := validTitle(title); err != nil {
		return nil, err
	}

	task := store.Task{
		UserID:   userID,
		Title:    title,
		Status:   store.TaskPending,
		Priority: store.PriorityMedium,
	}
	if v, ok, err := stringArg(args, "description"); err != nil {
		return nil, err
	} else if ok {
		task.Description = v
	}
	if v, ok, err := stringArg(args, "priority"); err != nil {
		return nil, err
	} else if ok && v != "" {
		if err := validEnum("priority", v, taskPriorities...); err != nil {
			return nil, err
		}
		task.Priority = v
	}
	if v, ok, err := stringArg(args, "due_date"); err != nil {
		return nil, err
	} else if ok && v != "" {
		if err := validDate("due_date", v); err != nil {
			return nil, err
		}
		task.DueDate = v
	}
	if v, ok, err := stringArg(args, "project"); err != nil {
		return nil, err
	} else if ok {
		task.Project = v
	}
	if v, ok, err := stringArg(args, "milestone_id"); err != nil {
		return nil, err
	} else if ok && v != "" {
		if err := verifyMilestoneOwner(ctx, t.store, userID, v); err != nil {
			return nil, err
		}
		task.MilestoneID = v
	}

	created, err := t.store.InsertTask(ctx, &task)
	if err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}
	return created, nil
}

// ─── update_task ─────────────────────────────────────────────────────────────

type UpdateTask struct {
	store store.EntityStore
}

func NewUpdateTask(s store.EntityStore) *UpdateTask {
	return &UpdateTask{store: s}
}

func (t *UpdateTask) Definition() mcp.Tool {
	return mcp.NewTool("update_task",
		mcp.WithDescription("Update an existing task. Only provided fields change."),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Id of the task to update."),
		),
		mcp.WithString("title",
			mcp.Description("New title, 3 to 200 characters."),
		),
		mcp.WithString("description",
			mcp.Description("New description."),
		),
		mcp.WithString("status",
			mcp.Description("New status: pending, in_progress or completed."),
		),
		mcp.WithString("priority",
			mcp.Description("New priority: high, medium or low."),
		),
		mcp.WithString("due_date",
			mcp.Description("New due date in YYYY-MM-DD format."),
		),
		mcp.WithString("project",
			mcp.Description("New project label."),
		),
	)
}

func (t *UpdateTask) Handle(ctx context.Context, userID string, args map[string]any) (any, error) {
	id, err := requireString(args, "task_id")
	if err != nil {
		return nil, err
	}
	if err := verifyTaskOwner(ctx, t.store, userID, id); err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if v, ok, err := stringArg(args, "title"); err != nil {
		return nil, err
	} else if ok {
		if err := validTitle(v); err != nil {
			return nil, err
		}
		fields["title"] = v
	}
	if v, ok, err := stringArg(args, "description"); err != nil {
		return nil, err
	} else if ok {
		fields["description"] = v
	}
	if v, ok, err := stringArg(args, "status"); err != nil {
		return nil, err
	} else if ok {
		if err := validEnum("status", v, taskStatuses...); err != nil {
			return nil, err
		}
		fields["status"] = v
	}
	if v, ok, err := stringArg(args, "priority"); err != nil {
		return nil, err
	} else if ok {
		if err := validEnum("priority", v, taskPriorities...); err != nil {
			return nil, err
		}
		fields["priority"] = v
	}
	if v, ok, err := stringArg(args, "due_date"); err != nil {
		return nil, err
	} else if ok {
		if err := validDate("due_date", v); err != nil {
			return nil, err
		}
		fields["due_date"] = v
	}
	if v, ok, err := stringArg(args, "project"); err != nil {
		return nil, err
	} else if ok {
		fields["project"] = v
	}
	if len(fields) == 0 {
		return nil, validationf("no updatable fields provided")
	}

	updated, err := t.store.UpdateTask(ctx, id, fields)
	if err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}
	return updated, nil
}

// ─── delete_task ─────────────────────────────────────────────────────────────

type DeleteTask struct {
	store store.EntityStore
}

func NewDeleteTask(s store.EntityStore) *DeleteTask {
	return &DeleteTask{store: s}
}

func (t *DeleteTask) Definition() mcp.Tool {
	return mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task permanently. Prefer marking tasks completed unless the user explicitly wants them gone."),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Id of the task to delete."),
		),
	)
}

func (t *DeleteTask) Handle(ctx context.Context, userID string, args map[string]any) (any, error) {
	id, err := requireString(args, "task_id")
	if err != nil {
		return nil, err
	}
	if err := verifyTaskOwner(ctx, t.store, userID, id); err != nil {
		return nil, err
	}
	if err := t.store.DeleteTask(ctx, id); err != nil {
		return nil, fmt.Errorf("deleting task: %w", err)
	}
	return map[string]any{"deleted": id}, nil
}

// ─── Ownership checks ────────────────────────────────────────────────────────

// Ownership mismatches report store.ErrNotFound so other users' data is never
// confirmed to exist.

func verifyTaskOwner(ctx context.Context, s store.EntityStore, userID, id string) error {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.UserID != userID {
		return store.ErrNotFound
	}
	return nil
}

func verifyGoalOwner(ctx context.Context, s store.EntityStore, userID, id string) error {
	goal, err := s.GetGoal(ctx, id)
	if err != nil {
		return err
	}
	if goal.UserID != userID {
		return store.ErrNotFound
	}
	return nil
}

func verifyMilestoneOwner(ctx context.Context, s store.EntityStore, userID, id string) error {
	m, err := s.GetMilestone(ctx, id)
	if err != nil {
		return err
	}
	if m.UserID != userID {
		return store.ErrNotFound
	}
	return nil
}
