package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/apollohq/apollo/internal/store"
)

// ─── create_goal ─────────────────────────────────────────────────────────────

type CreateGoal struct {
	store store.EntityStore
}

func NewCreateGoal(s store.EntityStore) *CreateGoal {
	return &CreateGoal{store: s}
}

func (g *CreateGoal) Definition() mcp.Tool {
	return mcp.NewTool("create_goal",
		mcp.WithDescription("Create a long-term goal for the user."),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Goal title, 3 to 200 characters."),
		),
		mcp.WithString("description",
			mcp.Description("Optional description of what achieving the goal looks like."),
		),
		mcp.WithString("target_date",
			mcp.Description("Optional target date in YYYY-MM-DD format."),
		),
	)
}

func (g *CreateGoal) Handle(ctx context.Context, userID string, args map[string]any) (any, error) {
	title, err := requireString(args, "title")
	if err != nil {
		return nil, err
	}
	if err := validTitle(title); err != nil {
		return nil, err
	}

	goal := store.Goal{
		UserID: userID,
		Title:  title,
		Status: store.GoalActive,
	}
	if v, ok, err := stringArg(args, "description"); err != nil {
		return nil, err
	} else if ok {
		goal.Description = v
	}
	if v, ok, err := stringArg(args, "target_date"); err != nil {
		return nil, err
	} else if ok && v != "" {
		if err := validDate("target_date", v); err != nil {
			return nil, err
		}
		goal.TargetDate = v
	}

	created, err := g.store.InsertGoal(ctx, &goal)
	if err != nil {
		return nil, fmt.Errorf("inserting goal: %w", err)
	}
	return created, nil
}

// ─── update_goal ─────────────────────────────────────────────────────────────

type UpdateGoal struct {
	store store.EntityStore
}

func NewUpdateGoal(s store.EntityStore) *UpdateGoal {
	return &UpdateGoal{store: s}
}

func (g *UpdateGoal) Definition() mcp.Tool {
	return mcp.NewTool("update_goal",
		mcp.WithDescription("Update an existing goal. Only provided fields change."),
		mcp.WithString("goal_id",
			mcp.Required(),
			mcp.Description("Id of the goal to update."),
		),
		mcp.WithString("title",
			mcp.Description("New title, 3 to 200 characters."),
		),
		mcp.WithString("description",
			mcp.Description("New description."),
		),
		mcp.WithString("target_date",
			mcp.Description("New target date in YYYY-MM-DD format."),
		),
		mcp.WithString("status",
			mcp.Description("New status: active, completed or archived."),
		),
	)
}

func (g *UpdateGoal) Handle(ctx context.Context, userID string, args map[string]any) (any, error) {
	id, err := requireString(args, "goal_id")
	if err != nil {
		return nil, err
	}
	if err := verifyGoalOwner(ctx, g.store, userID, id); err != nil {
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
	if v, ok, err := stringArg(args, "target_date"); err != nil {
		return nil, err
	} else if ok {
		if err := validDate("target_date", v); err != nil {
			return nil, err
		}
		fields["target_date"] = v
	}
	if v, ok, err := stringArg(args, "status"); err != nil {
		return nil, err
	} else if ok {
		if err := validEnum("status", v, goalStatuses...); err != nil {
			return nil, err
		}
		fields["status"] = v
	}
	if len(fields) == 0 {
		return nil, validationf("no updatable fields provided")
	}

	updated, err := g.store.UpdateGoal(ctx, id, fields)
	if err != nil {
		return nil, fmt.Errorf("updating goal: %w", err)
	}
	return updated, nil
}

// ─── list_goals ──────────────────────────────────────────────────────────────

type ListGoals struct {
	store store.EntityStore
}

func NewListGoals(s store.EntityStore) *ListGoals {
	return &ListGoals{store: s}
}

func (g *ListGoals) Definition() mcp.Tool {
	return mcp.NewTool("list_goals",
		mcp.WithDescription("List the user's goals, optionally filtered by status."),
		mcp.WithString("status",
			mcp.Description("Filter: active, completed or archived. Omit for all goals."),
		),
	)
}

func (g *ListGoals) Handle(ctx context.Context, userID string, args map[string]any) (any, error) {
	status, ok, err := stringArg(args, "status")
	if err != nil {
		return nil, err
	}
	if ok && status != "" {
		if err := validEnum("status", status, goalStatuses...); err != nil {
			return nil, err
		}
	} else {
		status = ""
	}

	goals, err := g.store.ListGoals(ctx, userID, status)
	if err != nil {
		return nil, fmt.Errorf("listing goals: %w", err)
	}
	return map[string]any{"goals": goals, "count": len(goals)}, nil
}
