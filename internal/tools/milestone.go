package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/apollohq/apollo/internal/store"
)

// ─── create_milestone ────────────────────────────────────────────────────────

type CreateMilestone struct {
	store store.EntityStore
}

func NewCreateMilestone(s store.EntityStore) *CreateMilestone {
	return &CreateMilestone{store: s}
}

func (m *CreateMilestone) Definition() mcp.Tool {
	return mcp.NewTool("create_milestone",
		mcp.WithDescription("Create a milestone that breaks a goal into a measurable step."),
		mcp.WithString("goal_id",
			mcp.Required(),
			mcp.Description("Id of the goal this milestone belongs to."),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Milestone title, 3 to 200 characters."),
		),
		mcp.WithString("description",
			mcp.Description("Optional description."),
		),
		mcp.WithString("target_date",
			mcp.Description("Optional target date in YYYY-MM-DD format."),
		),
	)
}

func (m *CreateMilestone) Handle(ctx context.Context, userID string, args map[string]any) (any, error) {
	goalID, err := requireString(args, "goal_id")
	if err != nil {
		return nil, err
	}
	if err := verifyGoalOwner(ctx, m.store, userID, goalID); err != nil {
		return nil, err
	}
	title, err := requireString(args, "title")
	if err != nil {
		return nil, err
	}
	if err := validTitle(title); err != nil {
		return nil, err
	}

	milestone := store.Milestone{
		UserID: userID,
		GoalID: goalID,
		Title:  title,
		Status: store.MilestoneNotStarted,
	}
	if v, ok, err := stringArg(args, "description"); err != nil {
		return nil, err
	} else if ok {
		milestone.Description = v
	}
	if v, ok, err := stringArg(args, "target_date"); err != nil {
		return nil, err
	} else if ok && v != "" {
		if err := validDate("target_date", v); err != nil {
			return nil, err
		}
		milestone.TargetDate = v
	}

	created, err := m.store.InsertMilestone(ctx, &milestone)
	if err != nil {
		return nil, fmt.Errorf("inserting milestone: %w", err)
	}
	return created, nil
}

// ─── update_milestone ────────────────────────────────────────────────────────

type UpdateMilestone struct {
	store store.EntityStore
}

func NewUpdateMilestone(s store.EntityStore) *UpdateMilestone {
	return &UpdateMilestone{store: s}
}

func (m *UpdateMilestone) Definition() mcp.Tool {
	return mcp.NewTool("update_milestone",
		mcp.WithDescription("Update an existing milestone. Only provided fields change."),
		mcp.WithString("milestone_id",
			mcp.Required(),
			mcp.Description("Id of the milestone to update."),
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
			mcp.Description("New status: not_started, in_progress or completed."),
		),
		mcp.WithNumber("progress",
			mcp.Description("Completion percentage, 0 to 100."),
		),
	)
}

func (m *UpdateMilestone) Handle(ctx context.Context, userID string, args map[string]any) (any, error) {
	id, err := requireString(args, "milestone_id")
	if err != nil {
		return nil, err
	}
	if err := verifyMilestoneOwner(ctx, m.store, userID, id); err != nil {
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
		if err := validEnum("status", v, milestoneStatuses...); err != nil {
			return nil, err
		}
		fields["status"] = v
	}
	if v, ok, err := intArg(args, "progress"); err != nil {
		return nil, err
	} else if ok {
		if v < 0 || v > 100 {
			return nil, validationf("progress must be between 0 and 100")
		}
		fields["progress"] = v
	}
	if len(fields) == 0 {
		return nil, validationf("no updatable fields provided")
	}

	updated, err := m.store.UpdateMilestone(ctx, id, fields)
	if err != nil {
		return nil, fmt.Errorf("updating milestone: %w", err)
	}
	return updated, nil
}

// ─── list_milestones ─────────────────────────────────────────────────────────

type ListMilestones struct {
	store store.EntityStore
}

func NewListMilestones(s store.EntityStore) *ListMilestones {
	return &ListMilestones{store: s}
}

func (m *ListMilestones) Definition() mcp.Tool {
	return mcp.NewTool("list_milestones",
		mcp.WithDescription("List the user's milestones, optionally filtered by status."),
		mcp.WithString("status",
			mcp.Description("Filter: not_started, in_progress or completed. Omit for all milestones."),
		),
	)
}

func (m *ListMilestones) Handle(ctx context.Context, userID string, args map[string]any) (any, error) {
	status, ok, err := stringArg(args, "status")
	if err != nil {
		return nil, err
	}
	if ok && status != "" {
		if err := validEnum("status", status, milestoneStatuses...); err != nil {
			return nil, err
		}
	} else {
		status = ""
	}

	milestones, err := m.store.ListMilestones(ctx, userID, status)
	if err != nil {
		return nil, fmt.Errorf("listing milestones: %w", err)
	}
	return map[string]any{"milestones": milestones, "count": len(milestones)}, nil
}
