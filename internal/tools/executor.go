package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/apollohq/apollo/internal/llm"
	"github.com/apollohq/apollo/internal/store"
)

// Executor dispatches model-proposed tool calls through the registry. It is
// the only component that decides which user identity a tool runs as.
type Executor struct {
	registry *Registry
	log      *slog.Logger
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{registry: registry, log: log}
}

// Execute runs one call as the authenticated user and always returns a
// result, failure or not. Identity-aliasing argument fields are stripped
// before dispatch; the model never chooses who it acts as.
func (e *Executor) Execute(ctx context.Context, userID string, call llm.ToolCall) Result {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return Result{
			Status:  StatusError,
			Code:    CodeExecution,
			Message: "unknown tool: " + call.Name,
		}
	}

	args := map[string]any{}
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return Result{
				Status:  StatusError,
				Code:    CodeValidation,
				Message: "arguments are not a valid JSON object",
			}
		}
	}
	stripIdentityArgs(args)

	data, err := tool.Handle(ctx, userID, args)
	if err != nil {
		return e.classify(call.Name, err)
	}
	return Result{Status: StatusSuccess, Data: data}
}

// ExecuteAll runs the calls concurrently and returns one result per call, in
// the order the calls were requested.
func (e *Executor) ExecuteAll(ctx context.Context, userID string, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			results[i] = e.Execute(ctx, userID, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// classify maps handler errors to the outward taxonomy. Infrastructure
// detail stays in the server log; the model sees a generic message.
func (e *Executor) classify(tool string, err error) Result {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return Result{Status: StatusError, Code: CodeValidation, Message: verr.Msg}
	case errors.Is(err, store.ErrNotFound):
		return Result{Status: StatusError, Code: CodeNotFound, Message: "not found or access denied"}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		e.log.Warn("tool call canceled", "tool", tool, "error", err)
		return Result{Status: StatusError, Code: CodeExecution, Message: "operation was canceled"}
	default:
		e.log.Error("tool call failed", "tool", tool, "error", err)
		return Result{Status: StatusError, Code: CodeExecution, Message: "the operation could not be completed"}
	}
}

// stripIdentityArgs removes any argument that aliases the user identity.
func stripIdentityArgs(args map[string]any) {
	for k := range args {
		normalized := strings.ReplaceAll(strings.ToLower(k), "_", "")
		switch normalized {
		case "userid", "ownerid", "owneruserid", "user":
			delete(args, k)
		}
	}
}

// NewDefaultRegistry builds the full tool catalog over the entity store.
func NewDefaultRegistry(s store.EntityStore) *Registry {
	r := NewRegistry()
	r.MustRegister(NewCreateTask(s))
	r.MustRegister(NewUpdateTask(s))
	r.MustRegister(NewDeleteTask(s))
	r.MustRegister(NewCreateGoal(s))
	r.MustRegister(NewUpdateGoal(s))
	r.MustRegister(NewListGoals(s))
	r.MustRegister(NewCreateMilestone(s))
	r.MustRegister(NewUpdateMilestone(s))
	r.MustRegister(NewListMilestones(s))
	return r
}
