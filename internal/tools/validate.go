package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/apollohq/apollo/internal/store"
)

// Title length bounds, applied after trimming.
const (
	titleMinLen = 3
	titleMaxLen = 200
)

// ValidationError marks bad tool arguments. The executor classifies it as
// CodeValidation; the message is safe to show to the model.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, a ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, a...)}
}

// stringArg returns a trimmed string argument. A present non-string value is
// a validation error; an absent one returns ok=false.
func stringArg(args map[string]any, key string) (string, bool, error) {
	raw, present := args[key]
	if !present || raw == nil {
		return "", false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", false, validationf("%s must be a string", key)
	}
	return strings.TrimSpace(s), true, nil
}

// requireString returns a trimmed, non-empty required string argument.
func requireString(args map[string]any, key string) (string, error) {
	s, present, err := stringArg(args, key)
	if err != nil {
		return "", err
	}
	if !present || s == "" {
		return "", validationf("%s is required", key)
	}
	return s, nil
}

func validTitle(title string) error {
	if n := len([]rune(title)); n < titleMinLen || n > titleMaxLen {
		return validationf("title must be between %d and %d characters", titleMinLen, titleMaxLen)
	}
	return nil
}

func validDate(key, value string) error {
	if _, err := time.Parse("2006-01-02", value); err != nil {
		return validationf("%s must be an ISO date (YYYY-MM-DD)", key)
	}
	return nil
}

func validEnum(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return validationf("%s must be one of: %s", key, strings.Join(allowed, ", "))
}

// intArg reads a numeric argument. JSON numbers arrive as float64; integral
// values only.
func intArg(args map[string]any, key string) (int, bool, error) {
	raw, present := args[key]
	if !present || raw == nil {
		return 0, false, nil
	}
	f, ok := raw.(float64)
	if !ok || f != float64(int(f)) {
		return 0, false, validationf("%s must be an integer", key)
	}
	return int(f), true, nil
}

var (
	taskStatuses      = []string{store.TaskPending, store.TaskInProgress, store.TaskCompleted}
	taskPriorities    = []string{store.PriorityHigh, store.PriorityMedium, store.PriorityLow}
	goalStatuses      = []string{store.GoalActive, store.GoalCompleted, store.GoalArchived}
	milestoneStatuses = []string{store.MilestoneNotStarted, store.MilestoneInProgress, store.MilestoneCompleted}
)
