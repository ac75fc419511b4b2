// Package agent assembles the model-facing view of a user: the system
// prompt, a formatted context block built from the user's goals, milestones
// and tasks, and the slice of conversation history that fits the token
// budget.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/apollohq/apollo/internal/store"
	"github.com/apollohq/apollo/internal/tokens"
)

// Default fetch and budget limits.
const (
	DefaultGoalLimit      = 10
	DefaultMilestoneLimit = 20
	DefaultTaskLimit      = 20
	taskRenderCap         = 10

	DefaultContextBudget = 1500
	DefaultHistoryBudget = 2500
	DefaultHistoryWindow = 10

	urgentHorizonDays   = 3
	upcomingHorizonDays = 10
)

// emptyContextMarker is rendered when the user has no active entities, so the
// model can tell "no data" apart from "context omitted".
const emptyContextMarker = "No user context available yet."

// truncationMarker flags an entity whose rendering had to be cut to fit.
const truncationMarker = " [truncated]"

// Config tunes the assembler. Zero values fall back to the defaults above.
type Config struct {
	Model         string
	ContextBudget int
	HistoryBudget int
	HistoryWindow int
}

// Snapshot is the assembled input for one model call.
type Snapshot struct {
	// System is the full system message: base prompt plus context block.
	System string
	// ContextBlock is the formatted user context alone.
	ContextBlock string
	// History is the selected slice of prior messages, oldest first.
	History []store.Message
	// PromptTokens estimates the total size of System plus History.
	PromptTokens int
	// Approximate reports whether any estimate used the heuristic fallback.
	Approximate bool
}

// Assembler builds snapshots from the entity store.
type Assembler struct {
	entities store.EntityStore
	est      *tokens.Estimator
	cfg      Config
	log      *slog.Logger
	nowFn    func() time.Time
}

// New creates an Assembler.
func New(entities store.EntityStore, est *tokens.Estimator, cfg Config, log *slog.Logger) *Assembler {
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = DefaultContextBudget
	}
	if cfg.HistoryBudget <= 0 {
		cfg.HistoryBudget = DefaultHistoryBudget
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{
		entities: entities,
		est:      est,
		cfg:      cfg,
		log:      log,
		nowFn:    time.Now,
	}
}

// Build fetches the user's entities and assembles a snapshot around the given
// history. History is selected newest-first within the budget but returned in
// chronological order; the newest message is always kept.
func (a *Assembler) Build(ctx context.Context, userID string, history []store.Message) (*Snapshot, error) {
	goals, err := a.entities.ListActiveGoals(ctx, userID, DefaultGoalLimit)
	if err != nil {
		return nil, fmt.Errorf("assembling context: %w", err)
	}
	milestones, err := a.entities.ListActiveMilestones(ctx, userID, DefaultMilestoneLimit)
	if err != nil {
		return nil, fmt.Errorf("assembling context: %w", err)
	}
	tasks, err := a.entities.ListActiveTasks(ctx, userID, DefaultTaskLimit)
	if err != nil {
		return nil, fmt.Errorf("assembling context: %w", err)
	}

	snap := &Snapshot{}
	block := a.renderContext(goals, milestones, tasks, snap)
	snap.ContextBlock = block
	snap.System = systemPrompt + "\n\n=== USER CONTEXT ===\n" + block

	snap.History = a.selectHistory(history, snap)

	sys := a.estimate(snap, store.RoleSystem, snap.System)
	total := sys + tokens.ReplyPrimingOverhead
	for _, m := range snap.History {
		total += a.estimate(snap, m.Role, m.Content)
	}
	snap.PromptTokens = total

	a.log.Debug("context assembled",
		"user_id", userID,
		"goals", len(goals),
		"milestones", len(milestones),
		"tasks", len(tasks),
		"history", len(snap.History),
		"prompt_tokens", total,
	)
	return snap, nil
}

// estimate counts one message and records heuristic fallback on the snapshot.
func (a *Assembler) estimate(snap *Snapshot, role, content string) int {
	est := a.est.EstimateMessage(a.cfg.Model, role, content)
	if est.Approximate {
		snap.Approximate = true
	}
	return est.Tokens
}

// ─── Context block ───────────────────────────────────────────────────────────

type section struct {
	header string
	lines  []string
}

// renderContext formats the entity sections in priority order, dropping whole
// entities once the token budget is exhausted. Only the very first entity may
// be truncated instead of dropped, so an oversized single entity still leaves
// a trace in the context.
func (a *Assembler) renderContext(goals []store.Goal, milestones []store.Milestone, tasks []store.Task, snap *Snapshot) string {
	sections := []section{
		{header: "=== ACTIVE GOALS ===", lines: renderGoals(goals)},
		{header: "=== ACTIVE MILESTONES ===", lines: renderMilestones(milestones)},
		{header: "=== CURRENT TASKS ===", lines: renderTasks(tasks)},
		{header: "=== DEADLINES ===", lines: a.renderDeadlines(tasks, milestones)},
	}

	empty := true
	for _, s := range sections {
		if len(s.lines) > 0 {
			empty = false
		}
	}
	if empty {
		return emptyContextMarker
	}

	remaining := a.cfg.ContextBudget
	var b strings.Builder
	wroteAny := false
	for _, s := range sections {
		if len(s.lines) == 0 {
			continue
		}
		headerCost := a.count(snap, s.header)
		if headerCost > remaining {
			break
		}
		wroteSection := false
		for _, line := range s.lines {
			available := remaining
			if !wroteSection {
				available -= headerCost
			}
			cost := a.count(snap, line)
			if cost > available {
				if wroteAny || wroteSection {
					continue
				}
				line = truncateLine(line, available-a.count(snap, truncationMarker)) + truncationMarker
				cost = a.count(snap, line)
			}
			if !wroteSection {
				if wroteAny {
					b.WriteString("\n")
				}
				b.WriteString(s.header)
				b.WriteString("\n")
				remaining -= headerCost
				wroteSection = true
				wroteAny = true
			}
			b.WriteString(line)
			b.WriteString("\n")
			remaining -= cost
		}
	}

	out := strings.TrimRight(b.String(), "\n")
	if out == "" {
		return emptyContextMarker
	}
	return out
}

func (a *Assembler) count(snap *Snapshot, text string) int {
	est := a.est.Estimate(a.cfg.Model, text)
	if est.Approximate {
		snap.Approximate = true
	}
	return est.Tokens
}

// truncateLine cuts a line to roughly budget tokens, walking runes with the
// same per-rune weights the heuristic charges (ASCII 1, non-ASCII 4) and
// preferring a word boundary. The list prefix and at least one rune of entity
// text always survive, and multi-byte runes are never split.
func truncateLine(line string, budget int) string {
	if budget < 1 {
		budget = 1
	}
	maxWeight := budget * 4

	const prefix = "- "
	minKeep := 1
	if strings.HasPrefix(line, prefix) {
		_, size := utf8.DecodeRuneInString(line[len(prefix):])
		minKeep = len(prefix) + size
	}

	weight, end := 0, 0
	for i, r := range line {
		w := 1
		if r > 127 {
			w = 4
		}
		next := i + utf8.RuneLen(r)
		if weight+w > maxWeight && next > minKeep {
			break
		}
		weight += w
		end = next
	}
	if end >= len(line) {
		return line
	}

	cut := line[:end]
	if i := strings.LastIndexByte(cut, ' '); i >= minKeep {
		cut = cut[:i]
	}
	return cut
}

func renderGoals(goals []store.Goal) []string {
	lines := make([]string, 0, len(goals))
	for _, g := range goals {
		line := fmt.Sprintf("- %s", g.Title)
		if g.TargetDate != "" {
			line += fmt.Sprintf(" (target: %s)", g.TargetDate)
		}
		if g.Description != "" {
			line += ": " + g.Description
		}
		lines = append(lines, line)
	}
	return lines
}

func renderMilestones(milestones []store.Milestone) []string {
	lines := make([]string, 0, len(milestones))
	for _, m := range milestones {
		line := fmt.Sprintf("- %s [%s, %d%%]", m.Title, m.Status, m.Progress)
		if m.TargetDate != "" {
			line += fmt.Sprintf(" (target: %s)", m.TargetDate)
		}
		lines = append(lines, line)
	}
	return lines
}

// renderTasks caps the listing at taskRenderCap entries and summarizes the
// remainder with a count.
func renderTasks(tasks []store.Task) []string {
	n := len(tasks)
	if n == 0 {
		return nil
	}
	shown := n
	if shown > taskRenderCap {
		shown = taskRenderCap
	}
	lines := make([]string, 0, shown+1)
	for _, t := range tasks[:shown] {
		line := fmt.Sprintf("- %s [%s", t.Title, t.Status)
		if t.Priority != "" {
			line += ", " + t.Priority
		}
		line += "]"
		if t.DueDate != "" {
			line += fmt.Sprintf(" (due: %s)", t.DueDate)
		}
		lines = append(lines, line)
	}
	if n > shown {
		lines = append(lines, fmt.Sprintf("... and %d more tasks", n-shown))
	}
	return lines
}

// renderDeadlines buckets dated items into urgent (within 3 days, overdue
// included) and upcoming (4 to 10 days out).
func (a *Assembler) renderDeadlines(tasks []store.Task, milestones []store.Milestone) []string {
	today := a.nowFn().UTC().Truncate(24 * time.Hour)

	var urgent, upcoming []string
	add := func(kind, title, date string) {
		due, err := time.Parse("2006-01-02", date)
		if err != nil {
			return
		}
		days := int(due.Sub(today).Hours() / 24)
		entry := fmt.Sprintf("- %s: %s (%s)", kind, title, date)
		switch {
		case days <= urgentHorizonDays:
			urgent = append(urgent, entry)
		case days <= upcomingHorizonDays:
			upcoming = append(upcoming, entry)
		}
	}
	for _, t := range tasks {
		if t.DueDate != "" {
			add("task", t.Title, t.DueDate)
		}
	}
	for _, m := range milestones {
		if m.TargetDate != "" {
			add("milestone", m.Title, m.TargetDate)
		}
	}

	var lines []string
	if len(urgent) > 0 {
		lines = append(lines, "URGENT (next 3 days):")
		lines = append(lines, urgent...)
	}
	if len(upcoming) > 0 {
		lines = append(lines, "UPCOMING (4-10 days):")
		lines = append(lines, upcoming...)
	}
	return lines
}

// ─── History selection ───────────────────────────────────────────────────────

// selectHistory keeps the newest messages that fit the window and token
// budget. The newest message survives even when it alone exceeds the budget,
// so a turn always carries what the user just said.
func (a *Assembler) selectHistory(history []store.Message, snap *Snapshot) []store.Message {
	if len(history) > a.cfg.HistoryWindow {
		history = history[len(history)-a.cfg.HistoryWindow:]
	}
	if len(history) == 0 {
		return nil
	}

	remaining := a.cfg.HistoryBudget
	kept := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := a.estimate(snap, history[i].Role, history[i].Content)
		if cost > remaining && kept > 0 {
			break
		}
		remaining -= cost
		kept++
	}
	return history[len(history)-kept:]
}
