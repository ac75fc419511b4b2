package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/apollohq/apollo/internal/agent"
	"github.com/apollohq/apollo/internal/llm"
	"github.com/apollohq/apollo/internal/store"
	"github.com/apollohq/apollo/internal/store/sqlite"
	"github.com/apollohq/apollo/internal/tokens"
	"github.com/apollohq/apollo/internal/tools"
	"github.com/apollohq/apollo/internal/turnlock"
)

func newTestOrchestrator(t *testing.T, provider llm.Provider) (*Orchestrator, store.Store, *turnlock.MemoryLocker) {
	t.Helper()
	s, err := sqlite.New(sqlite.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	assembler := agent.New(s, tokens.NewEstimator(), agent.Config{Model: "no-such-model"}, nil)
	registry := tools.NewDefaultRegistry(s)
	executor := tools.NewExecutor(registry, nil)
	locker := turnlock.NewMemoryLocker(0)
	t.Cleanup(func() { locker.Close() })

	o := New(s, assembler, provider, registry, executor, locker, Config{Model: "test-model"}, nil)
	return o, s, locker
}

// collect drains the stream and fails on terminal-event violations.
func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var all []Event
	terminals := 0
	for ev := range events {
		if terminals > 0 {
			t.Fatalf("event %+v follows a terminal event", ev)
		}
		if ev.Type == EventDone || ev.Type == EventError {
			terminals++
		}
		all = append(all, ev)
	}
	if terminals != 1 {
		t.Fatalf("saw %d terminal events, want exactly 1", terminals)
	}
	return all
}

func last(events []Event) Event { return events[len(events)-1] }

func TestTurnDirectAnswer(t *testing.T) {
	mock := llm.NewMock(llm.MockStep{Content: "Hello there!"})
	o, s, _ := newTestOrchestrator(t, mock)

	events, err := o.Run(context.Background(), TurnRequest{
		UserID:  "user-1",
		Message: "hi",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := collect(t, events)

	if last(all).Type != EventDone {
		t.Fatalf("terminal = %+v, want done", last(all))
	}
	var streamed strings.Builder
	for _, ev := range all {
		if ev.Type == EventChunk {
			streamed.WriteString(ev.Content)
		}
	}
	if streamed.String() != "Hello there!" {
		t.Errorf("streamed = %q", streamed.String())
	}

	// Both sides of the exchange are durable, in order.
	conv, err := findConversation(s, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := s.RecentMessages(context.Background(), conv.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != store.RoleUser || msgs[1].Role != store.RoleAssistant {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[1].Content != "Hello there!" {
		t.Errorf("assistant content = %q", msgs[1].Content)
	}
	if conv.Title != "hi" {
		t.Errorf("title = %q", conv.Title)
	}
}

func TestTurnWithToolCall(t *testing.T) {
	mock := llm.NewMock(
		llm.MockStep{ToolCalls: []llm.ToolCall{{
			ID: "call_1", Name: "create_task", Arguments: `{"title":"Buy milk"}`,
		}}},
		llm.MockStep{Content: "Added \"Buy milk\" to your tasks."},
	)
	o, s, _ := newTestOrchestrator(t, mock)

	events, err := o.Run(context.Background(), TurnRequest{
		UserID:  "user-1",
		Message: "add a task to buy milk",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := collect(t, events)
	if last(all).Type != EventDone {
		t.Fatalf("terminal = %+v", last(all))
	}

	sawProgress := false
	for _, ev := range all {
		if ev.Type == EventProgress {
			sawProgress = true
		}
	}
	if !sawProgress {
		t.Error("no progress event during tool execution")
	}

	// The tool really ran as the authenticated user.
	tasks, err := s.ListActiveTasks(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Title != "Buy milk" {
		t.Fatalf("tasks = %+v", tasks)
	}

	// The second call carries the tool result and no tool catalog.
	if len(mock.Requests) != 2 {
		t.Fatalf("model calls = %d, want 2", len(mock.Requests))
	}
	first, second := mock.Requests[0], mock.Requests[1]
	if len(first.Tools) == 0 {
		t.Error("first call exposed no tools")
	}
	if len(second.Tools) != 0 {
		t.Error("second call should not expose tools")
	}
	var toolMsg *llm.Message
	for i := range second.Messages {
		if second.Messages[i].Role == llm.RoleTool {
			toolMsg = &second.Messages[i]
		}
	}
	if toolMsg == nil || toolMsg.ToolCallID != "call_1" {
		t.Fatalf("tool message = %+v", toolMsg)
	}
	if !strings.Contains(toolMsg.Content, `"status":"success"`) {
		t.Errorf("tool result = %q", toolMsg.Content)
	}

	// The persisted assistant message records the invocation.
	conv, _ := findConversation(s, "user-1")
	msgs, _ := s.RecentMessages(context.Background(), conv.ID, 10)
	assistant := msgs[len(msgs)-1]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Tool != "create_task" {
		t.Fatalf("tool record = %+v", assistant.ToolCalls)
	}
	if assistant.ToolCalls[0].Status != tools.StatusSuccess {
		t.Errorf("tool record status = %q", assistant.ToolCalls[0].Status)
	}
}

func TestTurnToolFailureSurfacedToModel(t *testing.T) {
	mock := llm.NewMock(
		llm.MockStep{ToolCalls: []llm.ToolCall{{
			ID: "call_1", Name: "forget_everything", Arguments: `{}`,
		}}},
		llm.MockStep{Content: "I could not do that."},
	)
	o, s, _ := newTestOrchestrator(t, mock)

	events, err := o.Run(context.Background(), TurnRequest{
		UserID:  "user-1",
		Message: "do the impossible",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := collect(t, events)
	if last(all).Type != EventDone {
		t.Fatalf("terminal = %+v", last(all))
	}

	second := mock.Requests[1]
	found := false
	for _, m := range second.Messages {
		if m.Role == llm.RoleTool && strings.Contains(m.Content, tools.CodeExecution) {
			found = true
		}
	}
	if !found {
		t.Error("unknown-tool failure was not surfaced to the model")
	}

	conv, _ := findConversation(s, "user-1")
	msgs, _ := s.RecentMessages(context.Background(), conv.ID, 10)
	record := msgs[len(msgs)-1].ToolCalls[0]
	if record.Status != tools.StatusError || record.Error != tools.CodeExecution {
		t.Errorf("record = %+v", record)
	}
}

func TestTurnModelFailurePreservesUserMessage(t *testing.T) {
	mock := llm.NewMock(llm.MockStep{Err: errors.New("provider exploded")})
	o, s, _ := newTestOrchestrator(t, mock)

	events, err := o.Run(context.Background(), TurnRequest{
		UserID:  "user-1",
		Message: "hello?",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := collect(t, events)
	if last(all).Type != EventError {
		t.Fatalf("terminal = %+v, want error", last(all))
	}
	if strings.Contains(last(all).Content, "exploded") {
		t.Errorf("raw provider error leaked: %q", last(all).Content)
	}

	conv, err := findConversation(s, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := s.RecentMessages(context.Background(), conv.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello?" {
		t.Fatalf("messages = %+v, want the user message alone", msgs)
	}
}

func TestTurnEmptyMessageRejected(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, llm.NewMock())

	if _, err := o.Run(context.Background(), TurnRequest{UserID: "user-1", Message: "   "}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestTurnForeignConversationNotFound(t *testing.T) {
	mock := llm.NewMock(llm.MockStep{Content: "hi"})
	o, s, _ := newTestOrchestrator(t, mock)

	conv, err := s.GetOrCreateConversation(context.Background(), "alice", "", "private chat")
	if err != nil {
		t.Fatal(err)
	}

	events, err := o.Run(context.Background(), TurnRequest{
		UserID:         "mallory",
		ConversationID: conv.ID,
		Message:        "let me in",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := collect(t, events)
	if last(all).Type != EventError || last(all).Content != msgConvNotFound {
		t.Fatalf("terminal = %+v", last(all))
	}
}

func TestTurnRejectedWhileInFlight(t *testing.T) {
	mock := llm.NewMock(llm.MockStep{Content: "hi"})
	o, s, locker := newTestOrchestrator(t, mock)

	conv, err := s.GetOrCreateConversation(context.Background(), "user-1", "", "busy chat")
	if err != nil {
		t.Fatal(err)
	}
	release, err := locker.Acquire(context.Background(), conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	events, err := o.Run(context.Background(), TurnRequest{
		UserID:         "user-1",
		ConversationID: conv.ID,
		Message:        "second turn",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := collect(t, events)
	if last(all).Type != EventError || last(all).Content != msgTurnInFlight {
		t.Fatalf("terminal = %+v", last(all))
	}
}

// stalledProvider blocks until the turn deadline fires.
type stalledProvider struct{}

func (stalledProvider) Stream(ctx context.Context, req llm.Request, chunks chan<- string) (*llm.Completion, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTurnTimeout(t *testing.T) {
	o, s, _ := newTestOrchestrator(t, stalledProvider{})
	o.cfg.TurnTimeout = 50 * time.Millisecond

	events, err := o.Run(context.Background(), TurnRequest{
		UserID:  "user-1",
		Message: "are you there?",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := collect(t, events)
	if last(all).Type != EventError || last(all).Content != msgTurnTimeout {
		t.Fatalf("terminal = %+v", last(all))
	}

	conv, err := findConversation(s, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := s.RecentMessages(context.Background(), conv.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "are you there?" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestEmitterTerminalExclusivity(t *testing.T) {
	e := NewEmitter(8)
	e.Chunk("a")
	e.Done()
	e.Chunk("b")
	e.Error("late")
	e.Done()

	var all []Event
	for ev := range e.Events() {
		all = append(all, ev)
	}
	if len(all) != 2 {
		t.Fatalf("events = %+v", all)
	}
	if all[0].Type != EventChunk || all[1].Type != EventDone {
		t.Fatalf("events = %+v", all)
	}
}

func TestEmitterTerminalSurvivesFullBuffer(t *testing.T) {
	e := NewEmitter(1)
	e.Chunk("kept")
	e.Chunk("dropped")
	e.Done()

	var all []Event
	for ev := range e.Events() {
		all = append(all, ev)
	}
	if len(all) != 2 {
		t.Fatalf("events = %+v", all)
	}
	if all[0].Type != EventChunk || all[0].Content != "kept" {
		t.Fatalf("events = %+v", all)
	}
	if all[1].Type != EventDone {
		t.Fatalf("terminal event missing after full buffer: %+v", all)
	}
}

// findConversation resolves the single conversation a test created.
func findConversation(s store.Store, userID string) (*store.Conversation, error) {
	convs, err := s.ListConversations(context.Background(), userID)
	if err != nil {
		return nil, err
	}
	if len(convs) != 1 {
		return nil, errors.New("expected exactly one conversation")
	}
	return &convs[0], nil
}
