package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/apollohq/apollo/internal/agent"
	"github.com/apollohq/apollo/internal/llm"
	"github.com/apollohq/apollo/internal/store"
	"github.com/apollohq/apollo/internal/tools"
	"github.com/apollohq/apollo/internal/turnlock"
)

// Defaults for turn handling.
const (
	DefaultTurnTimeout = 2 * time.Minute
	titleMaxRunes      = 100
)

// ErrEmptyMessage rejects a turn whose message is empty after trimming.
var ErrEmptyMessage = errors.New("message must not be empty")

// User-safe terminal error messages. Detail stays in the server log.
const (
	msgTurnInFlight  = "another reply is still being generated for this conversation"
	msgConvNotFound  = "conversation not found"
	msgModelFailure  = "the assistant is unavailable right now, please try again"
	msgTurnTimeout   = "the request took too long and was aborted"
	msgInternalError = "something went wrong handling your message"
)

// Config tunes the orchestrator.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	TurnTimeout time.Duration
}

// TurnRequest is one inbound user turn. ConversationID may be empty to start
// a new conversation. History is a client-supplied fallback, used only when
// the store cannot serve the authoritative history.
type TurnRequest struct {
	UserID         string
	ConversationID string
	Message        string
	History        []store.Message
}

// Orchestrator runs turns. One turn per conversation at a time; the locker
// rejects concurrent submissions.
type Orchestrator struct {
	store     store.Store
	assembler *agent.Assembler
	provider  llm.Provider
	executor  *tools.Executor
	registry  *tools.Registry
	locker    turnlock.Locker
	cfg       Config
	log       *slog.Logger
}

// New creates an orchestrator.
func New(s store.Store, assembler *agent.Assembler, provider llm.Provider, registry *tools.Registry, executor *tools.Executor, locker turnlock.Locker, cfg Config, log *slog.Logger) *Orchestrator {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:     s,
		assembler: assembler,
		provider:  provider,
		executor:  executor,
		registry:  registry,
		locker:    locker,
		cfg:       cfg,
		log:       log,
	}
}

// Run starts one turn and returns its event stream. Request validation
// failures are returned synchronously; everything after that is reported on
// the stream, which always ends with exactly one done or error event.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest) (<-chan Event, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, ErrEmptyMessage
	}
	if req.UserID == "" {
		return nil, errors.New("user id is required")
	}

	emitter := NewEmitter(0)
	go o.runTurn(ctx, req, emitter)
	return emitter.Events(), nil
}

func (o *Orchestrator) runTurn(ctx context.Context, req TurnRequest, emitter *Emitter) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	defer cancel()

	log := o.log.With("user_id", req.UserID)

	conv, err := o.store.GetOrCreateConversation(ctx, req.UserID, req.ConversationID, deriveTitle(req.Message))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			emitter.Error(msgConvNotFound)
			return
		}
		log.Error("resolving conversation", "error", err)
		emitter.Error(msgInternalError)
		return
	}
	log = log.With("conversation_id", conv.ID)

	release, err := o.locker.Acquire(ctx, conv.ID)
	if err != nil {
		if errors.Is(err, turnlock.ErrTurnInFlight) {
			emitter.Error(msgTurnInFlight)
			return
		}
		log.Error("acquiring turn lock", "error", err)
		emitter.Error(msgInternalError)
		return
	}
	defer release()

	// The user message is durable before anything can fail downstream.
	if _, err := o.store.AppendMessage(ctx, conv.ID, store.RoleUser, req.Message, nil); err != nil {
		log.Error("persisting user message", "error", err)
		emitter.Error(msgInternalError)
		return
	}

	history, err := o.store.RecentMessages(ctx, conv.ID, agent.DefaultHistoryWindow)
	if err != nil {
		// The store is authoritative; the client copy is the degraded path.
		log.Warn("history unavailable, using client-supplied fallback", "error", err)
		history = append(append([]store.Message{}, req.History...), store.Message{
			Role:    store.RoleUser,
			Content: req.Message,
		})
	}

	snap, err := o.assembler.Build(ctx, req.UserID, history)
	if err != nil {
		log.Error("assembling context", "error", err)
		emitter.Error(o.terminalMessage(ctx, msgInternalError))
		return
	}

	messages := make([]llm.Message, 0, len(snap.History)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: snap.System})
	for _, m := range snap.History {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	first, err := o.streamModel(ctx, emitter, llm.Request{
		Model:       o.cfg.Model,
		Messages:    messages,
		Tools:       o.registry.Schemas(),
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	})
	if err != nil {
		log.Error("model call failed", "error", err)
		emitter.Error(o.terminalMessage(ctx, msgModelFailure))
		return
	}

	finalText := first.Content
	var records []store.ToolCallRecord

	if len(first.ToolCalls) > 0 {
		emitter.Progress(fmt.Sprintf("running %d tool(s)", len(first.ToolCalls)))

		results := o.executor.ExecuteAll(ctx, req.UserID, first.ToolCalls)
		records = toRecords(first.ToolCalls, results)

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			ToolCalls: first.ToolCalls,
		})
		for i, call := range first.ToolCalls {
			payload, err := json.Marshal(results[i])
			if err != nil {
				payload = []byte(`{"status":"error","code":"execution-error"}`)
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    string(payload),
			})
		}

		second, err := o.streamModel(ctx, emitter, llm.Request{
			Model:       o.cfg.Model,
			Messages:    messages,
			Temperature: o.cfg.Temperature,
			MaxTokens:   o.cfg.MaxTokens,
		})
		if err != nil {
			log.Error("model resume failed", "error", err)
			emitter.Error(o.terminalMessage(ctx, msgModelFailure))
			return
		}
		finalText = second.Content
	}

	// Persistence must survive a disconnected subscriber, so it uses a fresh
	// context rather than the turn deadline.
	persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer persistCancel()
	if _, err := o.store.AppendMessage(persistCtx, conv.ID, store.RoleAssistant, finalText, records); err != nil {
		log.Error("persisting assistant message", "error", err)
		emitter.Error(msgInternalError)
		return
	}

	log.Info("turn completed", "tool_calls", len(records), "prompt_tokens", snap.PromptTokens)
	emitter.Done()
}

// streamModel runs one provider call, forwarding content chunks to the
// emitter as they arrive.
func (o *Orchestrator) streamModel(ctx context.Context, emitter *Emitter, req llm.Request) (*llm.Completion, error) {
	chunks := make(chan string)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for c := range chunks {
			emitter.Chunk(c)
		}
	}()

	completion, err := o.provider.Stream(ctx, req, chunks)
	close(chunks)
	<-forwarded
	return completion, err
}

// terminalMessage maps a deadline-driven failure to the timeout message.
func (o *Orchestrator) terminalMessage(ctx context.Context, fallback string) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return msgTurnTimeout
	}
	return fallback
}

// toRecords captures which tools ran and how they ended, for the persisted
// assistant message.
func toRecords(calls []llm.ToolCall, results []tools.Result) []store.ToolCallRecord {
	records := make([]store.ToolCallRecord, len(calls))
	for i, call := range calls {
		records[i] = store.ToolCallRecord{Tool: call.Name, Status: results[i].Status}
		if results[i].Status != tools.StatusSuccess {
			records[i].Error = results[i].Code
		}
	}
	return records
}

// deriveTitle builds a new conversation's title from its first message.
func deriveTitle(message string) string {
	runes := []rune(message)
	if len(runes) <= titleMaxRunes {
		return message
	}
	return string(runes[:titleMaxRunes])
}
