package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/apollohq/apollo/internal/agent"
	"github.com/apollohq/apollo/internal/chat"
	"github.com/apollohq/apollo/internal/llm"
	"github.com/apollohq/apollo/internal/store"
	"github.com/apollohq/apollo/internal/store/sqlite"
	"github.com/apollohq/apollo/internal/tokens"
	"github.com/apollohq/apollo/internal/tools"
	"github.com/apollohq/apollo/internal/turnlock"
)

func newTestHandler(t *testing.T, provider llm.Provider) (http.Handler, store.Store) {
	t.Helper()
	st, err := sqlite.New(sqlite.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	assembler := agent.New(st, tokens.NewEstimator(), agent.Config{Model: "no-such-model"}, nil)
	registry := tools.NewDefaultRegistry(st)
	executor := tools.NewExecutor(registry, nil)
	locker := turnlock.NewMemoryLocker(0)
	t.Cleanup(func() { locker.Close() })
	orchestrator := chat.New(st, assembler, provider, registry, executor, locker, chat.Config{Model: "test-model"}, nil)

	a := &api{orchestrator: orchestrator, store: st, log: newLogger("error")}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", a.handleChat)
	mux.HandleFunc("GET /api/conversations", a.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}/messages", a.handleMessages)
	mux.HandleFunc("GET /healthz", a.handleHealth)
	return mux, st
}

// readEvents parses the SSE frames from a chat response body.
func readEvents(t *testing.T, body string) []chat.Event {
	t.Helper()
	var events []chat.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev chat.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("unparseable frame %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestChatEndpointStreamsSSE(t *testing.T) {
	handler, _ := newTestHandler(t, llm.NewMock(llm.MockStep{Content: "Hi there!"}))
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/chat",
		strings.NewReader(`{"message":"hello"}`))
	req.Header.Set(userHeader, "user-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	var buf strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		buf.WriteString(scanner.Text())
		buf.WriteString("\n")
	}
	events := readEvents(t, buf.String())

	if len(events) == 0 {
		t.Fatal("no events received")
	}
	if events[len(events)-1].Type != chat.EventDone {
		t.Fatalf("last event = %+v, want done", events[len(events)-1])
	}
	var text strings.Builder
	for _, ev := range events {
		if ev.Type == chat.EventChunk {
			text.WriteString(ev.Content)
		}
	}
	if text.String() != "Hi there!" {
		t.Errorf("streamed text = %q", text.String())
	}
}

func TestChatEndpointRequiresIdentity(t *testing.T) {
	handler, _ := newTestHandler(t, llm.NewMock())
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	resp, err := http.Post(server.URL+"/api/chat", "application/json",
		strings.NewReader(`{"message":"hello"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestConversationEndpoints(t *testing.T) {
	handler, st := newTestHandler(t, llm.NewMock())
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	conv, err := st.GetOrCreateConversation(t.Context(), "alice", "", "groceries")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.AppendMessage(t.Context(), conv.ID, store.RoleUser, "buy milk", nil); err != nil {
		t.Fatal(err)
	}

	get := func(path, user string) *http.Response {
		req, _ := http.NewRequest(http.MethodGet, server.URL+path, nil)
		req.Header.Set(userHeader, user)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	resp := get("/api/conversations", "alice")
	defer resp.Body.Close()
	var listBody struct {
		Conversations []store.Conversation `json:"conversations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listBody); err != nil {
		t.Fatal(err)
	}
	if len(listBody.Conversations) != 1 || listBody.Conversations[0].Title != "groceries" {
		t.Fatalf("conversations = %+v", listBody.Conversations)
	}

	resp = get("/api/conversations/"+conv.ID+"/messages", "alice")
	defer resp.Body.Close()
	var msgBody struct {
		Messages []store.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msgBody); err != nil {
		t.Fatal(err)
	}
	if len(msgBody.Messages) != 1 || msgBody.Messages[0].Content != "buy milk" {
		t.Fatalf("messages = %+v", msgBody.Messages)
	}

	// Another user's conversation reads as missing, not forbidden.
	resp = get("/api/conversations/"+conv.ID+"/messages", "mallory")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t, llm.NewMock())
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
