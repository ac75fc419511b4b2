package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sseBody(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		b.WriteString("data: ")
		b.WriteString(e)
		b.WriteString("\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenAI(OpenAIConfig{BaseURL: server.URL, APIKey: "test-key"}, nil)
}

func TestStreamForwardsContentChunks(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"choices":[{"delta":{"content":"Hello"}}]}`,
			`{"choices":[{"delta":{"content":" world"}}]}`,
		))
	})

	chunks := make(chan string, 8)
	completion, err := o.Stream(context.Background(), Request{Model: "gpt-4o-mini"}, chunks)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	close(chunks)

	if completion.Content != "Hello world" {
		t.Errorf("content = %q", completion.Content)
	}
	var got []string
	for c := range chunks {
		got = append(got, c)
	}
	if len(got) != 2 || got[0] != "Hello" || got[1] != " world" {
		t.Errorf("chunks = %v", got)
	}
}

func TestStreamAccumulatesToolCallDeltas(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseBody(
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"create_task","arguments":"{\"title\":"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Buy milk\"}"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_2","function":{"name":"list_goals","arguments":"{}"}}]}}]}`,
		))
	})

	completion, err := o.Stream(context.Background(), Request{Model: "gpt-4o-mini"}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(completion.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(completion.ToolCalls))
	}
	first := completion.ToolCalls[0]
	if first.ID != "call_1" || first.Name != "create_task" || first.Arguments != `{"title":"Buy milk"}` {
		t.Errorf("first call = %+v", first)
	}
	second := completion.ToolCalls[1]
	if second.ID != "call_2" || second.Name != "list_goals" || second.Arguments != "{}" {
		t.Errorf("second call = %+v", second)
	}
}

func TestStreamIgnoresNegativeToolCallIndex(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseBody(
			`{"choices":[{"delta":{"tool_calls":[{"index":-1,"id":"call_bad","function":{"name":"create_task","arguments":"{}"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"list_goals","arguments":"{}"}}]}}]}`,
		))
	})

	completion, err := o.Stream(context.Background(), Request{Model: "gpt-4o-mini"}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(completion.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v, want the one valid call", completion.ToolCalls)
	}
	if completion.ToolCalls[0].ID != "call_1" {
		t.Errorf("call = %+v", completion.ToolCalls[0])
	}
}

func TestStreamRetriesTransientFailures(t *testing.T) {
	attempts := 0
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, sseBody(`{"choices":[{"delta":{"content":"ok"}}]}`))
	})

	completion, err := o.Stream(context.Background(), Request{Model: "gpt-4o-mini"}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if completion.Content != "ok" {
		t.Errorf("content = %q", completion.Content)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestStreamDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := o.Stream(context.Background(), Request{Model: "gpt-4o-mini"}, nil)
	if !errors.Is(err, ErrModel) {
		t.Fatalf("err = %v, want ErrModel", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestStreamGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := o.Stream(context.Background(), Request{Model: "gpt-4o-mini"}, nil)
	if !errors.Is(err, ErrModel) {
		t.Fatalf("err = %v, want ErrModel", err)
	}
	if attempts != maxAttempts {
		t.Errorf("attempts = %d, want %d", attempts, maxAttempts)
	}
}
