package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/apollohq/apollo/internal/store"
)

// newTestStore points the driver at a stub PostgREST endpoint and records
// every request it receives.
func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	s, err := New(Config{URL: server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestAppendMessageTouchesConversationForwardOnly(t *testing.T) {
	type call struct {
		method string
		path   string
		query  string
	}
	var calls []call
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{r.Method, r.URL.Path, r.URL.RawQuery})
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "[]")
	})

	if _, err := s.AppendMessage(context.Background(), "conv-1", store.RoleUser, "hello", nil); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("calls = %+v, want insert then touch", calls)
	}
	touch := calls[1]
	if touch.method != http.MethodPatch || !strings.HasSuffix(touch.path, "/conversations") {
		t.Fatalf("touch call = %+v", touch)
	}
	if !strings.Contains(touch.query, "id=eq.conv-1") {
		t.Errorf("touch query %q is missing the id filter", touch.query)
	}
	if !strings.Contains(touch.query, "updated_at=lt.") {
		t.Errorf("touch query %q may move updated_at backwards", touch.query)
	}
}

func TestCanceledContextShortCircuits(t *testing.T) {
	hit := false
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		hit = true
		fmt.Fprint(w, "[]")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.ListConversations(ctx, "user-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("ListConversations err = %v, want context.Canceled", err)
	}
	if _, err := s.GetTask(ctx, "task-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("GetTask err = %v, want context.Canceled", err)
	}
	if _, err := s.UpdateTask(ctx, "task-1", map[string]any{"title": "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("UpdateTask err = %v, want context.Canceled", err)
	}
	if hit {
		t.Fatal("request reached the backend despite a canceled context")
	}
}
