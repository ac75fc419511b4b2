package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/apollohq/apollo/internal/chat"
	"github.com/apollohq/apollo/internal/store"
)

// userHeader carries the pre-authenticated user identity. Authentication
// itself happens upstream; this layer only reads the result.
const userHeader = "X-User-ID"

type api struct {
	orchestrator *chat.Orchestrator
	store        store.Store
	log          *slog.Logger
}

type chatRequest struct {
	ConversationID string        `json:"conversation_id,omitempty"`
	Message        string        `json:"message"`
	History        []chatMessage `json:"history,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// handleChat runs one turn and streams its events as server-sent events,
// one `data: {json}` frame per event.
func (a *api) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	history := make([]store.Message, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, store.Message{Role: m.Role, Content: m.Content})
	}

	events, err := a.orchestrator.Run(r.Context(), chat.TurnRequest{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
		History:        history,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			a.log.Error("encoding event", "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// Subscriber is gone; keep draining so the turn finishes.
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (a *api) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	convs, err := a.store.ListConversations(r.Context(), userID)
	if err != nil {
		a.log.Error("listing conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (a *api) handleMessages(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	conversationID := r.PathValue("id")

	// Resolving through the ownership check keeps foreign conversations
	// indistinguishable from missing ones.
	if _, err := a.store.GetOrCreateConversation(r.Context(), userID, conversationID, ""); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		a.log.Error("resolving conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load conversation")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	msgs, err := a.store.RecentMessages(r.Context(), conversationID, limit)
	if err != nil {
		a.log.Error("loading messages", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
