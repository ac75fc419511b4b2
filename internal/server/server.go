// Package server wires the storage driver, turn lock, model provider and
// orchestrator together and exposes them over HTTP. This is the composition
// root: concrete implementations are created here and injected into the
// components that depend on abstractions.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/apollohq/apollo/internal/agent"
	"github.com/apollohq/apollo/internal/chat"
	"github.com/apollohq/apollo/internal/config"
	"github.com/apollohq/apollo/internal/llm"
	"github.com/apollohq/apollo/internal/store"
	"github.com/apollohq/apollo/internal/store/sqlite"
	"github.com/apollohq/apollo/internal/store/supabase"
	"github.com/apollohq/apollo/internal/tokens"
	"github.com/apollohq/apollo/internal/tools"
	"github.com/apollohq/apollo/internal/turnlock"
)

// Version is set at build time via ldflags.
var Version = "dev"

func noop() {}

// Server serves the chat API.
type Server struct {
	http *http.Server
	log  *slog.Logger
}

// New builds the full service from configuration. The returned cleanup
// function releases the storage and lock resources and must be called on
// shutdown; it is always non-nil.
func New(cfg config.Config) (*Server, func(), error) {
	log := newLogger(cfg.Log.Level)

	st, err := newStore(cfg.Storage)
	if err != nil {
		return nil, noop, fmt.Errorf("creating store: %w", err)
	}

	locker, err := newLocker(cfg.Lock)
	if err != nil {
		st.Close()
		return nil, noop, fmt.Errorf("creating turn lock: %w", err)
	}
	cleanup := func() {
		locker.Close()
		st.Close()
	}

	assembler := agent.New(st, tokens.NewEstimator(), agent.Config{
		Model:         cfg.Model.Name,
		ContextBudget: cfg.Context.ContextBudget,
		HistoryBudget: cfg.Context.HistoryBudget,
		HistoryWindow: cfg.Context.HistoryWindow,
	}, log)

	registry := tools.NewDefaultRegistry(st)
	executor := tools.NewExecutor(registry, log)

	provider := llm.NewOpenAI(llm.OpenAIConfig{
		BaseURL: cfg.Model.BaseURL,
		APIKey:  cfg.Model.APIKey,
	}, log)

	orchestrator := chat.New(st, assembler, provider, registry, executor, locker, chat.Config{
		Model:       cfg.Model.Name,
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxTokens,
		TurnTimeout: cfg.Server.TurnTimeout,
	}, log)

	api := &api{
		orchestrator: orchestrator,
		store:        st,
		log:          log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", api.handleChat)
	mux.HandleFunc("GET /api/conversations", api.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}/messages", api.handleMessages)
	mux.HandleFunc("GET /healthz", api.handleHealth)

	s := &Server{
		http: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
	return s, cleanup, nil
}

// ListenAndServe blocks serving the API until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.log.Info("apollo listening", "addr", s.http.Addr, "version", Version)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func newStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		sc := sqlite.DefaultConfig()
		if cfg.DataDir != "" {
			sc.DataDir = cfg.DataDir
		}
		return sqlite.New(sc)
	case config.DriverSupabase:
		return supabase.New(supabase.Config{
			URL:    cfg.SupabaseURL,
			APIKey: cfg.SupabaseKey,
		})
	default:
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidDriver, cfg.Driver)
	}
}

func newLocker(cfg config.LockConfig) (turnlock.Locker, error) {
	switch cfg.Driver {
	case config.LockMemory:
		return turnlock.NewMemoryLocker(0), nil
	case config.LockRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return turnlock.NewRedisLocker(ctx, turnlock.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("%w: %q", turnlock.ErrInvalidDriver, cfg.Driver)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
