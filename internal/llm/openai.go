package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Defaults for the OpenAI-compatible adapter.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	maxAttempts    = 3
	retryBaseDelay = 500 * time.Millisecond
)

// OpenAIConfig configures the adapter. BaseURL may point at any
// OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// OpenAI talks to an OpenAI-compatible chat completions endpoint over SSE.
type OpenAI struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *slog.Logger
}

// NewOpenAI creates the adapter.
func NewOpenAI(cfg OpenAIConfig, log *slog.Logger) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &OpenAI{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}
}

// ─── Wire types ──────────────────────────────────────────────────────────────

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	Tools       []wireTool `json:"tools,omitempty"`
	Stream      bool       `json:"stream"`
	Temperature float64    `json:"temperature,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
}

type wireDelta struct {
	Content   string `json:"content"`
	ToolCalls []struct {
		Index    int    `json:"index"`
		ID       string `json:"id"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

type wireChunk struct {
	Choices []struct {
		Delta        wireDelta `json:"delta"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
}

// Stream implements Provider. Transient failures before the first byte of the
// body are retried with backoff; a failure mid-stream is returned as is, so
// the caller never sees duplicated chunks.
func (o *OpenAI) Stream(ctx context.Context, req Request, chunks chan<- string) (*Completion, error) {
	body := wireRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      true,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			o.log.Warn("retrying model call", "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		completion, retryable, err := o.once(ctx, payload, chunks)
		if err == nil {
			return completion, nil
		}
		if !retryable {
			return nil, fmt.Errorf("%w: %v", ErrModel, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrModel, maxAttempts, lastErr)
}

// once performs a single HTTP round trip and consumes the SSE stream.
func (o *OpenAI) once(ctx context.Context, payload []byte, chunks chan<- string) (*Completion, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, err
	}

	completion, err := o.consume(resp.Body, chunks)
	if err != nil {
		// Chunks may already have been forwarded; do not retry.
		return nil, false, err
	}
	return completion, false, nil
}

// consume reads SSE events and accumulates the completion. Tool call deltas
// are merged by index, the way the wire protocol fragments them.
func (o *OpenAI) consume(body io.Reader, chunks chan<- string) (*Completion, error) {
	var (
		content strings.Builder
		calls   []ToolCall
	)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk wireChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, fmt.Errorf("decoding stream event: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			content.WriteString(delta.Content)
			if chunks != nil {
				chunks <- delta.Content
			}
		}
		for _, tc := range delta.ToolCalls {
			if tc.Index < 0 {
				continue
			}
			for len(calls) <= tc.Index {
				calls = append(calls, ToolCall{})
			}
			if tc.ID != "" {
				calls[tc.Index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				calls[tc.Index].Name = tc.Function.Name
			}
			calls[tc.Index].Arguments += tc.Function.Arguments
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	return &Completion{Content: content.String(), ToolCalls: calls}, nil
}

var _ Provider = (*OpenAI)(nil)
