package llm

import (
	"context"
	"strings"
	"sync"
)

// Mock is a scripted provider for tests. Each call consumes the next step;
// content is streamed word by word so chunk handling gets exercised.
type Mock struct {
	mu    sync.Mutex
	steps []MockStep
	// Requests records every request the mock received, in order.
	Requests []Request
}

// MockStep scripts one model call.
type MockStep struct {
	Content   string
	ToolCalls []ToolCall
	Err       error
}

// NewMock creates a mock provider that plays the given steps in order.
func NewMock(steps ...MockStep) *Mock {
	return &Mock{steps: steps}
}

// Stream implements Provider.
func (m *Mock) Stream(ctx context.Context, req Request, chunks chan<- string) (*Completion, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	var step MockStep
	if len(m.steps) > 0 {
		step = m.steps[0]
		m.steps = m.steps[1:]
	}
	m.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}
	if chunks != nil && step.Content != "" {
		words := strings.SplitAfter(step.Content, " ")
		for _, w := range words {
			select {
			case chunks <- w:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return &Completion{Content: step.Content, ToolCalls: step.ToolCalls}, nil
}

var _ Provider = (*Mock)(nil)
