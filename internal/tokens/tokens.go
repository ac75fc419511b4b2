// Package tokens estimates token costs for model inputs.
//
// Exact counts come from tiktoken encodings. When the encoding for a model
// cannot be resolved (unknown model, encoding data unavailable) the estimator
// falls back to a character heuristic and flags the result as approximate.
// Estimation never fails: budget checks downstream always reserve headroom,
// so an approximate count is safe.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultHandleCapacity bounds the encoding-handle cache. The number of
	// distinct models in use is small; ten covers every realistic deployment.
	DefaultHandleCapacity = 10

	// MessageOverhead is the per-message cost of role markers and separators
	// in the chat format.
	MessageOverhead = 4

	// ReplyPrimingOverhead is the fixed cost of the assistant reply priming
	// at the end of a chat payload.
	ReplyPrimingOverhead = 3
)

// Estimate is the result of a token count.
type Estimate struct {
	Tokens int
	// Approximate is true when the heuristic fallback was used instead of
	// the model's real encoding.
	Approximate bool
}

// Estimator counts tokens with a bounded cache of encoding handles keyed by
// model identifier. Safe for concurrent use.
type Estimator struct {
	mu       sync.Mutex
	capacity int
	handles  map[string]*tiktoken.Tiktoken // nil value = known-unresolvable model
	order    []string                      // insertion order for eviction
}

// NewEstimator creates an Estimator with the default handle capacity.
func NewEstimator() *Estimator {
	return NewEstimatorCapacity(DefaultHandleCapacity)
}

// NewEstimatorCapacity creates an Estimator with an explicit handle capacity.
func NewEstimatorCapacity(capacity int) *Estimator {
	if capacity <= 0 {
		capacity = DefaultHandleCapacity
	}
	return &Estimator{
		capacity: capacity,
		handles:  make(map[string]*tiktoken.Tiktoken, capacity),
	}
}

// Estimate returns the token count of text for the given model. The count is
// deterministic for a given model/text pair and never negative.
func (e *Estimator) Estimate(model, text string) Estimate {
	if text == "" {
		return Estimate{}
	}
	enc := e.encoding(model)
	if enc == nil {
		return Estimate{Tokens: heuristicCount(text), Approximate: true}
	}
	return Estimate{Tokens: len(enc.Encode(text, nil, nil))}
}

// EstimateMessage returns the cost of one chat message including the
// per-message role/separator overhead.
func (e *Estimator) EstimateMessage(model, role, content string) Estimate {
	r := e.Estimate(model, role)
	c := e.Estimate(model, content)
	return Estimate{
		Tokens:      MessageOverhead + r.Tokens + c.Tokens,
		Approximate: r.Approximate || c.Approximate,
	}
}

// encoding resolves and caches the encoding handle for a model. A model that
// fails to resolve is cached as nil so repeated misses stay cheap.
func (e *Estimator) encoding(model string) *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.handles[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc = nil
	}

	if len(e.order) >= e.capacity {
		oldest := e.order[0]
		e.order = e.order[1:]
		delete(e.handles, oldest)
	}
	e.handles[model] = enc
	e.order = append(e.order, model)
	return enc
}

// heuristicCount approximates token cost from characters. ASCII runs about
// four characters per token; non-ASCII (CJK, emoji) is weighted conservatively
// at roughly one character per token.
func heuristicCount(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}
