package tokens

import (
	"fmt"
	"testing"
)

// The "no-such-model" identifier never resolves to an encoding, so these
// tests exercise the heuristic path deterministically regardless of whether
// encoding data is available on the machine.

func TestEstimate_EmptyText(t *testing.T) {
	e := NewEstimator()
	got := e.Estimate("no-such-model", "")
	if got.Tokens != 0 {
		t.Errorf("Tokens = %d, want 0", got.Tokens)
	}
	if got.Approximate {
		t.Error("empty text should not be flagged approximate")
	}
}

func TestEstimate_UnknownModelFallsBack(t *testing.T) {
	e := NewEstimator()
	got := e.Estimate("no-such-model", "hello world")
	if !got.Approximate {
		t.Error("unknown model should produce an approximate estimate")
	}
	if got.Tokens <= 0 {
		t.Errorf("Tokens = %d, want > 0", got.Tokens)
	}
}

func TestEstimate_Deterministic(t *testing.T) {
	e := NewEstimator()
	a := e.Estimate("no-such-model", "the same text")
	b := e.Estimate("no-such-model", "the same text")
	if a != b {
		t.Errorf("repeated estimates differ: %+v vs %+v", a, b)
	}
}

func TestEstimate_NeverNegative(t *testing.T) {
	e := NewEstimator()
	for _, text := range []string{"a", "日本語テキスト", "mixed text 混合", "\n\n\n"} {
		if got := e.Estimate("no-such-model", text); got.Tokens < 0 {
			t.Errorf("Estimate(%q).Tokens = %d, want >= 0", text, got.Tokens)
		}
	}
}

func TestEstimate_HeuristicWeighting(t *testing.T) {
	e := NewEstimator()
	ascii := e.Estimate("no-such-model", "aaaa")     // 4 ASCII chars ≈ 1 token
	cjk := e.Estimate("no-such-model", "日日日日") // 4 CJK chars ≈ 4 tokens
	if ascii.Tokens != 1 {
		t.Errorf("ascii Tokens = %d, want 1", ascii.Tokens)
	}
	if cjk.Tokens != 4 {
		t.Errorf("cjk Tokens = %d, want 4", cjk.Tokens)
	}
}

func TestEstimateMessage_IncludesOverhead(t *testing.T) {
	e := NewEstimator()
	plain := e.Estimate("no-such-model", "content")
	msg := e.EstimateMessage("no-such-model", "user", "content")
	if msg.Tokens <= plain.Tokens {
		t.Errorf("message estimate %d should exceed bare content estimate %d", msg.Tokens, plain.Tokens)
	}
}

func TestHandleCache_BoundedEviction(t *testing.T) {
	e := NewEstimatorCapacity(3)
	for i := 0; i < 10; i++ {
		e.Estimate(fmt.Sprintf("model-%d", i), "text")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.handles) > 3 {
		t.Errorf("handle cache holds %d entries, capacity 3", len(e.handles))
	}
	if len(e.order) != len(e.handles) {
		t.Errorf("order list (%d) out of sync with handles (%d)", len(e.order), len(e.handles))
	}
}
