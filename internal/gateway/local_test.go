package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/llm-council/engine/internal/council"
)

func TestLocalCallerEchoesByDefault(t *testing.T) {
	c := NewLocalCaller(0)
	text, _, err := c.Call(context.Background(), "m", "hello", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "hello") {
		t.Fatalf("expected echoed prompt, got %q", text)
	}
}

func TestLocalCallerFixedResponder(t *testing.T) {
	c := NewLocalCaller(0)
	c.SetResponder("m", func(prompt string) string { return "fixed: " + prompt })
	text, _, err := c.Call(context.Background(), "m", "hi", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "fixed: hi" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestCachingCallerHitsCacheOnSecondCall(t *testing.T) {
	calls := 0
	underlying := &countingCaller{count: &calls}
	c := NewCachingCaller(underlying, time.Minute)

	if _, _, err := c.Call(context.Background(), "m", "p", time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := c.Call(context.Background(), "m", "p", time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected underlying caller to be invoked once, got %d", calls)
	}
}

type countingCaller struct{ count *int }

func (c *countingCaller) Call(ctx context.Context, model council.ModelId, prompt string, timeout time.Duration) (string, time.Duration, error) {
	*c.count++
	return "response", 0, nil
}
