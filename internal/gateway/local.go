package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/llm-council/engine/internal/council"
)

// LocalCaller is a deterministic in-memory council.ModelCaller for tests
// and local development without an upstream gateway. Each model can be
// given a fixed responder function; a model with none configured echoes
// the prompt back, which is enough to exercise the pipeline end to end.
type LocalCaller struct {
	responders map[council.ModelId]func(prompt string) string
	latency    time.Duration
}

// NewLocalCaller constructs a LocalCaller. latency is the simulated
// per-call delay (0 for instant responses).
func NewLocalCaller(latency time.Duration) *LocalCaller {
	return &LocalCaller{responders: make(map[council.ModelId]func(string) string), latency: latency}
}

// SetResponder fixes model's response function.
func (c *LocalCaller) SetResponder(model council.ModelId, fn func(prompt string) string) {
	c.responders[model] = fn
}

// Call implements council.ModelCaller.
func (c *LocalCaller) Call(ctx context.Context, model council.ModelId, prompt string, timeout time.Duration) (string, time.Duration, error) {
	if c.latency > 0 {
		timer := time.NewTimer(c.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", c.latency, ctx.Err()
		}
	}

	if fn, ok := c.responders[model]; ok {
		return fn(prompt), c.latency, nil
	}
	return fmt.Sprintf("[local:%s] %s", model, prompt), c.latency, nil
}
