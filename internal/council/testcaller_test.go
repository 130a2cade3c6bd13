package council

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// scriptedCaller is a deterministic ModelCaller used across this package's
// tests. It looks up a canned response by model, optionally applying a
// per-model function so tests can script failures, delays, or dynamic
// text (such as JSON rankings referencing labels only known at call time).
type scriptedCaller struct {
	mu        sync.Mutex
	responses map[ModelId]func(ctx context.Context, prompt string, timeout time.Duration) (string, error)
	calls     []scriptedCall
}

type scriptedCall struct {
	Model  ModelId
	Prompt string
}

func newScriptedCaller() *scriptedCaller {
	return &scriptedCaller{responses: make(map[ModelId]func(context.Context, string, time.Duration) (string, error))}
}

func (c *scriptedCaller) reply(model ModelId, text string) {
	c.responses[model] = func(context.Context, string, time.Duration) (string, error) { return text, nil }
}

func (c *scriptedCaller) fail(model ModelId, kind ErrorKind) {
	c.responses[model] = func(context.Context, string, time.Duration) (string, error) {
		return "", &UpstreamError{Kind: kind, Model: model}
	}
}

// dynamic scripts a per-model function that receives the call's context,
// prompt and timeout, so it can compute its reply from the prompt or
// enforce the timeout itself, the way a real gateway ModelCaller (e.g. an
// http.Client with that timeout) would.
func (c *scriptedCaller) dynamic(model ModelId, fn func(ctx context.Context, prompt string, timeout time.Duration) (string, error)) {
	c.responses[model] = fn
}

func (c *scriptedCaller) Call(ctx context.Context, model ModelId, prompt string, timeout time.Duration) (string, time.Duration, error) {
	c.mu.Lock()
	c.calls = append(c.calls, scriptedCall{Model: model, Prompt: prompt})
	fn, ok := c.responses[model]
	c.mu.Unlock()

	if !ok {
		return "", 0, &UpstreamError{Kind: ErrNetwork, Model: model, Err: fmt.Errorf("no scripted response for %s", model)}
	}
	text, err := fn(ctx, prompt, timeout)
	return text, time.Millisecond, err
}

func (c *scriptedCaller) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}
