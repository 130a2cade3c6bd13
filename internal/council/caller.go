package council

import (
	"context"
	"time"
)

// ModelCaller is the single abstract primitive the engine depends on for
// talking to a model. Implementations (OpenRouter, direct provider APIs,
// local runtimes) live outside this package — see internal/gateway — and
// must be stateless and safe for concurrent use.
//
// Call returns the model's text and the latency of the call, or an
// *UpstreamError classified into one of the ErrorKinds of §4.1. The engine
// treats any non-timeout error as recoverable at the stage level.
type ModelCaller interface {
	Call(ctx context.Context, model ModelId, prompt string, timeout time.Duration) (text string, latency time.Duration, err error)
}

// ModelCallerFunc adapts a plain function to a ModelCaller, mirroring the
// stdlib http.HandlerFunc pattern for trivial or scripted implementations.
type ModelCallerFunc func(ctx context.Context, model ModelId, prompt string, timeout time.Duration) (string, time.Duration, error)

func (f ModelCallerFunc) Call(ctx context.Context, model ModelId, prompt string, timeout time.Duration) (string, time.Duration, error) {
	return f(ctx, model, prompt, timeout)
}
