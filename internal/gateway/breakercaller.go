package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/llm-council/engine/internal/council"
)

// BreakerCaller wraps another council.ModelCaller with one CircuitBreaker
// per model, so a single failing upstream model degrades gracefully
// instead of burning its per-call timeout budget on every request while
// it is down (ADR-023).
type BreakerCaller struct {
	underlying       council.ModelCaller
	failureThreshold int
	successThreshold int
	timeout          time.Duration

	mu       sync.Mutex
	breakers map[council.ModelId]*CircuitBreaker
}

// NewBreakerCaller wraps underlying with per-model circuit breakers
// constructed lazily on first use, using the given thresholds (see
// NewCircuitBreaker for zero-value defaults).
func NewBreakerCaller(underlying council.ModelCaller, failureThreshold, successThreshold int, timeout time.Duration) *BreakerCaller {
	return &BreakerCaller{
		underlying:       underlying,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		breakers:         make(map[council.ModelId]*CircuitBreaker),
	}
}

func (c *BreakerCaller) breakerFor(model council.ModelId) *CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[model]
	if !ok {
		b = NewCircuitBreaker(string(model), c.failureThreshold, c.successThreshold, c.timeout)
		c.breakers[model] = b
	}
	return b
}

// Call implements council.ModelCaller. A denied circuit is reported as an
// UpstreamError classified Upstream5xx, since from the engine's
// perspective a tripped breaker looks like the upstream is unhealthy.
func (c *BreakerCaller) Call(ctx context.Context, model council.ModelId, prompt string, timeout time.Duration) (string, time.Duration, error) {
	breaker := c.breakerFor(model)
	if !breaker.Allow() {
		return "", 0, &council.UpstreamError{Kind: council.ErrUpstream5xx, Model: model, Err: &CircuitOpenError{RouterID: string(model)}}
	}

	text, latency, err := c.underlying.Call(ctx, model, prompt, timeout)
	if err != nil {
		breaker.RecordFailure()
		return text, latency, err
	}
	breaker.RecordSuccess()
	return text, latency, nil
}

// Stats returns a snapshot of every breaker this caller has created so
// far, keyed by model.
func (c *BreakerCaller) Stats() map[council.ModelId]Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[council.ModelId]Stats, len(c.breakers))
	for model, b := range c.breakers {
		out[model] = b.Stats()
	}
	return out
}
