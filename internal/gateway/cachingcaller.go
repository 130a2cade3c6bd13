package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/llm-council/engine/internal/council"
)

// CachingCaller wraps another council.ModelCaller with an ExpiringCache
// keyed by model+prompt, so identical repeated calls within ttl (common
// when iterating locally against a fixed prompt) don't hit the upstream
// gateway again.
type CachingCaller struct {
	underlying council.ModelCaller
	cache      *ExpiringCache[string]
}

// NewCachingCaller wraps underlying with a cache of the given TTL.
func NewCachingCaller(underlying council.ModelCaller, ttl time.Duration) *CachingCaller {
	return &CachingCaller{underlying: underlying, cache: NewExpiringCache[string](ttl)}
}

// Call implements council.ModelCaller.
func (c *CachingCaller) Call(ctx context.Context, model council.ModelId, prompt string, timeout time.Duration) (string, time.Duration, error) {
	key := cacheKey(model, prompt)
	if cached, ok := c.cache.Get(key); ok {
		return cached, 0, nil
	}

	text, latency, err := c.underlying.Call(ctx, model, prompt, timeout)
	if err != nil {
		return text, latency, err
	}
	c.cache.Set(key, text)
	return text, latency, nil
}

func cacheKey(model council.ModelId, prompt string) string {
	h := sha256.Sum256([]byte(string(model) + "\x00" + prompt))
	return hex.EncodeToString(h[:])
}
