package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/llm-council/engine/internal/council"
)

// openRouterMessage is one entry in an OpenRouter chat completion request.
type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterRequest struct {
	Model    string              `json:"model"`
	Messages []openRouterMessage `json:"messages"`
}

type openRouterChoice struct {
	Message openRouterMessage `json:"message"`
}

type openRouterResponse struct {
	Choices []openRouterChoice  `json:"choices"`
	Error   *openRouterAPIError `json:"error,omitempty"`
}

type openRouterAPIError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// OpenRouterCaller implements council.ModelCaller against the OpenRouter
// chat completions API, adapted from the teacher's single-request
// QueryModel.
type OpenRouterCaller struct {
	apiKey string
	apiURL string
	client *http.Client
	logger *zap.Logger
}

// NewOpenRouterCaller constructs a caller against apiURL (e.g.
// "https://openrouter.ai/api/v1/chat/completions") authenticated with
// apiKey.
func NewOpenRouterCaller(apiKey, apiURL string) *OpenRouterCaller {
	return &OpenRouterCaller{
		apiKey: apiKey,
		apiURL: apiURL,
		client: &http.Client{},
		logger: zap.NewNop(),
	}
}

// WithLogger attaches a zap.Logger that Call uses to record each request's
// outcome. Without one, logging is a no-op.
func (c *OpenRouterCaller) WithLogger(logger *zap.Logger) *OpenRouterCaller {
	c.logger = logger
	return c
}

// Call sends one chat completion request and returns the first choice's
// content. timeout bounds the whole HTTP round trip via a per-call
// context, per the ModelCaller contract.
func (c *OpenRouterCaller) Call(ctx context.Context, model council.ModelId, prompt string, timeout time.Duration) (string, time.Duration, error) {
	started := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(openRouterRequest{
		Model:    string(model),
		Messages: []openRouterMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", 0, &council.UpstreamError{Kind: council.ErrMalformedResponse, Model: model, Err: err}
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", 0, &council.UpstreamError{Kind: council.ErrNetwork, Model: model, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		kind := council.ErrNetwork
		if callCtx.Err() == context.DeadlineExceeded {
			kind = council.ErrModelTimeout
		}
		c.logger.Warn("openrouter call failed", zap.String("model", string(model)), zap.String("kind", string(kind)), zap.Error(err))
		return "", time.Since(started), &council.UpstreamError{Kind: kind, Model: model, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Since(started), &council.UpstreamError{Kind: council.ErrNetwork, Model: model, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", time.Since(started), &council.UpstreamError{Kind: council.ErrRateLimited, Model: model, Err: fmt.Errorf("status %d: %s", resp.StatusCode, data)}
	}
	if resp.StatusCode >= 500 {
		return "", time.Since(started), &council.UpstreamError{Kind: council.ErrUpstream5xx, Model: model, Err: fmt.Errorf("status %d: %s", resp.StatusCode, data)}
	}
	if resp.StatusCode >= 400 {
		return "", time.Since(started), &council.UpstreamError{Kind: council.ErrUpstream4xx, Model: model, Err: fmt.Errorf("status %d: %s", resp.StatusCode, data)}
	}

	var parsed openRouterResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", time.Since(started), &council.UpstreamError{Kind: council.ErrMalformedResponse, Model: model, Err: err}
	}
	if parsed.Error != nil {
		return "", time.Since(started), &council.UpstreamError{Kind: council.ErrUpstream5xx, Model: model, Err: fmt.Errorf("%s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return "", time.Since(started), &council.UpstreamError{Kind: council.ErrMalformedResponse, Model: model, Err: fmt.Errorf("no choices in response")}
	}

	c.logger.Debug("openrouter call succeeded", zap.String("model", string(model)), zap.Duration("latency", time.Since(started)))
	return parsed.Choices[0].Message.Content, time.Since(started), nil
}
