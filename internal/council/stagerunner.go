package council

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// stageGrace is the maximum extra wall-clock time StageRunner allows past
// the nominal timeout for goroutine bookkeeping, per §4.3 ("grace <= 500ms").
const stageGrace = 500 * time.Millisecond

// StageRunner is the generic concurrent fan-out primitive shared by every
// stage (§4.3). It launches one call per target concurrently, preserves
// input order in its result slice regardless of completion order, and
// never lets one target's failure cancel its peers.
type StageRunner struct {
	caller ModelCaller
}

// NewStageRunner constructs a StageRunner bound to a single ModelCaller.
func NewStageRunner(caller ModelCaller) *StageRunner {
	return &StageRunner{caller: caller}
}

// PromptFunc builds the prompt to send to a given target model. Distinct
// targets may receive distinct prompts (Stage 2 randomizes response order
// per reviewer, for instance).
type PromptFunc func(model ModelId) string

// Run dispatches to every target concurrently and returns one StageResult
// per target, in the same order as targets. It returns within
// timeout+grace; the outer context, if cancelled, propagates to every
// in-flight call cooperatively.
func (r *StageRunner) Run(ctx context.Context, targets []ModelId, promptFor PromptFunc, timeout time.Duration) []StageResult[string] {
	results := make([]StageResult[string], len(targets))

	runCtx, cancel := context.WithTimeout(ctx, timeout+stageGrace)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for i, model := range targets {
		i, model := i, model
		g.Go(func() error {
			results[i] = r.callOne(gctx, model, promptFor(model), timeout)
			return nil // individual failures never cancel peers (§4.3)
		})
	}
	// StageRunner never fails as a whole: per-call errors are captured in
	// each StageResult, so the only possible error here would come from a
	// goroutine that itself never returns one.
	_ = g.Wait()

	return results
}

func (r *StageRunner) callOne(ctx context.Context, model ModelId, prompt string, timeout time.Duration) StageResult[string] {
	started := time.Now()
	text, latency, err := r.caller.Call(ctx, model, prompt, timeout)
	ended := time.Now()

	result := StageResult[string]{
		Model:     model,
		LatencyMs: latency.Milliseconds(),
		StartedAt: started,
		EndedAt:   ended,
	}
	if result.LatencyMs == 0 {
		result.LatencyMs = ended.Sub(started).Milliseconds()
	}

	if err != nil {
		result.Err = classifyCallerError(err, ctx)
		return result
	}

	v := text
	result.Value = &v
	return result
}

// classifyCallerError maps a ModelCaller error into an ErrorKind. Errors
// that are already *UpstreamError carry their own classification. A
// deadline exceeded error is a timeout whether it came from the caller's
// own per-call context or from the stage's outer context; anything else is
// treated as a network failure, per §4.1.
func classifyCallerError(err error, ctx context.Context) ErrorKind {
	if upstream, ok := err.(*UpstreamError); ok {
		return upstream.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return ErrModelTimeout
	}
	return ErrNetwork
}
