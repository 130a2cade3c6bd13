package council

import (
	"context"
	"fmt"
	"time"
)

// normalizerPromptTemplate instructs the normalizer model to rewrite a
// response in neutral style, per §4.5: remove first-person preambles,
// preserve semantic content.
const normalizerPromptTemplate = `Rewrite the following answer in a neutral, third-person style. ` +
	`Remove any first-person preambles ("I think", "In my opinion", ...) and filler. ` +
	`Preserve every fact, claim, and piece of reasoning; do not add or remove content.

Answer to rewrite:
%s`

// StyleNormalizer rewrites Stage 1 responses in a neutral style via a
// dedicated normalizer model before they are shown to Stage 2 reviewers,
// per §4.5. It is optional: the Orchestrator constructs one only when style
// normalization is enabled and a normalizer model is configured.
type StyleNormalizer struct {
	runner *StageRunner
	model  ModelId
}

// NewStyleNormalizer constructs a normalizer bound to the given model.
func NewStyleNormalizer(caller ModelCaller, model ModelId) *StyleNormalizer {
	return &StyleNormalizer{runner: NewStageRunner(caller), model: model}
}

// NormalizedResponse pairs a Stage 1 model's raw text with its normalized
// form.
type NormalizedResponse struct {
	Model      ModelId
	Raw        string
	Normalized string
	Applied    bool
}

// Normalize rewrites every successful Stage 1 response by dispatching each
// one to the normalizer model in parallel. A per-response failure falls
// back to the raw text (non-fatal, per §4.5), with Applied set to false.
// The Orchestrator passes only the Normalized text on to Stage 2; the
// transcript records the raw Stage 1 text and not the normalized text.
//
// The normalizer model itself is fixed; StageRunner's targets list here is
// one synthetic target per Stage 1 response, not the council, so that each
// response is rewritten independently and concurrently.
func (n *StyleNormalizer) Normalize(ctx context.Context, stage1 []StageResult[string], stageTimeout time.Duration) []NormalizedResponse {
	type job struct {
		responder ModelId
		raw       string
	}
	jobs := make([]job, 0, len(stage1))
	for _, r := range stage1 {
		if r.OK() {
			jobs = append(jobs, job{responder: r.Model, raw: *r.Value})
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	// Fan out with one synthetic per-job target keyed by index, since the
	// normalizer model is the same for every call but each call needs a
	// distinct prompt.
	targets := make([]ModelId, len(jobs))
	rawByTarget := make(map[ModelId]job, len(jobs))
	for i, j := range jobs {
		target := ModelId(fmt.Sprintf("normalize:%d:%s", i, j.responder))
		targets[i] = target
		rawByTarget[target] = j
	}

	promptFor := func(target ModelId) string {
		return fmt.Sprintf(normalizerPromptTemplate, rawByTarget[target].raw)
	}

	caller := &normalizerCallerAdapter{underlying: n.runner.caller, actualModel: n.model}
	runner := NewStageRunner(caller)
	results := runner.Run(ctx, targets, promptFor, PerCallTimeout(stageTimeout))

	out := make([]NormalizedResponse, 0, len(jobs))
	for i, result := range results {
		j := jobs[i]
		if result.OK() {
			out = append(out, NormalizedResponse{Model: j.responder, Raw: j.raw, Normalized: *result.Value, Applied: true})
		} else {
			out = append(out, NormalizedResponse{Model: j.responder, Raw: j.raw, Normalized: j.raw, Applied: false})
		}
	}
	return out
}

// normalizerCallerAdapter rewrites the synthetic per-job target back to the
// real normalizer model before delegating, so StageRunner's index-preserving
// fan-out can be reused for "N calls to the same model with distinct
// prompts" instead of only "one call per distinct model".
type normalizerCallerAdapter struct {
	underlying  ModelCaller
	actualModel ModelId
}

func (a *normalizerCallerAdapter) Call(ctx context.Context, _ ModelId, prompt string, timeout time.Duration) (string, time.Duration, error) {
	return a.underlying.Call(ctx, a.actualModel, prompt, timeout)
}
