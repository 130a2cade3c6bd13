package council

import (
	"context"
	"fmt"
	"time"
)

// stage1SystemPreamble is prepended to every council model's prompt, per
// §4.4 ("system role: answer the user's question").
const stage1SystemPreamble = "You are answering a user's question as part of an independent panel. " +
	"Answer directly and completely; you will not see other panelists' answers."

// Stage1Respond dispatches the query to every council model independently
// and collects their raw responses (§4.4).
type Stage1Respond struct {
	runner *StageRunner
}

// NewStage1Respond constructs the Stage 1 runner.
func NewStage1Respond(caller ModelCaller) *Stage1Respond {
	return &Stage1Respond{runner: NewStageRunner(caller)}
}

// Run executes Stage 1. It returns InsufficientResponders (fatal, per the
// degradation policy of §4.4) if fewer than two models answer successfully.
// stageTimeout is the stage's wall-clock budget; the per-call timeout used
// for each model is half of it, per §5.
func (s *Stage1Respond) Run(ctx context.Context, council []ModelId, query Query, stageTimeout time.Duration) ([]StageResult[string], error) {
	promptFor := func(ModelId) string {
		return fmt.Sprintf("%s\n\nQuestion: %s", stage1SystemPreamble, query.Prompt)
	}

	results := s.runner.Run(ctx, council, promptFor, PerCallTimeout(stageTimeout))

	successes := 0
	for _, r := range results {
		if r.OK() {
			successes++
		}
	}
	if successes < 2 {
		return results, &FatalError{
			Kind:    ErrInsufficientResponders,
			Message: fmt.Sprintf("only %d of %d council models responded successfully, need at least 2", successes, len(council)),
		}
	}
	return results, nil
}

// PerCallTimeout derives the per-call timeout from a stage's wall-clock
// timeout, per §5: "per-call timeouts are stage_timeout / 2 by default so
// a stage has budget to wait for slower peers after an early timeout."
func PerCallTimeout(stageTimeout time.Duration) time.Duration {
	return stageTimeout / 2
}

// SuccessfulModels returns the council subset that answered successfully
// in stage1, in council order, per §4.4 ("Failed models are ... dropped
// from subsequent stages").
func SuccessfulModels(stage1 []StageResult[string]) []ModelId {
	models := make([]ModelId, 0, len(stage1))
	for _, r := range stage1 {
		if r.OK() {
			models = append(models, r.Model)
		}
	}
	return models
}

// TextByModel indexes successful Stage 1 responses by model for later
// stages that need the raw text (Stage 2 anonymization, Stage 3 synthesis).
func TextByModel(stage1 []StageResult[string]) map[ModelId]string {
	out := make(map[ModelId]string, len(stage1))
	for _, r := range stage1 {
		if r.OK() {
			out[r.Model] = *r.Value
		}
	}
	return out
}
