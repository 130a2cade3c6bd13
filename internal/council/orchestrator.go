package council

import (
	"context"
	"time"
)

// Orchestrator drives one deliberation through the full state machine of
// §5: Accepted -> Stage1 -> [Normalizing] -> Stage2 -> Aggregating ->
// Stage3 -> Scoring -> Writing -> Done, or Failed(kind) from any state. It
// holds no per-request state itself; Run is safe to call concurrently for
// distinct requests.
type Orchestrator struct {
	config      CouncilConfig
	caller      ModelCaller
	bus         *EventBus
	metrics     *Metrics
	transcripts *TranscriptWriter
	labeler     *AnonymizationLabeler
	aggregator  *RankingAggregator
	scorer      *ConfidenceScorer
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithEventBus attaches an EventBus that Run publishes lifecycle events
// to. Without one, events are simply not published.
func WithEventBus(bus *EventBus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithMetrics attaches a Metrics collector. Without one, metrics are
// silently skipped (every Metrics method is nil-safe).
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTranscriptWriter attaches a TranscriptWriter. Without one, no
// on-disk transcript is produced (useful for tests).
func WithTranscriptWriter(w *TranscriptWriter) Option {
	return func(o *Orchestrator) { o.transcripts = w }
}

// NewOrchestrator constructs an Orchestrator for one CouncilConfig and
// ModelCaller. config is validated eagerly so misconfiguration surfaces at
// construction, not on the first request.
func NewOrchestrator(config CouncilConfig, caller ModelCaller, opts ...Option) (*Orchestrator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		config:     config,
		caller:     caller,
		labeler:    NewAnonymizationLabeler(),
		aggregator: NewRankingAggregator(),
		scorer:     NewConfidenceScorer(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes one full deliberation for requestID. It returns a *Result
// on success. On fatal failure it returns nil and the *FatalError (or
// context error) that terminated the request; a best-effort partial
// transcript is still written when possible, per §7.
func (o *Orchestrator) Run(ctx context.Context, requestID string, query Query) (*Result, error) {
	startedAt := time.Now()
	o.metrics.incInFlight()
	defer o.metrics.decInFlight()

	var transcript *Transcript
	if o.transcripts != nil {
		t, err := o.transcripts.Begin(startedAt)
		if err == nil {
			transcript = t
			_ = transcript.WriteRequest(requestID, query, o.config)
		}
	}

	o.publish(requestID, EventAccepted, nil)

	fail := func(kind ErrorKind, err error) (*Result, error) {
		o.metrics.recordOutcome("failed")
		o.publish(requestID, EventFailed, map[string]string{"kind": string(kind)})
		if o.bus != nil {
			o.bus.Close(requestID)
		}
		return nil, err
	}

	if ctx.Err() != nil {
		return fail(ErrCancelled, &FatalError{Kind: ErrCancelled, Message: "context already cancelled at request start"})
	}

	// Stage 1: independent responses.
	s1Start := time.Now()
	stage1, err := NewStage1Respond(o.caller).Run(ctx, o.config.CouncilModels, query, o.config.PerStageTimeout.Stage1)
	o.metrics.observeStage("stage1", time.Since(s1Start).Seconds())
	o.recordStageOutcomes("stage1", stage1)
	if transcript != nil {
		_ = transcript.WriteStage1(stage1)
	}
	if err != nil {
		return fail(errorKindOf(err), err)
	}
	stage1Count := len(SuccessfulModels(stage1))
	o.publish(requestID, EventStage1Complete, map[string]int{"responded": stage1Count})

	// Optional style normalization: rewrite Stage 1 text for Stage 2 review
	// only. Stage 3 always sees the original raw text, per §4.5/§4.8.
	rawText := TextByModel(stage1)
	stage2Text := rawText
	if o.config.StyleNormalization && o.config.NormalizerModel != "" {
		normalized := NewStyleNormalizer(o.caller, o.config.NormalizerModel).Normalize(ctx, stage1, o.config.PerStageTimeout.Stage1)
		stage2Text = make(map[ModelId]string, len(normalized))
		for _, n := range normalized {
			stage2Text[n.Model] = n.Normalized
		}
	}

	// Stage 2: anonymized peer ranking.
	respondents := SuccessfulModels(stage1)
	labels, err := o.labeler.Label(respondents)
	if err != nil {
		return fail(ErrConfigInvalid, &FatalError{Kind: ErrConfigInvalid, Message: err.Error()})
	}

	s2Start := time.Now()
	votesCast := 0
	rankings, err := NewStage2PeerRank(o.caller).Run(ctx, query, stage2Text, labels, o.config.MaxReviewers, o.config.PerStageTimeout.Stage2, func(ModelId) {
		votesCast++
		o.publish(requestID, EventStage2Vote, map[string]int{"count": votesCast})
	})
	o.metrics.observeStage("stage2", time.Since(s2Start).Seconds())
	o.recordRankingOutcomes(rankings)
	if err != nil {
		return fail(errorKindOf(err), err)
	}

	aggregates := o.aggregator.Aggregate(rankings, labels, respondents, o.config.ExcludeSelfVotes)
	if transcript != nil {
		_ = transcript.WriteStage2(labels, rankings, aggregates)
	}
	o.publish(requestID, EventStage2Complete, map[string]int{"rankings": countValidRankings(rankings)})

	// Stage 3: chairman synthesis.
	s3Start := time.Now()
	synthesis, err := NewStage3Synthesize(o.caller).Run(ctx, query, o.config.ChairmanModel, rawText, aggregates, o.config.PerStageTimeout.Stage3)
	o.metrics.observeStage("stage3", time.Since(s3Start).Seconds())
	if err != nil {
		if transcript != nil && synthesis != nil {
			_ = transcript.WriteStage3(synthesis)
		}
		return fail(errorKindOf(err), err)
	}

	confidence := o.scorer.Score(rankings, aggregates, o.config.ConfidenceWeights)
	if query.VerdictType == VerdictTypeBinary && synthesis.ExtractedVerdictRaw == "none" {
		// §4.9: "none" -> UNCLEAR with confidence = 0.50, regardless of the
		// computed blend.
		confidence = 0.50
	}
	synthesis.Confidence = &confidence
	o.scorer.ApplyThreshold(synthesis, confidence, query.ConfidenceThreshold)
	o.metrics.recordConfidence(confidence)
	if transcript != nil {
		_ = transcript.WriteStage3(synthesis)
	}
	o.publish(requestID, EventStage3Complete, map[string]interface{}{"confidence": confidence})

	result := Result{
		RequestID:     requestID,
		Mode:          query.Mode,
		FinalResponse: synthesis.Text,
		CouncilModels: o.config.CouncilModels,
		Chairman:      o.config.ChairmanModel,
		Stage1Count:   stage1Count,
		Stage2Count:   countValidRankings(rankings),
		Aggregate:     toAggregateView(aggregates),
		StartedAt:     startedAt,
		EndedAt:       time.Now(),
	}
	if synthesis.Verdict != "" {
		v := synthesis.Verdict
		result.Verdict = &v
	}
	result.Confidence = synthesis.Confidence

	if transcript != nil {
		if writeErr := transcript.WriteResult(result); writeErr != nil {
			return fail(ErrTranscriptWriteError, writeErr)
		}
	}

	o.metrics.recordOutcome("done")
	o.publish(requestID, EventDone, nil)
	if o.bus != nil {
		o.bus.Close(requestID)
	}
	return &result, nil
}

func (o *Orchestrator) publish(requestID string, kind EventKind, payload interface{}) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(Event{Kind: kind, RequestID: requestID, At: time.Now(), Payload: payload})
}

func (o *Orchestrator) recordStageOutcomes(stage string, results []StageResult[string]) {
	for _, r := range results {
		o.metrics.recordCall(stage, r.Err)
	}
}

func (o *Orchestrator) recordRankingOutcomes(results []StageResult[Ranking]) {
	for _, r := range results {
		o.metrics.recordCall("stage2", r.Err)
	}
}

func countValidRankings(results []StageResult[Ranking]) int {
	n := 0
	for _, r := range results {
		if r.OK() {
			n++
		}
	}
	return n
}

func toAggregateView(aggregates []Aggregate) []AggregateView {
	out := make([]AggregateView, len(aggregates))
	for i, a := range aggregates {
		out[i] = AggregateView{
			Model:         a.Model,
			BordaPoints:   a.BordaPoints,
			MeanRubric:    a.MeanRubric,
			ReviewerCount: a.ReviewerCount,
		}
	}
	return out
}

// errorKindOf extracts the ErrorKind from a FatalError, falling back to
// Network for any other error shape (defensive; every internal error path
// returns a *FatalError).
func errorKindOf(err error) ErrorKind {
	if fe, ok := err.(*FatalError); ok {
		return fe.Kind
	}
	return ErrNetwork
}
