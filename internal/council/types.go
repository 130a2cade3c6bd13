// Package council implements the LLM council deliberation engine: the
// pipeline that fans a query out to council models, collects anonymized
// peer rankings, aggregates them into a consensus, and synthesizes a final
// chairman answer with a reproducible on-disk transcript.
package council

import "time"

// Mode selects how Stage 3 frames its synthesis prompt.
type Mode string

const (
	ModeConsensus Mode = "consensus"
	ModeDebate    Mode = "debate"
)

// VerdictType selects whether Stage 3 must extract a binary verdict.
type VerdictType string

const (
	VerdictTypeNone   VerdictType = "none"
	VerdictTypeBinary VerdictType = "binary"
)

// Verdict is the engine's final classification in binary verdict mode.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictFail    Verdict = "fail"
	VerdictUnclear Verdict = "unclear"
)

// ModelId is an opaque model identifier honoured only by ModelCaller
// implementations. The engine never interprets it.
type ModelId string

// Label is an opaque per-request identifier (A, B, C, ...) substituted for
// a ModelId during anonymized peer review.
type Label string

// Query is the immutable input to one deliberation.
type Query struct {
	Prompt              string      `json:"prompt"`
	Mode                Mode        `json:"mode"`
	VerdictType         VerdictType `json:"verdict_type"`
	ConfidenceThreshold float64     `json:"confidence_threshold"`
	IncludeDetails      bool        `json:"include_details"`
}

// StageTimeouts holds the wall-clock timeout budget for each stage.
type StageTimeouts struct {
	Stage1 time.Duration `json:"s1"`
	Stage2 time.Duration `json:"s2"`
	Stage3 time.Duration `json:"s3"`
}

// CouncilConfig configures one deliberation. It is resolved by the caller
// (typically internal/config) before the Orchestrator is constructed; the
// engine holds no configuration of its own beyond this struct.
type CouncilConfig struct {
	CouncilModels      []ModelId     `json:"council_models"`
	ChairmanModel      ModelId       `json:"chairman_model"`
	NormalizerModel    ModelId       `json:"normalizer_model,omitempty"`
	ExcludeSelfVotes   bool          `json:"exclude_self_votes"`
	StyleNormalization bool          `json:"style_normalization"`
	MaxReviewers       int           `json:"max_reviewers,omitempty"`
	PerStageTimeout    StageTimeouts `json:"per_stage_timeout_ms"`

	// ConfidenceWeights overrides the default ConfidenceScorer blend
	// (§4.9/§9: "SHOULD be configurable"). The zero value selects the
	// documented defaults.
	ConfidenceWeights ConfidenceWeights `json:"confidence_weights,omitempty"`
}

// Validate enforces the CouncilConfig invariants of §3: at least two unique
// council models, a chairman configured, positive timeouts for every
// stage, and a non-negative max_reviewers.
func (c CouncilConfig) Validate() error {
	if len(c.CouncilModels) < 2 {
		return &FatalError{Kind: ErrConfigInvalid, Message: "council_models must contain at least 2 models"}
	}
	seen := make(map[ModelId]struct{}, len(c.CouncilModels))
	for _, m := range c.CouncilModels {
		if m == "" {
			return &FatalError{Kind: ErrConfigInvalid, Message: "council_models must not contain an empty ModelId"}
		}
		if _, ok := seen[m]; ok {
			return &FatalError{Kind: ErrConfigInvalid, Message: "council_models must be unique, duplicate: " + string(m)}
		}
		seen[m] = struct{}{}
	}
	if c.ChairmanModel == "" {
		return &FatalError{Kind: ErrConfigInvalid, Message: "chairman_model is required"}
	}
	if c.PerStageTimeout.Stage1 <= 0 || c.PerStageTimeout.Stage2 <= 0 || c.PerStageTimeout.Stage3 <= 0 {
		return &FatalError{Kind: ErrConfigInvalid, Message: "per_stage_timeout_ms must be positive for every stage"}
	}
	if c.MaxReviewers < 0 {
		return &FatalError{Kind: ErrConfigInvalid, Message: "max_reviewers must not be negative"}
	}
	return nil
}

// StageResult carries one model's outcome for one stage. Exactly one of
// Value/Err is set.
type StageResult[T any] struct {
	Model     ModelId    `json:"model"`
	Value     *T         `json:"value,omitempty"`
	Err       ErrorKind  `json:"error,omitempty"`
	LatencyMs int64      `json:"latency_ms"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`
}

// OK reports whether the stage call succeeded.
func (r StageResult[T]) OK() bool { return r.Value != nil && r.Err == "" }

// LabelMap is a bijection ModelId <-> Label for one request.
type LabelMap struct {
	toLabel map[ModelId]Label
	toModel map[Label]ModelId
}

// NewLabelMap builds an (initially empty) LabelMap.
func NewLabelMap() *LabelMap {
	return &LabelMap{toLabel: make(map[ModelId]Label), toModel: make(map[Label]ModelId)}
}

func (m *LabelMap) set(model ModelId, label Label) {
	m.toLabel[model] = label
	m.toModel[label] = model
}

// Label returns the label assigned to model, if any.
func (m *LabelMap) Label(model ModelId) (Label, bool) {
	l, ok := m.toLabel[model]
	return l, ok
}

// Model returns the model assigned to label, if any.
func (m *LabelMap) Model(label Label) (ModelId, bool) {
	mo, ok := m.toModel[label]
	return mo, ok
}

// Len reports the number of entries in the map.
func (m *LabelMap) Len() int { return len(m.toLabel) }

// Entries returns a stable snapshot of the mapping for serialization,
// keyed by label so the transcript is deterministic to read even though
// the assignment itself was randomized.
func (m *LabelMap) Entries() map[Label]ModelId {
	out := make(map[Label]ModelId, len(m.toModel))
	for k, v := range m.toModel {
		out[k] = v
	}
	return out
}

// MarshalJSON renders the LabelMap as {"label_to_model": {...}}.
func (m *LabelMap) MarshalJSON() ([]byte, error) {
	return marshalLabelMap(m)
}

// UnmarshalJSON restores a LabelMap from the {"label_to_model": {...}} form.
func (m *LabelMap) UnmarshalJSON(data []byte) error {
	return unmarshalLabelMap(m, data)
}

// RubricScores holds the fixed five-dimensional evaluation for one response.
type RubricScores struct {
	Accuracy     float64 `json:"accuracy"`
	Relevance    float64 `json:"relevance"`
	Completeness float64 `json:"completeness"`
	Conciseness  float64 `json:"conciseness"`
	Clarity      float64 `json:"clarity"`
}

// clampScore clamps a rubric score into [0,10] per §3.
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

// Clamp returns a copy with every dimension clamped to [0,10].
func (r RubricScores) Clamp() RubricScores {
	return RubricScores{
		Accuracy:     clampScore(r.Accuracy),
		Relevance:    clampScore(r.Relevance),
		Completeness: clampScore(r.Completeness),
		Conciseness:  clampScore(r.Conciseness),
		Clarity:      clampScore(r.Clarity),
	}
}

// Mean returns the unweighted mean of the five dimensions.
func (r RubricScores) Mean() float64 {
	return (r.Accuracy + r.Relevance + r.Completeness + r.Conciseness + r.Clarity) / 5
}

// Ranking is one reviewer's parsed peer-review output.
type Ranking struct {
	Reviewer ModelId                 `json:"reviewer"`
	Ordering []Label                 `json:"ordering"`
	Rubric   map[Label]RubricScores  `json:"rubric"`
}

// Aggregate is the per-response consensus row of §3/§4.7.
type Aggregate struct {
	Model         ModelId      `json:"model"`
	BordaPoints   int          `json:"borda_points"`
	MeanRubric    RubricScores `json:"mean_rubric"`
	RubricVar     RubricScores `json:"rubric_variance"`
	ReviewerCount int          `json:"reviewer_count"`
	SelfExcluded  bool         `json:"self_excluded"`
}

// ConfidenceWeights are the blend weights of §4.9/§9. The zero value
// selects DefaultConfidenceWeights.
type ConfidenceWeights struct {
	Rank   float64 `json:"rank"`
	Rubric float64 `json:"rubric"`
	Spread float64 `json:"spread"`
}

// DefaultConfidenceWeights returns the weights documented in §4.9.
func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{Rank: 0.5, Rubric: 0.3, Spread: 0.2}
}

func (w ConfidenceWeights) orDefault() ConfidenceWeights {
	if w.Rank == 0 && w.Rubric == 0 && w.Spread == 0 {
		return DefaultConfidenceWeights()
	}
	return w
}

// Synthesis is the chairman's structured output.
type Synthesis struct {
	Chairman            ModelId `json:"chairman"`
	Text                string  `json:"text"`
	Verdict             Verdict `json:"verdict,omitempty"`
	Confidence          *float64 `json:"confidence,omitempty"`
	ExtractedVerdictRaw string  `json:"extracted_verdict_raw,omitempty"`
}

// Result is the stable, user-facing envelope described in §6.
type Result struct {
	RequestID      string          `json:"request_id"`
	Mode           Mode            `json:"mode"`
	FinalResponse  string          `json:"final_response"`
	Verdict        *Verdict        `json:"verdict"`
	Confidence     *float64        `json:"confidence"`
	CouncilModels  []ModelId       `json:"council_models"`
	Chairman       ModelId         `json:"chairman"`
	Stage1Count    int             `json:"stage1_count"`
	Stage2Count    int             `json:"stage2_count"`
	Aggregate      []AggregateView `json:"aggregate"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        time.Time       `json:"ended_at"`
}

// AggregateView is the trimmed aggregate row published in result.json.
type AggregateView struct {
	Model         ModelId      `json:"model"`
	BordaPoints   int          `json:"borda_points"`
	MeanRubric    RubricScores `json:"mean_rubric"`
	ReviewerCount int          `json:"reviewer_count"`
}
