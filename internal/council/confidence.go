package council

import "sort"

// maxRubricVariance is V_max, the variance of a uniform [0,10] score per
// §4.9, used to normalize the rubric-agreement term into [0,1].
const maxRubricVariance = 6.25

// ConfidenceScorer blends three independent signals into the single
// confidence score of §4.9: how much reviewers agree on relative ordering
// (Kendall-tau), how much they agree on absolute rubric scores (inverse
// variance), and how decisively the aggregate separates the top response
// from the rest (Borda spread).
type ConfidenceScorer struct{}

// NewConfidenceScorer constructs a ConfidenceScorer. It holds no state.
func NewConfidenceScorer() *ConfidenceScorer { return &ConfidenceScorer{} }

// Score computes the blended confidence, clamped to [0.05, 0.99] per §4.9
// (a confidence of exactly 0 or 1 is never reported). Fewer than two valid
// rankings makes ranking agreement meaningless, so the whole score is
// pinned to 0.50 (neither confident nor unconfident) rather than blended.
func (c *ConfidenceScorer) Score(rankings []StageResult[Ranking], aggregates []Aggregate, weights ConfidenceWeights) float64 {
	valid := make([]Ranking, 0, len(rankings))
	for _, r := range rankings {
		if r.OK() {
			valid = append(valid, *r.Value)
		}
	}
	if len(valid) < 2 {
		return 0.50
	}

	w := weights.orDefault()
	rankAgreement := meanPairwiseKendallTau(valid)
	rubricAgreement := rubricAgreementScore(aggregates)
	spread := bordaSpreadScore(aggregates)

	score := w.Rank*rankAgreement + w.Rubric*rubricAgreement + w.Spread*spread
	if score < 0.05 {
		return 0.05
	}
	if score > 0.99 {
		return 0.99
	}
	return score
}

// ApplyThreshold enforces §4.9's confidence-gated verdict rule. Per the
// verdict mapping table, only an APPROVED/Pass verdict is confidence-gated:
// it downgrades to Unclear if confidence falls short of threshold. REJECTED
// maps to Fail regardless of confidence, so it is never touched here. A
// threshold of 0 (unset) never downgrades.
func (c *ConfidenceScorer) ApplyThreshold(syn *Synthesis, confidence float64, threshold float64) {
	if syn.Verdict != VerdictPass || threshold <= 0 {
		return
	}
	if confidence < threshold {
		syn.Verdict = VerdictUnclear
	}
}

// meanPairwiseKendallTau averages the normalized Kendall-tau rank
// agreement over every pair of reviewers that share at least two labels in
// common (stratified sampling may give reviewers disjoint or partially
// overlapping subject sets, per §4.6).
func meanPairwiseKendallTau(rankings []Ranking) float64 {
	var sum float64
	var n int
	for i := 0; i < len(rankings); i++ {
		for j := i + 1; j < len(rankings); j++ {
			tau, ok := pairwiseKendallTau(rankings[i].Ordering, rankings[j].Ordering)
			if !ok {
				continue
			}
			sum += tau
			n++
		}
	}
	if n == 0 {
		return 0.50
	}
	return sum / float64(n)
}

// pairwiseKendallTau computes the normalized Kendall-tau rank correlation
// (mapped from [-1,1] to [0,1], so 1.0 means perfect agreement) between two
// orderings, restricted to the labels they have in common. Returns ok=false
// if fewer than two labels are shared, since tau is undefined below that.
func pairwiseKendallTau(a, b []Label) (float64, bool) {
	posA := make(map[Label]int, len(a))
	for i, l := range a {
		posA[l] = i
	}
	posB := make(map[Label]int, len(b))
	for i, l := range b {
		posB[l] = i
	}

	common := make([]Label, 0, len(a))
	for _, l := range a {
		if _, ok := posB[l]; ok {
			common = append(common, l)
		}
	}
	if len(common) < 2 {
		return 0, false
	}

	var concordant, discordant int
	for i := 0; i < len(common); i++ {
		for j := i + 1; j < len(common); j++ {
			li, lj := common[i], common[j]
			signA := posA[li] - posA[lj]
			signB := posB[li] - posB[lj]
			switch {
			case (signA > 0) == (signB > 0):
				concordant++
			default:
				discordant++
			}
		}
	}
	total := concordant + discordant
	if total == 0 {
		return 0, false
	}
	tau := float64(concordant-discordant) / float64(total)
	return (tau + 1) / 2, true
}

// rubricAgreementScore averages each respondent's mean rubric variance and
// maps low variance (reviewers agree on scores) to a score near 1.
func rubricAgreementScore(aggregates []Aggregate) float64 {
	var sum float64
	var n int
	for _, agg := range aggregates {
		if agg.ReviewerCount == 0 {
			continue
		}
		sum += agg.RubricVar.Mean()
		n++
	}
	if n == 0 {
		return 0.50
	}
	meanVariance := sum / float64(n)
	score := 1 - meanVariance/maxRubricVariance
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// bordaSpreadScore implements §4.9's c_spread: how decisively the top
// response separates itself from its closest competitor, as a fraction of
// the top response's own total. With a single respondent there is no
// competitor to separate from, so the spread is defined as maximally
// decisive (1), not a coin-flip 0.50.
func bordaSpreadScore(aggregates []Aggregate) float64 {
	if len(aggregates) < 2 {
		return 1
	}

	// aggregator.Aggregate already returns aggregates sorted by BordaPoints
	// descending, but sort defensively rather than assume caller ordering.
	sorted := make([]Aggregate, len(aggregates))
	copy(sorted, aggregates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BordaPoints > sorted[j].BordaPoints })

	top, second := sorted[0].BordaPoints, sorted[1].BordaPoints
	if top == 0 {
		return 1
	}
	score := float64(top-second) / float64(top)
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}
