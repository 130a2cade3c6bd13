package council

import "sort"

// RankingAggregator turns the set of per-reviewer Rankings into one
// consensus Aggregate row per respondent, per §4.7: Borda count with
// self-vote exclusion, tie-broken by mean accuracy, then mean relevance,
// then lexicographic ModelId.
type RankingAggregator struct{}

// NewRankingAggregator constructs a RankingAggregator. It holds no state.
func NewRankingAggregator() *RankingAggregator { return &RankingAggregator{} }

// Aggregate computes one Aggregate per respondent. rankings is Stage 2's
// raw output (some entries may be failed/malformed and are skipped);
// labels resolves each ranking's Labels back to ModelIds; respondents is
// the full set of models that must appear in the output (even those with
// zero surviving reviewers, per §4.7's "reviewer_count may be zero").
//
// Borda points for one ranking of size m award m points to the top
// choice, down to 1 for the last. If excludeSelfVotes is set and a
// reviewer ranked their own response, that self-placement contributes no
// points and no rubric sample to the reviewer's own aggregate (the ballot
// still contributes normally to every other candidate it ranks).
func (a *RankingAggregator) Aggregate(rankings []StageResult[Ranking], labels *LabelMap, respondents []ModelId, excludeSelfVotes bool) []Aggregate {
	points := make(map[ModelId]int, len(respondents))
	rubricSum := make(map[ModelId]RubricScores, len(respondents))
	rubricSqSum := make(map[ModelId]RubricScores, len(respondents))
	reviewerCount := make(map[ModelId]int, len(respondents))
	selfExcluded := make(map[ModelId]bool, len(respondents))

	for _, sr := range rankings {
		if !sr.OK() {
			continue
		}
		r := *sr.Value
		m := len(r.Ordering)
		for pos, label := range r.Ordering {
			model, ok := labels.Model(label)
			if !ok {
				continue
			}
			if excludeSelfVotes && model == r.Reviewer {
				selfExcluded[model] = true
				continue
			}
			points[model] += m - pos
			reviewerCount[model]++
			rs, ok := r.Rubric[label]
			if !ok {
				continue
			}
			addRubric(rubricSum, model, rs)
			addRubric(rubricSqSum, model, squareRubric(rs))
		}
	}

	aggregates := make([]Aggregate, 0, len(respondents))
	for _, model := range respondents {
		cnt := reviewerCount[model]
		var mean, variance RubricScores
		if cnt > 0 {
			mean = scaleRubric(rubricSum[model], 1/float64(cnt))
			meanSq := scaleRubric(rubricSqSum[model], 1/float64(cnt))
			variance = subtractRubric(meanSq, squareRubric(mean))
			variance = variance.Clamp0() // guard against float noise producing tiny negatives
		}
		aggregates = append(aggregates, Aggregate{
			Model:         model,
			BordaPoints:   points[model],
			MeanRubric:    mean,
			RubricVar:     variance,
			ReviewerCount: cnt,
			SelfExcluded:  selfExcluded[model],
		})
	}

	sort.SliceStable(aggregates, func(i, j int) bool {
		a, b := aggregates[i], aggregates[j]
		if a.BordaPoints != b.BordaPoints {
			return a.BordaPoints > b.BordaPoints
		}
		if a.MeanRubric.Accuracy != b.MeanRubric.Accuracy {
			return a.MeanRubric.Accuracy > b.MeanRubric.Accuracy
		}
		if a.MeanRubric.Relevance != b.MeanRubric.Relevance {
			return a.MeanRubric.Relevance > b.MeanRubric.Relevance
		}
		return a.Model < b.Model
	})

	return aggregates
}

func addRubric(m map[ModelId]RubricScores, model ModelId, delta RubricScores) {
	cur := m[model]
	cur.Accuracy += delta.Accuracy
	cur.Relevance += delta.Relevance
	cur.Completeness += delta.Completeness
	cur.Conciseness += delta.Conciseness
	cur.Clarity += delta.Clarity
	m[model] = cur
}

func squareRubric(r RubricScores) RubricScores {
	return RubricScores{
		Accuracy:     r.Accuracy * r.Accuracy,
		Relevance:    r.Relevance * r.Relevance,
		Completeness: r.Completeness * r.Completeness,
		Conciseness:  r.Conciseness * r.Conciseness,
		Clarity:      r.Clarity * r.Clarity,
	}
}

func scaleRubric(r RubricScores, k float64) RubricScores {
	return RubricScores{
		Accuracy:     r.Accuracy * k,
		Relevance:    r.Relevance * k,
		Completeness: r.Completeness * k,
		Conciseness:  r.Conciseness * k,
		Clarity:      r.Clarity * k,
	}
}

func subtractRubric(a, b RubricScores) RubricScores {
	return RubricScores{
		Accuracy:     a.Accuracy - b.Accuracy,
		Relevance:    a.Relevance - b.Relevance,
		Completeness: a.Completeness - b.Completeness,
		Conciseness:  a.Conciseness - b.Conciseness,
		Clarity:      a.Clarity - b.Clarity,
	}
}

// Clamp0 zeroes out negative values, which can appear as floating-point
// noise in a variance computed as E[X^2] - E[X]^2.
func (r RubricScores) Clamp0() RubricScores {
	clamp := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}
	return RubricScores{
		Accuracy:     clamp(r.Accuracy),
		Relevance:    clamp(r.Relevance),
		Completeness: clamp(r.Completeness),
		Conciseness:  clamp(r.Conciseness),
		Clarity:      clamp(r.Clarity),
	}
}
