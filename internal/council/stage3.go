package council

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// stage3RetryBackoff is the fixed backoff schedule for chairman retries:
// exactly one retry at a 500ms base, per spec.md's "retries once with
// exponential backoff (base 500 ms); a second failure is fatal" (a single
// retry has no prior interval to grow exponentially from, so the schedule
// is just the base itself).
var stage3RetryBackoff = []time.Duration{500 * time.Millisecond}

// verdictLinePattern matches a whole line equal to the verdict line the
// chairman is instructed to emit, per §4.8/GLOSSARY:
// "FINAL_VERDICT: APPROVED|REJECTED". Anchored to the full line so prose
// earlier in the text that merely mentions FINAL_VERDICT (e.g. echoing the
// instruction while reasoning) is never mistaken for the real verdict.
var verdictLinePattern = regexp.MustCompile(`(?i)^FINAL_VERDICT:\s*(APPROVED|REJECTED)\s*$`)

// Stage3Synthesize produces the chairman's final synthesis, optionally
// extracting a binary verdict, per §4.8.
type Stage3Synthesize struct {
	caller ModelCaller
}

// NewStage3Synthesize constructs the Stage 3 runner.
func NewStage3Synthesize(caller ModelCaller) *Stage3Synthesize {
	return &Stage3Synthesize{caller: caller}
}

// Run dispatches the chairman prompt, retrying per stage3RetryBackoff on
// failure. Exhausting retries is fatal (SynthesisFailed), per §7's policy
// table: unlike Stage 1/2, there is no chairman to fall back to.
func (s *Stage3Synthesize) Run(ctx context.Context, query Query, chairman ModelId, textByModel map[ModelId]string, aggregates []Aggregate, stageTimeout time.Duration) (*Synthesis, error) {
	prompt := buildSynthesisPrompt(query, textByModel, aggregates)
	perCall := PerCallTimeout(stageTimeout)

	var lastErr error
	attempts := append([]time.Duration{0}, stage3RetryBackoff...)
	for i, backoff := range attempts {
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, &FatalError{Kind: ErrCancelled, Message: "context cancelled while retrying chairman synthesis"}
			}
		}
		text, _, err := s.caller.Call(ctx, chairman, prompt, perCall)
		if err == nil {
			return buildSynthesis(chairman, text, query.VerdictType), nil
		}
		lastErr = err
		_ = i
	}

	return nil, &FatalError{
		Kind:    ErrSynthesisFailed,
		Message: fmt.Sprintf("chairman %s failed after %d attempts: %v", chairman, len(attempts), lastErr),
	}
}

func buildSynthesis(chairman ModelId, text string, verdictType VerdictType) *Synthesis {
	syn := &Synthesis{Chairman: chairman, Text: text}
	if verdictType != VerdictTypeBinary {
		return syn
	}

	lineIdx, token := findTrailingVerdictLine(text)
	if lineIdx == -1 {
		syn.Verdict = VerdictUnclear
		syn.ExtractedVerdictRaw = "none"
		return syn
	}

	syn.ExtractedVerdictRaw = token
	switch token {
	case "APPROVED":
		syn.Verdict = VerdictPass
	case "REJECTED":
		syn.Verdict = VerdictFail
	default:
		syn.Verdict = VerdictUnclear
	}

	// Strip the matched verdict line from the reader-facing text; it is
	// metadata, not part of the synthesis prose.
	lines := strings.Split(text, "\n")
	lines = append(lines[:lineIdx], lines[lineIdx+1:]...)
	syn.Text = strings.TrimSpace(strings.Join(lines, "\n"))
	return syn
}

// findTrailingVerdictLine scans text from its last line backward for the
// first line matching verdictLinePattern, per §4.8's "scan from the end"
// requirement. Returns the matching line's index and its uppercased
// verdict token, or (-1, "") if no line matches.
func findTrailingVerdictLine(text string) (int, string) {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		match := verdictLinePattern.FindStringSubmatch(strings.TrimRight(lines[i], "\r"))
		if match != nil {
			return i, strings.ToUpper(match[1])
		}
	}
	return -1, ""
}

// buildSynthesisPrompt renders the chairman prompt: the original query,
// every surviving model's raw (non-anonymized) response with full
// attribution, and the Stage 2 consensus summary, per §4.8 ("Stage 3 sees
// raw, attributed responses; anonymization is a Stage 2-only concern").
func buildSynthesisPrompt(query Query, textByModel map[ModelId]string, aggregates []Aggregate) string {
	var b strings.Builder
	b.WriteString("You are the chairman of a panel of models. Synthesize a single best final answer to the question below, ")
	b.WriteString("drawing on each panelist's answer and the peer-review consensus. Resolve disagreements explicitly.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", query.Prompt)

	models := make([]ModelId, 0, len(textByModel))
	for m := range textByModel {
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i] < models[j] })

	for _, m := range models {
		fmt.Fprintf(&b, "--- Panelist %s ---\n%s\n\n", m, textByModel[m])
	}

	if len(aggregates) > 0 {
		b.WriteString("Peer-review consensus (higher borda_points and mean rubric score is stronger):\n")
		reviewed := false
		for _, agg := range aggregates {
			fmt.Fprintf(&b, "- %s: borda_points=%d mean_rubric=%.2f reviewer_count=%d\n",
				agg.Model, agg.BordaPoints, agg.MeanRubric.Mean(), agg.ReviewerCount)
			if agg.ReviewerCount > 0 {
				reviewed = true
			}
		}
		if !reviewed {
			b.WriteString("Note: no valid peer rankings were produced, so no panelist above has any reviewers.\n")
		}
		b.WriteString("\n")
	}

	if query.VerdictType == VerdictTypeBinary {
		b.WriteString("After your synthesis, on its own final line, output exactly one of:\n")
		b.WriteString("FINAL_VERDICT: APPROVED\n")
		b.WriteString("FINAL_VERDICT: REJECTED\n")
	}

	if query.Mode == ModeDebate {
		b.WriteString("Frame the synthesis as a resolution of the strongest disagreements between panelists, not a summary.\n")
	}

	return b.String()
}
