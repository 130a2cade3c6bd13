package council

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// AnonymizationLabeler maps council models to opaque per-request labels
// (A, B, C, ...) using a cryptographically random permutation, per §4.2.
// Determinism is not an invariant — only the mapping being recorded in the
// transcript is (§3).
type AnonymizationLabeler struct{}

// NewAnonymizationLabeler constructs a labeler. It holds no state: every
// call to Label produces an independent random permutation.
func NewAnonymizationLabeler() *AnonymizationLabeler {
	return &AnonymizationLabeler{}
}

// Label assigns a shuffled A..Z label to each model in council. It returns
// an error if len(council) > 26, since the label alphabet is single uppercase
// letters per §3; the engine's council size is bounded well below that in
// practice (§5: "typical N <= 8").
func (l *AnonymizationLabeler) Label(council []ModelId) (*LabelMap, error) {
	if len(council) > 26 {
		return nil, fmt.Errorf("council: cannot label %d models with a single-letter alphabet", len(council))
	}
	order, err := cryptoPermutation(len(council))
	if err != nil {
		return nil, fmt.Errorf("council: failed to generate random permutation: %w", err)
	}
	m := NewLabelMap()
	for i, model := range council {
		label := Label(rune('A' + order[i]))
		m.set(model, label)
	}
	return m, nil
}

// Delabel resolves a Label back to its ModelId. Used only after Stage 2
// parsing, per §4.2.
func (l *AnonymizationLabeler) Delabel(m *LabelMap, label Label) (ModelId, bool) {
	return m.Model(label)
}

// cryptoPermutation returns a uniformly random permutation of [0, n) using
// crypto/rand, implementing a Fisher-Yates shuffle.
func cryptoPermutation(n int) ([]int, error) {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, err
		}
		j := int(jBig.Int64())
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm, nil
}
