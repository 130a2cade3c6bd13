package council

import "testing"

func TestAnonymizationLabelerRoundTrip(t *testing.T) {
	council := []ModelId{"gpt", "claude", "gemini", "llama"}
	labeler := NewAnonymizationLabeler()

	m, err := labeler.Label(council)
	if err != nil {
		t.Fatalf("Label returned error: %v", err)
	}
	if m.Len() != len(council) {
		t.Fatalf("expected %d entries, got %d", len(council), m.Len())
	}

	seen := make(map[Label]bool)
	for _, model := range council {
		label, ok := m.Label(model)
		if !ok {
			t.Fatalf("model %s was not assigned a label", model)
		}
		if seen[label] {
			t.Fatalf("label %s assigned to more than one model", label)
		}
		seen[label] = true

		back, ok := labeler.Delabel(m, label)
		if !ok || back != model {
			t.Fatalf("Delabel(%s) = %s, %v; want %s, true", label, back, ok, model)
		}
	}
}

func TestAnonymizationLabelerTooManyModels(t *testing.T) {
	council := make([]ModelId, 27)
	for i := range council {
		council[i] = ModelId(rune('a' + i))
	}
	labeler := NewAnonymizationLabeler()
	if _, err := labeler.Label(council); err == nil {
		t.Fatal("expected an error for a council larger than the label alphabet")
	}
}

func TestCryptoPermutationIsAPermutation(t *testing.T) {
	perm, err := cryptoPermutation(10)
	if err != nil {
		t.Fatalf("cryptoPermutation returned error: %v", err)
	}
	seen := make(map[int]bool, len(perm))
	for _, v := range perm {
		if v < 0 || v >= 10 {
			t.Fatalf("value %d out of range", v)
		}
		if seen[v] {
			t.Fatalf("value %d repeated", v)
		}
		seen[v] = true
	}
}
