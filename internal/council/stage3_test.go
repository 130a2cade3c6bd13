package council

import (
	"context"
	"testing"
	"time"
)

func TestStage3SynthesizeExtractsApprovedVerdict(t *testing.T) {
	caller := newScriptedCaller()
	caller.reply("chairman", "The panel agrees the change is safe.\n\nFINAL_VERDICT: APPROVED")

	stage3 := NewStage3Synthesize(caller)
	syn, err := stage3.Run(context.Background(), Query{Prompt: "q", VerdictType: VerdictTypeBinary}, "chairman", map[ModelId]string{"a": "text a"}, nil, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if syn.Verdict != VerdictPass {
		t.Fatalf("expected VerdictPass, got %v", syn.Verdict)
	}
	if containsSubstr(syn.Text, "FINAL_VERDICT") {
		t.Fatalf("expected verdict line stripped from synthesis text, got %q", syn.Text)
	}
}

func TestStage3SynthesizeExtractsRejectedVerdict(t *testing.T) {
	caller := newScriptedCaller()
	caller.reply("chairman", "This is not safe to ship.\nFINAL_VERDICT: REJECTED")

	stage3 := NewStage3Synthesize(caller)
	syn, err := stage3.Run(context.Background(), Query{Prompt: "q", VerdictType: VerdictTypeBinary}, "chairman", map[ModelId]string{"a": "text a"}, nil, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if syn.Verdict != VerdictFail {
		t.Fatalf("expected VerdictFail, got %v", syn.Verdict)
	}
}

func TestStage3SynthesizeIgnoresEarlierMentionAndUsesTrailingLine(t *testing.T) {
	caller := newScriptedCaller()
	caller.reply("chairman", "I was told to end with FINAL_VERDICT: REJECTED if unsafe, but on review it's fine.\nFINAL_VERDICT: APPROVED")

	stage3 := NewStage3Synthesize(caller)
	syn, err := stage3.Run(context.Background(), Query{Prompt: "q", VerdictType: VerdictTypeBinary}, "chairman", map[ModelId]string{"a": "text a"}, nil, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if syn.Verdict != VerdictPass {
		t.Fatalf("expected the trailing APPROVED line to win, got %v", syn.Verdict)
	}
	if syn.ExtractedVerdictRaw != "APPROVED" {
		t.Fatalf("expected extracted_verdict_raw=APPROVED, got %q", syn.ExtractedVerdictRaw)
	}
}

func TestStage3SynthesizeExtractedVerdictRawIsTokenOnly(t *testing.T) {
	caller := newScriptedCaller()
	caller.reply("chairman", "Looks good.\nFINAL_VERDICT: REJECTED")

	stage3 := NewStage3Synthesize(caller)
	syn, err := stage3.Run(context.Background(), Query{Prompt: "q", VerdictType: VerdictTypeBinary}, "chairman", map[ModelId]string{"a": "text a"}, nil, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if syn.ExtractedVerdictRaw != "REJECTED" {
		t.Fatalf("expected extracted_verdict_raw to be the bare token, got %q", syn.ExtractedVerdictRaw)
	}
}

func TestStage3SynthesizeUnclearWhenNoVerdictLine(t *testing.T) {
	caller := newScriptedCaller()
	caller.reply("chairman", "Here is a synthesis with no explicit verdict.")

	stage3 := NewStage3Synthesize(caller)
	syn, err := stage3.Run(context.Background(), Query{Prompt: "q", VerdictType: VerdictTypeBinary}, "chairman", map[ModelId]string{"a": "text a"}, nil, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if syn.Verdict != VerdictUnclear {
		t.Fatalf("expected VerdictUnclear, got %v", syn.Verdict)
	}
	if syn.ExtractedVerdictRaw != "none" {
		t.Fatalf("expected extracted_verdict_raw=none, got %q", syn.ExtractedVerdictRaw)
	}
}

func TestStage3SynthesizeNoVerdictModeLeavesVerdictEmpty(t *testing.T) {
	caller := newScriptedCaller()
	caller.reply("chairman", "Just a synthesis.")

	stage3 := NewStage3Synthesize(caller)
	syn, err := stage3.Run(context.Background(), Query{Prompt: "q", VerdictType: VerdictTypeNone}, "chairman", map[ModelId]string{"a": "text a"}, nil, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if syn.Verdict != "" {
		t.Fatalf("expected empty verdict, got %v", syn.Verdict)
	}
}

func TestStage3SynthesizeRetriesThenFails(t *testing.T) {
	caller := newScriptedCaller()
	attempts := 0
	caller.dynamic("chairman", func(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
		attempts++
		return "", &UpstreamError{Kind: ErrUpstream5xx, Model: "chairman"}
	})

	stage3 := NewStage3Synthesize(caller)
	_, err := stage3.Run(context.Background(), Query{Prompt: "q"}, "chairman", map[ModelId]string{"a": "text a"}, nil, 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	fe, ok := err.(*FatalError)
	if !ok || fe.Kind != ErrSynthesisFailed {
		t.Fatalf("expected FatalError{SynthesisFailed}, got %#v", err)
	}
	if attempts != len(stage3RetryBackoff)+1 {
		t.Fatalf("expected %d attempts, got %d", len(stage3RetryBackoff)+1, attempts)
	}
}

func TestStage3SynthesizeSucceedsAfterOneRetry(t *testing.T) {
	caller := newScriptedCaller()
	attempts := 0
	caller.dynamic("chairman", func(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
		attempts++
		if attempts == 1 {
			return "", &UpstreamError{Kind: ErrUpstream5xx, Model: "chairman"}
		}
		return "recovered synthesis", nil
	})

	stage3 := NewStage3Synthesize(caller)
	syn, err := stage3.Run(context.Background(), Query{Prompt: "q"}, "chairman", map[ModelId]string{"a": "text a"}, nil, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if syn.Text != "recovered synthesis" {
		t.Fatalf("unexpected text: %q", syn.Text)
	}
}
