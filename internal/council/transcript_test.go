package council

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTranscriptWriterFullSequence(t *testing.T) {
	root := t.TempDir()
	writer := NewTranscriptWriter(root)

	transcript, err := writer.Begin(time.Now())
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}

	query := Query{Prompt: "what is the capital of France?"}
	config := CouncilConfig{
		CouncilModels:   []ModelId{"a", "b"},
		ChairmanModel:   "a",
		PerStageTimeout: StageTimeouts{Stage1: time.Second, Stage2: time.Second, Stage3: time.Second},
	}
	if err := transcript.WriteRequest("req-1", query, config); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	stage1 := []StageResult[string]{{Model: "a", Value: strPtr("answer")}}
	if err := transcript.WriteStage1(stage1); err != nil {
		t.Fatalf("WriteStage1: %v", err)
	}

	labels := NewLabelMap()
	labels.set("a", "A")
	if err := transcript.WriteStage2(labels, nil, nil); err != nil {
		t.Fatalf("WriteStage2: %v", err)
	}

	syn := &Synthesis{Chairman: "a", Text: "final answer"}
	if err := transcript.WriteStage3(syn); err != nil {
		t.Fatalf("WriteStage3: %v", err)
	}

	result := Result{RequestID: "req-1", FinalResponse: "final answer"}
	if err := transcript.WriteResult(result); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}

	for _, name := range []string{"request.json", "stage1.json", "stage2.json", "stage3.json", "result.json"} {
		path := filepath.Join(transcript.Dir(), name)
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
	}

	var readBack Result
	data, err := os.ReadFile(filepath.Join(transcript.Dir(), "result.json"))
	if err != nil {
		t.Fatalf("failed to read result.json: %v", err)
	}
	if err := json.Unmarshal(data, &readBack); err != nil {
		t.Fatalf("failed to unmarshal result.json: %v", err)
	}
	if readBack.RequestID != "req-1" {
		t.Fatalf("unexpected request id: %q", readBack.RequestID)
	}

	// No leftover temp files.
	entries, err := os.ReadDir(transcript.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name()[0] == '.' {
			t.Fatalf("unexpected leftover temp file: %s", e.Name())
		}
	}
}

func TestTranscriptWriterSortsObjectKeys(t *testing.T) {
	root := t.TempDir()
	writer := NewTranscriptWriter(root)
	transcript, err := writer.Begin(time.Now())
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}

	result := Result{RequestID: "req-1", Mode: ModeConsensus, FinalResponse: "final answer", Chairman: "a"}
	if err := transcript.WriteResult(result); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(transcript.Dir(), "result.json"))
	if err != nil {
		t.Fatalf("failed to read result.json: %v", err)
	}

	// "chairman" must appear before "final_response", which must appear
	// before "mode", which must appear before "request_id": alphabetical,
	// not the struct's declaration order.
	text := string(data)
	chairmanIdx := indexOf(text, `"chairman"`)
	finalIdx := indexOf(text, `"final_response"`)
	modeIdx := indexOf(text, `"mode"`)
	requestIdx := indexOf(text, `"request_id"`)
	if chairmanIdx == -1 || finalIdx == -1 || modeIdx == -1 || requestIdx == -1 {
		t.Fatalf("expected all four keys present, got %s", text)
	}
	if !(chairmanIdx < finalIdx && finalIdx < modeIdx && modeIdx < requestIdx) {
		t.Fatalf("expected alphabetically sorted keys, got order chairman=%d final_response=%d mode=%d request_id=%d", chairmanIdx, finalIdx, modeIdx, requestIdx)
	}
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestTranscriptWriterUniqueDirectories(t *testing.T) {
	root := t.TempDir()
	writer := NewTranscriptWriter(root)
	now := time.Now()

	t1, err := writer.Begin(now)
	if err != nil {
		t.Fatalf("first Begin failed: %v", err)
	}
	t2, err := writer.Begin(now)
	if err != nil {
		t.Fatalf("second Begin failed: %v", err)
	}
	if t1.Dir() == t2.Dir() {
		t.Fatalf("expected distinct directories, both got %s", t1.Dir())
	}
}
