package retrieval

import (
	"context"
	"math"
	"reflect"
	"testing"

	"github.com/attunelab/trtflow/internal/protocol"
)

func TestStaticRetrieverRanksByOverlap(t *testing.T) {
	r := NewStaticRetriever()
	passages, err := r.Retrieve(context.Background(), "where in the body is the sensation", protocol.StageBodyDialogue, 3)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(passages) == 0 {
		t.Fatal("no passages returned for a body query")
	}
	if passages[0].Stage != string(protocol.StageBodyDialogue) {
		t.Errorf("top passage stage = %s, want the hinted stage", passages[0].Stage)
	}
	for i := 1; i < len(passages); i++ {
		if passages[i].Score > passages[i-1].Score {
			t.Errorf("passages not sorted by score at index %d", i)
		}
	}
}

func TestStaticRetrieverStageHintWithoutOverlap(t *testing.T) {
	r := NewStaticRetriever()
	// Query shares no vocabulary with the bank; only the stage bias scores.
	passages, err := r.Retrieve(context.Background(), "zzz qqqq", protocol.StageResourceRecall, 5)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	for _, p := range passages {
		if p.Stage != string(protocol.StageResourceRecall) {
			t.Errorf("unhinted passage %s returned with no lexical overlap", p.ID)
		}
	}
}

func TestStaticRetrieverTruncatesToK(t *testing.T) {
	r := NewStaticRetriever()
	passages, err := r.Retrieve(context.Background(), "client body emotion resource protocol question", protocol.StageGoalAndVision, 2)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(passages) > 2 {
		t.Errorf("returned %d passages, want at most 2", len(passages))
	}

	// Non-positive k falls back to the default.
	passages, err = r.Retrieve(context.Background(), "client body emotion resource protocol question", protocol.StageGoalAndVision, 0)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(passages) > DefaultTopK {
		t.Errorf("returned %d passages, want at most the default %d", len(passages), DefaultTopK)
	}
}

func TestStaticRetrieverDeterministic(t *testing.T) {
	r := NewStaticRetriever()
	first, _ := r.Retrieve(context.Background(), "goal and vision for the work", protocol.StageGoalAndVision, 3)
	second, _ := r.Retrieve(context.Background(), "goal and vision for the work", protocol.StageGoalAndVision, 3)
	if !reflect.DeepEqual(first, second) {
		t.Error("identical queries returned different rankings")
	}
}

func TestFloat32BlobRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 0, 3.14159, math.MaxFloat32}
	got := decodeFloat32Slice(encodeFloat32Slice(vec))
	if !reflect.DeepEqual(got, vec) {
		t.Errorf("round trip = %v, want %v", got, vec)
	}
	if decodeFloat32Slice([]byte{1, 2, 3}) != nil {
		t.Error("truncated blob should decode to nil")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}
