package shield

import (
	"context"
	"strings"
	"testing"

	"github.com/kbguard/kbguard-go/internal/rag"
)

// stubEmbedder returns a fixed vector per exact text, so similarity between
// answer and chunks is fully controlled by the test.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) EmbedOne(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, _ := s.EmbedOne(ctx, t)
		out = append(out, v)
	}
	return out, nil
}

func sourceChunk(docID, text string) rag.ScoredChunk {
	return rag.ScoredChunk{DocID: docID, Text: text, Score: 0.9, Metadata: map[string]string{}}
}

func Test_ValidateAnswer_NeverMutatesAnswer(t *testing.T) {
	t.Parallel()
	answer := "員工每年有十四天特休，超過 99 天需要簽核。"
	s := New(&stubEmbedder{})
	report, err := s.ValidateAnswer(context.Background(), "q", answer, []rag.ScoredChunk{
		sourceChunk("doc-1", "完全無關的內容"),
	})
	if err != nil {
		t.Fatalf("ValidateAnswer failed: %v", err)
	}
	if report.Answer != answer {
		t.Errorf("answer mutated: %q", report.Answer)
	}
}

func Test_ValidateAnswer_IdenticalVectorsAreGrounded(t *testing.T) {
	t.Parallel()
	emb := &stubEmbedder{vectors: map[string][]float32{
		"the answer":  {1, 0, 0},
		"the source.": {1, 0, 0},
	}}
	s := New(emb)
	report, err := s.ValidateAnswer(context.Background(), "q", "the answer", []rag.ScoredChunk{
		sourceChunk("doc-1", "the source."),
	})
	if err != nil {
		t.Fatalf("ValidateAnswer failed: %v", err)
	}
	if !report.Grounded {
		t.Errorf("identical vectors not grounded: score %v", report.ReliabilityScore)
	}
	if report.ReliabilityScore != 1.0 {
		t.Errorf("ReliabilityScore = %v, want 1.0", report.ReliabilityScore)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", report.Warnings)
	}
}

func Test_ValidateAnswer_GroundedVerdictIgnoresRounding(t *testing.T) {
	t.Parallel()
	// Similarity just below the grounded threshold: 0.6996 rounds to 0.700
	// in the report, but the verdict must stay ungrounded.
	emb := &stubEmbedder{vectors: map[string][]float32{
		"the answer":  {1, 0, 0},
		"the source.": {0.6996, 0.7145355, 0},
	}}
	s := New(emb)
	report, err := s.ValidateAnswer(context.Background(), "q", "the answer", []rag.ScoredChunk{
		sourceChunk("doc-1", "the source."),
	})
	if err != nil {
		t.Fatalf("ValidateAnswer failed: %v", err)
	}
	if report.Grounded {
		t.Errorf("score below threshold reported grounded: %v", report.ReliabilityScore)
	}
	if report.ReliabilityScore != 0.7 {
		t.Errorf("ReliabilityScore = %v, want rounded 0.7", report.ReliabilityScore)
	}
}

func Test_ValidateAnswer_UngroundedNumbersPenalized(t *testing.T) {
	t.Parallel()
	emb := &stubEmbedder{vectors: map[string][]float32{
		"the limit is 250 units": {1, 0, 0},
		"the source mentions 14": {1, 0, 0},
	}}
	s := New(emb)
	report, err := s.ValidateAnswer(context.Background(), "q", "the limit is 250 units", []rag.ScoredChunk{
		sourceChunk("doc-1", "the source mentions 14"),
	})
	if err != nil {
		t.Fatalf("ValidateAnswer failed: %v", err)
	}
	// One ungrounded claim: 1.0 * (1 - 0.2) = 0.8.
	if report.ReliabilityScore != 0.8 {
		t.Errorf("ReliabilityScore = %v, want 0.8", report.ReliabilityScore)
	}
	if len(report.Warnings) != 1 || !strings.Contains(report.Warnings[0], "1 claims") {
		t.Errorf("Warnings = %v, want one ungrounded-claim warning", report.Warnings)
	}
}

func Test_ValidateAnswer_SingleDigitNumbersIgnored(t *testing.T) {
	t.Parallel()
	emb := &stubEmbedder{vectors: map[string][]float32{
		"we have 3 teams": {1, 0, 0},
		"the source":      {1, 0, 0},
	}}
	s := New(emb)
	report, err := s.ValidateAnswer(context.Background(), "q", "we have 3 teams", []rag.ScoredChunk{
		sourceChunk("doc-1", "the source"),
	})
	if err != nil {
		t.Fatalf("ValidateAnswer failed: %v", err)
	}
	if report.ReliabilityScore != 1.0 {
		t.Errorf("single-digit number penalized: score %v", report.ReliabilityScore)
	}
}

func Test_ValidateAnswer_LowReliabilityWarnsForReview(t *testing.T) {
	t.Parallel()
	// Orthogonal vectors: similarity 0, score 0.
	emb := &stubEmbedder{vectors: map[string][]float32{
		"unrelated answer": {1, 0, 0},
		"the source":       {0, 1, 0},
	}}
	s := New(emb)
	report, err := s.ValidateAnswer(context.Background(), "q", "unrelated answer", []rag.ScoredChunk{
		sourceChunk("doc-1", "the source"),
	})
	if err != nil {
		t.Fatalf("ValidateAnswer failed: %v", err)
	}
	if report.Grounded {
		t.Error("orthogonal answer reported grounded")
	}
	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "human review") {
			found = true
		}
	}
	if !found {
		t.Errorf("no review warning in %v", report.Warnings)
	}
}

func Test_ValidateAnswer_SourcesListedInOrder(t *testing.T) {
	t.Parallel()
	s := New(&stubEmbedder{})
	report, err := s.ValidateAnswer(context.Background(), "q", "answer", []rag.ScoredChunk{
		sourceChunk("doc-2", "b"),
		sourceChunk("doc-1", "a"),
	})
	if err != nil {
		t.Fatalf("ValidateAnswer failed: %v", err)
	}
	if len(report.Sources) != 2 || report.Sources[0] != "doc-2" || report.Sources[1] != "doc-1" {
		t.Errorf("Sources = %v", report.Sources)
	}
}

func Test_CosineSimilarity(t *testing.T) {
	t.Parallel()
	got, err := cosineSimilarity([]float32{1, 0}, []float32{1, 0})
	if err != nil || got != 1.0 {
		t.Errorf("identical vectors: sim=%v err=%v", got, err)
	}
	got, err = cosineSimilarity([]float32{1, 0}, []float32{0, 1})
	if err != nil || got != 0.0 {
		t.Errorf("orthogonal vectors: sim=%v err=%v", got, err)
	}
	got, err = cosineSimilarity([]float32{0, 0}, []float32{1, 0})
	if err != nil || got != 0.0 {
		t.Errorf("zero-norm vector: sim=%v err=%v", got, err)
	}
	if _, err = cosineSimilarity([]float32{1}, []float32{1, 0}); err == nil {
		t.Error("dimension mismatch not reported")
	}
}
