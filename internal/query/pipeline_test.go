package query

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kbguard/kbguard-go/internal/gate"
	"github.com/kbguard/kbguard-go/internal/rag"
	"github.com/kbguard/kbguard-go/internal/shield"
)

type stubEmbedder struct {
	calls int
	fail  bool
}

func (s *stubEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	if s.fail {
		return nil, errors.New("embed backend down")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := s.EmbedOne(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type stubSearcher struct {
	chunks    []rag.ScoredChunk
	namespace string
	topK      int
}

func (s *stubSearcher) Search(ctx context.Context, vector []float32, namespace string, topK int) ([]rag.ScoredChunk, error) {
	s.namespace = namespace
	s.topK = topK
	return s.chunks, nil
}

type stubGenerator struct {
	answer string
	err    error
	calls  int
}

func (s *stubGenerator) Answer(ctx context.Context, question string, chunks []rag.ScoredChunk) (string, error) {
	s.calls++
	return s.answer, s.err
}

type stubValidator struct {
	report *shield.Report
	calls  int
}

func (s *stubValidator) ValidateAnswer(ctx context.Context, question, answer string, sourceChunks []rag.ScoredChunk) (*shield.Report, error) {
	s.calls++
	s.report.Answer = answer
	return s.report, nil
}

type recordingAudit struct {
	questions  []string
	statuses   []string
	docIDs     [][]string
	previews   []string
	failRecord bool
}

func (r *recordingAudit) RecordQuery(ctx context.Context, question, gateStatus string, docIDs []string, answerPreview string) error {
	if r.failRecord {
		return errors.New("audit db locked")
	}
	r.questions = append(r.questions, question)
	r.statuses = append(r.statuses, gateStatus)
	r.docIDs = append(r.docIDs, docIDs)
	r.previews = append(r.previews, answerPreview)
	return nil
}

// freshChunk returns a chunk that passes all gate rules.
func freshChunk(docID string, score float32) rag.ScoredChunk {
	return rag.ScoredChunk{
		DocID: docID,
		Text:  "annual leave is fourteen days",
		Score: score,
		Metadata: map[string]string{
			rag.MetaDocID:       docID,
			rag.MetaLastUpdated: time.Now().Format("2006-01-02"),
			rag.MetaStatus:      "active",
		},
	}
}

func newTestPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func Test_Answer_HappyPath(t *testing.T) {
	t.Parallel()
	store := &stubSearcher{chunks: []rag.ScoredChunk{freshChunk("doc-1", 0.9), freshChunk("doc-2", 0.8)}}
	gen := &stubGenerator{answer: "Fourteen days per year."}
	audit := &recordingAudit{}
	p := newTestPipeline(t, Config{
		Embedder:  &stubEmbedder{},
		Store:     store,
		Generator: gen,
		Audit:     audit,
	})

	resp, err := p.Answer(context.Background(), "how many leave days?", "hr-policies")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if resp.Answer != "Fourteen days per year." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.GateStatus != GateStatusPass {
		t.Errorf("gate status = %q, want pass", resp.GateStatus)
	}
	if len(resp.Sources) != 2 || resp.Sources[0] != "doc-1" {
		t.Errorf("sources = %v", resp.Sources)
	}
	if store.namespace != "hr-policies" || store.topK != DefaultTopK {
		t.Errorf("search called with namespace=%q topK=%d", store.namespace, store.topK)
	}
	if len(audit.statuses) != 1 || audit.statuses[0] != GateStatusPass {
		t.Fatalf("audit statuses = %v", audit.statuses)
	}
	if audit.previews[0] != "Fourteen days per year." {
		t.Errorf("audit preview = %q", audit.previews[0])
	}
	if len(audit.docIDs[0]) != 2 {
		t.Errorf("audit doc ids = %v", audit.docIDs[0])
	}
}

func Test_Answer_GateBlocked_NoGeneration(t *testing.T) {
	t.Parallel()
	gen := &stubGenerator{answer: "should never appear"}
	audit := &recordingAudit{}
	p := newTestPipeline(t, Config{
		Embedder:  &stubEmbedder{},
		Store:     &stubSearcher{}, // retrieval returns nothing
		Generator: gen,
		Audit:     audit,
	})

	resp, err := p.Answer(context.Background(), "anything", "hr-policies")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times for a blocked query", gen.calls)
	}
	if resp.GateStatus != gate.ReasonInsufficient {
		t.Errorf("gate status = %q", resp.GateStatus)
	}
	if !strings.Contains(resp.Answer, gate.ReasonInsufficient) {
		t.Errorf("blocked answer should name the reason, got %q", resp.Answer)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("blocked query should have no sources: %v", resp.Sources)
	}
	// Blocked queries are audited too, with no grounding docs.
	if len(audit.statuses) != 1 || audit.statuses[0] != gate.ReasonInsufficient {
		t.Fatalf("audit statuses = %v", audit.statuses)
	}
	if len(audit.docIDs[0]) != 0 {
		t.Errorf("audit doc ids = %v", audit.docIDs[0])
	}
}

func Test_Answer_UngroundedAnswerOverridden(t *testing.T) {
	t.Parallel()
	validator := &stubValidator{report: &shield.Report{
		ReliabilityScore: 0.4,
		Grounded:         false,
		Warnings:         []string{"answer reliability is low; human review recommended"},
	}}
	audit := &recordingAudit{}
	p := newTestPipeline(t, Config{
		Embedder:  &stubEmbedder{},
		Store:     &stubSearcher{chunks: []rag.ScoredChunk{freshChunk("doc-1", 0.9)}},
		Generator: &stubGenerator{answer: "Sixty days, probably."},
		Shield:    validator,
		Audit:     audit,
	})

	resp, err := p.Answer(context.Background(), "how many leave days?", "hr-policies")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if strings.Contains(resp.Answer, "Sixty days") {
		t.Errorf("ungrounded answer served: %q", resp.Answer)
	}
	if !strings.Contains(resp.Answer, "cannot answer") {
		t.Errorf("override should be the standard insufficiency response, got %q", resp.Answer)
	}
	if resp.Reliability != 0.4 {
		t.Errorf("reliability = %v, want 0.4", resp.Reliability)
	}
	if resp.GateStatus != GateStatusPass {
		t.Errorf("gate status = %q — the gate did pass, the shield overrode", resp.GateStatus)
	}
	// The audit preview must show what was actually served.
	if strings.Contains(audit.previews[0], "Sixty days") {
		t.Errorf("audit preview shows the rejected answer: %q", audit.previews[0])
	}
}

func Test_Answer_GroundedAnswerKept(t *testing.T) {
	t.Parallel()
	validator := &stubValidator{report: &shield.Report{ReliabilityScore: 0.91, Grounded: true}}
	p := newTestPipeline(t, Config{
		Embedder:  &stubEmbedder{},
		Store:     &stubSearcher{chunks: []rag.ScoredChunk{freshChunk("doc-1", 0.9)}},
		Generator: &stubGenerator{answer: "Fourteen days per year."},
		Shield:    validator,
		Audit:     &recordingAudit{},
	})

	resp, err := p.Answer(context.Background(), "how many leave days?", "hr-policies")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if resp.Answer != "Fourteen days per year." {
		t.Errorf("grounded answer was changed: %q", resp.Answer)
	}
	if resp.Reliability != 0.91 {
		t.Errorf("reliability = %v", resp.Reliability)
	}
	if validator.calls != 1 {
		t.Errorf("shield called %d times", validator.calls)
	}
}

func Test_Answer_MissingAuditTrailWarnsLoudly(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := newTestPipeline(t, Config{
		Embedder:  &stubEmbedder{},
		Store:     &stubSearcher{chunks: []rag.ScoredChunk{freshChunk("doc-1", 0.9)}},
		Generator: &stubGenerator{answer: "an answer"},
		Logger:    slog.New(slog.NewTextHandler(&buf, nil)),
	})

	if _, err := p.Answer(context.Background(), "q", "hr-policies"); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if !strings.Contains(buf.String(), "no audit trail configured") {
		t.Errorf("missing audit trail not warned about; log output:\n%s", buf.String())
	}
}

func Test_Answer_AuditFailureDoesNotFailQuery(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, Config{
		Embedder:  &stubEmbedder{},
		Store:     &stubSearcher{chunks: []rag.ScoredChunk{freshChunk("doc-1", 0.9)}},
		Generator: &stubGenerator{answer: "an answer"},
		Audit:     &recordingAudit{failRecord: true},
	})

	resp, err := p.Answer(context.Background(), "q", "hr-policies")
	if err != nil {
		t.Fatalf("Answer should survive an audit write failure: %v", err)
	}
	if resp.Answer != "an answer" {
		t.Errorf("answer = %q", resp.Answer)
	}
}

func Test_Answer_PreviewTruncatedTo100Chars(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("很", 150)
	audit := &recordingAudit{}
	p := newTestPipeline(t, Config{
		Embedder:  &stubEmbedder{},
		Store:     &stubSearcher{chunks: []rag.ScoredChunk{freshChunk("doc-1", 0.9)}},
		Generator: &stubGenerator{answer: long},
		Audit:     audit,
	})

	if _, err := p.Answer(context.Background(), "q", "hr-policies"); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	got := []rune(audit.previews[0])
	if len(got) != answerPreviewLen {
		t.Errorf("preview length = %d runes, want %d", len(got), answerPreviewLen)
	}
}

func Test_Answer_EmbedFailureSurfaces(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, Config{
		Embedder:  &stubEmbedder{fail: true},
		Store:     &stubSearcher{},
		Generator: &stubGenerator{},
	})

	if _, err := p.Answer(context.Background(), "q", "hr-policies"); err == nil {
		t.Fatal("expected error when embedding fails")
	}
}

func Test_New_RequiresCoreComponents(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Store: &stubSearcher{}, Generator: &stubGenerator{}}); err == nil {
		t.Error("missing embedder accepted")
	}
	if _, err := New(Config{Embedder: &stubEmbedder{}, Generator: &stubGenerator{}}); err == nil {
		t.Error("missing store accepted")
	}
	if _, err := New(Config{Embedder: &stubEmbedder{}, Store: &stubSearcher{}}); err == nil {
		t.Error("missing generator accepted")
	}
}
