// Package query runs the governed answer flow: embed the question, search
// the caller's namespace, validate the retrieval through the gate, generate
// only when the gate passes, score the answer through the shield, and record
// the outcome on the audit trail whether or not an answer was produced.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kbguard/kbguard-go/internal/gate"
	"github.com/kbguard/kbguard-go/internal/rag"
	"github.com/kbguard/kbguard-go/internal/shield"
)

const (
	// DefaultTopK is how many chunks retrieval returns before the gate
	// filters them.
	DefaultTopK = 10

	// answerPreviewLen is how many characters of the answer the audit trail
	// keeps.
	answerPreviewLen = 100
)

// GateStatusPass is recorded on the audit trail when the gate let the
// retrieval through; blocked queries record the gate's reason instead.
const GateStatusPass = "pass"

// Searcher is the retrieval slice of the vector store the pipeline needs.
type Searcher interface {
	Search(ctx context.Context, vector []float32, namespace string, topK int) ([]rag.ScoredChunk, error)
}

// Answerer generates an answer from a question and its grounding chunks.
type Answerer interface {
	Answer(ctx context.Context, question string, chunks []rag.ScoredChunk) (string, error)
}

// AnswerValidator scores a generated answer against its source chunks.
// *shield.Shield implements it.
type AnswerValidator interface {
	ValidateAnswer(ctx context.Context, question, answer string, sourceChunks []rag.ScoredChunk) (*shield.Report, error)
}

// AuditLogger records one query outcome. *audit.Trail implements it.
type AuditLogger interface {
	RecordQuery(ctx context.Context, question, gateStatus string, docIDs []string, answerPreview string) error
}

// Response is the pipeline's result for one question.
type Response struct {
	// Answer is the final answer text. When the gate blocked or the shield
	// rejected the generated answer, this is the standard insufficiency
	// response instead of model output.
	Answer string `json:"answer"`

	// Sources are the document IDs of the chunks that grounded the answer.
	// Empty when the gate blocked.
	Sources []string `json:"sources"`

	// GateStatus is GateStatusPass or the gate's block reason.
	GateStatus string `json:"gate_status"`

	// Reliability is the shield's score for the generated answer; zero when
	// no shield is configured or generation was blocked.
	Reliability float64 `json:"reliability,omitempty"`

	// Warnings are the shield's concerns about the answer, if any.
	Warnings []string `json:"warnings,omitempty"`
}

// Config assembles a Pipeline. Embedder, Store, and Generator are required;
// everything else has a sensible default or is optional.
type Config struct {
	Embedder  rag.Embedder
	Store     Searcher
	Generator Answerer

	// Gate defaults to gate.New().
	Gate *gate.Gate

	// Shield is optional; when nil, answers are returned unscored.
	Shield AnswerValidator

	// Audit is optional, but running without it is loudly logged on every
	// query: an untraceable answer is a governance gap, not a convenience.
	Audit AuditLogger

	// Metrics is optional.
	Metrics *Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// TopK defaults to DefaultTopK.
	TopK int
}

// Pipeline answers questions against a single knowledge base collection.
type Pipeline struct {
	embedder  rag.Embedder
	store     Searcher
	gate      *gate.Gate
	generator Answerer
	shield    AnswerValidator
	audit     AuditLogger
	metrics   *Metrics
	log       *slog.Logger
	topK      int
}

// New validates the config and returns a ready Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("query: Embedder is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("query: Store is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("query: Generator is required")
	}
	if cfg.Gate == nil {
		cfg.Gate = gate.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Pipeline{
		embedder:  cfg.Embedder,
		store:     cfg.Store,
		gate:      cfg.Gate,
		generator: cfg.Generator,
		shield:    cfg.Shield,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		topK:      cfg.TopK,
	}, nil
}

// Answer runs the full flow for one question scoped to one namespace. The
// audit record is written for every completed query, blocked or answered.
func (p *Pipeline) Answer(ctx context.Context, question, namespace string) (*Response, error) {
	start := time.Now()

	vector, err := p.embedder.EmbedOne(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("query: embed question: %w", err)
	}

	raw, err := p.store.Search(ctx, vector, namespace, p.topK)
	if err != nil {
		return nil, fmt.Errorf("query: search namespace %s: %w", namespace, err)
	}

	res := p.gate.Validate(question, raw)
	gateStatus := GateStatusPass
	if !res.Passed {
		gateStatus = res.Reason
	}

	var resp *Response
	if !res.Passed {
		p.log.Info("query blocked by retrieval gate",
			"namespace", namespace, "reason", res.Reason, "retrieved", len(raw))
		resp = &Response{
			Answer:     insufficientAnswer(res.Reason),
			GateStatus: gateStatus,
		}
	} else {
		resp, err = p.generateAndShield(ctx, question, res.Chunks)
		if err != nil {
			return nil, err
		}
	}

	p.recordAudit(ctx, question, gateStatus, res.Chunks, resp.Answer)
	p.metrics.observeQuery(gateStatus, time.Since(start))
	return resp, nil
}

// generateAndShield produces the answer for a passed retrieval and, when a
// shield is configured, replaces ungrounded answers with the standard
// insufficiency response rather than serving them.
func (p *Pipeline) generateAndShield(ctx context.Context, question string, chunks []rag.ScoredChunk) (*Response, error) {
	answer, err := p.generator.Answer(ctx, question, chunks)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	resp := &Response{
		Answer:     answer,
		Sources:    docIDs(chunks),
		GateStatus: GateStatusPass,
	}
	if p.shield == nil {
		return resp, nil
	}

	report, err := p.shield.ValidateAnswer(ctx, question, answer, chunks)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	resp.Reliability = report.ReliabilityScore
	resp.Warnings = report.Warnings

	if !report.Grounded {
		p.log.Warn("answer rejected by hallucination shield",
			"reliability", report.ReliabilityScore, "warnings", len(report.Warnings))
		p.metrics.observeUngrounded()
		resp.Answer = insufficientAnswer("answer reliability below threshold")
	}
	return resp, nil
}

// recordAudit writes the query outcome to the audit trail. A missing trail is
// warned about on every query; a failing trail never fails the query itself.
func (p *Pipeline) recordAudit(ctx context.Context, question, gateStatus string, chunks []rag.ScoredChunk, answer string) {
	if p.audit == nil {
		p.log.Warn("query not audited: no audit trail configured, answers are untraceable")
		return
	}
	if err := p.audit.RecordQuery(ctx, question, gateStatus, docIDs(chunks), preview(answer)); err != nil {
		p.log.Error("query audit record failed", "error", err)
	}
}

// insufficientAnswer is the standard response when no grounded answer can be
// served.
func insufficientAnswer(reason string) string {
	return fmt.Sprintf(
		"The knowledge base cannot answer this question (reason: %s). Please contact the owning team for more information.",
		reason)
}

// docIDs extracts the document IDs of the given chunks, in retrieval order.
func docIDs(chunks []rag.ScoredChunk) []string {
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.DocID)
	}
	return ids
}

// preview returns the first answerPreviewLen characters of the answer,
// counting runes so multi-byte text is not split mid-character.
func preview(answer string) string {
	r := []rune(answer)
	if len(r) <= answerPreviewLen {
		return answer
	}
	return string(r[:answerPreviewLen])
}
