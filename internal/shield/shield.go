// Package shield scores a generated answer against the chunks it was
// supposed to be grounded on. The shield never rewrites the answer: it only
// attaches a reliability score, a grounded verdict, and warnings, leaving the
// caller to decide what to surface.
package shield

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/kbguard/kbguard-go/internal/rag"
)

// Scoring thresholds.
const (
	// GroundedThreshold is the reliability score at which an answer counts
	// as grounded in the sources.
	GroundedThreshold = 0.7

	// ReviewThreshold is the reliability score below which human review is
	// recommended.
	ReviewThreshold = 0.6

	// claimPenalty is the reliability deduction per ungrounded claim.
	claimPenalty = 0.2
)

// numberPattern extracts integers and decimals; claims shorter than two
// digits are ignored as noise.
var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// Report is the shield's assessment of one answer.
type Report struct {
	// Answer is the original answer, byte for byte.
	Answer string

	// ReliabilityScore is 0.0 to 1.0, rounded to three decimals.
	ReliabilityScore float64

	// Grounded reports whether the answer clears GroundedThreshold.
	Grounded bool

	// Warnings lists human-readable concerns: ungrounded claims, low
	// reliability.
	Warnings []string

	// Sources are the document IDs of the chunks the answer was checked
	// against, in retrieval order.
	Sources []string
}

// Shield validates answers against their source chunks.
type Shield struct {
	embedder rag.Embedder
}

// New returns a Shield using the given embedder for similarity scoring.
func New(embedder rag.Embedder) *Shield {
	return &Shield{embedder: embedder}
}

// ValidateAnswer scores the answer's grounding in the source chunks. The
// reliability score is the best answer-to-chunk cosine similarity, reduced by
// claimPenalty per numeric claim absent from every source, clamped to [0, 1].
func (s *Shield) ValidateAnswer(ctx context.Context, question, answer string, sourceChunks []rag.ScoredChunk) (*Report, error) {
	answerVec, err := s.embedder.EmbedOne(ctx, answer)
	if err != nil {
		return nil, fmt.Errorf("shield: embed answer: %w", err)
	}

	maxSimilarity := 0.0
	for _, chunk := range sourceChunks {
		chunkVec, err := s.embedder.EmbedOne(ctx, chunk.Text)
		if err != nil {
			return nil, fmt.Errorf("shield: embed source chunk: %w", err)
		}
		sim, err := cosineSimilarity(answerVec, chunkVec)
		if err != nil {
			return nil, fmt.Errorf("shield: %w", err)
		}
		if sim > maxSimilarity {
			maxSimilarity = sim
		}
	}

	ungrounded := detectUngroundedClaims(answer, sourceChunks)

	score := maxSimilarity * (1.0 - claimPenalty*float64(len(ungrounded)))
	score = math.Max(0.0, math.Min(1.0, score))

	// Verdicts compare the raw score; only the reported value is rounded,
	// so a score just under a threshold cannot round its way across.
	grounded := score >= GroundedThreshold

	var warnings []string
	if len(ungrounded) > 0 {
		warnings = append(warnings,
			fmt.Sprintf("%d claims in the answer have no basis in the source documents", len(ungrounded)))
	}
	if score < ReviewThreshold {
		warnings = append(warnings, "answer reliability is low; human review recommended")
	}

	sources := make([]string, 0, len(sourceChunks))
	for _, chunk := range sourceChunks {
		sources = append(sources, chunk.DocID)
	}

	return &Report{
		Answer:           answer,
		ReliabilityScore: math.Round(score*1000) / 1000,
		Grounded:         grounded,
		Warnings:         warnings,
		Sources:          sources,
	}, nil
}

// detectUngroundedClaims returns the numeric tokens (at least two characters)
// present in the answer but absent from every source chunk.
func detectUngroundedClaims(answer string, sourceChunks []rag.ScoredChunk) []string {
	texts := make([]string, 0, len(sourceChunks))
	for _, chunk := range sourceChunks {
		texts = append(texts, chunk.Text)
	}
	sourceText := strings.Join(texts, " ")

	sourceNumbers := make(map[string]bool)
	for _, n := range numberPattern.FindAllString(sourceText, -1) {
		sourceNumbers[n] = true
	}

	seen := make(map[string]bool)
	var ungrounded []string
	for _, n := range numberPattern.FindAllString(answer, -1) {
		if len(n) < 2 || sourceNumbers[n] || seen[n] {
			continue
		}
		seen[n] = true
		ungrounded = append(ungrounded, n)
	}
	return ungrounded
}

// cosineSimilarity computes the cosine of the angle between two vectors of
// equal dimension. A zero-norm vector yields 0 rather than dividing by zero.
func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimensions differ: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
