// Package gate validates retrieval results before they reach the language
// model. The gate is a pure decision function: retrieval that fails it blocks
// generation entirely, so a weak knowledge base produces an honest "I don't
// know" instead of a fabricated answer.
package gate

import (
	"fmt"
	"time"

	"github.com/kbguard/kbguard-go/internal/rag"
)

// Default gate thresholds.
const (
	// DefaultMinChunks is the minimum number of retrieved chunks required.
	DefaultMinChunks = 1

	// DefaultMinScore is the similarity the best chunk must reach for the
	// retrieval to count as relevant.
	DefaultMinScore float32 = 0.72

	// DefaultMaxAge is how old a chunk's source document may be before the
	// chunk is considered stale.
	DefaultMaxAge = 180 * 24 * time.Hour
)

// Block reasons returned in Result.Reason.
const (
	// ReasonInsufficient means retrieval returned fewer chunks than required.
	ReasonInsufficient = "knowledge_insufficient"
	// ReasonAllExpired means every retrieved chunk's source is stale.
	ReasonAllExpired = "all_chunks_expired"
	// ReasonAllDeprecated means every fresh chunk belongs to a deprecated
	// document version.
	ReasonAllDeprecated = "all_chunks_deprecated"
)

// Result is the gate's verdict on one retrieval.
type Result struct {
	// Passed reports whether generation may proceed.
	Passed bool

	// Reason names the failed rule when blocked; empty on pass. The low
	// relevance reason embeds the observed top score and the threshold.
	Reason string

	// Chunks are the surviving chunks to ground generation on. Empty when
	// blocked.
	Chunks []rag.ScoredChunk
}

// Gate holds the validation thresholds. Use New for defaults.
type Gate struct {
	minChunks int
	minScore  float32
	maxAge    time.Duration

	// now is stubbed in tests.
	now func() time.Time
}

// New returns a Gate with the default thresholds.
func New() *Gate {
	return NewWithThresholds(DefaultMinChunks, DefaultMinScore, DefaultMaxAge)
}

// NewWithThresholds returns a Gate with custom thresholds. Non-positive
// arguments fall back to the defaults.
func NewWithThresholds(minChunks int, minScore float32, maxAge time.Duration) *Gate {
	if minChunks <= 0 {
		minChunks = DefaultMinChunks
	}
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Gate{minChunks: minChunks, minScore: minScore, maxAge: maxAge, now: time.Now}
}

// Validate applies the gate rules in order: enough chunks, a relevant top
// score, at least one fresh chunk, at least one non-deprecated chunk. The top
// score is taken over the full retrieval, before the freshness and
// deprecation filters: it answers whether retrieval found relevant signal at
// all, while the filters decide what may be shown.
func (g *Gate) Validate(query string, chunks []rag.ScoredChunk) Result {
	if len(chunks) < g.minChunks {
		return Result{Reason: ReasonInsufficient}
	}

	topScore := chunks[0].Score
	for _, c := range chunks[1:] {
		if c.Score > topScore {
			topScore = c.Score
		}
	}
	if topScore < g.minScore {
		return Result{Reason: fmt.Sprintf("low_relevance (top score: %.2f < %.2f)", topScore, g.minScore)}
	}

	now := g.now()
	fresh := make([]rag.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if g.isFresh(c.Metadata[rag.MetaLastUpdated], now) {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		return Result{Reason: ReasonAllExpired}
	}

	valid := make([]rag.ScoredChunk, 0, len(fresh))
	for _, c := range fresh {
		if c.Metadata[rag.MetaStatus] != "deprecated" {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return Result{Reason: ReasonAllDeprecated}
	}

	return Result{Passed: true, Chunks: valid}
}

// isFresh reports whether a last_updated stamp is within the age window.
// Missing or unparseable stamps count as stale.
func (g *Gate) isFresh(lastUpdated string, now time.Time) bool {
	if lastUpdated == "" {
		return false
	}
	t, err := parseISO(lastUpdated)
	if err != nil {
		return false
	}
	return now.Sub(t) <= g.maxAge
}

// parseISO accepts a bare date or an RFC 3339-style timestamp.
func parseISO(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("gate: unparseable timestamp %q", s)
}
