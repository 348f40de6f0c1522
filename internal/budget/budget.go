// Package budget provides token budget estimation and context trimming for
// answer generation. Because multiple LLM backends with different tokenizers
// are supported, this package uses a conservative character-based heuristic:
// 1 token ≈ 4 characters (English prose and code). This deliberately
// under-estimates token counts to leave headroom for model-specific overhead.
package budget

import (
	"github.com/cloudwego/eino/schema"

	"github.com/kbguard/kbguard-go/internal/rag"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English and code; using 3
	// would be more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models while leaving room
	// for the output.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimChunks drops the lowest-ranked chunks until the estimated token count
// of fixedTokens plus the surviving chunk texts fits within maxTokens.
// Chunks are assumed ordered by descending retrieval score, so trimming
// removes from the tail. At least one chunk is always kept: an answer
// grounded on the single best chunk beats no answer, and the model's own
// context limit is the final backstop.
func TrimChunks(chunks []rag.ScoredChunk, fixedTokens, maxTokens int) []rag.ScoredChunk {
	if len(chunks) == 0 {
		return chunks
	}

	for len(chunks) > 1 {
		total := fixedTokens
		for _, c := range chunks {
			total += Estimate(c.Text)
		}
		if total <= maxTokens {
			break
		}
		chunks = chunks[:len(chunks)-1]
	}
	return chunks
}
