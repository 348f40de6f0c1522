// Package chunker splits document text into bounded, overlapping chunks for
// embedding. The splitter is recursive: it prefers natural boundaries
// (paragraph, line, sentence, clause) and only falls back to weaker
// separators for pieces that still exceed the target size. Sizes are measured
// in tokens from a CJK-aware tokenizer so Chinese and mixed-script documents
// chunk as evenly as English ones.
package chunker

import (
	"strconv"
	"strings"

	"github.com/kbguard/kbguard-go/internal/rag"
)

const (
	// DefaultTargetSize is the default chunk size budget in tokens.
	DefaultTargetSize = 600

	// DefaultOverlap is the default number of tokens carried over from the
	// end of each chunk into the start of the next.
	DefaultOverlap = 100
)

// separators is the boundary ladder, strongest first. The final empty string
// means "split into individual characters".
var separators = []string{"\n\n", "\n", "。", "！", "？", "，", " ", ""}

// Chunker is a recursive text splitter. The zero value is not usable; use New.
type Chunker struct {
	targetSize int
	overlap    int
}

// New returns a Chunker with the given token budget per chunk and overlap
// between adjacent chunks. Non-positive arguments fall back to the defaults.
func New(targetSize, overlap int) *Chunker {
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}
	if overlap <= 0 {
		overlap = DefaultOverlap
	}
	return &Chunker{targetSize: targetSize, overlap: overlap}
}

// Split divides text into chunks, attaching metadata plus chunk_index and
// total_chunks to each. Empty or whitespace-only input yields no chunks.
// Every returned chunk has trimmed, non-empty text; indices are contiguous
// from zero and total_chunks matches the length of the result.
func (c *Chunker) Split(text string, metadata map[string]string) []rag.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	raw := c.recursiveSplit(text, separators)

	cleaned := make([]string, 0, len(raw))
	for _, chunk := range raw {
		if trimmed := strings.TrimSpace(chunk); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}

	result := make([]rag.Chunk, 0, len(cleaned))
	for i, chunkText := range cleaned {
		chunkMeta := make(map[string]string, len(metadata)+2)
		for k, v := range metadata {
			chunkMeta[k] = v
		}
		chunkMeta[rag.MetaChunkIndex] = strconv.Itoa(i)
		chunkMeta[rag.MetaTotalChunks] = strconv.Itoa(len(cleaned))
		result = append(result, rag.Chunk{Text: chunkText, Metadata: chunkMeta})
	}

	return result
}

// recursiveSplit splits text on the strongest separator, greedily packing
// pieces into chunks within the token budget, and recurses with the weaker
// separators on any single piece that alone exceeds the budget.
func (c *Chunker) recursiveSplit(text string, seps []string) []string {
	if len(seps) == 0 {
		return c.fixedWindows(text)
	}

	separator := seps[0]
	var splits []string
	if separator == "" {
		runes := []rune(text)
		splits = make([]string, len(runes))
		for i, r := range runes {
			splits[i] = string(r)
		}
	} else {
		splits = strings.Split(text, separator)
	}

	var chunks []string
	current := ""
	for _, split := range splits {
		if len(Tokenize(current+separator+split)) <= c.targetSize {
			if current == "" {
				current = split
			} else {
				current += separator + split
			}
			continue
		}

		if current != "" {
			chunks = append(chunks, current)
		}
		if len(Tokenize(split)) > c.targetSize {
			chunks = append(chunks, c.recursiveSplit(split, seps[1:])...)
			current = ""
		} else {
			current = split
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}

	return c.addOverlap(chunks)
}

// fixedWindows is the last resort for text with no usable boundaries at all:
// fixed-width character windows advancing by targetSize minus overlap.
func (c *Chunker) fixedWindows(text string) []string {
	runes := []rune(text)
	step := c.targetSize - c.overlap
	if step <= 0 {
		step = c.targetSize
	}

	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := i + c.targetSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// addOverlap prepends the tail of each chunk to its successor so context
// spanning a boundary survives retrieval. The tail is trimmed past the first
// sentence-ending mark so the overlap does not start mid-sentence.
func (c *Chunker) addOverlap(chunks []string) []string {
	if len(chunks) <= 1 {
		return chunks
	}

	result := make([]string, 0, len(chunks))
	result = append(result, chunks[0])
	for i := 1; i < len(chunks); i++ {
		tail := lastNTokens(chunks[i-1], c.overlap)
		tail = trimToSentenceStart(tail)
		result = append(result, tail+" "+chunks[i])
	}
	return result
}

// trimToSentenceStart drops everything up to and including the first
// sentence-ending mark in tail, so the overlap begins on a sentence boundary
// when one exists. A tail whose only boundary is its final rune is returned
// unchanged rather than emptied.
func trimToSentenceStart(tail string) string {
	runes := []rune(tail)
	boundary := -1
	for i, r := range runes {
		if r == '。' || r == '！' || r == '？' || r == '\n' {
			boundary = i
			break
		}
	}
	if boundary < 0 || boundary+1 >= len(runes) {
		return tail
	}
	return strings.TrimLeft(string(runes[boundary+1:]), " \t\n\r")
}
