package chunker

import "strings"

// cjkPunct is the set of fullwidth punctuation treated as standalone tokens.
const cjkPunct = "。！？，、；：「」『』（）【】"

// closingPunct attaches to the preceding token without a space when
// detokenizing.
const closingPunct = "。！？，、；：」』）】"

// openingPunct swallows the following token without a space when detokenizing.
const openingPunct = "「『（【"

// isCJK reports whether r is a CJK ideograph. Covers the unified block, the
// extension blocks A-E, and the compatibility block.
func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF:
		return true
	case r >= 0x3400 && r <= 0x4DBF:
		return true
	case r >= 0x20000 && r <= 0x2A6DF:
		return true
	case r >= 0x2A700 && r <= 0x2B73F:
		return true
	case r >= 0x2B740 && r <= 0x2B81F:
		return true
	case r >= 0x2B820 && r <= 0x2CEAF:
		return true
	case r >= 0xF900 && r <= 0xFAFF:
		return true
	}
	return false
}

// isCJKToken reports whether a token is a single CJK ideograph.
func isCJKToken(token string) bool {
	runes := []rune(token)
	return len(runes) == 1 && isCJK(runes[0])
}

// Tokenize splits text into tokens. Whitespace separates tokens and is
// dropped; each CJK ideograph and each fullwidth punctuation mark is its own
// token; runs of any other characters form one token. All chunk sizing in
// this package is measured in these tokens, so mixed-script documents are
// sized consistently.
func Tokenize(text string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range text {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		case isCJK(r):
			flush()
			tokens = append(tokens, string(r))
		case strings.ContainsRune(cjkPunct, r):
			flush()
			tokens = append(tokens, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return tokens
}

// Detokenize joins tokens back into text. CJK ideographs and fullwidth
// punctuation join without spaces; everything else is space-separated. The
// round trip is lossy for consecutive whitespace, which is acceptable for
// overlap prefixes.
func Detokenize(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(tokens[0])
	prev := tokens[0]

	for _, token := range tokens[1:] {
		lastRune := lastRuneOf(prev)
		switch {
		case len([]rune(token)) == 1 && strings.ContainsRune(closingPunct, []rune(token)[0]):
			b.WriteString(token)
		case strings.ContainsRune(openingPunct, lastRune):
			b.WriteString(token)
		case isCJKToken(prev) && isCJKToken(token):
			b.WriteString(token)
		default:
			b.WriteString(" ")
			b.WriteString(token)
		}
		prev = token
	}

	return b.String()
}

// lastNTokens returns the last n tokens of text rejoined into a string, or
// text unchanged when it has n or fewer tokens.
func lastNTokens(text string, n int) string {
	tokens := Tokenize(text)
	if len(tokens) <= n {
		return text
	}
	return Detokenize(tokens[len(tokens)-n:])
}

// lastRuneOf returns the final rune of s, or 0 for an empty string.
func lastRuneOf(s string) rune {
	var last rune
	for _, r := range s {
		last = r
	}
	return last
}
