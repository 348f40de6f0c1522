package chunker

import (
	"strconv"
	"strings"
	"testing"
)

func Test_Tokenize_MixedScript(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"hello world", []string{"hello", "world"}},
		{"知識庫", []string{"知", "識", "庫"}},
		{"RAG 知識庫。", []string{"RAG", "知", "識", "庫", "。"}},
		{"a\tb\nc", []string{"a", "b", "c"}},
		{"版本（v2）", []string{"版", "本", "（", "v2", "）"}},
	}
	for _, tc := range cases {
		got := Tokenize(tc.input)
		if len(got) != len(tc.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tc.input, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("Tokenize(%q)[%d] = %q, want %q", tc.input, i, got[i], tc.want[i])
			}
		}
	}
}

func Test_Detokenize_JoinRules(t *testing.T) {
	t.Parallel()
	cases := []struct {
		tokens []string
		want   string
	}{
		{nil, ""},
		{[]string{"hello", "world"}, "hello world"},
		{[]string{"知", "識", "庫"}, "知識庫"},
		{[]string{"庫", "。", "下"}, "庫。 下"},
		{[]string{"（", "v2", "）"}, "（v2）"},
	}
	for _, tc := range cases {
		if got := Detokenize(tc.tokens); got != tc.want {
			t.Errorf("Detokenize(%v) = %q, want %q", tc.tokens, got, tc.want)
		}
	}
}

func Test_Split_EmptyInput(t *testing.T) {
	t.Parallel()
	c := New(DefaultTargetSize, DefaultOverlap)
	if got := c.Split("", nil); got != nil {
		t.Errorf("Split(\"\") = %v, want nil", got)
	}
	if got := c.Split("   \n\t  ", nil); got != nil {
		t.Errorf("Split(whitespace) = %v, want nil", got)
	}
}

func Test_Split_SmallInputSingleChunk(t *testing.T) {
	t.Parallel()
	c := New(DefaultTargetSize, DefaultOverlap)
	chunks := c.Split("a short paragraph about nothing", nil)
	if len(chunks) != 1 {
		t.Fatalf("want 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "a short paragraph about nothing" {
		t.Errorf("unexpected chunk text %q", chunks[0].Text)
	}
	if chunks[0].Metadata["chunk_index"] != "0" {
		t.Errorf("chunk_index = %q, want 0", chunks[0].Metadata["chunk_index"])
	}
	if chunks[0].Metadata["total_chunks"] != "1" {
		t.Errorf("total_chunks = %q, want 1", chunks[0].Metadata["total_chunks"])
	}
}

func Test_Split_MetadataPropagated(t *testing.T) {
	t.Parallel()
	c := New(20, 5)
	meta := map[string]string{"source": "hr-policy.md", "owner": "hr-team"}
	text := strings.Repeat("one paragraph here.\n\n", 10)
	chunks := c.Split(text, meta)
	if len(chunks) < 2 {
		t.Fatalf("want multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Metadata["source"] != "hr-policy.md" {
			t.Errorf("chunk %d lost source metadata", i)
		}
		if chunk.Metadata["owner"] != "hr-team" {
			t.Errorf("chunk %d lost owner metadata", i)
		}
	}
	// Caller's map must not be touched.
	if _, ok := meta["chunk_index"]; ok {
		t.Error("Split mutated the caller's metadata map")
	}
}

func Test_Split_IndicesContiguousAndCountExact(t *testing.T) {
	t.Parallel()
	c := New(30, 8)
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("sentence number ")
		b.WriteString(strconv.Itoa(i))
		b.WriteString(" lives in this paragraph.\n\n")
	}
	chunks := c.Split(b.String(), nil)
	if len(chunks) < 2 {
		t.Fatalf("want multiple chunks, got %d", len(chunks))
	}
	total := strconv.Itoa(len(chunks))
	for i, chunk := range chunks {
		if chunk.Text == "" || strings.TrimSpace(chunk.Text) == "" {
			t.Errorf("chunk %d is empty", i)
		}
		if got := chunk.Metadata["chunk_index"]; got != strconv.Itoa(i) {
			t.Errorf("chunk %d has chunk_index %q", i, got)
		}
		if got := chunk.Metadata["total_chunks"]; got != total {
			t.Errorf("chunk %d has total_chunks %q, want %q", i, got, total)
		}
	}
}

func Test_Split_ChunksWithinBudget(t *testing.T) {
	t.Parallel()
	target, overlap := 50, 10
	c := New(target, overlap)
	text := strings.Repeat("這是一段關於請假規定的說明。員工每年有十四天特休。\n\n", 30)
	chunks := c.Split(text, nil)
	if len(chunks) < 2 {
		t.Fatalf("want multiple chunks, got %d", len(chunks))
	}
	// Overlap stitching can push a chunk past target by up to the overlap
	// plus the joining space.
	limit := target + overlap + 1
	for i, chunk := range chunks {
		if n := len(Tokenize(chunk.Text)); n > limit {
			t.Errorf("chunk %d has %d tokens, limit %d", i, n, limit)
		}
	}
}

func Test_Split_OverlapCarriesPreviousTail(t *testing.T) {
	t.Parallel()
	c := New(20, 6)
	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa " +
		"lambda mu nu xi omicron pi rho sigma tau upsilon " +
		"phi chi psi omega aleph beth gimel daleth he waw"
	chunks := c.Split(text, nil)
	if len(chunks) < 2 {
		t.Fatalf("want multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prevTokens := Tokenize(chunks[i-1].Text)
		firstToken := Tokenize(chunks[i].Text)[0]
		found := false
		for _, tok := range prevTokens {
			if tok == firstToken {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("chunk %d does not start with a token from chunk %d", i, i-1)
		}
	}
}

func Test_Split_OverlapTrimmedToSentenceBoundary(t *testing.T) {
	t.Parallel()
	got := trimToSentenceStart("尾巴的內容。新句子的開頭")
	if got != "新句子的開頭" {
		t.Errorf("trimToSentenceStart = %q, want %q", got, "新句子的開頭")
	}
	// Boundary as the final rune: nothing after it, keep the tail whole.
	got = trimToSentenceStart("整句在此。")
	if got != "整句在此。" {
		t.Errorf("trimToSentenceStart = %q, want unchanged tail", got)
	}
	// No boundary at all.
	got = trimToSentenceStart("沒有邊界的尾巴")
	if got != "沒有邊界的尾巴" {
		t.Errorf("trimToSentenceStart = %q, want unchanged tail", got)
	}
}

func Test_Split_UnbrokenTextFallsBackToWindows(t *testing.T) {
	t.Parallel()
	c := New(40, 10)
	// No separators of any kind except the character ladder rung.
	text := strings.Repeat("x", 500)
	chunks := c.Split(text, nil)
	if len(chunks) == 0 {
		t.Fatal("want chunks from unbroken text, got none")
	}
	for i, chunk := range chunks {
		if chunk.Text == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func Test_New_Defaults(t *testing.T) {
	t.Parallel()
	c := New(0, 0)
	if c.targetSize != DefaultTargetSize {
		t.Errorf("targetSize = %d, want %d", c.targetSize, DefaultTargetSize)
	}
	if c.overlap != DefaultOverlap {
		t.Errorf("overlap = %d, want %d", c.overlap, DefaultOverlap)
	}
}
