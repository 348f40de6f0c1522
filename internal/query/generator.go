package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/kbguard/kbguard-go/internal/budget"
	"github.com/kbguard/kbguard-go/internal/modelpolicy"
	"github.com/kbguard/kbguard-go/internal/rag"
)

// Generation defaults. A low temperature keeps answers conservative; the
// output cap matches the model policy ceiling.
const (
	DefaultTemperature     float32 = 0.1
	DefaultMaxOutputTokens         = 1000
)

// systemPrompt instructs the model to answer only from the supplied
// documents. The phrasing matters: it must make "the documents do not cover
// this" an acceptable answer, or the model will fill gaps from training data.
const systemPrompt = "You are the internal knowledge base assistant. " +
	"Answer only from the reference documents provided in the user message. " +
	"If the documents do not contain the relevant information, state clearly " +
	"that the available documents cannot answer the question — do not guess " +
	"and do not fill gaps from your training data. Cite the source documents " +
	"you used."

// contextSeparator joins chunk texts in the user message so the model can
// tell where one document fragment ends and the next begins.
const contextSeparator = "\n\n---\n\n"

// ChatModel is the slice of the eino model interface the generator needs.
type ChatModel interface {
	Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Generator produces grounded answers: the question plus the surviving
// retrieval chunks go to the language model under a strict system prompt.
// Every call is checked against the model policy ceiling first.
type Generator struct {
	chat            ChatModel
	modelName       string
	temperature     float32
	maxOutputTokens int
	ceiling         modelpolicy.Ceiling
	maxContext      int
}

// NewGenerator returns a Generator with the default tuning.
func NewGenerator(chat ChatModel, modelName string) *Generator {
	return NewGeneratorWithTuning(chat, modelName, DefaultTemperature, DefaultMaxOutputTokens)
}

// NewGeneratorWithTuning returns a Generator with explicit temperature and
// output cap. Non-positive arguments fall back to the defaults. The tuning is
// still subject to the policy ceiling: a too-hot temperature is rejected on
// every Answer call, not silently clamped.
func NewGeneratorWithTuning(chat ChatModel, modelName string, temperature float32, maxOutputTokens int) *Generator {
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	if maxOutputTokens <= 0 {
		maxOutputTokens = DefaultMaxOutputTokens
	}
	return &Generator{
		chat:            chat,
		modelName:       modelName,
		temperature:     temperature,
		maxOutputTokens: maxOutputTokens,
		ceiling:         modelpolicy.DefaultCeiling(),
		maxContext:      budget.DefaultMaxContextTokens,
	}
}

// Answer sends the question and chunks to the model and returns the answer
// text. The model policy ceiling is validated before any network call; chunks
// that would overflow the context budget are dropped lowest-ranked first.
func (g *Generator) Answer(ctx context.Context, question string, chunks []rag.ScoredChunk) (string, error) {
	if err := g.ceiling.Validate(g.modelName, float64(g.temperature), g.maxOutputTokens); err != nil {
		return "", err
	}

	msgs := g.buildMessages(question, chunks)
	resp, err := g.chat.Generate(ctx, msgs,
		model.WithTemperature(g.temperature),
		model.WithMaxTokens(g.maxOutputTokens),
	)
	if err != nil {
		return "", fmt.Errorf("query: generate answer: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("query: model returned nil response")
	}
	return resp.Content, nil
}

// buildMessages assembles the system and user messages, trimming chunks to
// the context budget first.
func (g *Generator) buildMessages(question string, chunks []rag.ScoredChunk) []*schema.Message {
	fixed := budget.EstimateMessages([]*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(question),
	})
	chunks = budget.TrimChunks(chunks, fixed, g.maxContext)

	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}
	user := fmt.Sprintf("Reference documents:\n%s\n\nQuestion: %s",
		strings.Join(texts, contextSeparator), question)

	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(user),
	}
}
