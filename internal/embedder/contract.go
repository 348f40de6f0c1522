package embedder

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kbguard/kbguard-go/internal/contract"
	"github.com/kbguard/kbguard-go/internal/rag"
)

// MaxBatchSize is the largest batch accepted by Embed. Larger batches must be
// split by the caller; the ingestion engines chunk well below this.
const MaxBatchSize = 100

// Retry policy for transient embed failures.
const (
	// maxAttempts is the total number of tries per batch.
	maxAttempts = 3

	// initialBackoff is the wait before the first retry.
	initialBackoff = 1 * time.Second

	// maxBackoff caps the wait between retries.
	maxBackoff = 10 * time.Second
)

// batchClient is the raw transport: one embedding call per batch.
type batchClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Client enforces the embedding batch contract on top of a transport and
// retries transient failures with bounded exponential backoff. It implements
// rag.Embedder; the governance engines only ever see this wrapper.
type Client struct {
	backend batchClient

	// newPolicy builds the per-call retry policy; stubbed in tests to avoid
	// real waits.
	newPolicy func() backoff.BackOff
}

var _ rag.Embedder = (*Client)(nil)

// Wrap returns a Client enforcing the batch contract around backend.
func Wrap(backend batchClient) *Client {
	return &Client{
		backend: backend,
		newPolicy: func() backoff.BackOff {
			policy := backoff.NewExponentialBackOff()
			policy.InitialInterval = initialBackoff
			policy.MaxInterval = maxBackoff
			return policy
		},
	}
}

// EmbedOne converts a single non-empty text into its embedding.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Embed converts a batch of texts into their embeddings. Preconditions: at
// most MaxBatchSize texts, every text non-empty. Violations return a
// *contract.PreconditionError before any network call.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, contract.Preconditionf("embed batch is empty")
	}
	if len(texts) > MaxBatchSize {
		return nil, contract.Preconditionf("embed batch has %d texts, limit is %d", len(texts), MaxBatchSize)
	}
	for i, text := range texts {
		if text == "" {
			return nil, contract.Preconditionf("embed batch text %d is empty", i)
		}
	}

	var vectors [][]float32
	operation := func() error {
		var err error
		vectors, err = c.backend.Embed(ctx, texts)
		return err
	}
	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(c.newPolicy(), maxAttempts-1), ctx))
	if err != nil {
		return nil, err
	}
	return vectors, nil
}
