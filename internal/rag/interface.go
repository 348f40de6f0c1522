// Package rag defines the collaborator contracts the knowledge-governance
// layer depends on: vector storage with metadata-scoped mutation, and text
// embedding. Concrete implementations (Qdrant, OpenAI, Ollama) satisfy these
// interfaces so the governance engines never depend on a specific backend.
package rag

import (
	"context"
)

// Metadata keys written by the ingestion engines and read by the gate and
// the rollback paths. Centralised so filters and payloads never drift.
const (
	// MetaDocID tags every chunk with the document it belongs to.
	MetaDocID = "doc_id"
	// MetaTransactionID tags every chunk written by one ingestion attempt,
	// scoping rollback deletions to that attempt.
	MetaTransactionID = "transaction_id"
	// MetaNamespace is the authorization domain the chunk belongs to.
	MetaNamespace = "namespace"
	// MetaStatus is the lifecycle status mirrored onto chunks ("active",
	// "deprecated") so the retrieval gate can filter without a registry read.
	MetaStatus = "status"
	// MetaLastUpdated is the ISO date the source document was last updated.
	MetaLastUpdated = "last_updated"
	// MetaChunkIndex is the 0-based position of the chunk in its document.
	MetaChunkIndex = "chunk_index"
	// MetaTotalChunks is the total chunk count of the document.
	MetaTotalChunks = "total_chunks"
)

// Chunk is a bounded segment of a source document's text together with the
// metadata linking it back to its document and transaction.
type Chunk struct {
	// Text is the chunk content. Never empty or whitespace-only.
	Text string

	// Metadata holds string key-value pairs: chunk_index, total_chunks,
	// plus whatever the caller supplied (source, owner, doc_id, ...).
	Metadata map[string]string
}

// ScoredChunk is a chunk returned from a similarity search.
type ScoredChunk struct {
	// DocID identifies the document the chunk belongs to.
	DocID string

	// Text is the chunk content.
	Text string

	// Score is the similarity score assigned during retrieval (0.0–1.0).
	Score float32

	// Metadata is the payload stored with the chunk.
	Metadata map[string]string
}

// Point is a chunk vector ready to be written to the store.
type Point struct {
	// ID is the unique identifier for this chunk vector.
	ID string

	// Vector is the embedding of the chunk text.
	Vector []float32

	// Metadata is the payload persisted alongside the vector.
	Metadata map[string]string
}

// Filter selects chunks by exact metadata match. All entries must match.
type Filter map[string]string

// VectorStore is the interface for persisting, searching, and mutating chunk
// vectors. The governance layer identifies its writes purely by metadata tags
// (doc_id, transaction_id) — it never holds store-native handles.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or updates a batch of chunk vectors.
	Upsert(ctx context.Context, points []Point) error

	// Search returns the top-k most similar chunks within the namespace,
	// ordered by descending score.
	Search(ctx context.Context, vector []float32, namespace string, topK int) ([]ScoredChunk, error)

	// DeleteByMetadata removes every chunk matching the filter and returns
	// the number of chunks deleted. Used for transaction rollback; filters
	// are always scoped to one doc_id or transaction_id.
	DeleteByMetadata(ctx context.Context, filter Filter) (int, error)

	// UpdateMetadataByFilter merges update into the payload of every chunk
	// matching the filter. Used to flip chunk status on deprecation.
	UpdateMetadataByFilter(ctx context.Context, filter Filter, update map[string]string) error

	// CountByDoc returns the number of chunks tagged with docID.
	CountByDoc(ctx context.Context, docID string) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// EmbedOne converts a single non-empty text into its embedding.
	EmbedOne(ctx context.Context, text string) ([]float32, error)

	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice. Batches are limited
	// to 100 texts and every text must be non-empty.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
