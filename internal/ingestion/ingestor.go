// Package ingestion writes documents into the knowledge base under explicit
// contracts. The plain Ingestor checks preconditions before any write, rolls
// back its own writes on failure, and verifies postconditions against the
// store afterwards. The VersionedIngestor layers the add-then-deprecate
// update protocol on top, and the Guard gives multi-step flows a registry
// snapshot to rewind to.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kbguard/kbguard-go/internal/contract"
	"github.com/kbguard/kbguard-go/internal/embedder"
	"github.com/kbguard/kbguard-go/internal/rag"
)

// MaxDocumentAge is how long a document may go without review before
// ingestion refuses it.
const MaxDocumentAge = 180 * 24 * time.Hour

// requiredMetadata are the fields every ingested document must carry.
var requiredMetadata = []string{"source", "owner", "last_updated"}

// Splitter divides document text into chunks.
type Splitter interface {
	Split(text string, metadata map[string]string) []rag.Chunk
}

// IngestResult reports a completed ingestion.
type IngestResult struct {
	// DocID is the identifier assigned to the ingested document.
	DocID string

	// ChunkCount is the number of chunks written.
	ChunkCount int

	// Namespace is the knowledge domain the document was written to.
	Namespace string
}

// Ingestor embeds a document and writes its chunks to the vector store,
// with full contract validation around the write.
type Ingestor struct {
	allowedNamespaces map[string]bool
	store             rag.VectorStore
	splitter          Splitter
	embedder          rag.Embedder
	loader            Loader

	// now is stubbed in tests.
	now func() time.Time
}

// NewIngestor constructs an Ingestor. Only the listed namespaces are
// accepted as ingestion targets.
func NewIngestor(allowedNamespaces []string, store rag.VectorStore, splitter Splitter, emb rag.Embedder, loader Loader) *Ingestor {
	allowed := make(map[string]bool, len(allowedNamespaces))
	for _, ns := range allowedNamespaces {
		allowed[ns] = true
	}
	if loader == nil {
		loader = FileLoader{}
	}
	return &Ingestor{
		allowedNamespaces: allowed,
		store:             store,
		splitter:          splitter,
		embedder:          emb,
		loader:            loader,
		now:               time.Now,
	}
}

// Ingest embeds the document at filePath and writes its chunks to the store.
//
// Preconditions, checked before any write: metadata status is "approved",
// the source, owner, and last_updated fields are present, the document was
// updated within MaxDocumentAge, and the namespace is allow-listed.
//
// On any failure during the write phase every chunk tagged with the new
// document ID is deleted before the error is returned.
//
// Postconditions, checked against the store afterwards: at least one chunk
// was produced, and the store holds exactly that many chunks for the new
// document ID.
func (in *Ingestor) Ingest(ctx context.Context, filePath, namespace string, metadata map[string]string) (*IngestResult, error) {
	if err := in.checkPreconditions(namespace, metadata); err != nil {
		return nil, err
	}

	result, err := in.executeWithRollback(ctx, filePath, namespace, metadata)
	if err != nil {
		return nil, err
	}

	if err := in.checkPostconditions(ctx, result); err != nil {
		return nil, err
	}

	return result, nil
}

// checkPreconditions validates the caller's input. No writes happen before
// this passes.
func (in *Ingestor) checkPreconditions(namespace string, metadata map[string]string) error {
	if metadata["status"] != "approved" {
		return contract.Preconditionf("document must be approved, current status: %q", metadata["status"])
	}

	for _, field := range requiredMetadata {
		if metadata[field] == "" {
			return contract.Preconditionf("missing required metadata field: %s", field)
		}
	}

	lastUpdated, err := parseISO(metadata["last_updated"])
	if err != nil {
		return contract.Preconditionf("unparseable last_updated: %q", metadata["last_updated"])
	}
	if in.now().Sub(lastUpdated) > MaxDocumentAge {
		return contract.Preconditionf(
			"document not updated for over 180 days (last_updated: %s); have the owner review it before ingesting",
			metadata["last_updated"])
	}

	if !in.allowedNamespaces[namespace] {
		return contract.Preconditionf("unauthorized namespace: %s", namespace)
	}

	return nil
}

// checkPostconditions verifies the store state matches the reported result.
func (in *Ingestor) checkPostconditions(ctx context.Context, result *IngestResult) error {
	if result.ChunkCount < 1 {
		return contract.Postconditionf("chunk count must be >= 1, got %d", result.ChunkCount)
	}
	actual, err := in.store.CountByDoc(ctx, result.DocID)
	if err != nil {
		return fmt.Errorf("ingestion: verify chunk count: %w", err)
	}
	if actual != result.ChunkCount {
		return contract.Postconditionf(
			"store holds %d chunks for the document, ingestion reported %d", actual, result.ChunkCount)
	}
	return nil
}

// executeWithRollback performs the write phase. Any error triggers deletion
// of every chunk tagged with the new document ID before it propagates.
func (in *Ingestor) executeWithRollback(ctx context.Context, filePath, namespace string, metadata map[string]string) (result *IngestResult, err error) {
	docID := uuid.NewString()

	defer func() {
		if err != nil {
			// Best effort: the original error is the one worth surfacing.
			_, _ = in.store.DeleteByMetadata(ctx, rag.Filter{rag.MetaDocID: docID})
		}
	}()

	text, err := in.loader.Load(ctx, filePath)
	if err != nil {
		return nil, err
	}

	chunkMeta := cloneMetadata(metadata)
	chunkMeta["source"] = filePath
	chunkMeta[rag.MetaDocID] = docID
	chunks := in.splitter.Split(text, chunkMeta)

	if len(chunks) == 0 {
		// Nothing was written; the postcondition check rejects the result.
		return &IngestResult{DocID: docID, ChunkCount: 0, Namespace: namespace}, nil
	}

	if err := writeChunks(ctx, in.embedder, in.store, chunks, docID, namespace, nil); err != nil {
		return nil, err
	}

	return &IngestResult{DocID: docID, ChunkCount: len(chunks), Namespace: namespace}, nil
}

// writeChunks embeds chunks in batches and upserts them tagged with docID and
// namespace, plus any extra metadata (e.g. a lifecycle status).
func writeChunks(ctx context.Context, emb rag.Embedder, store rag.VectorStore, chunks []rag.Chunk, docID, namespace string, extra map[string]string) error {
	for start := 0; start < len(chunks); start += embedder.MaxBatchSize {
		end := start + embedder.MaxBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, 0, len(batch))
		for _, c := range batch {
			texts = append(texts, c.Text)
		}
		vectors, err := emb.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("ingestion: embed chunks: %w", err)
		}

		points := make([]rag.Point, 0, len(batch))
		for i, c := range batch {
			meta := cloneMetadata(c.Metadata)
			meta["text"] = c.Text
			meta[rag.MetaDocID] = docID
			meta[rag.MetaNamespace] = namespace
			for k, v := range extra {
				meta[k] = v
			}
			points = append(points, rag.Point{
				ID:       chunkPointID(docID, start+i),
				Vector:   vectors[i],
				Metadata: meta,
			})
		}
		if err := store.Upsert(ctx, points); err != nil {
			return fmt.Errorf("ingestion: upsert chunks: %w", err)
		}
	}
	return nil
}

// chunkPointID derives a stable UUID for a chunk from its document and index,
// so re-upserting the same document version overwrites rather than duplicates.
func chunkPointID(docID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s#%d", docID, index))).String()
}

// cloneMetadata copies a metadata map so callers' maps are never mutated.
func cloneMetadata(metadata map[string]string) map[string]string {
	clone := make(map[string]string, len(metadata)+4)
	for k, v := range metadata {
		clone[k] = v
	}
	return clone
}

// parseISO accepts a bare date or an RFC 3339-style timestamp.
func parseISO(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
