package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kbguard/kbguard-go/internal/contract"
	"github.com/kbguard/kbguard-go/internal/logging"
	"github.com/kbguard/kbguard-go/internal/rag"
	"github.com/kbguard/kbguard-go/internal/registry"
)

// AuditLog records version transitions for traceability.
type AuditLog interface {
	// RecordVersionUpdate notes that newDocID replaced oldDocID (empty when
	// this is the first version) for sourcePath.
	RecordVersionUpdate(ctx context.Context, oldDocID, newDocID, sourcePath string) error
}

// VersionedIngestor updates documents with the immutable add-then-deprecate
// protocol: the new version is fully written and validated before the old one
// is touched, so a failure at any phase leaves the previously active version
// serving queries.
type VersionedIngestor struct {
	registry registry.Registry
	splitter Splitter
	embedder rag.Embedder
	store    rag.VectorStore
	loader   Loader
	audit    AuditLog

	// now is stubbed in tests.
	now func() time.Time
}

// NewVersionedIngestor constructs a VersionedIngestor. audit may be nil, in
// which case version updates are logged loudly but not recorded.
func NewVersionedIngestor(reg registry.Registry, splitter Splitter, emb rag.Embedder, store rag.VectorStore, loader Loader, audit AuditLog) *VersionedIngestor {
	if loader == nil {
		loader = FileLoader{}
	}
	return &VersionedIngestor{
		registry: reg,
		splitter: splitter,
		embedder: emb,
		store:    store,
		loader:   loader,
		audit:    audit,
		now:      time.Now,
	}
}

// UpdateDocument replaces the active version of sourcePath in namespace:
//
//  1. Ingest the new version under a fresh transaction ID, without touching
//     the old one. Any failure deletes the transaction's chunks and returns
//     a *contract.IngestError.
//  2. Validate the new version. Failure deletes the new version's chunks and
//     registry record and returns a *contract.ValidationError; the old
//     version is untouched.
//  3. Deprecate the old version, if one existed: chunk status flipped so the
//     retrieval gate filters it, registry record marked with the timestamp.
//
// The transition is recorded in the audit log before returning.
func (v *VersionedIngestor) UpdateDocument(ctx context.Context, sourcePath, namespace string, metadata map[string]string) (*registry.KnowledgeDocument, error) {
	if err := v.checkPreconditions(metadata); err != nil {
		return nil, err
	}

	oldDoc, err := v.registry.GetActiveVersion(ctx, sourcePath, namespace)
	if err != nil {
		return nil, fmt.Errorf("ingestion: look up active version: %w", err)
	}

	newDoc, err := v.ingestNewVersion(ctx, sourcePath, namespace, metadata)
	if err != nil {
		return nil, err
	}

	if reason := v.validateNewVersion(newDoc); reason != "" {
		if err := v.rollbackNewVersion(ctx, newDoc); err != nil {
			return nil, fmt.Errorf("ingestion: roll back invalid version: %w", err)
		}
		return nil, contract.Validationf("%s; the previous version is unchanged", reason)
	}

	if oldDoc != nil {
		if err := v.deprecateOldVersion(ctx, oldDoc); err != nil {
			return nil, fmt.Errorf("ingestion: deprecate old version: %w", err)
		}
	}

	v.recordUpdate(ctx, oldDoc, newDoc, sourcePath)

	return newDoc, nil
}

// checkPreconditions mirrors the plain Ingestor's rules, except last_updated
// is only age-checked when present; the required-fields check belongs to the
// first ingestion of a source.
func (v *VersionedIngestor) checkPreconditions(metadata map[string]string) error {
	if metadata["status"] != "approved" {
		return contract.Preconditionf("document must be approved, current status: %q", metadata["status"])
	}
	if lastUpdated := metadata["last_updated"]; lastUpdated != "" {
		t, err := parseISO(lastUpdated)
		if err != nil {
			return contract.Preconditionf("unparseable last_updated: %q", lastUpdated)
		}
		if v.now().Sub(t) > MaxDocumentAge {
			return contract.Preconditionf(
				"document not updated for over 180 days (last_updated: %s); have the owner review it before ingesting",
				lastUpdated)
		}
	}
	return nil
}

// ingestNewVersion writes the new version under a fresh transaction ID. Every
// chunk carries the transaction tag, so a failure at any point can delete
// exactly this attempt's writes.
func (v *VersionedIngestor) ingestNewVersion(ctx context.Context, sourcePath, namespace string, metadata map[string]string) (doc *registry.KnowledgeDocument, err error) {
	transactionID := uuid.NewString()

	defer func() {
		if err != nil {
			deleted, delErr := v.store.DeleteByMetadata(ctx, rag.Filter{rag.MetaTransactionID: transactionID})
			log := logging.FromContext(ctx)
			if delErr != nil {
				log.Error("rollback cleanup failed", "transaction_id", transactionID, "error", delErr)
			} else if deleted > 0 {
				log.Warn("ingestion rolled back", "transaction_id", transactionID, "chunks_deleted", deleted)
			}
			err = contract.Ingestf(err, "source %s", sourcePath)
		}
	}()

	text, err := v.loader.Load(ctx, sourcePath)
	if err != nil {
		return nil, err
	}

	chunkMeta := cloneMetadata(metadata)
	chunkMeta["source"] = sourcePath
	chunkMeta[rag.MetaTransactionID] = transactionID
	chunks := v.splitter.Split(text, chunkMeta)

	docID := uuid.NewString()
	if len(chunks) > 0 {
		active := map[string]string{rag.MetaStatus: string(registry.StatusActive)}
		if err = writeChunks(ctx, v.embedder, v.store, chunks, docID, namespace, active); err != nil {
			return nil, err
		}
	}

	version, err := v.makeVersion(ctx)
	if err != nil {
		return nil, err
	}

	doc = &registry.KnowledgeDocument{
		DocID:      docID,
		SourcePath: sourcePath,
		Version:    version,
		Namespace:  namespace,
		Status:     registry.StatusActive,
		ChunkCount: len(chunks),
		CreatedAt:  v.now(),
		Metadata:   metadata,
	}
	if err = v.registry.Save(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// validateNewVersion is a lightweight quality check on the freshly written
// version. Returns a failure reason, or empty on pass.
func (v *VersionedIngestor) validateNewVersion(doc *registry.KnowledgeDocument) string {
	if doc.ChunkCount == 0 {
		return "new version produced no chunks"
	}
	return ""
}

// rollbackNewVersion removes the new version's chunks and registry record.
func (v *VersionedIngestor) rollbackNewVersion(ctx context.Context, doc *registry.KnowledgeDocument) error {
	if _, err := v.store.DeleteByMetadata(ctx, rag.Filter{rag.MetaDocID: doc.DocID}); err != nil {
		return err
	}
	return v.registry.Delete(ctx, doc.DocID)
}

// deprecateOldVersion marks the old version deprecated without deleting
// anything: chunks are re-tagged so the retrieval gate filters them, and the
// registry row records when the deprecation happened. Physical cleanup is a
// separate concern that runs after the retention window.
func (v *VersionedIngestor) deprecateOldVersion(ctx context.Context, oldDoc *registry.KnowledgeDocument) error {
	err := v.store.UpdateMetadataByFilter(ctx,
		rag.Filter{rag.MetaDocID: oldDoc.DocID},
		map[string]string{rag.MetaStatus: string(registry.StatusDeprecated)})
	if err != nil {
		return err
	}

	now := v.now()
	oldDoc.Status = registry.StatusDeprecated
	oldDoc.DeprecatedAt = &now
	return v.registry.Save(ctx, oldDoc)
}

// recordUpdate writes the version transition to the audit log. A missing or
// failing audit log never fails the update, but it is never silent either.
func (v *VersionedIngestor) recordUpdate(ctx context.Context, oldDoc, newDoc *registry.KnowledgeDocument, sourcePath string) {
	log := logging.FromContext(ctx)
	if v.audit == nil {
		log.Warn("version update not audited: no audit log configured",
			"new_doc_id", newDoc.DocID, "source_path", sourcePath)
		return
	}
	oldID := ""
	if oldDoc != nil {
		oldID = oldDoc.DocID
	}
	if err := v.audit.RecordVersionUpdate(ctx, oldID, newDoc.DocID, sourcePath); err != nil {
		log.Warn("version update audit failed",
			"new_doc_id", newDoc.DocID, "source_path", sourcePath, "error", err)
	}
}

// makeVersion derives the next version string, YYYY.MM.DD-N, where N counts
// versions created today.
func (v *VersionedIngestor) makeVersion(ctx context.Context) (string, error) {
	count, err := v.registry.CountTodayVersions(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d", v.now().Format("2006.01.02"), count+1), nil
}
