package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kbguard/kbguard-go/internal/chunker"
	"github.com/kbguard/kbguard-go/internal/contract"
	"github.com/kbguard/kbguard-go/internal/rag"
	"github.com/kbguard/kbguard-go/internal/registry"
)

// recordingAudit captures version transitions.
type recordingAudit struct {
	oldIDs, newIDs, paths []string
}

func (a *recordingAudit) RecordVersionUpdate(_ context.Context, oldDocID, newDocID, sourcePath string) error {
	a.oldIDs = append(a.oldIDs, oldDocID)
	a.newIDs = append(a.newIDs, newDocID)
	a.paths = append(a.paths, sourcePath)
	return nil
}

func openTestRegistry(t *testing.T) *registry.SQLiteRegistry {
	t.Helper()
	reg, err := registry.Open(":memory:")
	if err != nil {
		t.Fatalf("registry.Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func newTestVersioned(t *testing.T, store *fakeStore, loader Loader, audit AuditLog) (*VersionedIngestor, *registry.SQLiteRegistry) {
	t.Helper()
	reg := openTestRegistry(t)
	v := NewVersionedIngestor(reg, chunker.New(50, 10), &countingEmbedder{}, store, loader, audit)
	return v, reg
}

func Test_UpdateDocument_FirstVersion(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	loader := &mapLoader{files: map[string]string{
		"policies/leave.md": "Leave policy paragraph one.\n\nLeave policy paragraph two.",
	}}
	audit := &recordingAudit{}
	v, _ := newTestVersioned(t, store, loader, audit)

	doc, err := v.UpdateDocument(context.Background(), "policies/leave.md", "hr-policies", approvedMetadata())
	if err != nil {
		t.Fatalf("UpdateDocument failed: %v", err)
	}
	if doc.Status != registry.StatusActive {
		t.Errorf("Status = %q, want active", doc.Status)
	}
	if doc.ChunkCount < 1 {
		t.Errorf("ChunkCount = %d", doc.ChunkCount)
	}

	wantPrefix := time.Now().Format("2006.01.02") + "-"
	if !strings.HasPrefix(doc.Version, wantPrefix) {
		t.Errorf("Version = %q, want prefix %q", doc.Version, wantPrefix)
	}
	if !strings.HasSuffix(doc.Version, "-1") {
		t.Errorf("Version = %q, want first version of the day", doc.Version)
	}

	for i, p := range store.points {
		if p.Metadata[rag.MetaStatus] != string(registry.StatusActive) {
			t.Errorf("point %d not tagged active", i)
		}
		if p.Metadata[rag.MetaTransactionID] == "" {
			t.Errorf("point %d missing transaction tag", i)
		}
	}

	if len(audit.newIDs) != 1 || audit.newIDs[0] != doc.DocID || audit.oldIDs[0] != "" {
		t.Errorf("audit record wrong: old=%v new=%v", audit.oldIDs, audit.newIDs)
	}
}

func Test_UpdateDocument_DeprecatesOldVersion(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	loader := &mapLoader{files: map[string]string{
		"policies/leave.md": "Original policy text, long enough to produce a chunk.",
	}}
	audit := &recordingAudit{}
	v, reg := newTestVersioned(t, store, loader, audit)
	ctx := context.Background()

	oldDoc, err := v.UpdateDocument(ctx, "policies/leave.md", "hr-policies", approvedMetadata())
	if err != nil {
		t.Fatalf("first UpdateDocument failed: %v", err)
	}

	loader.files["policies/leave.md"] = "Revised policy text, also long enough to produce a chunk."
	newDoc, err := v.UpdateDocument(ctx, "policies/leave.md", "hr-policies", approvedMetadata())
	if err != nil {
		t.Fatalf("second UpdateDocument failed: %v", err)
	}
	if newDoc.DocID == oldDoc.DocID {
		t.Fatal("update reused the old doc ID")
	}

	// Registry: old deprecated with a timestamp, new active.
	docs, err := reg.ListDocuments(ctx, "hr-policies")
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("want 2 registry records, got %d", len(docs))
	}
	for _, d := range docs {
		switch d.DocID {
		case oldDoc.DocID:
			if d.Status != registry.StatusDeprecated || d.DeprecatedAt == nil {
				t.Errorf("old version not deprecated: %+v", d)
			}
		case newDoc.DocID:
			if d.Status != registry.StatusActive {
				t.Errorf("new version not active: %+v", d)
			}
		}
	}

	// Chunks of the old version are re-tagged, not deleted.
	oldChunks, newChunks := 0, 0
	for _, p := range store.points {
		switch p.Metadata[rag.MetaDocID] {
		case oldDoc.DocID:
			oldChunks++
			if p.Metadata[rag.MetaStatus] != string(registry.StatusDeprecated) {
				t.Error("old chunk not tagged deprecated")
			}
		case newDoc.DocID:
			newChunks++
		}
	}
	if oldChunks == 0 || newChunks == 0 {
		t.Errorf("chunks missing: old=%d new=%d", oldChunks, newChunks)
	}

	// Active lookup now resolves to the new version.
	active, err := reg.GetActiveVersion(ctx, "policies/leave.md", "hr-policies")
	if err != nil {
		t.Fatalf("GetActiveVersion failed: %v", err)
	}
	if active == nil || active.DocID != newDoc.DocID {
		t.Errorf("active version = %+v, want new doc", active)
	}

	if len(audit.oldIDs) != 2 || audit.oldIDs[1] != oldDoc.DocID {
		t.Errorf("audit did not record the replaced version: %v", audit.oldIDs)
	}
}

func Test_UpdateDocument_ValidationFailureKeepsOldVersion(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	loader := &mapLoader{files: map[string]string{
		"policies/leave.md": "Original policy text, long enough to produce a chunk.",
	}}
	v, reg := newTestVersioned(t, store, loader, &recordingAudit{})
	ctx := context.Background()

	oldDoc, err := v.UpdateDocument(ctx, "policies/leave.md", "hr-policies", approvedMetadata())
	if err != nil {
		t.Fatalf("first UpdateDocument failed: %v", err)
	}

	// The revised file is empty: zero chunks, validation must fail.
	loader.files["policies/leave.md"] = "   "
	_, err = v.UpdateDocument(ctx, "policies/leave.md", "hr-policies", approvedMetadata())
	var validation *contract.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("want ValidationError, got %v", err)
	}

	// Old version untouched and still active.
	active, err := reg.GetActiveVersion(ctx, "policies/leave.md", "hr-policies")
	if err != nil {
		t.Fatalf("GetActiveVersion failed: %v", err)
	}
	if active == nil || active.DocID != oldDoc.DocID || active.Status != registry.StatusActive {
		t.Errorf("old version disturbed: %+v", active)
	}

	// The failed version left no registry record.
	docs, err := reg.ListDocuments(ctx, "")
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("want only the old record, got %d", len(docs))
	}
}

func Test_UpdateDocument_IngestFailureRollsBackTransaction(t *testing.T) {
	t.Parallel()
	store := &fakeStore{failUpsert: true}
	loader := &mapLoader{files: map[string]string{
		"policies/leave.md": "Policy text long enough to produce a chunk.",
	}}
	reg := openTestRegistry(t)
	v := NewVersionedIngestor(reg, chunker.New(50, 10), &countingEmbedder{}, store, loader, &recordingAudit{})
	ctx := context.Background()

	_, err := v.UpdateDocument(ctx, "policies/leave.md", "hr-policies", approvedMetadata())
	var ingestErr *contract.IngestError
	if !errors.As(err, &ingestErr) {
		t.Fatalf("want IngestError, got %v", err)
	}

	// No partial registry record.
	docs, regErr := reg.ListDocuments(ctx, "")
	if regErr != nil {
		t.Fatalf("ListDocuments failed: %v", regErr)
	}
	if len(docs) != 0 {
		t.Errorf("partial registry record survived: %+v", docs)
	}
}

func Test_UpdateDocument_RejectsUnapproved(t *testing.T) {
	t.Parallel()
	v, _ := newTestVersioned(t, &fakeStore{}, &mapLoader{}, &recordingAudit{})
	meta := approvedMetadata()
	meta["status"] = "pending"
	_, err := v.UpdateDocument(context.Background(), "doc.md", "hr-policies", meta)
	var pre *contract.PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("want PreconditionError, got %v", err)
	}
}

func Test_Guard_RollbackRestoresRegistryAndDeletesChunks(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	reg := openTestRegistry(t)
	guard := NewGuard(store, reg)
	ctx := context.Background()

	snap, err := guard.Begin(ctx, "txn-1")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	// Writes under the transaction: a registry row plus tagged chunks.
	doc := &registry.KnowledgeDocument{
		DocID: "doc-1", SourcePath: "a.md", Version: "2026.08.28-1",
		Namespace: "hr-policies", Status: registry.StatusActive,
		ChunkCount: 1, CreatedAt: time.Now(), Metadata: map[string]string{},
	}
	if err := reg.Save(ctx, doc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	err = store.Upsert(ctx, []rag.Point{{
		ID: "p1", Vector: []float32{1}, Metadata: map[string]string{rag.MetaTransactionID: "txn-1"},
	}})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := guard.Rollback(ctx, snap); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	docs, err := reg.ListDocuments(ctx, "")
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("registry not rewound: %+v", docs)
	}
	if len(store.points) != 0 {
		t.Errorf("transaction chunks survived rollback: %d", len(store.points))
	}
}

func Test_Guard_CommitKeepsWrites(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	reg := openTestRegistry(t)
	guard := NewGuard(store, reg)
	ctx := context.Background()

	snap, err := guard.Begin(ctx, "txn-1")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	doc := &registry.KnowledgeDocument{
		DocID: "doc-1", SourcePath: "a.md", Version: "2026.08.28-1",
		Namespace: "hr-policies", Status: registry.StatusActive,
		ChunkCount: 1, CreatedAt: time.Now(), Metadata: map[string]string{},
	}
	if err := reg.Save(ctx, doc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := guard.Commit(ctx, snap); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	docs, err := reg.ListDocuments(ctx, "")
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("committed write lost: %+v", docs)
	}
}
