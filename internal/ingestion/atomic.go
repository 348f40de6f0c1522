package ingestion

import (
	"context"
	"fmt"

	"github.com/kbguard/kbguard-go/internal/logging"
	"github.com/kbguard/kbguard-go/internal/rag"
	"github.com/kbguard/kbguard-go/internal/registry"
)

// Guard makes a multi-step knowledge update atomic. Begin snapshots the
// registry; on success the caller commits, on failure Rollback deletes every
// chunk the transaction wrote and rewinds the registry to the snapshot.
type Guard struct {
	store    rag.VectorStore
	registry registry.Registry
}

// NewGuard constructs a Guard over the store and registry.
func NewGuard(store rag.VectorStore, reg registry.Registry) *Guard {
	return &Guard{store: store, registry: reg}
}

// Begin snapshots the registry under transactionID. Every vector written by
// the transaction must be tagged with the same ID, or Rollback cannot find it.
func (g *Guard) Begin(ctx context.Context, transactionID string) (*registry.Snapshot, error) {
	snap, err := g.registry.CreateSnapshot(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("ingestion: begin transaction %s: %w", transactionID, err)
	}
	return snap, nil
}

// Commit discards the snapshot; the transaction's writes stand.
func (g *Guard) Commit(ctx context.Context, snap *registry.Snapshot) error {
	if err := g.registry.CommitSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("ingestion: commit transaction %s: %w", snap.TransactionID, err)
	}
	return nil
}

// Rollback deletes every chunk tagged with the transaction ID and rewinds
// the registry to the snapshot.
func (g *Guard) Rollback(ctx context.Context, snap *registry.Snapshot) error {
	log := logging.FromContext(ctx)
	log.Warn("rolling back knowledge update", "transaction_id", snap.TransactionID)

	deleted, err := g.store.DeleteByMetadata(ctx, rag.Filter{rag.MetaTransactionID: snap.TransactionID})
	if err != nil {
		return fmt.Errorf("ingestion: rollback delete for %s: %w", snap.TransactionID, err)
	}
	log.Warn("removed leftover chunks", "transaction_id", snap.TransactionID, "chunks_deleted", deleted)

	if err := g.registry.RestoreSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("ingestion: rollback restore for %s: %w", snap.TransactionID, err)
	}
	return nil
}
