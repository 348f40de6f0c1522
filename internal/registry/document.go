// Package registry is the durable owner of document lifecycle state. Every
// ingestion produces a new version row; old versions are never deleted in
// place, only marked deprecated and cleaned up later. The registry also
// supports snapshots so a multi-step update can be rolled back as a unit.
package registry

import "time"

// Status is the lifecycle state of one document version.
type Status string

const (
	// StatusIngesting marks a version currently being written.
	StatusIngesting Status = "ingesting"
	// StatusActive marks the version currently serving queries. At most one
	// version per (source_path, namespace) is active.
	StatusActive Status = "active"
	// StatusDeprecated marks a superseded version awaiting cleanup.
	StatusDeprecated Status = "deprecated"
	// StatusArchived marks a version kept permanently but never queried.
	StatusArchived Status = "archived"
	// StatusFailed marks a version whose ingestion failed. The ingestion
	// flows delete their partial records outright rather than assigning it;
	// it exists for operators who mark documents by hand.
	StatusFailed Status = "failed"
)

// CleanupAge is how long a deprecated version is retained before it becomes
// eligible for physical removal from the index.
const CleanupAge = 30 * 24 * time.Hour

// KnowledgeDocument is one version record of a source document. A new
// ingestion of the same source produces a new record with a new DocID and
// version string; the old record survives with its status flipped.
type KnowledgeDocument struct {
	// DocID is the unique identifier of this version (UUID).
	DocID string

	// SourcePath is the path of the source file this version was built from.
	SourcePath string

	// Version is the human-readable version string, e.g. "2026.08.28-1".
	Version string

	// Namespace is the knowledge domain this version belongs to.
	Namespace string

	// Status is the lifecycle state.
	Status Status

	// ChunkCount is the number of chunks written for this version.
	ChunkCount int

	// CreatedAt is when this version was ingested.
	CreatedAt time.Time

	// DeprecatedAt is when this version was deprecated; nil while active.
	DeprecatedAt *time.Time

	// Metadata is the caller-supplied document metadata (source, owner,
	// last_updated, status, ...).
	Metadata map[string]string
}

// IsQueryable reports whether this version may serve queries. Only active
// versions qualify.
func (d *KnowledgeDocument) IsQueryable() bool {
	return d.Status == StatusActive
}

// ShouldBeCleaned reports whether this version is eligible for physical
// removal: deprecated for at least CleanupAge as of now.
func (d *KnowledgeDocument) ShouldBeCleaned(now time.Time) bool {
	if d.Status != StatusDeprecated || d.DeprecatedAt == nil {
		return false
	}
	return now.Sub(*d.DeprecatedAt) >= CleanupAge
}
