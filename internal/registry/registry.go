package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Snapshot is a point-in-time copy of the registry taken at the start of a
// multi-step update. Commit discards it; Restore rewinds the registry to it.
type Snapshot struct {
	// TransactionID ties the snapshot to one update attempt.
	TransactionID string

	// TakenAt is when the snapshot was created.
	TakenAt time.Time
}

// Registry persists document version records. Implementations must be safe
// for concurrent use.
type Registry interface {
	// GetActiveVersion returns the active version for (sourcePath, namespace),
	// or nil when no active version exists.
	GetActiveVersion(ctx context.Context, sourcePath, namespace string) (*KnowledgeDocument, error)

	// Save inserts or replaces the record keyed by doc.DocID.
	Save(ctx context.Context, doc *KnowledgeDocument) error

	// Delete removes the record for docID. Deleting an absent record is not
	// an error.
	Delete(ctx context.Context, docID string) error

	// CountTodayVersions returns how many versions were created today, used
	// to derive the next version suffix.
	CountTodayVersions(ctx context.Context) (int, error)

	// ListDocuments returns all records in the namespace, or every record
	// when namespace is empty.
	ListDocuments(ctx context.Context, namespace string) ([]KnowledgeDocument, error)

	// CreateSnapshot copies the current registry state under transactionID.
	CreateSnapshot(ctx context.Context, transactionID string) (*Snapshot, error)

	// CommitSnapshot discards the snapshot, keeping the current state.
	CommitSnapshot(ctx context.Context, snap *Snapshot) error

	// RestoreSnapshot rewinds the registry to the snapshot state and then
	// discards the snapshot.
	RestoreSnapshot(ctx context.Context, snap *Snapshot) error

	// Close releases any resources held by the registry.
	Close() error
}

// SQLiteRegistry is a Registry backed by a local SQLite database.
type SQLiteRegistry struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

var _ Registry = (*SQLiteRegistry)(nil)

// DefaultDBPath returns the default path for the registry database. It
// resolves to ~/.kbguard/registry.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("registry: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".kbguard")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("registry: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "registry.db"), nil
}

// Open opens (or creates) a SQLiteRegistry at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteRegistry, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	r := &SQLiteRegistry{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// migrate creates the schema if it does not already exist.
func (r *SQLiteRegistry) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    doc_id        TEXT    PRIMARY KEY,
    source_path   TEXT    NOT NULL,
    namespace     TEXT    NOT NULL,
    version       TEXT    NOT NULL,
    status        TEXT    NOT NULL CHECK(status IN ('ingesting','active','deprecated','archived','failed')),
    chunk_count   INTEGER NOT NULL,
    created_at    INTEGER NOT NULL,  -- Unix timestamp (seconds)
    deprecated_at INTEGER,           -- Unix timestamp (seconds), NULL while active
    metadata      TEXT    NOT NULL   -- JSON object of string pairs
);
CREATE INDEX IF NOT EXISTS idx_documents_source_ns
    ON documents (source_path, namespace, status);
CREATE INDEX IF NOT EXISTS idx_documents_namespace
    ON documents (namespace);

CREATE TABLE IF NOT EXISTS registry_snapshots (
    snapshot_id   TEXT    NOT NULL,  -- transaction ID of the update attempt
    doc_id        TEXT    NOT NULL,
    source_path   TEXT    NOT NULL,
    namespace     TEXT    NOT NULL,
    version       TEXT    NOT NULL,
    status        TEXT    NOT NULL,
    chunk_count   INTEGER NOT NULL,
    created_at    INTEGER NOT NULL,
    deprecated_at INTEGER,
    metadata      TEXT    NOT NULL,
    PRIMARY KEY (snapshot_id, doc_id)
);
`
	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("registry: migrate: %w", err)
	}
	return nil
}

// GetActiveVersion returns the active version for (sourcePath, namespace),
// or nil when no active version exists.
func (r *SQLiteRegistry) GetActiveVersion(ctx context.Context, sourcePath, namespace string) (*KnowledgeDocument, error) {
	const q = `
SELECT doc_id, source_path, namespace, version, status, chunk_count, created_at, deprecated_at, metadata
FROM   documents
WHERE  source_path = ? AND namespace = ? AND status = 'active'
ORDER  BY created_at DESC
LIMIT  1`

	row := r.db.QueryRowContext(ctx, q, sourcePath, namespace)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get active version: %w", err)
	}
	return doc, nil
}

// Save inserts or replaces the record keyed by doc.DocID.
func (r *SQLiteRegistry) Save(ctx context.Context, doc *KnowledgeDocument) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("registry: marshal metadata: %w", err)
	}

	var deprecatedAt interface{}
	if doc.DeprecatedAt != nil {
		deprecatedAt = doc.DeprecatedAt.Unix()
	}

	const q = `
INSERT INTO documents (doc_id, source_path, namespace, version, status, chunk_count, created_at, deprecated_at, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(doc_id) DO UPDATE SET
    source_path = excluded.source_path,
    namespace = excluded.namespace,
    version = excluded.version,
    status = excluded.status,
    chunk_count = excluded.chunk_count,
    created_at = excluded.created_at,
    deprecated_at = excluded.deprecated_at,
    metadata = excluded.metadata`

	_, err = r.db.ExecContext(ctx, q,
		doc.DocID, doc.SourcePath, doc.Namespace, doc.Version, string(doc.Status),
		doc.ChunkCount, doc.CreatedAt.Unix(), deprecatedAt, string(meta))
	if err != nil {
		return fmt.Errorf("registry: save %s: %w", doc.DocID, err)
	}
	return nil
}

// Delete removes the record for docID.
func (r *SQLiteRegistry) Delete(ctx context.Context, docID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("registry: delete %s: %w", docID, err)
	}
	return nil
}

// CountTodayVersions returns how many versions were created since local
// midnight.
func (r *SQLiteRegistry) CountTodayVersions(ctx context.Context) (int, error) {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var count int
	const q = `SELECT COUNT(*) FROM documents WHERE created_at >= ?`
	if err := r.db.QueryRowContext(ctx, q, midnight.Unix()).Scan(&count); err != nil {
		return 0, fmt.Errorf("registry: count today versions: %w", err)
	}
	return count, nil
}

// ListDocuments returns all records in the namespace, or every record when
// namespace is empty. Ordered oldest-first.
func (r *SQLiteRegistry) ListDocuments(ctx context.Context, namespace string) ([]KnowledgeDocument, error) {
	q := `
SELECT doc_id, source_path, namespace, version, status, chunk_count, created_at, deprecated_at, metadata
FROM   documents`
	args := []interface{}{}
	if namespace != "" {
		q += ` WHERE namespace = ?`
		args = append(args, namespace)
	}
	q += ` ORDER BY created_at ASC, doc_id ASC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("registry: list documents: %w", err)
	}
	defer rows.Close()

	var docs []KnowledgeDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: list scan: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: list rows: %w", err)
	}
	return docs, nil
}

// CreateSnapshot copies the current documents table under transactionID.
func (r *SQLiteRegistry) CreateSnapshot(ctx context.Context, transactionID string) (*Snapshot, error) {
	const q = `
INSERT INTO registry_snapshots (snapshot_id, doc_id, source_path, namespace, version, status, chunk_count, created_at, deprecated_at, metadata)
SELECT ?, doc_id, source_path, namespace, version, status, chunk_count, created_at, deprecated_at, metadata
FROM   documents`
	if _, err := r.db.ExecContext(ctx, q, transactionID); err != nil {
		return nil, fmt.Errorf("registry: create snapshot %s: %w", transactionID, err)
	}
	return &Snapshot{TransactionID: transactionID, TakenAt: time.Now()}, nil
}

// CommitSnapshot discards the snapshot rows, keeping the current state.
func (r *SQLiteRegistry) CommitSnapshot(ctx context.Context, snap *Snapshot) error {
	const q = `DELETE FROM registry_snapshots WHERE snapshot_id = ?`
	if _, err := r.db.ExecContext(ctx, q, snap.TransactionID); err != nil {
		return fmt.Errorf("registry: commit snapshot %s: %w", snap.TransactionID, err)
	}
	return nil
}

// RestoreSnapshot rewinds the documents table to the snapshot state inside a
// single transaction, then discards the snapshot rows.
func (r *SQLiteRegistry) RestoreSnapshot(ctx context.Context, snap *Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: restore snapshot begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("registry: restore snapshot clear: %w", err)
	}

	const restore = `
INSERT INTO documents (doc_id, source_path, namespace, version, status, chunk_count, created_at, deprecated_at, metadata)
SELECT doc_id, source_path, namespace, version, status, chunk_count, created_at, deprecated_at, metadata
FROM   registry_snapshots
WHERE  snapshot_id = ?`
	if _, err := tx.ExecContext(ctx, restore, snap.TransactionID); err != nil {
		return fmt.Errorf("registry: restore snapshot copy: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM registry_snapshots WHERE snapshot_id = ?`, snap.TransactionID); err != nil {
		return fmt.Errorf("registry: restore snapshot discard: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: restore snapshot commit: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (r *SQLiteRegistry) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("registry: close: %w", err)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanDocument.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanDocument reads one document row in column order.
func scanDocument(s scanner) (*KnowledgeDocument, error) {
	var doc KnowledgeDocument
	var status string
	var createdAt int64
	var deprecatedAt sql.NullInt64
	var meta string

	err := s.Scan(&doc.DocID, &doc.SourcePath, &doc.Namespace, &doc.Version,
		&status, &doc.ChunkCount, &createdAt, &deprecatedAt, &meta)
	if err != nil {
		return nil, err
	}

	doc.Status = Status(status)
	doc.CreatedAt = time.Unix(createdAt, 0)
	if deprecatedAt.Valid {
		t := time.Unix(deprecatedAt.Int64, 0)
		doc.DeprecatedAt = &t
	}
	if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &doc, nil
}
