package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// VersionUpdate is one recorded version transition.
type VersionUpdate struct {
	// OldDocID is the replaced version, empty for a first ingestion.
	OldDocID string
	// NewDocID is the version that became active.
	NewDocID string
	// SourcePath is the source document.
	SourcePath string
	// CreatedAt is when the transition was recorded.
	CreatedAt time.Time
}

// QueryRecord is one recorded query, stored whether or not an answer was
// generated.
type QueryRecord struct {
	// Question is the user's question verbatim.
	Question string
	// GateStatus is "pass" or the gate's block reason.
	GateStatus string
	// DocIDs are the documents whose chunks grounded the answer.
	DocIDs []string
	// AnswerPreview is the first 100 characters of the answer, empty when
	// generation was blocked.
	AnswerPreview string
	// CreatedAt is when the query was recorded.
	CreatedAt time.Time
}

// Trail is the durable audit trail: version transitions and queries, each
// persisted to SQLite and mirrored to the structured log.
type Trail struct {
	db  *sql.DB
	log *slog.Logger
}

// DefaultDBPath returns the default path for the audit database. It resolves
// to ~/.kbguard/audit.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("audit: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".kbguard")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("audit: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "audit.db"), nil
}

// Open opens (or creates) a Trail at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string, log *slog.Logger) (*Trail, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	if log == nil {
		log = slog.Default()
	}
	t := &Trail{db: db, log: log}
	if err := t.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}

// migrate creates the schema if it does not already exist.
func (t *Trail) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS version_updates (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    old_doc_id  TEXT    NOT NULL,  -- empty for first ingestion
    new_doc_id  TEXT    NOT NULL,
    source_path TEXT    NOT NULL,
    created_at  INTEGER NOT NULL   -- Unix timestamp (seconds)
);
CREATE TABLE IF NOT EXISTS query_log (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    question       TEXT    NOT NULL,
    gate_status    TEXT    NOT NULL,
    doc_ids        TEXT    NOT NULL,  -- JSON array
    answer_preview TEXT    NOT NULL,
    created_at     INTEGER NOT NULL
);
`
	if _, err := t.db.Exec(ddl); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// RecordVersionUpdate persists a version transition and mirrors it to the log.
func (t *Trail) RecordVersionUpdate(ctx context.Context, oldDocID, newDocID, sourcePath string) error {
	const q = `INSERT INTO version_updates (old_doc_id, new_doc_id, source_path, created_at) VALUES (?, ?, ?, ?)`
	if _, err := t.db.ExecContext(ctx, q, oldDocID, newDocID, sourcePath, time.Now().Unix()); err != nil {
		return fmt.Errorf("audit: record version update: %w", err)
	}
	t.log.Info("audit: version update",
		"old_doc_id", oldDocID, "new_doc_id", newDocID, "source_path", sourcePath)
	return nil
}

// RecordQuery persists one query outcome and mirrors it to the log.
func (t *Trail) RecordQuery(ctx context.Context, question, gateStatus string, docIDs []string, answerPreview string) error {
	ids, err := json.Marshal(docIDs)
	if err != nil {
		return fmt.Errorf("audit: marshal doc ids: %w", err)
	}
	const q = `INSERT INTO query_log (question, gate_status, doc_ids, answer_preview, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := t.db.ExecContext(ctx, q, question, gateStatus, string(ids), answerPreview, time.Now().Unix()); err != nil {
		return fmt.Errorf("audit: record query: %w", err)
	}
	t.log.Info("audit: query",
		"gate_status", gateStatus, "doc_count", len(docIDs))
	return nil
}

// RecentVersionUpdates returns the most recent n version transitions,
// newest first.
func (t *Trail) RecentVersionUpdates(ctx context.Context, n int) ([]VersionUpdate, error) {
	const q = `
SELECT old_doc_id, new_doc_id, source_path, created_at
FROM   version_updates
ORDER  BY created_at DESC, id DESC
LIMIT  ?`
	rows, err := t.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("audit: recent version updates: %w", err)
	}
	defer rows.Close()

	var updates []VersionUpdate
	for rows.Next() {
		var u VersionUpdate
		var ts int64
		if err := rows.Scan(&u.OldDocID, &u.NewDocID, &u.SourcePath, &ts); err != nil {
			return nil, fmt.Errorf("audit: scan version update: %w", err)
		}
		u.CreatedAt = time.Unix(ts, 0)
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: version update rows: %w", err)
	}
	return updates, nil
}

// RecentQueries returns the most recent n query records, newest first.
func (t *Trail) RecentQueries(ctx context.Context, n int) ([]QueryRecord, error) {
	const q = `
SELECT question, gate_status, doc_ids, answer_preview, created_at
FROM   query_log
ORDER  BY created_at DESC, id DESC
LIMIT  ?`
	rows, err := t.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("audit: recent queries: %w", err)
	}
	defer rows.Close()

	var records []QueryRecord
	for rows.Next() {
		var r QueryRecord
		var ids string
		var ts int64
		if err := rows.Scan(&r.Question, &r.GateStatus, &ids, &r.AnswerPreview, &ts); err != nil {
			return nil, fmt.Errorf("audit: scan query record: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &r.DocIDs); err != nil {
			return nil, fmt.Errorf("audit: unmarshal doc ids: %w", err)
		}
		r.CreatedAt = time.Unix(ts, 0)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: query rows: %w", err)
	}
	return records, nil
}

// Close releases the database connection pool.
func (t *Trail) Close() error {
	if err := t.db.Close(); err != nil {
		return fmt.Errorf("audit: close: %w", err)
	}
	return nil
}
