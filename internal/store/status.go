package store

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

// File-status values, per the Lifecycles section: created `queued`,
// transitions through `processing` (in-memory only, never persisted),
// terminal `indexed` | `failed` | `error`, or `outdated` once a parser
// version bump invalidates a previously-indexed row.
const (
	StatusQueued   = "queued"
	StatusIndexed  = "indexed"
	StatusFailed   = "failed"
	StatusError    = "error"
	StatusOutdated = "outdated"
)

var statusColumns = []string{
	"path", "status", "parser_version", "chunk_count",
	"error_message", "last_modified", "indexed_at", "file_hash", "last_retry",
}

const createStatusTableSQL = `
CREATE TABLE IF NOT EXISTS file_status (
	path           TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	parser_version INTEGER NOT NULL,
	chunk_count    INTEGER NOT NULL,
	error_message  TEXT NOT NULL,
	last_modified  TEXT NOT NULL,
	indexed_at     TEXT NOT NULL,
	file_hash      TEXT NOT NULL,
	last_retry     TEXT NOT NULL
);`

const createStatusIndexSQL = `CREATE INDEX IF NOT EXISTS idx_file_status_status ON file_status(status);`

// StatusRecord is the in-process representation of a file-status row.
// Upsert writes all nine columns on every call; it does not validate the
// record, so a zero-valued field is stored as 0 or the empty string.
// LastRetry.IsZero() is the nullable-sentinel for "never retried".
type StatusRecord struct {
	Path          string
	Status        string
	ParserVersion int
	ChunkCount    int
	ErrorMessage  string
	LastModified  time.Time
	IndexedAt     time.Time
	FileHash      string
	LastRetry     time.Time
}

// IndexedRow is the projection the Re-index Planner reads for rows in
// status indexed — path and parser_version only, per the read-path
// optimization in §4.4.
type IndexedRow struct {
	Path          string
	ParserVersion int
}

// FailedRow is the projection the planner reads for rows in status
// failed or error.
type FailedRow struct {
	Path          string
	ParserVersion int
	LastRetry     time.Time
}

type statusTable struct {
	db *sql.DB
}

func openStatusTable(path string) (*statusTable, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(createStatusTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create file_status table: %w", err)
	}
	if _, err := db.Exec(createStatusIndexSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create file_status index: %w", err)
	}

	return &statusTable{db: db}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Upsert performs a full-record rewrite: every partial update in this
// store is implemented as a complete row replacement, per §4.4.
func (t *statusTable) Upsert(rec StatusRecord) error {
	_, err := sq.Insert("file_status").
		Columns(statusColumns...).
		Values(
			rec.Path,
			rec.Status,
			rec.ParserVersion,
			rec.ChunkCount,
			rec.ErrorMessage,
			formatTime(rec.LastModified),
			formatTime(rec.IndexedAt),
			rec.FileHash,
			formatTime(rec.LastRetry),
		).
		Suffix(`ON CONFLICT(path) DO UPDATE SET
			status = excluded.status,
			parser_version = excluded.parser_version,
			chunk_count = excluded.chunk_count,
			error_message = excluded.error_message,
			last_modified = excluded.last_modified,
			indexed_at = excluded.indexed_at,
			file_hash = excluded.file_hash,
			last_retry = excluded.last_retry`).
		RunWith(t.db).
		Exec()
	if err != nil {
		return fmt.Errorf("upsert file_status %s: %w", rec.Path, err)
	}
	return nil
}

// DeleteByPath removes a file-status row. A duplicate delete for an
// already-absent path is a no-op (DELETE affects zero rows, no error).
func (t *statusTable) DeleteByPath(path string) error {
	_, err := sq.Delete("file_status").
		Where(sq.Eq{"path": path}).
		RunWith(t.db).
		Exec()
	if err != nil {
		return fmt.Errorf("delete file_status %s: %w", path, err)
	}
	return nil
}

// Get returns the row for path, if any.
func (t *statusTable) Get(path string) (StatusRecord, bool, error) {
	row := sq.Select(statusColumns...).
		From("file_status").
		Where(sq.Eq{"path": path}).
		RunWith(t.db).
		QueryRow()

	rec, err := scanStatusRow(row.Scan)
	if err == sql.ErrNoRows {
		return StatusRecord{}, false, nil
	}
	if err != nil {
		return StatusRecord{}, false, fmt.Errorf("get file_status %s: %w", path, err)
	}
	return rec, true, nil
}

// QueryIndexed fetches only path and parser_version for status=indexed
// rows — the O(indexed files) read path the planner depends on.
func (t *statusTable) QueryIndexed() ([]IndexedRow, error) {
	rows, err := sq.Select("path", "parser_version").
		From("file_status").
		Where(sq.Eq{"status": StatusIndexed}).
		RunWith(t.db).
		Query()
	if err != nil {
		return nil, fmt.Errorf("query indexed rows: %w", err)
	}
	defer rows.Close()

	var out []IndexedRow
	for rows.Next() {
		var r IndexedRow
		if err := rows.Scan(&r.Path, &r.ParserVersion); err != nil {
			return nil, fmt.Errorf("scan indexed row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// QueryFailedForRetry fetches (path, parser_version, last_retry) for
// rows in status failed or error.
func (t *statusTable) QueryFailedForRetry() ([]FailedRow, error) {
	rows, err := sq.Select("path", "parser_version", "last_retry").
		From("file_status").
		Where(sq.Or{sq.Eq{"status": StatusFailed}, sq.Eq{"status": StatusError}}).
		RunWith(t.db).
		Query()
	if err != nil {
		return nil, fmt.Errorf("query failed rows: %w", err)
	}
	defer rows.Close()

	var out []FailedRow
	for rows.Next() {
		var r FailedRow
		var lastRetry string
		if err := rows.Scan(&r.Path, &r.ParserVersion, &lastRetry); err != nil {
			return nil, fmt.Errorf("scan failed row: %w", err)
		}
		r.LastRetry = parseTime(lastRetry)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *statusTable) Close() error {
	return t.db.Close()
}

func scanStatusRow(scan func(dest ...interface{}) error) (StatusRecord, error) {
	var rec StatusRecord
	var lastModified, indexedAt, lastRetry string
	err := scan(
		&rec.Path,
		&rec.Status,
		&rec.ParserVersion,
		&rec.ChunkCount,
		&rec.ErrorMessage,
		&lastModified,
		&indexedAt,
		&rec.FileHash,
		&lastRetry,
	)
	if err != nil {
		return StatusRecord{}, err
	}
	rec.LastModified = parseTime(lastModified)
	rec.IndexedAt = parseTime(indexedAt)
	rec.LastRetry = parseTime(lastRetry)
	return rec, nil
}
