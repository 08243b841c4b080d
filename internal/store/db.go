// Package store provides the embedded document store used by contentsync.
//
// Documents are flat JSON objects keyed by id and tagged with a schema type,
// the same model the hosted CMS exposes. The store runs on SQLite in
// embedded mode with WAL so the CLI, the watch daemon and ad-hoc scripts can
// share one database file.
//
// Architecture:
//   - Database file: <data_dir>/<project>-<dataset>.db
//   - documents: id, type, rev, body (JSON of user fields), timestamps
//   - assets: content-addressed binaries, zstd-compressed
//
// Draft documents live next to their published counterparts under the
// "drafts." id prefix.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB is the SQLite-backed implementation of Client.
type DB struct {
	conn     *sql.DB
	path     string
	readOnly bool
}

var _ Client = (*DB)(nil)

// Options configures Open.
type Options struct {
	// ReadOnly rejects every write with ErrReadOnly. Used when no write
	// token is configured.
	ReadOnly bool
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := store.Open(".csync/studio-production.db", store.Options{})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string, opts Options) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:     conn,
		path:     path,
		readOnly: opts.ReadOnly,
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// ReadOnly reports whether writes are rejected.
func (db *DB) ReadOnly() bool {
	return db.readOnly
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		rev TEXT NOT NULL,
		body TEXT NOT NULL,  -- JSON object of user fields
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		mime_type TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL,
		data BLOB NOT NULL,  -- zstd
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(type);
	CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Get implements Client.Get.
func (db *DB) Get(ctx context.Context, id string) (*Document, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT id, type, rev, body, created_at, updated_at
	FROM documents
	WHERE id = ?
	`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return doc, nil
}

var fieldPathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Fetch implements Client.Fetch.
func (db *DB) Fetch(ctx context.Context, q Query) ([]*Document, error) {
	var conditions []string
	var args []interface{}

	if len(q.Types) > 0 {
		conditions = append(conditions, "type IN ("+placeholders(len(q.Types))+")")
		for _, t := range q.Types {
			args = append(args, t)
		}
	}

	if len(q.IDs) > 0 {
		conditions = append(conditions, "id IN ("+placeholders(len(q.IDs))+")")
		for _, id := range q.IDs {
			args = append(args, id)
		}
	}

	keys := make([]string, 0, len(q.Where))
	for k := range q.Where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fieldPathPattern.MatchString(k) {
			return nil, fmt.Errorf("invalid field path %q", k)
		}
		conditions = append(conditions, "json_extract(body, ?) = ?")
		args = append(args, "$."+k, sqlValue(q.Where[k]))
	}

	switch q.Drafts {
	case DraftsExclude:
		conditions = append(conditions, "id NOT LIKE 'drafts.%'")
	case DraftsOnly:
		conditions = append(conditions, "id LIKE 'drafts.%'")
	}

	query := `SELECT id, type, rev, body, created_at, updated_at FROM documents`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	switch q.Order {
	case OrderByUpdatedDesc:
		query += " ORDER BY updated_at DESC, id ASC"
	default:
		query += " ORDER BY id ASC"
	}

	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return docs, nil
}

// Mutate implements Client.Mutate.
func (db *DB) Mutate(ctx context.Context, mutations ...Mutation) error {
	if db.readOnly {
		return ErrReadOnly
	}
	if len(mutations) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, m := range mutations {
		if err := applyMutation(ctx, tx, m, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateOrReplace implements Client.CreateOrReplace.
func (db *DB) CreateOrReplace(ctx context.Context, doc *Document) (*Document, error) {
	if err := db.Mutate(ctx, CreateOrReplace(doc)); err != nil {
		return nil, err
	}
	return db.Get(ctx, doc.ID)
}

// Delete implements Client.Delete.
func (db *DB) Delete(ctx context.Context, id string) error {
	return db.Mutate(ctx, DeleteMutation(id))
}

// Publish promotes the draft of id to its published id in one transaction.
//
// When no draft exists the currently published document is returned
// unchanged. Returns ErrNotFound when neither variant exists.
func (db *DB) Publish(ctx context.Context, id string) (*Document, error) {
	if db.readOnly {
		return nil, ErrReadOnly
	}

	publishedID := strings.TrimPrefix(id, DraftPrefix)
	draftID := DraftPrefix + publishedID

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	draft, err := scanDocument(tx.QueryRowContext(ctx, `
	SELECT id, type, rev, body, created_at, updated_at
	FROM documents
	WHERE id = ?
	`, draftID))
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		doc, err := db.Get(ctx, publishedID)
		if err != nil {
			return nil, fmt.Errorf("publish %s: %w", publishedID, err)
		}
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read draft %s: %w", draftID, err)
	}

	now := time.Now().UTC()
	published := NewDocument(publishedID, draft.Type, draft.Fields)
	if err := applyMutation(ctx, tx, CreateOrReplace(published), now); err != nil {
		return nil, err
	}
	if err := applyMutation(ctx, tx, DeleteMutation(draftID), now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit publish of %s: %w", publishedID, err)
	}

	return db.Get(ctx, publishedID)
}

// Stats summarizes the store contents.
type Stats struct {
	ByType map[string]int
	Drafts int
	Assets int
}

// Total returns the number of documents.
func (s Stats) Total() int {
	n := 0
	for _, c := range s.ByType {
		n += c
	}
	return n
}

// Stats returns document counts by type plus draft and asset counts.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByType: map[string]int{}}

	rows, err := db.conn.QueryContext(ctx, "SELECT type, COUNT(*) FROM documents GROUP BY type")
	if err != nil {
		return stats, fmt.Errorf("failed to count documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			return stats, fmt.Errorf("failed to scan count: %w", err)
		}
		stats.ByType[typ] = count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("error iterating counts: %w", err)
	}

	if err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE id LIKE 'drafts.%'").Scan(&stats.Drafts); err != nil {
		return stats, fmt.Errorf("failed to count drafts: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM assets").Scan(&stats.Assets); err != nil {
		return stats, fmt.Errorf("failed to count assets: %w", err)
	}

	return stats, nil
}

// applyMutation executes one mutation inside tx.
func applyMutation(ctx context.Context, tx *sql.Tx, m Mutation, now time.Time) error {
	if m.ID == "" {
		return fmt.Errorf("%s: document id is required", m.Kind)
	}

	switch m.Kind {
	case MutationCreateOrReplace, MutationCreateIfNotExists:
		if m.Document == nil || m.Document.Type == "" {
			return fmt.Errorf("%s %s: document type is required", m.Kind, m.ID)
		}
		body, err := marshalFields(m.Document.Fields)
		if err != nil {
			return fmt.Errorf("%s %s: %w", m.Kind, m.ID, err)
		}

		conflict := `ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			rev = excluded.rev,
			body = excluded.body,
			updated_at = excluded.updated_at`
		if m.Kind == MutationCreateIfNotExists {
			conflict = `ON CONFLICT(id) DO NOTHING`
		}

		stamp := now.Format(time.RFC3339Nano)
		_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, type, rev, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		`+conflict,
			m.ID, m.Document.Type, uuid.NewString(), body, stamp, stamp,
		)
		if err != nil {
			return fmt.Errorf("failed to write document %s: %w", m.ID, err)
		}
		return nil

	case MutationPatch:
		var rev, body string
		err := tx.QueryRowContext(ctx, "SELECT rev, body FROM documents WHERE id = ?", m.ID).Scan(&rev, &body)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("patch %s: %w", m.ID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read document %s: %w", m.ID, err)
		}
		if m.Patch.IfRevision != "" && m.Patch.IfRevision != rev {
			return fmt.Errorf("patch %s (have %s, expected %s): %w", m.ID, rev, m.Patch.IfRevision, ErrRevisionConflict)
		}

		fields := map[string]any{}
		if err := json.Unmarshal([]byte(body), &fields); err != nil {
			return fmt.Errorf("failed to decode document %s: %w", m.ID, err)
		}
		for k, v := range m.Patch.Set {
			if isReserved(k) {
				return fmt.Errorf("patch %s: cannot set reserved attribute %s", m.ID, k)
			}
			fields[k] = v
		}
		for _, k := range m.Patch.Unset {
			delete(fields, k)
		}

		newBody, err := marshalFields(fields)
		if err != nil {
			return fmt.Errorf("patch %s: %w", m.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE documents SET body = ?, rev = ?, updated_at = ? WHERE id = ?",
			newBody, uuid.NewString(), now.Format(time.RFC3339Nano), m.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to patch document %s: %w", m.ID, err)
		}
		return nil

	case MutationDelete:
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", m.ID); err != nil {
			return fmt.Errorf("failed to delete document %s: %w", m.ID, err)
		}
		return nil

	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var body, createdAt, updatedAt string

	if err := row.Scan(&doc.ID, &doc.Type, &doc.Rev, &body, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	doc.Fields = map[string]any{}
	if body != "" {
		if err := json.Unmarshal([]byte(body), &doc.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode body of %s: %w", doc.ID, err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		doc.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		doc.UpdatedAt = t
	}

	return &doc, nil
}

func marshalFields(fields map[string]any) (string, error) {
	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		if isReserved(k) {
			continue
		}
		clean[k] = v
	}
	data, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("failed to marshal fields: %w", err)
	}
	return string(data), nil
}

func isReserved(key string) bool {
	switch key {
	case AttrID, AttrType, AttrRev, AttrCreatedAt, AttrUpdatedAt:
		return true
	}
	return false
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// sqlValue converts a Go value into what json_extract yields for it.
func sqlValue(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return v
	}
}
