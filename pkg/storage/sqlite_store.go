package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/polisai/polis-entities/pkg/entities"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	language TEXT,
	context TEXT,
	entities TEXT NOT NULL,
	stored_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS provenance (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	record_id TEXT NOT NULL,
	relationship TEXT NOT NULL,
	body_bytes INTEGER NOT NULL,
	attributes TEXT,
	at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS provenance_record_id ON provenance (record_id);
`

// SQLiteStore is a Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at dsn and ensures the
// tables exist. Use ":memory:" for a private in-memory database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: create tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SaveDocument inserts or replaces a document.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc Document) error {
	encoded, err := entities.Encode(doc.Entities)
	if err != nil {
		return fmt.Errorf("storage: encode entities: %w", err)
	}
	if doc.StoredAt.IsZero() {
		doc.StoredAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, text, language, context, entities, stored_at) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Text, doc.Language, doc.Context, encoded, doc.StoredAt.UTC())
	if err != nil {
		return fmt.Errorf("storage: save document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (Document, error) {
	var (
		doc      Document
		language sql.NullString
		docCtx   sql.NullString
		encoded  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, text, language, context, entities, stored_at FROM documents WHERE id = ?`, id).
		Scan(&doc.ID, &doc.Text, &language, &docCtx, &encoded, &doc.StoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("storage: get document %s: %w", id, err)
	}
	doc.Language = language.String
	doc.Context = docCtx.String

	if doc.Entities, err = entities.Decode(encoded); err != nil {
		return Document{}, fmt.Errorf("storage: decode entities for %s: %w", id, err)
	}
	return doc, nil
}

// Append adds an event to the journal.
func (s *SQLiteStore) Append(ctx context.Context, event ProvenanceEvent) error {
	if event.RecordID == "" {
		return ErrInvalidEvent
	}
	attrs, err := json.Marshal(event.Attributes)
	if err != nil {
		return fmt.Errorf("storage: encode attributes: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO provenance (id, record_id, relationship, body_bytes, attributes, at) VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.RecordID, event.Relationship, event.BodyBytes, string(attrs), event.At.UTC())
	if err != nil {
		return fmt.Errorf("storage: append provenance for %s: %w", event.RecordID, err)
	}
	return nil
}

// Events returns the events for recordID in append order. An empty recordID
// returns the whole journal.
func (s *SQLiteStore) Events(ctx context.Context, recordID string) ([]ProvenanceEvent, error) {
	query := `SELECT id, record_id, relationship, body_bytes, attributes, at FROM provenance`
	var args []any
	if recordID != "" {
		query += ` WHERE record_id = ?`
		args = append(args, recordID)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query provenance: %w", err)
	}
	defer rows.Close()

	var out []ProvenanceEvent
	for rows.Next() {
		var (
			ev    ProvenanceEvent
			attrs sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.RecordID, &ev.Relationship, &ev.BodyBytes, &attrs, &ev.At); err != nil {
			return nil, fmt.Errorf("storage: scan provenance: %w", err)
		}
		if attrs.Valid && attrs.String != "" && attrs.String != "null" {
			if err := json.Unmarshal([]byte(attrs.String), &ev.Attributes); err != nil {
				return nil, fmt.Errorf("storage: decode attributes: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
