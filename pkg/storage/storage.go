// Package storage persists the two pieces of state the engine produces
// outside a record: documents ingested by the local engine and the
// provenance journal of routing decisions.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/polisai/polis-entities/pkg/domain"
)

// ErrNotFound is returned when a requested document does not exist. It wraps
// domain.ErrDocumentNotFound.
var ErrNotFound = domain.ErrDocumentNotFound

// ErrInvalidEvent is returned when a provenance event lacks its record ID.
var ErrInvalidEvent = errors.New("storage: provenance event requires a record id")

// Document is text ingested into the local engine's corpus together with the
// entities recognised in it.
type Document struct {
	ID       string
	Text     string
	Language string
	Context  string
	Entities []domain.Entity
	StoredAt time.Time
}

// ProvenanceEvent records one routing decision.
type ProvenanceEvent struct {
	ID           string            `json:"id"`
	RecordID     string            `json:"record_id"`
	Relationship string            `json:"relationship"`
	BodyBytes    int               `json:"body_bytes"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	At           time.Time         `json:"at"`
}

// DocumentStore persists ingested documents keyed by document ID.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id string) (Document, error)
	Close() error
}

// ProvenanceStore is an append-only journal of routing decisions.
type ProvenanceStore interface {
	Append(ctx context.Context, event ProvenanceEvent) error
	Events(ctx context.Context, recordID string) ([]ProvenanceEvent, error)
	Close() error
}

// Store is implemented by backends serving both concerns.
type Store interface {
	DocumentStore
	ProvenanceStore
}

// Open returns the backend for driver. An empty driver or "memory" selects
// the in-memory store; "sqlite" opens dsn with the pure-Go SQLite driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	default:
		return nil, errors.New("storage: unsupported driver " + driver)
	}
}
