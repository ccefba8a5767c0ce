package storage

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]Document
	events    []ProvenanceEvent
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{documents: make(map[string]Document)}
}

// SaveDocument inserts or replaces a document.
func (s *MemoryStore) SaveDocument(_ context.Context, doc Document) error {
	if doc.StoredAt.IsZero() {
		doc.StoredAt = time.Now().UTC()
	}
	doc.Entities = slices.Clone(doc.Entities)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = doc
	return nil
}

// GetDocument retrieves a document by ID.
func (s *MemoryStore) GetDocument(_ context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	doc.Entities = slices.Clone(doc.Entities)
	return doc, nil
}

// Append adds an event to the journal.
func (s *MemoryStore) Append(_ context.Context, event ProvenanceEvent) error {
	if event.RecordID == "" {
		return ErrInvalidEvent
	}
	event.Attributes = maps.Clone(event.Attributes)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns the events for recordID in append order. An empty recordID
// returns the whole journal.
func (s *MemoryStore) Events(_ context.Context, recordID string) ([]ProvenanceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ProvenanceEvent
	for _, ev := range s.events {
		if recordID != "" && ev.RecordID != recordID {
			continue
		}
		ev.Attributes = maps.Clone(ev.Attributes)
		out = append(out, ev)
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
