// Package query implements the filter engines that evaluate a declarative
// query against a collection of entities and return the matching subset.
//
// Three dialects are available:
//
//	eql   - select * from entities [where <condition>] [limit <n>]
//	expr  - an expr-lang boolean expression evaluated per entity
//	rego  - a Rego boolean query evaluated per entity with input bound to it
//
// Every engine returns a subset of its input: entities are never created or
// modified, only selected.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/polisai/polis-entities/pkg/domain"
)

// Supported query languages.
const (
	LanguageEQL  = "eql"
	LanguageExpr = "expr"
	LanguageRego = "rego"
)

// DefaultQuery selects every entity.
const DefaultQuery = "select * from entities"

var (
	// ErrUnsupportedLanguage is returned by New for an unknown dialect.
	ErrUnsupportedLanguage = errors.New("unsupported query language")
	// ErrInvalidQuery wraps compilation failures in every dialect.
	ErrInvalidQuery = errors.New("invalid query")
)

// Engine filters entity collections.
type Engine interface {
	Filter(ctx context.Context, entities []domain.Entity, query string) ([]domain.Entity, error)
}

// New returns the engine for language. An empty language selects EQL.
func New(language string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "", LanguageEQL:
		return NewEQL(), nil
	case LanguageExpr:
		return NewExpr(), nil
	case LanguageRego:
		return NewRego(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
}

// compiledCache memoises compiled queries by source text. Engines are shared
// across processing cycles, and the query rarely changes between them.
type compiledCache[T any] struct {
	mu      sync.RWMutex
	entries map[string]T
	limit   int
}

func newCompiledCache[T any](limit int) *compiledCache[T] {
	return &compiledCache[T]{entries: make(map[string]T), limit: limit}
}

func (c *compiledCache[T]) getOrCompile(key string, compile func() (T, error)) (T, error) {
	c.mu.RLock()
	if v, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	v, err := compile()
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing, nil
	}
	if len(c.entries) >= c.limit {
		// Queries come from configuration, so a full reset is rare and cheap.
		c.entries = make(map[string]T)
	}
	c.entries[key] = v
	return v, nil
}
