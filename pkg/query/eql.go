package query

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/polisai/polis-entities/pkg/domain"
	"github.com/polisai/polis-entities/pkg/engine/expr"
)

var eqlPattern = regexp.MustCompile(`(?is)^\s*select\s+(.+?)\s+from\s+entities(?:\s+where\s+(.+?))?(?:\s+limit\s+(\d+))?\s*;?\s*$`)

// EQL evaluates entity queries of the form
// `select * from entities [where <condition>] [limit <n>]`.
type EQL struct {
	cache *compiledCache[*eqlQuery]
}

type eqlQuery struct {
	where *expr.Condition
	limit int
}

// NewEQL constructs an EQL engine.
func NewEQL() *EQL {
	return &EQL{cache: newCompiledCache[*eqlQuery](64)}
}

// Filter returns the entities matching query, preserving input order.
func (e *EQL) Filter(ctx context.Context, entities []domain.Entity, query string) ([]domain.Entity, error) {
	compiled, err := e.cache.getOrCompile(query, func() (*eqlQuery, error) {
		return parseEQL(query)
	})
	if err != nil {
		return nil, err
	}

	matched := make([]domain.Entity, 0, len(entities))
	for _, entity := range entities {
		if compiled.limit >= 0 && len(matched) >= compiled.limit {
			break
		}
		if compiled.where == nil {
			matched = append(matched, entity)
			continue
		}
		ok, err := compiled.where.Match(ctx, entityLookup(entity))
		if err != nil {
			return nil, fmt.Errorf("evaluate %q: %w", compiled.where, err)
		}
		if ok {
			matched = append(matched, entity)
		}
	}
	return matched, nil
}

func parseEQL(query string) (*eqlQuery, error) {
	parts := eqlPattern.FindStringSubmatch(query)
	if parts == nil {
		return nil, fmt.Errorf("%w: expected \"select * from entities [where ...] [limit n]\", got %q", ErrInvalidQuery, query)
	}
	if strings.TrimSpace(parts[1]) != "*" {
		return nil, fmt.Errorf("%w: only \"select *\" is supported", ErrInvalidQuery)
	}

	out := &eqlQuery{limit: -1}
	if where := strings.TrimSpace(parts[2]); where != "" {
		cond, err := expr.Compile(where, expr.Options{})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		out.where = cond
	}
	if parts[3] != "" {
		limit, err := strconv.Atoi(parts[3])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid limit %q", ErrInvalidQuery, parts[3])
		}
		out.limit = limit
	}
	return out, nil
}

// entityLookup resolves condition identifiers against an entity. Empty
// optional fields resolve to null.
func entityLookup(e domain.Entity) expr.LookupFunc {
	return func(path string) (any, bool) {
		switch path {
		case "text":
			return e.Text, true
		case "confidence":
			return e.Confidence, true
		case "type":
			return optional(e.Type), true
		case "languageCode", "language":
			return optional(e.LanguageCode), true
		case "uri":
			return optional(e.URI), true
		case "context":
			return optional(e.Context), true
		case "documentId":
			return optional(e.DocumentID), true
		case "extractionDate":
			return e.ExtractionDate, true
		}

		if key, ok := strings.CutPrefix(path, "metadata."); ok {
			if v, ok := e.Metadata[key]; ok {
				return v, true
			}
			return nil, true
		}
		if key, ok := strings.CutPrefix(path, "span."); ok {
			if e.Span == nil {
				switch key {
				case "tokenStart", "tokenEnd", "characterStart", "characterEnd":
					return nil, true
				}
				return nil, false
			}
			switch key {
			case "tokenStart":
				return e.Span.TokenStart, true
			case "tokenEnd":
				return e.Span.TokenEnd, true
			case "characterStart":
				return e.Span.CharacterStart, true
			case "characterEnd":
				return e.Span.CharacterEnd, true
			}
		}
		return nil, false
	}
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
