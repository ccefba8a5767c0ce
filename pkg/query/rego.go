package query

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/polisai/polis-entities/pkg/domain"
)

// Rego evaluates a Rego query per entity with input bound to the entity
// fields, for example `input.type == "person"; input.confidence > 0.5`.
type Rego struct {
	cache *compiledCache[*rego.PreparedEvalQuery]
}

// NewRego constructs a Rego engine.
func NewRego() *Rego {
	return &Rego{cache: newCompiledCache[*rego.PreparedEvalQuery](32)}
}

// Filter returns the entities for which every expression in query holds.
func (r *Rego) Filter(ctx context.Context, entities []domain.Entity, query string) ([]domain.Entity, error) {
	prepared, err := r.cache.getOrCompile(query, func() (*rego.PreparedEvalQuery, error) {
		pq, err := rego.New(rego.Query(query)).PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		return &pq, nil
	})
	if err != nil {
		return nil, err
	}

	matched := make([]domain.Entity, 0, len(entities))
	for i, entity := range entities {
		results, err := prepared.Eval(ctx, rego.EvalInput(entity.Fields()))
		if err != nil {
			return nil, fmt.Errorf("evaluate entity %d: %w", i, err)
		}
		if allowed(results) {
			matched = append(matched, entity)
		}
	}
	return matched, nil
}

// allowed reports whether the query produced at least one result whose
// expressions are all true. Undefined queries produce no results.
func allowed(results rego.ResultSet) bool {
	if len(results) == 0 {
		return false
	}
	for _, expression := range results[0].Expressions {
		if v, ok := expression.Value.(bool); !ok || !v {
			return false
		}
	}
	return true
}
