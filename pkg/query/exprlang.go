package query

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/polisai/polis-entities/pkg/domain"
)

// Expr evaluates an expr-lang boolean expression per entity, for example
// `text startsWith "George" && confidence > 0.5`.
type Expr struct {
	cache *compiledCache[*vm.Program]
}

// NewExpr constructs an expr-lang engine.
func NewExpr() *Expr {
	return &Expr{cache: newCompiledCache[*vm.Program](64)}
}

// Filter returns the entities for which query evaluates to true.
func (e *Expr) Filter(ctx context.Context, entities []domain.Entity, query string) ([]domain.Entity, error) {
	program, err := e.cache.getOrCompile(query, func() (*vm.Program, error) {
		p, err := expr.Compile(query, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	matched := make([]domain.Entity, 0, len(entities))
	for i, entity := range entities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		output, err := expr.Run(program, entity.Fields())
		if err != nil {
			return nil, fmt.Errorf("evaluate entity %d: %w", i, err)
		}
		ok, isBool := output.(bool)
		if !isBool {
			return nil, fmt.Errorf("evaluate entity %d: expression returned %T, want bool", i, output)
		}
		if ok {
			matched = append(matched, entity)
		}
	}
	return matched, nil
}
