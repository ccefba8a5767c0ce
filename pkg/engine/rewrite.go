package engine

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/polisai/polis-entities/pkg/domain"
	"github.com/polisai/polis-entities/pkg/engine/runtime"
)

// rewrite decodes the body, runs the dispatched handler and replaces the body
// only once the handler has succeeded. On error rec is left untouched.
//
// The handler runs under a context detached from cancellation: once a record
// has been taken, the cycle always runs to a routing decision.
func (p *Processor) rewrite(ctx context.Context, rec *domain.Record, params cycleParams) (runtime.Result, error) {
	if !utf8.Valid(rec.Body) {
		return runtime.Result{}, fmt.Errorf("%w: body is not valid UTF-8", domain.ErrUnsupportedContent)
	}

	handler, err := p.dispatch(params)
	if err != nil {
		return runtime.Result{}, err
	}

	result, err := handler.Execute(context.WithoutCancel(ctx), string(rec.Body), params.Params)
	if err != nil {
		return runtime.Result{}, err
	}

	if result.HasContent {
		rec.Body = []byte(result.Content)
	}
	return result, nil
}
