package handlers

import (
	"context"
	"fmt"

	"github.com/polisai/polis-entities/pkg/engine/runtime"
	"github.com/polisai/polis-entities/pkg/entities"
	"github.com/polisai/polis-entities/pkg/query"
)

// FilterHandler decodes the body as an entity collection, hands the whole
// collection and the raw query to the query engine, and re-encodes the subset.
type FilterHandler struct {
	engine query.Engine
}

// NewFilterHandler constructs a filter handler over engine.
func NewFilterHandler(engine query.Engine) *FilterHandler {
	return &FilterHandler{engine: engine}
}

// Execute runs the filter. The result carries the encoded subset and its size.
func (h *FilterHandler) Execute(ctx context.Context, input string, params runtime.Params) (runtime.Result, error) {
	collection, err := entities.Decode(input)
	if err != nil {
		return runtime.Result{}, fmt.Errorf("decode entities: %w", err)
	}

	matched, err := h.engine.Filter(ctx, collection, params.Query)
	if err != nil {
		return runtime.Result{}, fmt.Errorf("filter entities: %w", err)
	}

	encoded, err := entities.Encode(matched)
	if err != nil {
		return runtime.Result{}, fmt.Errorf("encode entities: %w", err)
	}

	result := runtime.Content(encoded)
	result.Count = len(matched)
	return result, nil
}

var _ runtime.OperationHandler = (*FilterHandler)(nil)
