package engine

import (
	"fmt"

	"github.com/polisai/polis-entities/pkg/engine/handlers"
	"github.com/polisai/polis-entities/pkg/engine/runtime"
	"github.com/polisai/polis-entities/pkg/nlp"
)

// dispatch returns the handler for the configured action. Engine actions get
// a client built for this cycle only.
func (p *Processor) dispatch(params cycleParams) (runtime.OperationHandler, error) {
	switch p.action {
	case ActionFilter:
		return handlers.NewFilterHandler(p.filter), nil
	case ActionExtract:
		return p.withClient(params, func(c nlp.Client) runtime.OperationHandler { return handlers.NewExtractHandler(c) })
	case ActionAnnotate:
		return p.withClient(params, func(c nlp.Client) runtime.OperationHandler { return handlers.NewAnnotateHandler(c) })
	case ActionIngest:
		return p.withClient(params, func(c nlp.Client) runtime.OperationHandler { return handlers.NewIngestHandler(c) })
	case ActionSanitize:
		return p.withClient(params, func(c nlp.Client) runtime.OperationHandler { return handlers.NewSanitizeHandler(c) })
	default:
		// Only reachable if the Action value was corrupted after validation.
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, p.action)
	}
}

func (p *Processor) withClient(params cycleParams, build func(nlp.Client) runtime.OperationHandler) (runtime.OperationHandler, error) {
	client, err := p.clients(params.Endpoint, params.APIKey)
	if err != nil {
		return nil, fmt.Errorf("build engine client: %w", err)
	}
	return build(client), nil
}
