// Package nlp is the client side of the external entity engine. It defines
// the four engine verbs, an HTTP implementation speaking the engine's REST
// protocol, and a local rule-based implementation for running without a
// remote engine.
package nlp

import (
	"context"
	"fmt"

	"github.com/polisai/polis-entities/pkg/domain"
)

// ModelOpenNLP is the model hint sent with annotate requests.
const ModelOpenNLP = "opennlp"

// Params carries the per-record options for an engine call. Empty strings
// are omitted from the request.
type Params struct {
	Confidence int
	Context    string
	DocumentID string
	Language   string
	EntityType string
	Model      string
}

// Client performs the engine verbs. Every call blocks until the engine
// answers or the client gives up.
type Client interface {
	Extract(ctx context.Context, text string, params Params) ([]domain.Entity, error)
	Annotate(ctx context.Context, text string, params Params) (string, error)
	Ingest(ctx context.Context, text string, params Params) error
	Sanitize(ctx context.Context, text string, params Params) (string, error)
}

// Factory builds a client for one processing cycle from the resolved
// endpoint and credentials.
type Factory func(endpoint, apiKey string) (Client, error)

// Error is returned when the engine answers with a non-2xx status.
type Error struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("nlp: engine %s returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("nlp: engine %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}
