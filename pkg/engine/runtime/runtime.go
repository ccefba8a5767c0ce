// Package runtime defines the contracts shared by the processor, its
// operation handlers and the host that supplies records, keeping business
// logic decoupled from execution mechanics.
package runtime

import (
	"context"
	"time"

	"github.com/polisai/polis-entities/pkg/domain"
)

// Outcome classifies a processing cycle.
type Outcome string

const (
	// OutcomeSuccess indicates the operation and rewrite completed.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure indicates some stage after intake returned an error.
	OutcomeFailure Outcome = "failure"
)

// Attribute is a name/value pair to attach to a record on success.
type Attribute struct {
	Name  string
	Value string
}

// Result is what an operation handler hands back to the rewrite stage.
// HasContent distinguishes "replace the body with an empty string" from
// "leave the body alone".
type Result struct {
	Content    string
	HasContent bool
	Attribute  *Attribute
	// Count is the number of entities in Content, when it holds a collection.
	Count int
}

// Content builds a result that replaces the record body.
func Content(content string) Result {
	return Result{Content: content, HasContent: true}
}

// WithAttribute returns a copy of r that also attaches name=value.
func (r Result) WithAttribute(name, value string) Result {
	r.Attribute = &Attribute{Name: name, Value: value}
	return r
}

// Params carries the per-record resolved parameters an operation needs.
type Params struct {
	Query      string
	Confidence int
	Context    string
	DocumentID string
	Language   string
	EntityType string
}

// OperationHandler performs one operation over the decoded record body.
type OperationHandler interface {
	Execute(ctx context.Context, input string, params Params) (Result, error)
}

// Decision is the routing decision computed once per record.
type Decision struct {
	Outcome      Outcome
	Relationship domain.Relationship
	Err          error
	Duration     time.Duration
}

// Session is the host's view of one scheduling slot: it hands out at most
// one record per Get and accepts exactly one Transfer for it.
type Session interface {
	Get() (*domain.Record, bool)
	Transfer(rec *domain.Record, rel domain.Relationship)
}
