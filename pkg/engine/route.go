package engine

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-entities/pkg/domain"
	"github.com/polisai/polis-entities/pkg/engine/runtime"
	"github.com/polisai/polis-entities/pkg/telemetry"
)

// Attributes written by the router.
const (
	// MatchCountAttribute holds the number of entities a filter kept.
	MatchCountAttribute = "query.match.count"
	// FailureReasonAttribute holds the error text of a failed cycle.
	FailureReasonAttribute = "engine.failure.reason"
)

func (p *Processor) route(ctx context.Context, span trace.Span, rec *domain.Record, params cycleParams, result runtime.Result, err error, start time.Time) runtime.Decision {
	decision := runtime.Decision{Duration: p.now().Sub(start)}
	count := -1

	if err != nil {
		decision.Outcome = runtime.OutcomeFailure
		decision.Relationship = domain.RelationshipFailure
		decision.Err = err
		rec.PutAttribute(FailureReasonAttribute, err.Error())
		p.logFailure(ctx, rec, params, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		decision.Outcome = runtime.OutcomeSuccess
		decision.Relationship = domain.RelationshipSuccess
		if result.Attribute != nil {
			rec.PutAttribute(result.Attribute.Name, result.Attribute.Value)
		}
		if p.action == ActionFilter {
			decision.Relationship = domain.RelationshipMatches
			rec.PutAttribute(MatchCountAttribute, strconv.Itoa(result.Count))
		}
		if p.action == ActionFilter || p.action == ActionExtract {
			count = result.Count
		}
	}

	span.SetAttributes(
		attribute.String("record.relationship", string(decision.Relationship)),
		attribute.String("record.outcome", string(decision.Outcome)),
	)
	if p.action.IsEngine() {
		span.SetAttributes(attribute.String("engine.endpoint", telemetry.SafeEndpoint(params.Endpoint)))
	}
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	telemetry.RecordRouting(span, string(decision.Relationship), count, reason)
	telemetry.RecordCycleMetrics(ctx, telemetry.CycleMetrics{
		Action:       string(p.action),
		Relationship: string(decision.Relationship),
		Outcome:      string(decision.Outcome),
		Duration:     decision.Duration,
	})
	return decision
}

func (p *Processor) logFailure(ctx context.Context, rec *domain.Record, params cycleParams, err error) {
	if p.action == ActionFilter {
		p.logger.ErrorContext(ctx, "unable to filter entities",
			"record_id", rec.ID,
			"action", string(p.action),
			"query", params.Query,
			"error", err,
		)
		return
	}
	p.logger.ErrorContext(ctx, "unable to process text with engine",
		"record_id", rec.ID,
		"action", string(p.action),
		"endpoint", telemetry.SafeEndpoint(params.Endpoint),
		"error", err,
	)
}
