// Package handlers implements the operation handlers the processor
// dispatches to: the entity filter and the four engine verbs.
package handlers

import (
	"context"
	"fmt"

	"github.com/polisai/polis-entities/pkg/engine/runtime"
	"github.com/polisai/polis-entities/pkg/entities"
	"github.com/polisai/polis-entities/pkg/nlp"
)

// ResponseAttribute names the attribute carrying the engine payload on success.
const ResponseAttribute = "engine.response"

// engineParams maps resolved parameters onto the engine call. Context and
// document ID belong to extract and ingest only.
func engineParams(p runtime.Params) nlp.Params {
	return nlp.Params{
		Confidence: p.Confidence,
		Context:    p.Context,
		DocumentID: p.DocumentID,
		Language:   p.Language,
		EntityType: p.EntityType,
	}
}

func textParams(p runtime.Params) nlp.Params {
	params := engineParams(p)
	params.Context = ""
	params.DocumentID = ""
	return params
}

// ExtractHandler asks the engine for the entities in the body.
type ExtractHandler struct {
	client nlp.Client
}

// NewExtractHandler constructs an extract handler.
func NewExtractHandler(client nlp.Client) *ExtractHandler {
	return &ExtractHandler{client: client}
}

// Execute replaces the body with the serialized entities and attaches the
// same text as the response attribute.
func (h *ExtractHandler) Execute(ctx context.Context, input string, params runtime.Params) (runtime.Result, error) {
	found, err := h.client.Extract(ctx, input, engineParams(params))
	if err != nil {
		return runtime.Result{}, fmt.Errorf("extract: %w", err)
	}
	encoded, err := entities.Encode(found)
	if err != nil {
		return runtime.Result{}, fmt.Errorf("encode entities: %w", err)
	}
	result := runtime.Content(encoded).WithAttribute(ResponseAttribute, encoded)
	result.Count = len(found)
	return result, nil
}

// AnnotateHandler asks the engine to mark entities inline.
type AnnotateHandler struct {
	client nlp.Client
}

// NewAnnotateHandler constructs an annotate handler.
func NewAnnotateHandler(client nlp.Client) *AnnotateHandler {
	return &AnnotateHandler{client: client}
}

func (h *AnnotateHandler) Execute(ctx context.Context, input string, params runtime.Params) (runtime.Result, error) {
	p := textParams(params)
	p.Model = nlp.ModelOpenNLP
	annotated, err := h.client.Annotate(ctx, input, p)
	if err != nil {
		return runtime.Result{}, fmt.Errorf("annotate: %w", err)
	}
	return runtime.Content(annotated).WithAttribute(ResponseAttribute, annotated), nil
}

// SanitizeHandler asks the engine to scrub entities from the body.
type SanitizeHandler struct {
	client nlp.Client
}

// NewSanitizeHandler constructs a sanitize handler.
func NewSanitizeHandler(client nlp.Client) *SanitizeHandler {
	return &SanitizeHandler{client: client}
}

func (h *SanitizeHandler) Execute(ctx context.Context, input string, params runtime.Params) (runtime.Result, error) {
	sanitized, err := h.client.Sanitize(ctx, input, textParams(params))
	if err != nil {
		return runtime.Result{}, fmt.Errorf("sanitize: %w", err)
	}
	return runtime.Content(sanitized).WithAttribute(ResponseAttribute, sanitized), nil
}

// IngestHandler hands the body to the engine for indexing. It never
// rewrites the body and attaches no attribute.
type IngestHandler struct {
	client nlp.Client
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(client nlp.Client) *IngestHandler {
	return &IngestHandler{client: client}
}

func (h *IngestHandler) Execute(ctx context.Context, input string, params runtime.Params) (runtime.Result, error) {
	if err := h.client.Ingest(ctx, input, engineParams(params)); err != nil {
		return runtime.Result{}, fmt.Errorf("ingest: %w", err)
	}
	return runtime.Result{}, nil
}

var (
	_ runtime.OperationHandler = (*ExtractHandler)(nil)
	_ runtime.OperationHandler = (*AnnotateHandler)(nil)
	_ runtime.OperationHandler = (*SanitizeHandler)(nil)
	_ runtime.OperationHandler = (*IngestHandler)(nil)
)
