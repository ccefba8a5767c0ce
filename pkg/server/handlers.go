package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-entities/pkg/domain"
	"github.com/polisai/polis-entities/pkg/engine/handlers"
	"github.com/polisai/polis-entities/pkg/flow"
)

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	processor := s.Processor()
	if processor == nil {
		writeError(w, r, http.StatusServiceUnavailable, &domain.DomainError{Code: "PROCESSOR_UNAVAILABLE", Message: "no processor is configured"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, &domain.DomainError{Err: err, Code: "BODY_TOO_LARGE", Message: "record body exceeds the configured limit"})
			return
		}
		writeError(w, r, http.StatusBadRequest, &domain.DomainError{Code: "BODY_UNREADABLE", Message: "unable to read record body"})
		return
	}

	rec := domain.NewRecord(r.Header.Get(RecordIDHeader), body, attributesFromHeader(r.Header))

	queue := flow.NewQueue(flow.QueueOptions{Journal: s.journal, Logger: s.logger})
	queue.Enqueue(rec)
	decision, ok := processor.OnTrigger(r.Context(), queue)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, &domain.DomainError{Code: "NOT_PROCESSED", Message: "record was not processed"})
		return
	}
	s.metrics.RecordRecord(string(processor.Action()), string(decision.Relationship), decision.Duration)

	header := w.Header()
	header.Set(RecordIDHeader, rec.ID)
	header.Set(RelationshipHeader, string(decision.Relationship))
	for name, value := range rec.Attributes {
		// The engine payload is already the response body.
		if name == handlers.ResponseAttribute {
			continue
		}
		header.Set(AttributeHeaderPrefix+name, value)
	}
	header.Set("Content-Type", contentType(rec.Body))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.Body)
}

func (s *Server) handleProvenance(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, r, http.StatusNotFound, &domain.DomainError{Code: "JOURNAL_DISABLED", Message: "provenance journal is not configured"})
		return
	}
	recordID := r.URL.Query().Get("record_id")
	if recordID == "" {
		writeError(w, r, http.StatusBadRequest, &domain.DomainError{Code: "MISSING_RECORD_ID", Message: "record_id query parameter is required"})
		return
	}

	events, err := s.journal.Events(r.Context(), recordID)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to read provenance", "record_id", recordID, "error", err)
		writeError(w, r, http.StatusInternalServerError, &domain.DomainError{Code: "JOURNAL_ERROR", Message: "unable to read provenance"})
		return
	}
	if len(events) == 0 {
		writeError(w, r, http.StatusNotFound, &domain.DomainError{Err: domain.ErrRecordNotFound, Code: "RECORD_NOT_FOUND"})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := map[string]string{"status": "ok"}
	if p := s.Processor(); p != nil {
		status["action"] = string(p.Action())
	} else {
		status["status"] = "degraded"
	}
	writeJSON(w, http.StatusOK, status)
}

// attributesFromHeader collects X-Record-Attribute-<name> headers. Names are
// lower-cased since header keys are canonicalised in transit.
func attributesFromHeader(h http.Header) map[string]string {
	attrs := make(map[string]string)
	for key := range h {
		if !strings.HasPrefix(key, AttributeHeaderPrefix) || len(key) == len(AttributeHeaderPrefix) {
			continue
		}
		attrs[strings.ToLower(key[len(AttributeHeaderPrefix):])] = h.Get(key)
	}
	return attrs
}

func contentType(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		if json.Valid(body) {
			return "application/json"
		}
	}
	return "text/plain; charset=utf-8"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, derr *domain.DomainError) {
	resp := domain.ErrorResponse{Code: derr.Code, Message: derr.Error()}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		resp.TraceID = sc.TraceID().String()
	}
	writeJSON(w, status, resp)
}
