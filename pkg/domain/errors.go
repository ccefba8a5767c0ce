package domain

import "errors"

// Common domain errors
var (
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrRecordNotFound     = errors.New("record not found")
	ErrEngineUnreachable  = errors.New("engine unreachable")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrUnsupportedContent = errors.New("unsupported record content")
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err == nil {
		return e.Code
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// ErrorResponse defines the JSON error model returned by the ingress API.
// TraceID carries the current OpenTelemetry trace identifier when available.
type ErrorResponse struct {
	Code    string `json:"code"`               // Machine-readable error code (e.g., BODY_TOO_LARGE)
	Message string `json:"message"`            // Human-readable message (safe for logs)
	TraceID string `json:"trace_id,omitempty"` // Optional trace/correlation ID
}
