// Package telemetry wires OpenTelemetry tracing and metrics for the record
// engine.
//
// It sets up the OTLP trace exporter, owns the metric instruments recorded
// once per processing cycle, and offers span helpers that attach routing
// outcomes without leaking record content or engine credentials.
package telemetry
