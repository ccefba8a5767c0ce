// Package engine implements the per-record transformation and routing step.
//
// Layout:
//
// config.go     - Processor configuration, action parsing and validation
// processor.go  - Processor construction, the processing cycle and host intake
// dispatch.go   - Maps the configured action to an operation handler
// rewrite.go    - Decodes the body, runs the handler, replaces the body on success
// route.go      - Computes the routing decision, attaches attributes, logs failures
//
// A cycle takes one record, resolves templated parameters against its
// attributes, runs exactly one operation and routes the record to exactly one
// relationship. Errors never escape a cycle; they route the record to failure.
package engine
