// Package governance holds the safety controls wrapped around calls to the
// external entity engine and around the HTTP ingress: bounded retries with
// exponential backoff, a per-endpoint circuit breaker, and a token bucket
// limiter for inbound records.
//
// None of these primitives are required for correct record routing. A
// processor with retries disabled and no breaker behaves exactly like one
// that issues a single engine request per record.
package governance
