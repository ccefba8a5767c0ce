// Package domain defines the core business types shared by the record
// transformation engine and its collaborators.
//
// This package has ZERO external dependencies outside the Go standard library.
// Types here are:
//
// - Independent of transport (no HTTP, no database)
// - Owned by exactly one processing cycle at a time
// - Stable and unlikely to change frequently
//
// The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
