// Package template resolves ${...} placeholders in configuration values
// against the attributes of the record being processed.
//
// Supported forms:
//
//	${name}            record attribute, empty when absent
//	${name:-fallback}  attribute, or fallback when absent or empty
//	${uuid}            the uuid attribute, falling back to the record ID
//	${UUID()}          a fresh random UUID
//	${now()}           current UTC time, RFC 3339
//	$${                a literal "${"
//
// Resolution never fails: anything that cannot be resolved becomes "".
package template

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scope supplies the values placeholders resolve against.
type Scope struct {
	RecordID   string
	Attributes map[string]string
	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Resolve substitutes every placeholder in raw.
func Resolve(raw string, scope Scope) string {
	if !strings.Contains(raw, "${") {
		return raw
	}

	var out strings.Builder
	out.Grow(len(raw))

	rest := raw
	for {
		idx := strings.Index(rest, "${")
		if idx < 0 {
			out.WriteString(rest)
			return out.String()
		}
		if idx > 0 && rest[idx-1] == '$' {
			out.WriteString(rest[:idx-1])
			out.WriteString("${")
			rest = rest[idx+2:]
			continue
		}

		end := strings.IndexByte(rest[idx+2:], '}')
		if end < 0 {
			out.WriteString(rest)
			return out.String()
		}

		out.WriteString(rest[:idx])
		out.WriteString(scope.evaluate(strings.TrimSpace(rest[idx+2 : idx+2+end])))
		rest = rest[idx+2+end+1:]
	}
}

func (s Scope) evaluate(expr string) string {
	name, fallback, hasFallback := strings.Cut(expr, ":-")

	var value string
	switch name {
	case "UUID()":
		value = s.newID()
	case "now()":
		value = s.now().UTC().Format(time.RFC3339)
	case "uuid":
		value = s.Attributes["uuid"]
		if value == "" {
			value = s.RecordID
		}
	default:
		value = s.Attributes[name]
	}

	if value == "" && hasFallback {
		return fallback
	}
	return value
}

func (s Scope) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Scope) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}
