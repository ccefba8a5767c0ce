package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-entities/pkg/domain"
)

//go:embed schema/config-schema.json
var embeddedSchema []byte

const schemaURL = "https://polis.ai/schemas/entities/v1/config-schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaInitErr  error
)

// SchemaError lists every schema violation found in a configuration document.
type SchemaError struct {
	Violations []Violation
}

// Violation is a single schema failure located by JSON pointer.
type Violation struct {
	Path    string
	Message string
}

func (e *SchemaError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Path+": "+v.Message)
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// Unwrap lets callers match schema failures with errors.Is(err, domain.ErrConfigInvalid).
func (e *SchemaError) Unwrap() error {
	return domain.ErrConfigInvalid
}

func getCompiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(embeddedSchema))
		if err != nil {
			schemaInitErr = fmt.Errorf("failed to parse embedded schema: %w", err)
			return
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, doc); err != nil {
			schemaInitErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}

		compiledSchema, err = compiler.Compile(schemaURL)
		if err != nil {
			schemaInitErr = fmt.Errorf("failed to compile schema: %w", err)
		}
	})

	if schemaInitErr != nil {
		return nil, schemaInitErr
	}
	return compiledSchema, nil
}

// ValidateDocument checks a YAML or JSON configuration document against the
// embedded schema. An empty document is valid.
func ValidateDocument(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}
	if raw == nil {
		return nil
	}

	// Round-trip through JSON so numbers and maps have the shapes the
	// validator expects.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}

	schema, err := getCompiledSchema()
	if err != nil {
		return err
	}

	if err := schema.Validate(instance); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &SchemaError{Violations: collectViolations(verr, message.NewPrinter(language.English))}
		}
		return &SchemaError{Violations: []Violation{{Path: "/", Message: err.Error()}}}
	}
	return nil
}

func collectViolations(err *jsonschema.ValidationError, p *message.Printer) []Violation {
	var out []Violation
	if len(err.Causes) == 0 {
		out = append(out, Violation{
			Path:    formatInstanceLocation(err.InstanceLocation),
			Message: err.ErrorKind.LocalizedString(p),
		})
	}
	for _, cause := range err.Causes {
		out = append(out, collectViolations(cause, p)...)
	}
	return out
}

func formatInstanceLocation(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}
