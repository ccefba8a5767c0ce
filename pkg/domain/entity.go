package domain

import "encoding/json"

// Span locates an entity within the source text.
type Span struct {
	TokenStart     int `json:"tokenStart"`
	TokenEnd       int `json:"tokenEnd"`
	CharacterStart int `json:"characterStart"`
	CharacterEnd   int `json:"characterEnd"`
}

// Entity is a structured item of interest, such as a person or a place,
// extracted from text or supplied for filtering.
//
// Extra holds JSON members that are not modelled explicitly so that they
// survive a decode and re-encode unchanged.
type Entity struct {
	Text           string            `json:"text"`
	Confidence     float64           `json:"confidence,omitempty"`
	Span           *Span             `json:"span,omitempty"`
	Type           string            `json:"type,omitempty"`
	LanguageCode   string            `json:"languageCode,omitempty"`
	URI            string            `json:"uri,omitempty"`
	Context        string            `json:"context,omitempty"`
	DocumentID     string            `json:"documentId,omitempty"`
	ExtractionDate int64             `json:"extractionDate,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Fields exposes the entity as a map for query engines. Metadata and span
// are nested maps.
func (e Entity) Fields() map[string]any {
	metadata := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		metadata[k] = v
	}
	fields := map[string]any{
		"text":           e.Text,
		"confidence":     e.Confidence,
		"type":           e.Type,
		"languageCode":   e.LanguageCode,
		"uri":            e.URI,
		"context":        e.Context,
		"documentId":     e.DocumentID,
		"extractionDate": e.ExtractionDate,
		"metadata":       metadata,
	}
	if e.Span != nil {
		fields["span"] = map[string]any{
			"tokenStart":     e.Span.TokenStart,
			"tokenEnd":       e.Span.TokenEnd,
			"characterStart": e.Span.CharacterStart,
			"characterEnd":   e.Span.CharacterEnd,
		}
	}
	return fields
}
