// Package entities serializes entity collections to and from the JSON array
// interchange format carried in record bodies.
package entities

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/polisai/polis-entities/pkg/domain"
)

// ErrMalformed indicates the body is not a JSON array of entity objects.
var ErrMalformed = errors.New("malformed entity collection")

var knownFields = map[string]struct{}{
	"text":           {},
	"confidence":     {},
	"span":           {},
	"type":           {},
	"languageCode":   {},
	"uri":            {},
	"context":        {},
	"documentId":     {},
	"extractionDate": {},
	"metadata":       {},
}

// Decode parses a JSON array of entities. Members not modelled on
// domain.Entity are kept in Extra.
func Decode(body string) ([]domain.Entity, error) {
	if !utf8.ValidString(body) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrMalformed)
	}
	trimmed := bytes.TrimSpace([]byte(body))
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrMalformed)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	out := make([]domain.Entity, 0, len(raw))
	for i, item := range raw {
		entity, err := decodeOne(item)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrMalformed, i, err)
		}
		out = append(out, entity)
	}
	return out, nil
}

func decodeOne(item json.RawMessage) (domain.Entity, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(item, &members); err != nil {
		return domain.Entity{}, err
	}
	if members == nil {
		return domain.Entity{}, errors.New("null entity")
	}

	var entity domain.Entity
	if err := json.Unmarshal(item, &entity); err != nil {
		return domain.Entity{}, err
	}

	for name, value := range members {
		if _, ok := knownFields[name]; ok {
			continue
		}
		if entity.Extra == nil {
			entity.Extra = make(map[string]json.RawMessage)
		}
		entity.Extra[name] = value
	}
	return entity, nil
}

// Encode renders entities as a JSON array. A nil or empty slice encodes to
// "[]" so downstream consumers always receive a valid array.
func Encode(list []domain.Entity) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, entity := range list {
		if i > 0 {
			buf.WriteByte(',')
		}
		encoded, err := encodeOne(entity)
		if err != nil {
			return "", fmt.Errorf("encode entity %d: %w", i, err)
		}
		buf.Write(encoded)
	}
	buf.WriteByte(']')
	return buf.String(), nil
}

func encodeOne(entity domain.Entity) ([]byte, error) {
	base, err := json.Marshal(entity)
	if err != nil {
		return nil, err
	}
	if len(entity.Extra) == 0 {
		return base, nil
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(base, &members); err != nil {
		return nil, err
	}
	for name, value := range entity.Extra {
		if _, ok := knownFields[name]; ok {
			continue
		}
		members[name] = value
	}
	return json.Marshal(members)
}
