package nlp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/polisai/polis-entities/pkg/domain"
	"github.com/polisai/polis-entities/pkg/recognizer"
	"github.com/polisai/polis-entities/pkg/storage"
)

// ErrUnsupportedModel is returned when an annotate call asks for a model the
// local engine does not implement.
var ErrUnsupportedModel = errors.New("nlp: unsupported annotation model")

// ErrNoDocumentStore is returned by Ingest on a local client built without a store.
var ErrNoDocumentStore = errors.New("nlp: local engine has no document store")

// LocalClient answers engine calls in-process using recognizer rules.
type LocalClient struct {
	scanner *recognizer.Scanner
	docs    storage.DocumentStore
	now     func() time.Time
}

// NewLocalClient builds a local engine. docs may be nil when ingest is not used.
func NewLocalClient(scanner *recognizer.Scanner, docs storage.DocumentStore) *LocalClient {
	return &LocalClient{scanner: scanner, docs: docs, now: time.Now}
}

// LocalFactory returns a Factory that ignores the endpoint and credentials
// and hands out local clients sharing scanner and docs.
func LocalFactory(scanner *recognizer.Scanner, docs storage.DocumentStore) Factory {
	return func(string, string) (Client, error) {
		return NewLocalClient(scanner, docs), nil
	}
}

// Extract returns one entity per accepted finding.
func (c *LocalClient) Extract(ctx context.Context, text string, params Params) ([]domain.Entity, error) {
	findings, err := c.findings(ctx, text, params)
	if err != nil {
		return nil, err
	}

	extractedAt := c.now().UnixMilli()
	out := make([]domain.Entity, 0, len(findings))
	for _, f := range findings {
		out = append(out, domain.Entity{
			Text:           f.Match,
			Confidence:     f.Confidence,
			Span:           spanOf(text, f.Start, f.End),
			Type:           f.Label,
			LanguageCode:   params.Language,
			Context:        params.Context,
			DocumentID:     params.DocumentID,
			ExtractionDate: extractedAt,
			Metadata:       map[string]string{"rule": f.Rule},
		})
	}
	return out, nil
}

// Annotate marks every accepted finding inline as <START:type> text <END>.
func (c *LocalClient) Annotate(ctx context.Context, text string, params Params) (string, error) {
	if params.Model != "" && !strings.EqualFold(params.Model, ModelOpenNLP) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedModel, params.Model)
	}
	findings, err := c.findings(ctx, text, params)
	if err != nil {
		return "", err
	}
	return recognizer.Rewrite(text, findings, func(f recognizer.Finding) string {
		return "<START:" + f.Label + "> " + f.Match + " <END>"
	}), nil
}

// Sanitize replaces every accepted finding with its rule's replacement.
func (c *LocalClient) Sanitize(ctx context.Context, text string, params Params) (string, error) {
	findings, err := c.findings(ctx, text, params)
	if err != nil {
		return "", err
	}
	return recognizer.Rewrite(text, findings, func(f recognizer.Finding) string {
		return f.Replacement
	}), nil
}

// Ingest extracts entities and stores them with the text under the document
// ID, generating one when params carries none.
func (c *LocalClient) Ingest(ctx context.Context, text string, params Params) error {
	if c.docs == nil {
		return ErrNoDocumentStore
	}
	if params.DocumentID == "" {
		params.DocumentID = uuid.NewString()
	}
	found, err := c.Extract(ctx, text, params)
	if err != nil {
		return err
	}
	return c.docs.SaveDocument(ctx, storage.Document{
		ID:       params.DocumentID,
		Text:     text,
		Language: params.Language,
		Context:  params.Context,
		Entities: found,
		StoredAt: c.now().UTC(),
	})
}

// findings scans text and keeps the matches passing the confidence
// threshold (a percentage) and the entity type filter.
func (c *LocalClient) findings(ctx context.Context, text string, params Params) ([]recognizer.Finding, error) {
	if c.scanner == nil {
		return nil, errors.New("nlp: local engine has no recognizer")
	}
	report, err := c.scanner.Scan(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("nlp: scan: %w", err)
	}

	kept := report.Findings[:0]
	for _, f := range report.Findings {
		if f.Confidence*100 < float64(params.Confidence) {
			continue
		}
		if params.EntityType != "" && !strings.EqualFold(f.Label, params.EntityType) {
			continue
		}
		kept = append(kept, f)
	}
	return kept, nil
}

// spanOf converts byte offsets into character and whitespace-token offsets.
// Token offsets are inclusive-exclusive like character offsets.
func spanOf(text string, start, end int) *domain.Span {
	charStart := utf8.RuneCountInString(text[:start])
	charEnd := charStart + utf8.RuneCountInString(text[start:end])
	tokenStart := len(strings.FieldsFunc(text[:start], unicode.IsSpace))
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); !unicode.IsSpace(r) {
			// the match begins inside a token already counted
			tokenStart--
		}
	}
	tokenEnd := tokenStart + len(strings.Fields(text[start:end]))
	return &domain.Span{
		TokenStart:     tokenStart,
		TokenEnd:       tokenEnd,
		CharacterStart: charStart,
		CharacterEnd:   charEnd,
	}
}

var _ Client = (*LocalClient)(nil)
