package nlp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-entities/pkg/recognizer"
	"github.com/polisai/polis-entities/pkg/storage"
)

func newLocal(t *testing.T, docs storage.DocumentStore) *LocalClient {
	t.Helper()
	scanner, err := recognizer.NewScanner(recognizer.Config{Rules: recognizer.BuiltinRules()})
	require.NoError(t, err)
	c := NewLocalClient(scanner, docs)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestLocalExtract(t *testing.T) {
	c := newLocal(t, nil)
	found, err := c.Extract(context.Background(), "yesterday George Washington wrote to gw@example.com", Params{Language: "en"})
	require.NoError(t, err)
	require.Len(t, found, 2)

	person := found[0]
	assert.Equal(t, "George Washington", person.Text)
	assert.Equal(t, "person", person.Type)
	assert.Equal(t, "en", person.LanguageCode)
	assert.Equal(t, int64(1700000000000), person.ExtractionDate)
	require.NotNil(t, person.Span)
	assert.Equal(t, 10, person.Span.CharacterStart)
	assert.Equal(t, 27, person.Span.CharacterEnd)
	assert.Equal(t, 1, person.Span.TokenStart)
	assert.Equal(t, 3, person.Span.TokenEnd)

	assert.Equal(t, "email", found[1].Type)
}

func TestLocalExtractAppliesThresholdAndType(t *testing.T) {
	c := newLocal(t, nil)
	text := "George Washington wrote to gw@example.com"

	found, err := c.Extract(context.Background(), text, Params{Confidence: 90})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "email", found[0].Type)

	found, err = c.Extract(context.Background(), text, Params{EntityType: "PERSON"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "person", found[0].Type)
}

func TestLocalSpanCountsRunes(t *testing.T) {
	c := newLocal(t, nil)
	found, err := c.Extract(context.Background(), "Über café George Washington", Params{EntityType: "person"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 10, found[0].Span.CharacterStart)
	assert.Equal(t, 2, found[0].Span.TokenStart)
}

func TestLocalAnnotate(t *testing.T) {
	c := newLocal(t, nil)
	out, err := c.Annotate(context.Background(), "George Washington was president.", Params{Model: ModelOpenNLP})
	require.NoError(t, err)
	assert.Equal(t, "<START:person> George Washington <END> was president.", out)

	_, err = c.Annotate(context.Background(), "x", Params{Model: "spacy"})
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestLocalSanitize(t *testing.T) {
	c := newLocal(t, nil)
	out, err := c.Sanitize(context.Background(), "ssn 123-45-6789 for George Washington", Params{})
	require.NoError(t, err)
	assert.Equal(t, "ssn [REDACTED:ssn] for [REDACTED:person]", out)
}

func TestLocalIngest(t *testing.T) {
	docs := storage.NewMemoryStore()
	c := newLocal(t, docs)
	ctx := context.Background()

	require.NoError(t, c.Ingest(ctx, "George Washington was president.", Params{DocumentID: "doc-7"}))
	doc, err := docs.GetDocument(ctx, "doc-7")
	require.NoError(t, err)
	require.Len(t, doc.Entities, 1)
	assert.Equal(t, "doc-7", doc.Entities[0].DocumentID)

	assert.ErrorIs(t, newLocal(t, nil).Ingest(ctx, "text", Params{}), ErrNoDocumentStore)
}

func TestLocalFactoryIgnoresEndpoint(t *testing.T) {
	scanner, err := recognizer.NewScanner(recognizer.Config{Rules: recognizer.BuiltinRules()})
	require.NoError(t, err)
	client, err := LocalFactory(scanner, nil)("not a url", "")
	require.NoError(t, err)
	out, err := client.Sanitize(context.Background(), "mail a@b.io", Params{})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "[REDACTED:email]"))
}
