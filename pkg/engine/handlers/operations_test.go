package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-entities/pkg/domain"
	"github.com/polisai/polis-entities/pkg/engine/runtime"
	"github.com/polisai/polis-entities/pkg/entities"
	"github.com/polisai/polis-entities/pkg/nlp"
	"github.com/polisai/polis-entities/pkg/query"
)

type stubClient struct {
	entities  []domain.Entity
	text      string
	err       error
	lastParam nlp.Params
	ingested  string
}

func (s *stubClient) Extract(_ context.Context, _ string, p nlp.Params) ([]domain.Entity, error) {
	s.lastParam = p
	return s.entities, s.err
}

func (s *stubClient) Annotate(_ context.Context, _ string, p nlp.Params) (string, error) {
	s.lastParam = p
	return s.text, s.err
}

func (s *stubClient) Ingest(_ context.Context, text string, p nlp.Params) error {
	s.lastParam = p
	s.ingested = text
	return s.err
}

func (s *stubClient) Sanitize(_ context.Context, _ string, p nlp.Params) (string, error) {
	s.lastParam = p
	return s.text, s.err
}

func TestFilterHandler(t *testing.T) {
	engine, err := query.New(query.LanguageEQL)
	require.NoError(t, err)
	h := NewFilterHandler(engine)

	input := `[{"text":"George Washington"},{"text":"Abraham Lincoln"}]`
	result, err := h.Execute(context.Background(), input, runtime.Params{Query: `select * from entities where text = "Abraham Lincoln"`})
	require.NoError(t, err)
	assert.True(t, result.HasContent)
	assert.Nil(t, result.Attribute)
	assert.Equal(t, 1, result.Count)

	decoded, err := entities.Decode(result.Content)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "Abraham Lincoln", decoded[0].Text)
}

func TestFilterHandlerRejectsMalformedBody(t *testing.T) {
	engine, err := query.New("")
	require.NoError(t, err)
	_, err = NewFilterHandler(engine).Execute(context.Background(), `{"text":"x"}`, runtime.Params{Query: query.DefaultQuery})
	assert.ErrorIs(t, err, entities.ErrMalformed)
}

func TestExtractHandlerAttributeEqualsContent(t *testing.T) {
	client := &stubClient{entities: []domain.Entity{{Text: "George Washington", Type: "person"}}}
	result, err := NewExtractHandler(client).Execute(context.Background(), "George Washington was president.", runtime.Params{Confidence: 40, Language: "en"})
	require.NoError(t, err)
	require.NotNil(t, result.Attribute)
	assert.Equal(t, ResponseAttribute, result.Attribute.Name)
	assert.Equal(t, result.Content, result.Attribute.Value)
	assert.Equal(t, 40, client.lastParam.Confidence)
	assert.Equal(t, "en", client.lastParam.Language)
}

func TestExtractHandlerEmptyResultEncodesArray(t *testing.T) {
	result, err := NewExtractHandler(&stubClient{}).Execute(context.Background(), "nothing", runtime.Params{})
	require.NoError(t, err)
	assert.Equal(t, "[]", result.Content)
}

func TestAnnotateHandlerSendsModel(t *testing.T) {
	client := &stubClient{text: "<START:person> George Washington <END>"}
	result, err := NewAnnotateHandler(client).Execute(context.Background(), "George Washington", runtime.Params{})
	require.NoError(t, err)
	assert.Equal(t, nlp.ModelOpenNLP, client.lastParam.Model)
	assert.Equal(t, client.text, result.Content)
	assert.Equal(t, client.text, result.Attribute.Value)
}

func TestSanitizeHandler(t *testing.T) {
	client := &stubClient{text: "[REDACTED:person] was president."}
	result, err := NewSanitizeHandler(client).Execute(context.Background(), "George Washington was president.", runtime.Params{})
	require.NoError(t, err)
	assert.Equal(t, client.text, result.Content)
}

func TestTextOperationsDropContextAndDocumentID(t *testing.T) {
	params := runtime.Params{Confidence: 10, Context: "ctx1", DocumentID: "doc1", Language: "en", EntityType: "person"}

	for name, h := range map[string]func(nlp.Client) runtime.OperationHandler{
		"annotate": func(c nlp.Client) runtime.OperationHandler { return NewAnnotateHandler(c) },
		"sanitize": func(c nlp.Client) runtime.OperationHandler { return NewSanitizeHandler(c) },
	} {
		t.Run(name, func(t *testing.T) {
			client := &stubClient{text: "out"}
			_, err := h(client).Execute(context.Background(), "in", params)
			require.NoError(t, err)
			assert.Empty(t, client.lastParam.Context)
			assert.Empty(t, client.lastParam.DocumentID)
			assert.Equal(t, 10, client.lastParam.Confidence)
			assert.Equal(t, "en", client.lastParam.Language)
			assert.Equal(t, "person", client.lastParam.EntityType)
		})
	}

	client := &stubClient{}
	_, err := NewExtractHandler(client).Execute(context.Background(), "in", params)
	require.NoError(t, err)
	assert.Equal(t, "ctx1", client.lastParam.Context)
	assert.Equal(t, "doc1", client.lastParam.DocumentID)
}

func TestIngestHandlerLeavesBody(t *testing.T) {
	client := &stubClient{}
	result, err := NewIngestHandler(client).Execute(context.Background(), "some text", runtime.Params{DocumentID: "doc-1"})
	require.NoError(t, err)
	assert.False(t, result.HasContent)
	assert.Nil(t, result.Attribute)
	assert.Equal(t, "some text", client.ingested)
	assert.Equal(t, "doc-1", client.lastParam.DocumentID)
}

func TestEngineErrorsAreWrapped(t *testing.T) {
	boom := errors.New("boom")
	client := &stubClient{err: boom}
	ops := map[string]runtime.OperationHandler{
		"extract":  NewExtractHandler(client),
		"annotate": NewAnnotateHandler(client),
		"sanitize": NewSanitizeHandler(client),
		"ingest":   NewIngestHandler(client),
	}
	for name, h := range ops {
		_, err := h.Execute(context.Background(), "text", runtime.Params{})
		assert.ErrorIs(t, err, boom, name)
		assert.Contains(t, err.Error(), name)
	}
}
