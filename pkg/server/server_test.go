package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-entities/internal/governance"
	"github.com/polisai/polis-entities/pkg/config"
	"github.com/polisai/polis-entities/pkg/domain"
	"github.com/polisai/polis-entities/pkg/engine"
	"github.com/polisai/polis-entities/pkg/engine/handlers"
	"github.com/polisai/polis-entities/pkg/entities"
	"github.com/polisai/polis-entities/pkg/nlp"
	"github.com/polisai/polis-entities/pkg/recognizer"
	"github.com/polisai/polis-entities/pkg/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func filterProcessor(t *testing.T, query string) *engine.Processor {
	t.Helper()
	p, err := engine.NewProcessor(engine.Options{
		Config: engine.Config{Action: "filter", Query: query},
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	return p
}

func localProcessor(t *testing.T, action string) *engine.Processor {
	t.Helper()
	scanner, err := recognizer.NewScanner(recognizer.Config{Rules: recognizer.BuiltinRules()})
	require.NoError(t, err)
	p, err := engine.NewProcessor(engine.Options{
		Config:  engine.Config{Action: action, Engine: engine.EngineLocal},
		Clients: nlp.LocalFactory(scanner, storage.NewMemoryStore()),
		Logger:  quietLogger(),
	})
	require.NoError(t, err)
	return p
}

func TestRecordFilterMatches(t *testing.T) {
	journal := storage.NewMemoryStore()
	srv := New(Options{
		Processor: filterProcessor(t, `select * from entities where text = "Abraham Lincoln"`),
		Journal:   journal,
		Logger:    quietLogger(),
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/records",
		strings.NewReader(`[{"text":"George Washington"},{"text":"Abraham Lincoln"}]`))
	require.NoError(t, err)
	req.Header.Set(RecordIDHeader, "rec-1")
	req.Header.Set(AttributeHeaderPrefix+"source", "unit-test")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "matches", resp.Header.Get(RelationshipHeader))
	assert.Equal(t, "rec-1", resp.Header.Get(RecordIDHeader))
	assert.Equal(t, "unit-test", resp.Header.Get(AttributeHeaderPrefix+"source"))
	assert.Equal(t, "1", resp.Header.Get(AttributeHeaderPrefix+engine.MatchCountAttribute))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out, err := entities.Decode(string(body))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Abraham Lincoln", out[0].Text)

	events, err := journal.Events(context.Background(), "rec-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "matches", events[0].Relationship)

	assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics().recordsTotal.WithLabelValues("filter", "matches")))
}

func TestRecordFailureRoutesToFailure(t *testing.T) {
	srv := New(Options{Processor: filterProcessor(t, ""), Logger: quietLogger()})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/records", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "failure", resp.Header.Get(RelationshipHeader))
	assert.NotEmpty(t, resp.Header.Get(AttributeHeaderPrefix+engine.FailureReasonAttribute))
	assert.NotEmpty(t, resp.Header.Get(RecordIDHeader), "a record id is generated when none is supplied")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "not json", string(body), "failed records keep their original body")
}

func TestRecordSanitizeLocalEngine(t *testing.T) {
	srv := New(Options{Processor: localProcessor(t, "sanitize"), Logger: quietLogger()})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/records", "text/plain", strings.NewReader("mail jane@example.com today"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "success", resp.Header.Get(RelationshipHeader))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "jane@example.com")
	assert.Contains(t, string(body), "[REDACTED:email]")
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Empty(t, resp.Header.Get(AttributeHeaderPrefix+handlers.ResponseAttribute), "the engine payload is only sent as the body")
}

func TestRecordWithoutProcessorIsUnavailable(t *testing.T) {
	srv := New(Options{Logger: quietLogger()})
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader("x")))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var errResp domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
	assert.Equal(t, "PROCESSOR_UNAVAILABLE", errResp.Code)
}

func TestRecordBodyTooLarge(t *testing.T) {
	srv := New(Options{Processor: filterProcessor(t, ""), MaxBodyBytes: 8, Logger: quietLogger()})
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader(`[{"text":"far too long"}]`)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Contains(t, rr.Body.String(), "BODY_TOO_LARGE")
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	srv := New(Options{
		Processor: filterProcessor(t, ""),
		Limiter:   governance.NewLimiter(1, 1),
		Logger:    quietLogger(),
	})
	handler := srv.Handler()

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader(`[]`)))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader(`[]`)))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics().rateLimited))
}

func TestProvenanceEndpoint(t *testing.T) {
	journal := storage.NewMemoryStore()
	srv := New(Options{Processor: filterProcessor(t, ""), Journal: journal, Logger: quietLogger()})
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader(`[{"text":"x"}]`))
	req.Header.Set(RecordIDHeader, "rec-9")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/provenance?record_id=rec-9", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var events []storage.ProvenanceEvent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "rec-9", events[0].RecordID)
	assert.Equal(t, "matches", events[0].Relationship)

	missing := httptest.NewRecorder()
	handler.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/v1/provenance", nil))
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	unknown := httptest.NewRecorder()
	handler.ServeHTTP(unknown, httptest.NewRequest(http.MethodGet, "/v1/provenance?record_id=nope", nil))
	assert.Equal(t, http.StatusNotFound, unknown.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := New(Options{Processor: filterProcessor(t, ""), Logger: quietLogger()})
	handler := srv.Handler()

	health := httptest.NewRecorder()
	handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, health.Code)
	assert.Contains(t, health.Body.String(), `"action":"filter"`)

	metrics := httptest.NewRecorder()
	handler.ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "entities_http_requests_total")
}

func TestWatchSwapsProcessor(t *testing.T) {
	srv := New(Options{Processor: filterProcessor(t, ""), Logger: quietLogger()})
	updates := make(chan *config.Config, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		srv.Watch(ctx, updates, func(cfg *config.Config) (*engine.Processor, error) {
			return engine.NewProcessor(engine.Options{Config: cfg.Processor, Logger: quietLogger()})
		})
		close(done)
	}()

	bad := config.Defaults()
	bad.Processor.Action = "unknown"
	updates <- bad

	good := config.Defaults()
	good.Processor = engine.Config{Action: "sanitize", Engine: engine.EngineLocal}
	updates <- good

	require.Eventually(t, func() bool {
		return srv.Processor().Action() == engine.ActionSanitize
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics().configReloads.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics().configReloads.WithLabelValues("success")))

	close(updates)
	<-done
}

func TestListenAndServeShutdown(t *testing.T) {
	srv := New(Options{Processor: filterProcessor(t, ""), Logger: quietLogger()})
	addr, err := srv.ListenAndServe("127.0.0.1:0", nil)
	require.NoError(t, err)

	resp, err := http.Post("http://"+addr+"/v1/records", "application/json", bytes.NewReader([]byte(`[]`)))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "matches", resp.Header.Get(RelationshipHeader))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
