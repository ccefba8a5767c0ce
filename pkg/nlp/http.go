package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-entities/internal/governance"
	"github.com/polisai/polis-entities/pkg/domain"
	"github.com/polisai/polis-entities/pkg/entities"
	"github.com/polisai/polis-entities/pkg/telemetry"
)

const (
	// DefaultTimeout bounds a single engine request.
	DefaultTimeout = 30 * time.Second

	maxErrorBody    = 1024
	maxResponseBody = 64 << 20
)

// HTTPOptions tunes the HTTP engine client.
type HTTPOptions struct {
	// Timeout bounds each request. Zero selects DefaultTimeout.
	Timeout time.Duration
	// Retries is the number of additional attempts for transient failures.
	Retries int
	// Breakers, when set, short-circuits calls to endpoints that keep failing.
	Breakers *governance.BreakerSet
	// Transport overrides the base round tripper. It is always wrapped by otelhttp.
	Transport http.RoundTripper
}

// HTTPClient talks to a remote engine over its REST API.
type HTTPClient struct {
	endpoint string
	// redacted is the endpoint without credentials, for errors.
	redacted string
	apiKey   string
	http     *http.Client
	retry    *governance.RetryPolicy
	breaker  *governance.Breaker
}

// NewHTTPClient validates endpoint and builds a client for it.
func NewHTTPClient(endpoint, apiKey string, opts HTTPOptions) (*HTTPClient, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: engine endpoint %q must be an absolute http(s) URL", domain.ErrConfigInvalid, telemetry.SafeEndpoint(endpoint))
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	c := &HTTPClient{
		endpoint: endpoint,
		redacted: telemetry.SafeEndpoint(endpoint),
		apiKey:   apiKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(base),
		},
	}
	if opts.Retries > 0 {
		cfg := governance.DefaultRetryConfig()
		cfg.MaxRetries = opts.Retries
		c.retry = governance.NewRetryPolicy(cfg)
	}
	if opts.Breakers != nil {
		c.breaker = opts.Breakers.Get(endpoint)
	}
	return c, nil
}

// HTTPFactory returns a Factory producing HTTP clients with opts.
func HTTPFactory(opts HTTPOptions) Factory {
	return func(endpoint, apiKey string) (Client, error) {
		return NewHTTPClient(endpoint, apiKey, opts)
	}
}

// Endpoint returns the normalised engine base URL.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

type extractResponse struct {
	Entities       json.RawMessage `json:"entities"`
	ExtractionTime int64           `json:"extractionTime"`
}

// Extract calls /api/extract and decodes the returned entities.
func (c *HTTPClient) Extract(ctx context.Context, text string, params Params) ([]domain.Entity, error) {
	body, err := c.post(ctx, "extract", text, params)
	if err != nil {
		return nil, err
	}

	var resp extractResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("nlp: decode extract response: %w", err)
	}
	raw := strings.TrimSpace(string(resp.Entities))
	if raw == "" || raw == "null" {
		return []domain.Entity{}, nil
	}
	found, err := entities.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("nlp: decode extract response: %w", err)
	}
	return found, nil
}

// Annotate calls /api/annotate and returns the annotated text.
func (c *HTTPClient) Annotate(ctx context.Context, text string, params Params) (string, error) {
	if params.Model == "" {
		params.Model = ModelOpenNLP
	}
	body, err := c.post(ctx, "annotate", text, params)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Ingest calls /api/ingest.
func (c *HTTPClient) Ingest(ctx context.Context, text string, params Params) error {
	_, err := c.post(ctx, "ingest", text, params)
	return err
}

// Sanitize calls /api/sanitize and returns the sanitized text.
func (c *HTTPClient) Sanitize(ctx context.Context, text string, params Params) (string, error) {
	body, err := c.post(ctx, "sanitize", text, params)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *HTTPClient) requestURL(verb string, params Params) string {
	q := url.Values{}
	q.Set("confidence", strconv.Itoa(params.Confidence))
	setIf := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	if verb == "extract" || verb == "ingest" {
		setIf("context", params.Context)
		setIf("documentId", params.DocumentID)
	}
	setIf("language", params.Language)
	setIf("type", params.EntityType)
	if verb == "annotate" {
		setIf("model", params.Model)
	}
	return c.endpoint + "/api/" + verb + "?" + q.Encode()
}

func (c *HTTPClient) post(ctx context.Context, verb, text string, params Params) ([]byte, error) {
	target := c.requestURL(verb, params)

	var body []byte
	attempt := func(ctx context.Context) (int, error) {
		var status int
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			status, body, err = c.send(ctx, target, text)
			return err
		})
		return status, err
	}

	if c.retry == nil {
		if _, err := attempt(ctx); err != nil {
			return nil, err
		}
		return body, nil
	}
	if _, err := c.retry.Do(ctx, attempt); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *HTTPClient) send(ctx context.Context, target, text string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(text))
	if err != nil {
		return 0, nil, fmt.Errorf("nlp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s: %w", domain.ErrEngineUnreachable, c.redacted, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, nil, &Error{
			StatusCode: resp.StatusCode,
			Endpoint:   c.redacted,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("nlp: read response: %w", err)
	}
	return resp.StatusCode, payload, nil
}

var _ Client = (*HTTPClient)(nil)
