// Package server exposes the record processor over HTTP. Each POST to
// /v1/records runs one processing cycle and answers with the routed record.
// The active processor can be swapped at runtime when configuration changes.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-entities/internal/governance"
	"github.com/polisai/polis-entities/pkg/config"
	"github.com/polisai/polis-entities/pkg/domain"
	"github.com/polisai/polis-entities/pkg/engine"
	"github.com/polisai/polis-entities/pkg/storage"
)

// Headers used by the records endpoint.
const (
	RecordIDHeader        = "X-Record-Id"
	RelationshipHeader    = "X-Record-Relationship"
	AttributeHeaderPrefix = "X-Record-Attribute-"
)

const defaultMaxBodyBytes = 10 << 20

// Options configures a Server.
type Options struct {
	Processor *engine.Processor
	// Journal receives a provenance event per routed record and serves
	// /v1/provenance. Optional.
	Journal storage.ProvenanceStore
	Metrics *Metrics
	Limiter *governance.Limiter
	Logger  *slog.Logger
	// MaxBodyBytes bounds request bodies. Defaults to 10 MiB.
	MaxBodyBytes int64
}

// Server is the HTTP ingress.
type Server struct {
	processor    atomic.Pointer[engine.Processor]
	journal      storage.ProvenanceStore
	metrics      *Metrics
	limiter      *governance.Limiter
	logger       *slog.Logger
	maxBodyBytes int64

	mu         sync.Mutex
	httpServer *http.Server
}

// New builds a server. A nil processor is allowed; records are rejected with
// 503 until SetProcessor is called.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	s := &Server{
		journal:      opts.Journal,
		metrics:      metrics,
		limiter:      opts.Limiter,
		logger:       logger,
		maxBodyBytes: maxBody,
	}
	if opts.Processor != nil {
		s.processor.Store(opts.Processor)
	}
	return s
}

// SetProcessor atomically replaces the active processor. In-flight cycles
// finish on the processor they started with.
func (s *Server) SetProcessor(p *engine.Processor) {
	s.processor.Store(p)
}

// Processor returns the active processor, or nil.
func (s *Server) Processor() *engine.Processor {
	return s.processor.Load()
}

// Metrics returns the server's Prometheus metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/records", otelhttp.NewHandler(s.rateLimited(http.HandlerFunc(s.handleRecord)), "records.process"))
	mux.HandleFunc("GET /v1/provenance", s.handleProvenance)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return s.metrics.MetricsMiddleware(mux)
}

// Watch applies every configuration from updates by building a processor
// with build. A configuration that fails to build is logged and the previous
// processor stays active. Watch returns when ctx is done or updates closes.
func (s *Server) Watch(ctx context.Context, updates <-chan *config.Config, build func(*config.Config) (*engine.Processor, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			if cfg == nil {
				continue
			}
			p, err := build(cfg)
			if err != nil {
				s.metrics.RecordConfigReload("error")
				s.logger.Error("failed to apply configuration", "error", err)
				continue
			}
			s.SetProcessor(p)
			s.metrics.RecordConfigReload("success")
			s.logger.Info("processor updated",
				"action", string(p.Action()),
				"engine", p.Config().Engine,
			)
		}
	}
}

// ListenAndServe binds addr and serves until Shutdown. It returns once the
// listener is bound; serve errors are logged. The bound address is returned so
// callers can use ":0".
func (s *Server) ListenAndServe(addr string, tlsCfg *config.TLSConfig) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to bind listener %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	useTLS := tlsCfg != nil && tlsCfg.Enabled
	if useTLS {
		server.TLSConfig = &tls.Config{MinVersion: tlsVersion(tlsCfg.MinVersion)}
	}

	s.mu.Lock()
	s.httpServer = server
	s.mu.Unlock()

	bound := listener.Addr().String()
	s.logger.Info("server listening", "addr", bound, "tls", useTLS)

	go func() {
		var serveErr error
		if useTLS {
			serveErr = server.ServeTLS(listener, tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			serveErr = server.Serve(listener)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("server failed", "error", serveErr)
		}
	}()

	return bound, nil
}

// Shutdown gracefully stops the listener started by ListenAndServe.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.metrics.RecordRateLimited()
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusTooManyRequests, &domain.DomainError{Code: "RATE_LIMITED", Message: "request rate exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tlsVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
