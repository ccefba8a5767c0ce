package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-entities/pkg/domain"
	"github.com/polisai/polis-entities/pkg/engine/runtime"
	"github.com/polisai/polis-entities/pkg/engine/template"
	"github.com/polisai/polis-entities/pkg/nlp"
	"github.com/polisai/polis-entities/pkg/query"
)

// Options holds the dependencies for NewProcessor.
type Options struct {
	Config Config
	// Clients builds the engine client for each cycle. When nil an HTTP
	// factory honouring Config.Timeout and Config.Retries is used.
	Clients nlp.Factory
	// Filters builds the query engine for Config.QueryLanguage. Defaults to query.New.
	Filters func(language string) (query.Engine, error)
	Logger  *slog.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

// Processor applies one configured operation to each record it is given.
// It holds no per-record state and is safe for concurrent use.
type Processor struct {
	cfg     Config
	action  Action
	clients nlp.Factory
	filter  query.Engine
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewProcessor validates opts.Config and builds a processor. Configuration
// problems, including an unknown action, are reported here so that no record
// is ever processed under an invalid configuration.
func NewProcessor(opts Options) (*Processor, error) {
	cfg := opts.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	action, err := ParseAction(cfg.Action)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	p := &Processor{
		cfg:     cfg,
		action:  action,
		clients: opts.Clients,
		logger:  logger,
		tracer:  otel.Tracer("entities.engine"),
		now:     now,
	}

	if action == ActionFilter {
		build := opts.Filters
		if build == nil {
			build = query.New
		}
		if p.filter, err = build(cfg.QueryLanguage); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if p.clients == nil {
		p.clients = nlp.HTTPFactory(nlp.HTTPOptions{Timeout: cfg.Timeout, Retries: cfg.Retries})
	}
	return p, nil
}

// Config returns the effective configuration, defaults applied.
func (p *Processor) Config() Config {
	return p.cfg
}

// Action returns the configured action.
func (p *Processor) Action() Action {
	return p.action
}

// OnTrigger runs one scheduling slot: it takes at most one record from the
// session, processes it and transfers it. An empty session is a no-op and
// reports false.
func (p *Processor) OnTrigger(ctx context.Context, session runtime.Session) (runtime.Decision, bool) {
	rec, ok := session.Get()
	if !ok || rec == nil {
		return runtime.Decision{}, false
	}
	decision := p.Process(ctx, rec)
	session.Transfer(rec, decision.Relationship)
	return decision, true
}

// Process runs one cycle over rec, mutating its body and attributes, and
// returns the routing decision. Exactly one of success or failure is reached.
func (p *Processor) Process(ctx context.Context, rec *domain.Record) runtime.Decision {
	start := p.now()

	ctx, span := p.tracer.Start(ctx, "record.process",
		trace.WithAttributes(
			attribute.String("record.id", rec.ID),
			attribute.String("record.action", string(p.action)),
		),
	)
	defer span.End()

	params := p.resolve(rec)
	result, err := p.rewrite(ctx, rec, params)
	return p.route(ctx, span, rec, params, result, err, start)
}

// cycleParams are the per-record values after template resolution.
type cycleParams struct {
	runtime.Params
	Endpoint string
	APIKey   string
}

func (p *Processor) resolve(rec *domain.Record) cycleParams {
	scope := template.Scope{RecordID: rec.ID, Attributes: rec.Attributes, Now: p.now}
	return cycleParams{
		Params: runtime.Params{
			Query:      p.cfg.Query,
			Confidence: p.cfg.ConfidenceThreshold,
			Context:    template.Resolve(p.cfg.Context, scope),
			DocumentID: template.Resolve(p.cfg.DocumentID, scope),
			Language:   template.Resolve(p.cfg.Language, scope),
			EntityType: template.Resolve(p.cfg.EntityType, scope),
		},
		Endpoint: p.cfg.Endpoint,
		APIKey:   p.cfg.APIKey,
	}
}
