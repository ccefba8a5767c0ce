package engine

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/polisai/polis-entities/pkg/domain"
	"github.com/polisai/polis-entities/pkg/query"
)

// Action is the operation a processor applies to every record.
type Action string

// Supported actions.
const (
	ActionFilter   Action = "filter"
	ActionExtract  Action = "extract"
	ActionAnnotate Action = "annotate"
	ActionIngest   Action = "ingest"
	ActionSanitize Action = "sanitize"
)

// Engine kinds.
const (
	EngineHTTP  = "http"
	EngineLocal = "local"
)

// DefaultEndpoint is used when an engine action is configured without an endpoint.
const DefaultEndpoint = "http://localhost:9000"

var (
	// ErrInvalidAction is returned for action names outside the supported set.
	ErrInvalidAction = fmt.Errorf("%w: unknown action", domain.ErrConfigInvalid)
	// ErrInvalidConfig wraps every other configuration validation failure.
	ErrInvalidConfig = fmt.Errorf("%w: processor", domain.ErrConfigInvalid)
)

// Actions lists every supported action in declaration order.
func Actions() []Action {
	return []Action{ActionFilter, ActionExtract, ActionAnnotate, ActionIngest, ActionSanitize}
}

// ParseAction maps a configured action name to an Action, ignoring case and
// surrounding whitespace.
func ParseAction(raw string) (Action, error) {
	candidate := Action(strings.ToLower(strings.TrimSpace(raw)))
	for _, action := range Actions() {
		if candidate == action {
			return action, nil
		}
	}
	return "", fmt.Errorf("%w: %q (expected one of filter, extract, annotate, ingest, sanitize)", ErrInvalidAction, raw)
}

// IsEngine reports whether the action is served by the external engine.
func (a Action) IsEngine() bool {
	switch a {
	case ActionExtract, ActionAnnotate, ActionIngest, ActionSanitize:
		return true
	default:
		return false
	}
}

// Config is the processor configuration. Context, DocumentID, Language and
// EntityType may contain ${...} placeholders resolved per record.
type Config struct {
	Action        string `yaml:"action" json:"action"`
	Query         string `yaml:"query,omitempty" json:"query,omitempty"`
	QueryLanguage string `yaml:"query_language,omitempty" json:"query_language,omitempty"`

	Engine              string        `yaml:"engine,omitempty" json:"engine,omitempty"`
	Endpoint            string        `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	APIKey              string        `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	ConfidenceThreshold int           `yaml:"confidence_threshold" json:"confidence_threshold"`
	Timeout             time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retries             int           `yaml:"retries,omitempty" json:"retries,omitempty"`

	Context    string `yaml:"context,omitempty" json:"context,omitempty"`
	DocumentID string `yaml:"document_id,omitempty" json:"document_id,omitempty"`
	Language   string `yaml:"language,omitempty" json:"language,omitempty"`
	EntityType string `yaml:"entity_type,omitempty" json:"entity_type,omitempty"`
}

// WithDefaults returns a copy of c with unset fields defaulted.
func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.Query) == "" {
		c.Query = query.DefaultQuery
	}
	if c.QueryLanguage == "" {
		c.QueryLanguage = query.LanguageEQL
	}
	if c.Engine == "" {
		c.Engine = EngineHTTP
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	return c
}

// Validate checks the configuration after defaults are applied. An unknown
// action is reported as ErrInvalidAction; every other problem as ErrInvalidConfig.
func (c Config) Validate() error {
	c = c.WithDefaults()

	action, err := ParseAction(c.Action)
	if err != nil {
		return err
	}

	var problems []string
	if action == ActionFilter {
		if _, err := query.New(c.QueryLanguage); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if action.IsEngine() {
		switch strings.ToLower(c.Engine) {
		case EngineHTTP:
			u, err := url.Parse(c.Endpoint)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				problems = append(problems, fmt.Sprintf("endpoint %q must be an absolute http(s) URL", c.Endpoint))
			}
		case EngineLocal:
		default:
			problems = append(problems, fmt.Sprintf("engine %q must be %q or %q", c.Engine, EngineHTTP, EngineLocal))
		}
	}
	if c.Timeout < 0 {
		problems = append(problems, "timeout must not be negative")
	}
	if c.Retries < 0 {
		problems = append(problems, "retries must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
