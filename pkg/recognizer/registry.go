package recognizer

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry is a threadsafe catalog of named rules.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

// Register inserts or replaces a rule, keyed by its lower-cased name.
func (r *Registry) Register(rule Rule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("recognizer: registry rule name is required")
	}
	if strings.TrimSpace(rule.Pattern) == "" {
		return fmt.Errorf("recognizer: registry rule %s missing pattern", rule.Name)
	}

	r.mu.Lock()
	r.rules[strings.ToLower(rule.Name)] = rule
	r.mu.Unlock()
	return nil
}

// RegisterAll inserts multiple rules, stopping at the first invalid one.
func (r *Registry) RegisterAll(rules []Rule) error {
	for _, rule := range rules {
		if err := r.Register(rule); err != nil {
			return err
		}
	}
	return nil
}

// Resolve retrieves a rule by name.
func (r *Registry) Resolve(name string) (Rule, bool) {
	r.mu.RLock()
	rule, ok := r.rules[strings.ToLower(name)]
	r.mu.RUnlock()
	return rule, ok
}

// Rules returns every registered rule ordered by name.
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Select resolves the named rules. An empty list selects every rule.
func (r *Registry) Select(names []string) ([]Rule, error) {
	if len(names) == 0 {
		return r.Rules(), nil
	}
	out := make([]Rule, 0, len(names))
	for _, name := range names {
		rule, ok := r.Resolve(name)
		if !ok {
			return nil, fmt.Errorf("recognizer: unknown rule %q", name)
		}
		out = append(out, rule)
	}
	return out, nil
}

// BuiltinRules returns the rules shipped with the local engine.
func BuiltinRules() []Rule {
	return []Rule{
		{
			Name:       "person",
			Label:      "person",
			Pattern:    `\b[A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+)+\b`,
			Confidence: 0.6,
		},
		{
			Name:       "email",
			Label:      "email",
			Pattern:    `(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`,
			Confidence: 0.99,
		},
		{
			Name:       "ssn",
			Label:      "ssn",
			Pattern:    `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`,
			Confidence: 0.95,
		},
		{
			Name:        "card",
			Label:       "card",
			Pattern:     `\b(?:\d{4}[- ]?){3}\d{4}\b`,
			Replacement: "[REDACTED:card-number]",
			Confidence:  0.9,
		},
		{
			Name:       "phone",
			Label:      "phone",
			Pattern:    `\(?\b\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`,
			Confidence: 0.8,
		},
		{
			Name:       "url",
			Label:      "url",
			Pattern:    `https?://[^\s<>"]+`,
			Confidence: 0.95,
		},
	}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// GlobalRegistry returns the process-wide registry populated with the builtin rules.
func GlobalRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		_ = defaultRegistry.RegisterAll(BuiltinRules())
	})
	return defaultRegistry
}
