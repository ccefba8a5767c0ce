// Package recognizer provides the rule-based entity recognizer behind the
// local engine. Rules are regular expressions tagged with an entity label and
// a confidence; a Scanner applies them and resolves overlapping matches.
package recognizer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Rule declares a recognizer pattern.
type Rule struct {
	Name        string  `yaml:"name" json:"name"`
	Label       string  `yaml:"label" json:"label"`
	Pattern     string  `yaml:"pattern" json:"pattern"`
	Replacement string  `yaml:"replacement,omitempty" json:"replacement,omitempty"`
	Confidence  float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
}

// Config bundles the rules for a Scanner.
type Config struct {
	Rules []Rule
}

// Finding is a single accepted match. Start and End are byte offsets.
type Finding struct {
	Rule        string
	Label       string
	Match       string
	Start       int
	End         int
	Confidence  float64
	Replacement string
}

// Report is the outcome of a scan.
type Report struct {
	Findings          []Finding
	Redacted          string
	RedactionsApplied bool
}

// Scanner applies recognizer rules to text. It is safe for concurrent use.
type Scanner struct {
	rules []compiledRule
}

type compiledRule struct {
	name        string
	label       string
	expr        *regexp.Regexp
	replacement string
	confidence  float64
	order       int
}

// NewScanner compiles cfg into a Scanner.
func NewScanner(cfg Config) (*Scanner, error) {
	compiled := make([]compiledRule, 0, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return nil, fmt.Errorf("recognizer: rule name is required")
		}
		pattern := strings.TrimSpace(rule.Pattern)
		if pattern == "" {
			return nil, fmt.Errorf("recognizer: pattern is required for rule %s", name)
		}
		expr, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("recognizer: invalid pattern for rule %s: %w", name, err)
		}
		label := strings.TrimSpace(rule.Label)
		if label == "" {
			label = name
		}
		confidence := rule.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = 1
		}
		replacement := rule.Replacement
		if replacement == "" {
			replacement = fmt.Sprintf("[REDACTED:%s]", label)
		}
		compiled = append(compiled, compiledRule{
			name:        name,
			label:       label,
			expr:        expr,
			replacement: replacement,
			confidence:  confidence,
			order:       i,
		})
	}
	return &Scanner{rules: compiled}, nil
}

// Labels returns the distinct labels the scanner can produce.
func (s *Scanner) Labels() []string {
	seen := make(map[string]struct{}, len(s.rules))
	var out []string
	for _, rule := range s.rules {
		if _, ok := seen[rule.label]; ok {
			continue
		}
		seen[rule.label] = struct{}{}
		out = append(out, rule.label)
	}
	sort.Strings(out)
	return out
}

// Scan applies every rule to text. Overlapping matches are resolved so that
// the earliest match wins, then the longest, then the most confident, then
// the rule declared first.
func (s *Scanner) Scan(ctx context.Context, text string) (Report, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
	}

	type candidate struct {
		Finding
		order int
	}
	var candidates []candidate
	for _, rule := range s.rules {
		for _, m := range rule.expr.FindAllStringIndex(text, -1) {
			if m[0] == m[1] {
				continue
			}
			candidates = append(candidates, candidate{
				Finding: Finding{
					Rule:        rule.name,
					Label:       rule.label,
					Match:       text[m[0]:m[1]],
					Start:       m[0],
					End:         m[1],
					Confidence:  rule.confidence,
					Replacement: rule.replacement,
				},
				order: rule.order,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End > b.End
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.order < b.order
	})

	findings := make([]Finding, 0, len(candidates))
	cursor := 0
	for _, c := range candidates {
		if c.Start < cursor {
			continue
		}
		findings = append(findings, c.Finding)
		cursor = c.End
	}

	redacted := Rewrite(text, findings, func(f Finding) string { return f.Replacement })
	return Report{
		Findings:          findings,
		Redacted:          redacted,
		RedactionsApplied: redacted != text,
	}, nil
}

// Rewrite replaces every finding in text with the output of fn. Findings must
// be sorted and non-overlapping, as returned by Scan.
func Rewrite(text string, findings []Finding, fn func(Finding) string) string {
	if len(findings) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, f := range findings {
		if f.Start < cursor || f.End > len(text) {
			continue
		}
		b.WriteString(text[cursor:f.Start])
		b.WriteString(fn(f))
		cursor = f.End
	}
	b.WriteString(text[cursor:])
	return b.String()
}
