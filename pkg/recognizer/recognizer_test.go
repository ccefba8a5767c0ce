package recognizer

import (
	"context"
	"strings"
	"testing"
)

func builtinScanner(t *testing.T) *Scanner {
	t.Helper()
	s, err := NewScanner(Config{Rules: BuiltinRules()})
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	return s
}

func TestScanFindsPersons(t *testing.T) {
	s := builtinScanner(t)
	report, err := s.Scan(context.Background(), "George Washington was president. Abraham Lincoln too.")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(report.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %+v", report.Findings)
	}
	if report.Findings[0].Match != "George Washington" || report.Findings[0].Label != "person" {
		t.Fatalf("unexpected first finding %+v", report.Findings[0])
	}
	if report.Findings[1].Match != "Abraham Lincoln" {
		t.Fatalf("unexpected second finding %+v", report.Findings[1])
	}
}

func TestScanRedactsMixedContent(t *testing.T) {
	s := builtinScanner(t)
	text := "mail jane@example.com or call 555-123-4567, ssn 123-45-6789"
	report, err := s.Scan(context.Background(), text)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !report.RedactionsApplied {
		t.Fatalf("expected redactions")
	}
	for _, leaked := range []string{"jane@example.com", "555-123-4567", "123-45-6789"} {
		if strings.Contains(report.Redacted, leaked) {
			t.Fatalf("redacted text still contains %q: %s", leaked, report.Redacted)
		}
	}
	if !strings.Contains(report.Redacted, "[REDACTED:email]") {
		t.Fatalf("missing email replacement: %s", report.Redacted)
	}
}

func TestOverlapPrefersLongestMatch(t *testing.T) {
	s, err := NewScanner(Config{Rules: []Rule{
		{Name: "short", Pattern: `abc`, Confidence: 0.9},
		{Name: "long", Pattern: `abcdef`, Confidence: 0.5},
	}})
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	report, _ := s.Scan(context.Background(), "xx abcdef yy")
	if len(report.Findings) != 1 || report.Findings[0].Rule != "long" {
		t.Fatalf("expected only the long rule, got %+v", report.Findings)
	}
}

func TestNewScannerRejectsBadRules(t *testing.T) {
	cases := []Rule{
		{Pattern: `x`},
		{Name: "empty"},
		{Name: "broken", Pattern: `(`},
	}
	for _, rule := range cases {
		if _, err := NewScanner(Config{Rules: []Rule{rule}}); err == nil {
			t.Fatalf("expected error for rule %+v", rule)
		}
	}
}

func TestScanHonoursCancelledContext(t *testing.T) {
	s := builtinScanner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Scan(ctx, "George Washington"); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestRewriteAnnotates(t *testing.T) {
	text := "hello George Washington"
	findings := []Finding{{Label: "person", Match: "George Washington", Start: 6, End: 23}}
	got := Rewrite(text, findings, func(f Finding) string { return "<" + f.Label + ">" })
	if got != "hello <person>" {
		t.Fatalf("Rewrite = %q", got)
	}
}

func TestRegistrySelect(t *testing.T) {
	reg := GlobalRegistry()
	rules, err := reg.Select([]string{"EMAIL", "person"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rules) != 2 || rules[0].Name != "email" {
		t.Fatalf("unexpected selection %+v", rules)
	}
	if _, err := reg.Select([]string{"missing"}); err == nil {
		t.Fatalf("expected error for unknown rule")
	}
	if all, _ := reg.Select(nil); len(all) != len(BuiltinRules()) {
		t.Fatalf("expected all builtin rules, got %d", len(all))
	}
}
