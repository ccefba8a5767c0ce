package template

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestResolve(t *testing.T) {
	fixed := time.Date(2024, 7, 4, 12, 0, 0, 0, time.UTC)
	scope := Scope{
		RecordID: "rec-1",
		Attributes: map[string]string{
			"filename": "speech.txt",
			"lang":     "en",
			"empty":    "",
		},
		Now:   func() time.Time { return fixed },
		NewID: func() string { return "generated" },
	}

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain", raw: "static", want: "static"},
		{name: "attribute", raw: "${filename}", want: "speech.txt"},
		{name: "embedded", raw: "doc-${filename}-${lang}", want: "doc-speech.txt-en"},
		{name: "missing resolves empty", raw: "x${missing}y", want: "xy"},
		{name: "fallback when missing", raw: "${missing:-fr}", want: "fr"},
		{name: "fallback when empty", raw: "${empty:-none}", want: "none"},
		{name: "fallback unused", raw: "${lang:-fr}", want: "en"},
		{name: "uuid falls back to record id", raw: "${uuid}", want: "rec-1"},
		{name: "fresh uuid", raw: "${UUID()}", want: "generated"},
		{name: "now", raw: "${now()}", want: "2024-07-04T12:00:00Z"},
		{name: "whitespace", raw: "${ lang }", want: "en"},
		{name: "escaped", raw: "$${lang}", want: "${lang}"},
		{name: "unterminated", raw: "a ${lang", want: "a ${lang"},
		{name: "non ascii", raw: "Zoë-${lang}", want: "Zoë-en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.raw, scope); got != tt.want {
				t.Fatalf("Resolve(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestResolve_UUIDAttributeWins(t *testing.T) {
	scope := Scope{RecordID: "rec-1", Attributes: map[string]string{"uuid": "attr-uuid"}}
	if got := Resolve("${uuid}", scope); got != "attr-uuid" {
		t.Fatalf("expected attribute value, got %q", got)
	}
}

func TestResolve_DefaultGenerators(t *testing.T) {
	got := Resolve("${UUID()}", Scope{})
	if _, err := uuid.Parse(got); err != nil {
		t.Fatalf("expected a UUID, got %q: %v", got, err)
	}
	if Resolve("${UUID()}", Scope{}) == got {
		t.Fatalf("expected a fresh UUID per resolution")
	}
	if _, err := time.Parse(time.RFC3339, Resolve("${now()}", Scope{})); err != nil {
		t.Fatalf("now() is not RFC 3339: %v", err)
	}
}
