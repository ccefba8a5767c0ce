package query

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/polisai/polis-entities/pkg/domain"
	"pgregory.net/rapid"
)

func presidents() []domain.Entity {
	return []domain.Entity{
		{Text: "George Washington", Type: "person", Confidence: 0.9, Metadata: map[string]string{"term": "1"}},
		{Text: "Abraham Lincoln", Type: "person", Confidence: 0.6, Metadata: map[string]string{"term": "16"}},
	}
}

func texts(list []domain.Entity) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.Text)
	}
	return out
}

func TestEQL_Filter(t *testing.T) {
	engine := NewEQL()
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "default query", query: DefaultQuery, want: []string{"George Washington", "Abraham Lincoln"}},
		{name: "exact match", query: `select * from entities where text = "George Washington"`, want: []string{"George Washington"}},
		{name: "no match", query: `select * from entities where text = "Thomas Jefferson"`, want: []string{}},
		{name: "numeric", query: `SELECT * FROM entities WHERE confidence < 0.7`, want: []string{"Abraham Lincoln"}},
		{name: "metadata", query: `select * from entities where metadata.term = 16`, want: []string{"Abraham Lincoln"}},
		{name: "missing metadata is null", query: `select * from entities where metadata.party = null`, want: []string{"George Washington", "Abraham Lincoln"}},
		{name: "like and limit", query: `select * from entities where type like "pers%" limit 1;`, want: []string{"George Washington"}},
		{name: "limit zero", query: `select * from entities limit 0`, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Filter(ctx, presidents(), tt.query)
			if err != nil {
				t.Fatalf("Filter() error = %v", err)
			}
			names := texts(got)
			if len(names) != len(tt.want) {
				t.Fatalf("Filter() = %v, want %v", names, tt.want)
			}
			for i := range names {
				if names[i] != tt.want[i] {
					t.Fatalf("Filter() = %v, want %v", names, tt.want)
				}
			}
		})
	}
}

func TestEQL_SpanlessEntitiesDoNotMatchSpanConditions(t *testing.T) {
	list := []domain.Entity{
		{Text: "George Washington", Type: "person", Span: &domain.Span{TokenStart: 0, TokenEnd: 2, CharacterEnd: 17}},
		{Text: "Abraham Lincoln", Type: "person"},
	}

	got, err := NewEQL().Filter(context.Background(), list, `select * from entities where span.tokenStart >= 0`)
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if names := texts(got); len(names) != 1 || names[0] != "George Washington" {
		t.Fatalf("Filter() = %v, want [George Washington]", names)
	}

	got, err = NewEQL().Filter(context.Background(), list, `select * from entities where span.characterEnd = null`)
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if names := texts(got); len(names) != 1 || names[0] != "Abraham Lincoln" {
		t.Fatalf("Filter() = %v, want [Abraham Lincoln]", names)
	}

	if _, err := NewEQL().Filter(context.Background(), list, `select * from entities where span.width > 1`); err == nil {
		t.Fatalf("expected evaluation error for unknown span field")
	}
}

func TestEQL_InvalidQueries(t *testing.T) {
	engine := NewEQL()
	for _, q := range []string{
		"",
		"select text from entities",
		"select * from people",
		`select * from entities where text = `,
	} {
		if _, err := engine.Filter(context.Background(), presidents(), q); !errors.Is(err, ErrInvalidQuery) {
			t.Fatalf("Filter(%q) error = %v, want ErrInvalidQuery", q, err)
		}
	}

	_, err := engine.Filter(context.Background(), presidents(), `select * from entities where party = "whig"`)
	if err == nil {
		t.Fatalf("expected evaluation error for unknown field")
	}
}

func TestExpr_Filter(t *testing.T) {
	engine := NewExpr()
	got, err := engine.Filter(context.Background(), presidents(), `text startsWith "George" && confidence > 0.5`)
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if names := texts(got); len(names) != 1 || names[0] != "George Washington" {
		t.Fatalf("unexpected result %v", names)
	}

	if _, err := engine.Filter(context.Background(), presidents(), `text ==`); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestRego_Filter(t *testing.T) {
	engine := NewRego()
	got, err := engine.Filter(context.Background(), presidents(), `input.type == "person"; input.metadata.term == "16"`)
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if names := texts(got); len(names) != 1 || names[0] != "Abraham Lincoln" {
		t.Fatalf("unexpected result %v", names)
	}

	if _, err := engine.Filter(context.Background(), presidents(), `input.text ==`); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestNew(t *testing.T) {
	for _, lang := range []string{"", "eql", "EXPR", "rego"} {
		if _, err := New(lang); err != nil {
			t.Fatalf("New(%q) error = %v", lang, err)
		}
	}
	if _, err := New("sql"); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
}

// Filtering never invents entities: every output is drawn from the input.
func TestFilterSubsetProperties(t *testing.T) {
	engines := map[string]Engine{
		LanguageEQL:  NewEQL(),
		LanguageExpr: NewExpr(),
	}
	names := []string{"George Washington", "Abraham Lincoln", "Thomas Jefferson", "John Adams", ""}

	rapid.Check(t, func(t *rapid.T) {
		input := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) domain.Entity {
			return domain.Entity{
				Text:       rapid.SampledFrom(names).Draw(t, "text"),
				Confidence: float64(rapid.IntRange(0, 10).Draw(t, "confidence")) / 10,
			}
		}), 0, 15).Draw(t, "entities")
		target := rapid.SampledFrom(names).Draw(t, "target")
		threshold := float64(rapid.IntRange(0, 10).Draw(t, "threshold")) / 10

		queries := map[string]string{
			LanguageEQL:  `select * from entities where text = '` + target + `' or confidence >= ` + formatFloat(threshold),
			LanguageExpr: `text == "` + target + `" || confidence >= ` + formatFloat(threshold),
		}

		for lang, engine := range engines {
			out, err := engine.Filter(context.Background(), input, queries[lang])
			if err != nil {
				t.Fatalf("%s Filter: %v", lang, err)
			}
			if len(out) > len(input) {
				t.Fatalf("%s returned more entities than supplied", lang)
			}
			for _, e := range out {
				if !containsEntity(input, e) {
					t.Fatalf("%s invented entity %+v", lang, e)
				}
				if e.Text != target && e.Confidence < threshold {
					t.Fatalf("%s returned non-matching entity %+v", lang, e)
				}
			}
		}
	})
}

func containsEntity(list []domain.Entity, e domain.Entity) bool {
	for _, candidate := range list {
		if candidate.Text == e.Text && candidate.Confidence == e.Confidence {
			return true
		}
	}
	return false
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
