package keycluster

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseCompletion(t *testing.T) {
	tests := []struct {
		name    string
		content string
		kind    ResultKind
		parsed  map[string]any
	}{
		{"object", `{"a": 1}`, ResultParsed, map[string]any{"a": float64(1)}},
		{"padded object", "\n  {\"a\": 1}  \n", ResultParsed, map[string]any{"a": float64(1)}},
		{"array", `[1, 2]`, ResultParsed, map[string]any{"items": []any{float64(1), float64(2)}}},
		{"text around object", `Result: {"a": 1}`, ResultRaw, nil},
		{"bare string", `"hello"`, ResultRaw, nil},
		{"empty", "   ", ResultFailed, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCompletion(tt.content)
			if got.Kind != tt.kind {
				t.Fatalf("kind = %v, want %v", got.Kind, tt.kind)
			}
			if !reflect.DeepEqual(got.Parsed, tt.parsed) {
				t.Errorf("parsed = %v, want %v", got.Parsed, tt.parsed)
			}
			if tt.kind == ResultRaw && got.Raw != tt.content {
				t.Errorf("raw = %q, want %q", got.Raw, tt.content)
			}
		})
	}
}

func TestStructuredResultResolve(t *testing.T) {
	recovered := Raw(`prefix {"title": "x"} suffix`).Resolve()
	if recovered.Kind != ResultParsed || recovered.Parsed["title"] != "x" {
		t.Errorf("Resolve() = %+v", recovered)
	}

	dropped := Raw("nothing useful").Resolve()
	if dropped.Kind != ResultFailed || !errors.Is(dropped.Err, errUnrecoverable) {
		t.Errorf("Resolve() = %+v, want unrecoverable failure", dropped)
	}

	parsed := Parsed(map[string]any{"a": 1})
	if got := parsed.Resolve(); !reflect.DeepEqual(got, parsed) {
		t.Errorf("Resolve() changed a parsed result: %+v", got)
	}
}

func TestExtractAdGroupTitles(t *testing.T) {
	obj := map[string]any{
		"title": "Summer Sale",
		"ad_groups": []any{
			map[string]any{"ad_group": "Trail Running Shoes"},
			map[string]any{"keywords": []any{"x"}},
			"not an object",
			map[string]any{"ad_group": ""},
			map[string]any{"ad_group": "Road Running Shoes"},
		},
	}
	want := []string{"Summer Sale", "Trail Running Shoes", "Road Running Shoes"}
	if got := ExtractAdGroupTitles(obj); !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractAdGroupTitles() = %v, want %v", got, want)
	}
	if got := ExtractAdGroupTitles(map[string]any{"items": []any{}}); got != nil {
		t.Errorf("ExtractAdGroupTitles(no groups) = %v, want nil", got)
	}
}
