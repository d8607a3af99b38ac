package keycluster

import (
	"encoding/json"
	"errors"
	"strings"
)

// AdGroup is one generated ad group for a set of related keywords.
type AdGroup struct {
	Name         string   `json:"ad_group" jsonschema:"description=Short descriptive ad group name that is unique within the campaign"`
	Keywords     []string `json:"keywords" jsonschema:"description=Keywords from the input that belong to this ad group"`
	Headlines    []string `json:"headlines" jsonschema:"description=Responsive search ad headlines, at most 30 characters each"`
	Descriptions []string `json:"descriptions" jsonschema:"description=Responsive search ad descriptions, at most 90 characters each"`
}

// BatchOutput is the object the model is asked to return for one batch.
type BatchOutput struct {
	AdGroups []AdGroup `json:"ad_groups" jsonschema:"description=Ad groups generated for this batch of keywords"`
}

// ResultKind tags a StructuredResult.
type ResultKind int

const (
	ResultFailed ResultKind = iota
	ResultParsed
	ResultRaw
)

// StructuredResult is what one batch call produced: a parsed object, raw text
// that still needs recovery, or a failure.
type StructuredResult struct {
	Kind   ResultKind
	Parsed map[string]any
	Raw    string
	Err    error
}

func Parsed(obj map[string]any) StructuredResult {
	return StructuredResult{Kind: ResultParsed, Parsed: obj}
}

func Raw(text string) StructuredResult {
	return StructuredResult{Kind: ResultRaw, Raw: text}
}

func Failed(err error) StructuredResult {
	return StructuredResult{Kind: ResultFailed, Err: err}
}

var (
	errEmptyResponse = errors.New("empty response")
	errUnrecoverable = errors.New("no JSON object found in response")
)

// ParseCompletion classifies model output. A JSON object is Parsed, a JSON array
// is wrapped as {"items": [...]}, anything else is Raw.
func ParseCompletion(content string) StructuredResult {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return Failed(errEmptyResponse)
	}

	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
		switch v := value.(type) {
		case map[string]any:
			return Parsed(v)
		case []any:
			return Parsed(map[string]any{"items": v})
		}
	}
	return Raw(content)
}

// Resolve turns a Raw result into Parsed or Failed using RecoverJSON.
func (r StructuredResult) Resolve() StructuredResult {
	if r.Kind != ResultRaw {
		return r
	}
	if obj := RecoverJSON(r.Raw); obj != nil {
		return Parsed(obj)
	}
	return Failed(errUnrecoverable)
}

// TitleExtractor pulls carry-forward titles out of a parsed batch result.
type TitleExtractor func(map[string]any) []string

// ExtractAdGroupTitles collects ad_groups[*].ad_group names and a top-level
// "title" string if present.
func ExtractAdGroupTitles(obj map[string]any) []string {
	var titles []string
	if title, ok := obj["title"].(string); ok && title != "" {
		titles = append(titles, title)
	}
	groups, _ := obj["ad_groups"].([]any)
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := group["ad_group"].(string); ok && name != "" {
			titles = append(titles, name)
		}
	}
	return titles
}
