package keycluster

import (
	"fmt"
	"os"
	"strings"
	"text/template"
)

// ExecutionContext is the carry-forward state of one cluster's batch loop.
type ExecutionContext struct {
	Titles []string
}

// Snapshot returns a copy that later appends cannot affect.
func (c *ExecutionContext) Snapshot() ExecutionContext {
	return ExecutionContext{Titles: append([]string(nil), c.Titles...)}
}

func (c *ExecutionContext) Append(titles ...string) {
	c.Titles = append(c.Titles, titles...)
}

// Request is one completion call.
type Request struct {
	System         string
	User           string
	ResponseFormat string
}

const defaultPromptTemplate = `You are a search advertising specialist. Group the keywords you are given into Google Ads ad groups of closely related search intent.

For every ad group return:
- "ad_group": a short, descriptive name
- "keywords": the input keywords that belong to it, unchanged
- "headlines": up to 15 headlines of at most 30 characters
- "descriptions": up to 4 descriptions of at most 90 characters

Every input keyword must appear in exactly one ad group.
{{- if .PreviousTitles}}

These ad group names already exist for this topic. Do not reuse them:
{{- range .PreviousTitles}}
- {{.}}
{{- end}}
{{- end}}

Respond with a single JSON object of the form {"ad_groups": [...]}.`

// promptData is what the system prompt template sees.
type promptData struct {
	Cluster        int
	PreviousTitles []string
	Keywords       []string
}

// Formatter builds completion requests for batches.
type Formatter struct {
	tmpl           *template.Template
	responseFormat string
}

// NewFormatter parses the system prompt template. An empty text uses the
// built-in prompt.
func NewFormatter(text, responseFormat string) (*Formatter, error) {
	if text == "" {
		text = defaultPromptTemplate
	}
	tmpl, err := template.New("system").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	if responseFormat == "" {
		responseFormat = ResponseFormatJSONObject
	}
	return &Formatter{tmpl: tmpl, responseFormat: responseFormat}, nil
}

// LoadFormatter reads the prompt template from path, or uses the built-in one
// when path is empty.
func LoadFormatter(path, responseFormat string) (*Formatter, error) {
	if path == "" {
		return NewFormatter("", responseFormat)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt template: %w", err)
	}
	return NewFormatter(string(data), responseFormat)
}

// Format renders the request for one batch of a cluster.
func (f *Formatter) Format(cluster int, ec ExecutionContext, batch []Item) (Request, error) {
	keywords := make([]string, len(batch))
	for i, item := range batch {
		keywords[i] = item.Text
	}

	var system strings.Builder
	data := promptData{Cluster: cluster, PreviousTitles: ec.Titles, Keywords: keywords}
	if err := f.tmpl.Execute(&system, data); err != nil {
		return Request{}, fmt.Errorf("failed to render prompt: %w", err)
	}

	var user strings.Builder
	user.WriteString("Keywords:\n")
	for _, kw := range keywords {
		user.WriteString("- ")
		user.WriteString(kw)
		user.WriteString("\n")
	}

	return Request{
		System:         system.String(),
		User:           user.String(),
		ResponseFormat: f.responseFormat,
	}, nil
}
