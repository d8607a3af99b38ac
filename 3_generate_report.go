package keycluster

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

//go:embed templates/report.html
var reportTemplate string

//go:embed templates/styles.css
var reportCSS string

const reportTitle = "Ad Group Report"

var GenerateReportCmd = &cobra.Command{
	Use:   "generate-report [ad-groups-file]",
	Short: "Render generated ad groups as markdown and HTML",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := adGroupsFile
		if len(args) > 0 {
			input = args[0]
		}

		out, err := readRunOutput(input)
		if err != nil {
			return err
		}
		groups := adGroupsFromResults(out.Results)

		markdown := renderMarkdown(out, groups)
		if err := os.WriteFile("report.md", []byte(markdown), 0644); err != nil {
			return fmt.Errorf("failed to write report file: %w", err)
		}

		page, err := renderHTML(markdown, out)
		if err != nil {
			return err
		}
		if err := os.WriteFile("report.html", []byte(page), 0644); err != nil {
			return fmt.Errorf("failed to write HTML file: %w", err)
		}

		log.Printf("Report generated with %d ad groups: report.md, report.html", len(groups))
		return nil
	},
}

// adGroupsFromResults decodes the ad groups of every structured result. A
// result wrapping a bare array under "items" is read as a list of ad groups.
func adGroupsFromResults(results []map[string]any) []AdGroup {
	var groups []AdGroup
	for i, result := range results {
		if _, ok := result["ad_groups"]; !ok {
			if items, ok := result["items"]; ok {
				result = map[string]any{"ad_groups": items}
			}
		}
		data, err := json.Marshal(result)
		if err != nil {
			log.Printf("Failed to marshal result %d: %v", i, err)
			continue
		}
		var output BatchOutput
		if err := json.Unmarshal(data, &output); err != nil {
			log.Printf("Skipping result %d: %v", i, err)
			continue
		}
		for _, g := range output.AdGroups {
			if g.Name == "" && len(g.Keywords) == 0 {
				continue
			}
			groups = append(groups, g)
		}
	}
	return groups
}

func renderMarkdown(out RunOutput, groups []AdGroup) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", reportTitle)
	fmt.Fprintf(&b, "%d ad groups from %d keyword clusters, %d tokens used.\n\n", len(groups), out.Clusters, out.TotalTokens)

	if len(groups) == 0 {
		return b.String()
	}

	b.WriteString("| Ad group | Keywords | Headlines | Descriptions |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, g := range groups {
		fmt.Fprintf(&b, "| %s | %d | %d | %d |\n", escapeTableCell(g.Name), len(g.Keywords), len(g.Headlines), len(g.Descriptions))
	}

	for _, g := range groups {
		fmt.Fprintf(&b, "\n## %s\n\n", g.Name)
		if len(g.Keywords) > 0 {
			fmt.Fprintf(&b, "**Keywords:** %s\n", strings.Join(g.Keywords, ", "))
		}
		writeList(&b, "Headlines", g.Headlines)
		writeList(&b, "Descriptions", g.Descriptions)
	}
	return b.String()
}

func writeList(b *strings.Builder, title string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s\n\n", title)
	for _, v := range values {
		fmt.Fprintf(b, "- %s\n", v)
	}
}

func escapeTableCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// renderHTML converts the markdown report into a standalone HTML page.
func renderHTML(markdown string, out RunOutput) (string, error) {
	// The page header already carries the title.
	body, _ := strings.CutPrefix(markdown, "# "+reportTitle+"\n")

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Table,
			extension.Linkify,
			extension.Strikethrough,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	var buf bytes.Buffer
	if err := md.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown to HTML: %w", err)
	}

	tmpl, err := template.New("report").Parse(reportTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML template: %w", err)
	}

	data := struct {
		Title string
		Date  string
		RunID string
		Body  template.HTML
		CSS   template.CSS
	}{
		Title: reportTitle,
		Date:  out.GeneratedAt.Format("2 January 2006"),
		RunID: out.RunID,
		Body:  template.HTML(buf.String()),
		CSS:   template.CSS(reportCSS),
	}

	var result bytes.Buffer
	if err := tmpl.Execute(&result, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return result.String(), nil
}
