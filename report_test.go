package keycluster

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func testRunOutput() RunOutput {
	return RunOutput{
		RunID:       "run-1",
		GeneratedAt: time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
		Clusters:    2,
		TotalTokens: 1500,
		Results: []map[string]any{
			{"ad_groups": []any{
				map[string]any{
					"ad_group":     "Espresso Machines",
					"keywords":     []any{"espresso machine", "home espresso maker"},
					"headlines":    []any{"Barista Quality At Home"},
					"descriptions": []any{"Shop espresso machines with free shipping."},
				},
			}},
			{"items": []any{
				map[string]any{"ad_group": "Yoga Mats | Thick", "keywords": []any{"thick yoga mat"}},
			}},
			{"unrelated": true},
		},
	}
}

func TestAdGroupsFromResults(t *testing.T) {
	groups := adGroupsFromResults(testRunOutput().Results)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	want := AdGroup{
		Name:         "Espresso Machines",
		Keywords:     []string{"espresso machine", "home espresso maker"},
		Headlines:    []string{"Barista Quality At Home"},
		Descriptions: []string{"Shop espresso machines with free shipping."},
	}
	if !reflect.DeepEqual(groups[0], want) {
		t.Errorf("groups[0] = %+v, want %+v", groups[0], want)
	}
	if groups[1].Name != "Yoga Mats | Thick" {
		t.Errorf("groups[1] = %+v", groups[1])
	}
}

func TestRenderMarkdown(t *testing.T) {
	out := testRunOutput()
	md := renderMarkdown(out, adGroupsFromResults(out.Results))

	for _, want := range []string{
		"# Ad Group Report\n",
		"2 ad groups from 2 keyword clusters, 1500 tokens used.",
		"| Yoga Mats \\| Thick | 1 | 0 | 0 |",
		"## Espresso Machines",
		"**Keywords:** espresso machine, home espresso maker",
		"### Headlines\n\n- Barista Quality At Home",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestRenderHTML(t *testing.T) {
	out := testRunOutput()
	page, err := renderHTML(renderMarkdown(out, adGroupsFromResults(out.Results)), out)
	if err != nil {
		t.Fatalf("renderHTML() error = %v", err)
	}
	for _, want := range []string{
		"<title>Ad Group Report</title>",
		"4 March 2025",
		"run-1",
		"<table>",
		`<h2 id="espresso-machines">Espresso Machines</h2>`,
		"font-family",
	} {
		if !strings.Contains(page, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Count(page, "<h1>") != 1 {
		t.Errorf("expected exactly one <h1>")
	}
}

func TestGenerateReportCmd(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	if err := writeJSON(adGroupsFile, testRunOutput()); err != nil {
		t.Fatal(err)
	}
	if err := GenerateReportCmd.RunE(GenerateReportCmd, nil); err != nil {
		t.Fatalf("generate-report error = %v", err)
	}
	for _, name := range []string{"report.md", "report.html"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
}
