package keycluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const adGroupsFile = "ad_groups.json"

// RunOutput is what generate-ad-groups writes and generate-report reads.
type RunOutput struct {
	RunID       string           `json:"run_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Clusters    int              `json:"clusters"`
	TotalTokens int              `json:"total_tokens"`
	Results     []map[string]any `json:"results"`
}

var GenerateAdGroupsCmd = &cobra.Command{
	Use:   "generate-ad-groups [clusters-file]",
	Short: "Generate ad groups for every keyword cluster",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := clustersFile
		if len(args) > 0 {
			input = args[0]
		}

		records, err := ReadRecords(input)
		if err != nil {
			return err
		}
		log.Printf("Loaded %d records from %s", len(records), input)

		cfg := Current
		client := NewOpenAIClient(cfg.OpenAI)
		embedder, closeEmbedder, err := NewEmbedder(cfg, &client)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeEmbedder(); err != nil {
				log.Printf("Failed to close embedding cache: %v", err)
			}
		}()

		formatter, err := LoadFormatter(cfg.Run.PromptTemplate, cfg.Run.ResponseFormat)
		if err != nil {
			return err
		}
		pipeline := NewPipeline(
			NewEngine(cfg.Clustering, embedder),
			NewBatchExecutor(NewOpenAICompleter(&client, cfg.OpenAI), formatter, cfg.Run),
			cfg.Run,
		)

		out, err := pipeline.Execute(commandContext(cmd), records, cfg.Run.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to generate ad groups: %w", err)
		}
		if err := writeJSON(adGroupsFile, out); err != nil {
			return err
		}
		log.Printf("Generated %d results using %d tokens: %s", len(out.Results), out.TotalTokens, adGroupsFile)
		return nil
	},
}

// Pipeline clusters input records and generates structured output per cluster.
type Pipeline struct {
	Engine       *Engine
	Orchestrator *Orchestrator
	TextField    string
}

func NewPipeline(engine *Engine, runner ClusterRunner, cfg RunConfig) *Pipeline {
	return &Pipeline{
		Engine: engine,
		Orchestrator: &Orchestrator{
			Runner:                runner,
			MaxConcurrentClusters: cfg.MaxConcurrentClusters,
		},
		TextField: cfg.TextField,
	}
}

// Clusters builds the cluster map for records. Records that all carry a
// cluster label are grouped as they are; otherwise the engine clusters them.
func (p *Pipeline) Clusters(ctx context.Context, records []map[string]any) (ClusterMap, error) {
	items, err := ItemsFromRecords(records, p.TextField)
	if err != nil {
		return ClusterMap{}, err
	}

	if labeled, ok := presetLabels(items); ok {
		log.Printf("Using existing cluster labels for %d items", len(items))
		return NewClusterMap(labeled), nil
	}

	if p.Engine == nil {
		return ClusterMap{}, fmt.Errorf("records are not labeled and no clustering engine is configured")
	}
	labeled, _, err := p.Engine.Cluster(ctx, items)
	if err != nil {
		return ClusterMap{}, err
	}
	return NewClusterMap(labeled), nil
}

// Run clusters records and runs every cluster through the orchestrator. It
// returns the structured results and the tokens used. Only clustering errors
// are returned; failed batches and clusters are logged and skipped.
func (p *Pipeline) Run(ctx context.Context, records []map[string]any, batchSize int) ([]map[string]any, int, error) {
	out, err := p.Execute(ctx, records, batchSize)
	if err != nil {
		return nil, 0, err
	}
	return out.Results, out.TotalTokens, nil
}

// Execute is Run with run metadata attached.
func (p *Pipeline) Execute(ctx context.Context, records []map[string]any, batchSize int) (RunOutput, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	runID := uuid.NewString()
	start := time.Now()
	log.Printf("Run %s: %d records, batch size %d", runID, len(records), batchSize)

	clusters, err := p.Clusters(ctx, records)
	if err != nil {
		return RunOutput{}, err
	}

	results, tokens := p.Orchestrator.Run(ctx, clusters, batchSize)
	log.Printf("Run %s finished in %s: %d clusters, %d results, %d tokens",
		runID, time.Since(start).Round(time.Millisecond), clusters.Len(), len(results), tokens)

	return RunOutput{
		RunID:       runID,
		GeneratedAt: start.UTC(),
		Clusters:    clusters.Len(),
		TotalTokens: tokens,
		Results:     results,
	}, nil
}

// presetLabels returns the items labeled from their "cluster" field when every
// record has an integer one.
func presetLabels(items []Item) ([]LabeledItem, bool) {
	if len(items) == 0 {
		return nil, false
	}
	labeled := make([]LabeledItem, len(items))
	for i, item := range items {
		label, ok := clusterLabel(item.Record[ClusterField])
		if !ok {
			return nil, false
		}
		labeled[i] = LabeledItem{Item: item, Cluster: label}
	}
	return labeled, true
}

func clusterLabel(v any) (int, bool) {
	switch l := v.(type) {
	case int:
		return l, true
	case float64:
		if l == float64(int(l)) {
			return int(l), true
		}
	case json.Number:
		n, err := l.Int64()
		return int(n), err == nil
	case string:
		if n, err := strconv.Atoi(l); err == nil {
			return n, true
		}
	}
	return 0, false
}

// readRunOutput loads a file written by generate-ad-groups.
func readRunOutput(path string) (RunOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunOutput{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var out RunOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return RunOutput{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return out, nil
}
