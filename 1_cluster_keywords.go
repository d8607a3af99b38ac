package keycluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

// MinClusteringItems is the smallest input a clustering run accepts.
const MinClusteringItems = 10

const (
	defaultKeywordsFile = "keywords.json"
	clustersFile        = "clusters.json"
)

var ClusterKeywordsCmd = &cobra.Command{
	Use:   "cluster-keywords [input-file]",
	Short: "Group keywords into semantic clusters",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := defaultKeywordsFile
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

		engine := NewEngine(cfg.Clustering, embedder)
		out, k, err := engine.ProcessClustering(commandContext(cmd), records, cfg.Run.TextField)
		if err != nil {
			return fmt.Errorf("failed to cluster keywords: %w", err)
		}

		if err := os.WriteFile(clustersFile, []byte(out), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", clustersFile, err)
		}
		log.Printf("Clustering complete: %d clusters written to %s", k, clustersFile)
		return nil
	},
}

// Engine turns texts into cluster labels: embed, reduce, select k, assign.
type Engine struct {
	Config   ClusteringConfig
	Embedder Embedder
	Reducer  Reducer
	Selector KSelector
}

// NewEngine returns an engine using UMAP reduction and silhouette k selection.
func NewEngine(cfg ClusteringConfig, embedder Embedder) *Engine {
	return &Engine{
		Config:   cfg,
		Embedder: embedder,
		Reducer:  NewUMAPReducer(cfg),
		Selector: SilhouetteSelector{Seed: cfg.RandomState, Restarts: cfg.KMeansRestarts},
	}
}

// Cluster labels every item and returns the labeled items in input order with
// the selected number of clusters.
func (e *Engine) Cluster(ctx context.Context, items []Item) ([]LabeledItem, int, error) {
	n := len(items)
	if n < MinClusteringItems {
		return nil, 0, &InsufficientDataError{Got: n, Need: MinClusteringItems}
	}

	minK, maxK := searchRange(n, e.Config)
	log.Printf("Clustering %d items, searching k in [%d, %d]", n, minK, maxK)

	texts := make([]string, n)
	for i, item := range items {
		texts[i] = item.Text
	}
	vectors, err := embedTexts(ctx, e.Embedder, texts, e.Config.EmbeddingBatchSize)
	if err != nil {
		return nil, 0, err
	}
	log.Printf("Generated %d embeddings", len(vectors))

	reduced, err := e.Reducer.Reduce(ctx, vectors)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to reduce embeddings: %w", err)
	}

	k := e.Selector.SelectK(reduced, minK, maxK)
	result := kMeans(reduced, k, e.Config.KMeansRestarts, e.Config.RandomState)

	labeled := make([]LabeledItem, n)
	for i, item := range items {
		labeled[i] = LabeledItem{Item: item, Cluster: result.Labels[i]}
	}
	logClusterSizes(result.Labels)
	return labeled, k, nil
}

// ProcessClustering clusters records on textField and returns them as a JSON
// array, each record extended with its cluster label, plus the selected k.
func (e *Engine) ProcessClustering(ctx context.Context, records []map[string]any, textField string) (string, int, error) {
	items, err := ItemsFromRecords(records, textField)
	if err != nil {
		return "", 0, err
	}
	labeled, k, err := e.Cluster(ctx, items)
	if err != nil {
		return "", 0, err
	}

	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(LabeledRecords(labeled)); err != nil {
		return "", 0, fmt.Errorf("failed to marshal labeled records: %w", err)
	}
	return buffer.String(), k, nil
}

func logClusterSizes(labels []int) {
	sizes := make(map[int]int)
	for _, l := range labels {
		sizes[l]++
	}
	keys := make([]int, 0, len(sizes))
	for l := range sizes {
		keys = append(keys, l)
	}
	slices.Sort(keys)
	for _, l := range keys {
		log.Printf("  cluster %d: %d items", l, sizes[l])
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
