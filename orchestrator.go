package keycluster

import (
	"context"
	"log"
	"slices"

	"golang.org/x/sync/errgroup"
)

// ClusterMap maps cluster labels to their items in input order.
// It is not modified after NewClusterMap returns.
type ClusterMap struct {
	labels []int
	items  map[int][]Item
}

func NewClusterMap(labeled []LabeledItem) ClusterMap {
	m := ClusterMap{items: make(map[int][]Item)}
	for _, li := range labeled {
		if _, ok := m.items[li.Cluster]; !ok {
			m.labels = append(m.labels, li.Cluster)
		}
		m.items[li.Cluster] = append(m.items[li.Cluster], li.Item)
	}
	slices.Sort(m.labels)
	return m
}

// Labels returns the cluster labels in ascending order.
func (m ClusterMap) Labels() []int {
	return slices.Clone(m.labels)
}

func (m ClusterMap) Items(label int) []Item {
	return m.items[label]
}

// Len returns the number of clusters.
func (m ClusterMap) Len() int {
	return len(m.labels)
}

// ClusterRunner runs every batch of one cluster.
type ClusterRunner interface {
	RunCluster(ctx context.Context, label int, items []Item, batchSize int) ([]map[string]any, int)
}

// Orchestrator runs all clusters concurrently and merges their results.
type Orchestrator struct {
	Runner                ClusterRunner
	MaxConcurrentClusters int
}

type clusterOutcome struct {
	results []map[string]any
	tokens  int
}

// Run waits for every cluster and returns the flattened results, ordered by
// ascending label, with the total tokens. A cluster that panics is logged and
// contributes nothing.
func (o *Orchestrator) Run(ctx context.Context, clusters ClusterMap, batchSize int) ([]map[string]any, int) {
	labels := clusters.Labels()
	outcomes := make([]clusterOutcome, len(labels))

	var g errgroup.Group
	if o.MaxConcurrentClusters > 0 {
		g.SetLimit(o.MaxConcurrentClusters)
	}
	for i, label := range labels {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Cluster %d failed: %v", label, r)
					outcomes[i] = clusterOutcome{}
				}
			}()
			results, tokens := o.Runner.RunCluster(ctx, label, clusters.Items(label), batchSize)
			outcomes[i] = clusterOutcome{results: results, tokens: tokens}
			return nil
		})
	}
	_ = g.Wait()

	var final []map[string]any
	total := 0
	for _, out := range outcomes {
		final = append(final, out.results...)
		total += out.tokens
	}
	log.Printf("Processed %d clusters: %d results, %d tokens", len(labels), len(final), total)
	return final, total
}
