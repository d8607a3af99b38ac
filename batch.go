package keycluster

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// Partition splits items into consecutive chunks of at most size items.
// A non-positive size yields a single chunk.
func Partition(items []Item, size int) [][]Item {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}
	batches := make([][]Item, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end:end])
	}
	return batches
}

// BatchExecutor runs the batches of one cluster against the completion service.
//
// Batch sizes above SequentialThreshold run one after another and every request
// sees the titles produced by the batches before it. Smaller batch sizes run
// concurrently and every request is formatted from the context as it was when
// the batches were dispatched, which is the empty initial context.
type BatchExecutor struct {
	Completer            Completer
	Formatter            *Formatter
	ExtractTitles        TitleExtractor
	SequentialThreshold  int
	MaxConcurrentBatches int
	RequestTimeout       time.Duration
}

// NewBatchExecutor builds an executor from the run config.
func NewBatchExecutor(completer Completer, formatter *Formatter, cfg RunConfig) *BatchExecutor {
	return &BatchExecutor{
		Completer:            completer,
		Formatter:            formatter,
		ExtractTitles:        ExtractAdGroupTitles,
		SequentialThreshold:  cfg.SequentialThreshold,
		MaxConcurrentBatches: cfg.MaxConcurrentBatches,
		RequestTimeout:       cfg.RequestTimeout,
	}
}

type batchOutcome struct {
	result StructuredResult
	tokens int
	titles []string
}

// Sequential reports whether batches of the given size run one after another.
func (e *BatchExecutor) Sequential(batchSize int) bool {
	threshold := e.SequentialThreshold
	if threshold <= 0 {
		threshold = 100
	}
	return batchSize > threshold
}

// RunCluster runs every batch of a cluster and returns the parsed results in
// batch order with the tokens used. Failed batches are logged and omitted.
func (e *BatchExecutor) RunCluster(ctx context.Context, label int, items []Item, batchSize int) ([]map[string]any, int) {
	batches := Partition(items, batchSize)
	outcomes := make([]batchOutcome, len(batches))

	var ec ExecutionContext
	if e.Sequential(batchSize) {
		log.Printf("Cluster %d: running %d batches sequentially", label, len(batches))
		for i, batch := range batches {
			outcomes[i] = e.runBatch(ctx, label, i, ec.Snapshot(), batch)
			ec.Append(outcomes[i].titles...)
		}
	} else {
		log.Printf("Cluster %d: running %d batches concurrently", label, len(batches))
		snapshot := ec.Snapshot()
		var g errgroup.Group
		if e.MaxConcurrentBatches > 0 {
			g.SetLimit(e.MaxConcurrentBatches)
		}
		for i, batch := range batches {
			g.Go(func() error {
				outcomes[i] = e.runBatch(ctx, label, i, snapshot, batch)
				return nil
			})
		}
		_ = g.Wait()
		for _, o := range outcomes {
			ec.Append(o.titles...)
		}
	}

	var results []map[string]any
	tokens := 0
	for _, o := range outcomes {
		tokens += o.tokens
		if o.result.Kind == ResultParsed {
			results = append(results, o.result.Parsed)
		}
	}
	log.Printf("Cluster %d: %d/%d batches succeeded, %d tokens, %d titles", label, len(results), len(batches), tokens, len(ec.Titles))
	return results, tokens
}

func (e *BatchExecutor) runBatch(ctx context.Context, label, index int, ec ExecutionContext, batch []Item) (out batchOutcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Cluster %d batch %d panicked: %v", label, index, r)
			out = batchOutcome{result: Failed(fmt.Errorf("panic: %v", r)), tokens: out.tokens}
		}
	}()

	req, err := e.Formatter.Format(label, ec, batch)
	if err != nil {
		log.Printf("Cluster %d batch %d: %v", label, index, err)
		return batchOutcome{result: Failed(err)}
	}

	reqCtx := ctx
	if e.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, e.RequestTimeout)
		defer cancel()
	}

	completion, err := e.Completer.Complete(reqCtx, req)
	if err != nil {
		log.Printf("Cluster %d batch %d failed: %v", label, index, err)
		return batchOutcome{result: Failed(err)}
	}
	out.tokens = completion.TotalTokens

	out.result = ParseCompletion(completion.Content).Resolve()
	if out.result.Kind != ResultParsed {
		log.Printf("Dropping cluster %d batch %d: %v", label, index, out.result.Err)
		return out
	}
	if e.ExtractTitles != nil {
		out.titles = e.ExtractTitles(out.result.Parsed)
	}
	return out
}
