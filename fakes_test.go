package keycluster

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"sync"
)

// FakeEmbedder is an Embedder for tests.
type FakeEmbedder struct {
	EmbedFunc func(ctx context.Context, texts []string) ([][]float64, error)

	mu        sync.Mutex
	CallCount int
	Batches   [][]string
}

func (f *FakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	f.mu.Lock()
	f.CallCount++
	f.Batches = append(f.Batches, append([]string(nil), texts...))
	f.mu.Unlock()

	if f.EmbedFunc != nil {
		return f.EmbedFunc(ctx, texts)
	}
	return groupedVectors(texts), nil
}

// FakeCompleter is a Completer for tests.
type FakeCompleter struct {
	CompleteFunc func(ctx context.Context, req Request) (Completion, error)

	mu        sync.Mutex
	CallCount int
	Requests  []Request
}

func (f *FakeCompleter) Complete(ctx context.Context, req Request) (Completion, error) {
	f.mu.Lock()
	f.CallCount++
	f.Requests = append(f.Requests, req)
	f.mu.Unlock()

	if f.CompleteFunc != nil {
		return f.CompleteFunc(ctx, req)
	}
	return Completion{Content: `{"ad_groups": []}`, TotalTokens: 1}, nil
}

func (f *FakeCompleter) requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.Requests...)
}

// keywordGroups are the semantic groups groupedVectors knows about. A text
// belongs to the first group whose prefix it starts with.
var keywordGroups = []string{"running shoes", "espresso", "yoga mat", "dog food"}

const groupedDimensions = 16

// groupedVectors returns one vector per text: a unit axis for the text's group
// plus small noise derived from the text itself.
func groupedVectors(texts []string) [][]float64 {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		group := len(keywordGroups)
		for g, prefix := range keywordGroups {
			if strings.HasPrefix(text, prefix) {
				group = g
				break
			}
		}
		h := fnv.New64a()
		h.Write([]byte(text))
		seed := h.Sum64()
		rng := rand.New(rand.NewPCG(seed, seed))

		v := make([]float64, groupedDimensions)
		v[(group*3)%groupedDimensions] = 1
		for d := range v {
			v[d] += rng.NormFloat64() * 0.01
		}
		vectors[i] = v
	}
	return vectors
}

// keywordItems returns n items per group, named "<group> <i>".
func keywordItems(groups []string, n int) []Item {
	var items []Item
	for _, g := range groups {
		for i := range n {
			text := fmt.Sprintf("%s %d", g, i)
			items = append(items, Item{Text: text, Record: map[string]any{"keyword": text}})
		}
	}
	return items
}

func keywordRecords(groups []string, n int) []map[string]any {
	items := keywordItems(groups, n)
	records := make([]map[string]any, len(items))
	for i, item := range items {
		records[i] = item.Record
	}
	return records
}

// numberedItems returns n items named "kw-<i>".
func numberedItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		text := fmt.Sprintf("kw-%d", i)
		items[i] = Item{Text: text, Record: map[string]any{"keyword": text}}
	}
	return items
}

func testFormatter() *Formatter {
	f, err := NewFormatter("", ResponseFormatJSONObject)
	if err != nil {
		panic(err)
	}
	return f
}
