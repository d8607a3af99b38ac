package keycluster

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// EmbeddingCache stores embeddings in sqlite keyed by model and text.
type EmbeddingCache struct {
	db *sql.DB
}

// OpenEmbeddingCache opens (or creates) the cache database at path.
func OpenEmbeddingCache(path string) (*EmbeddingCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS embeddings (
		model TEXT NOT NULL,
		text TEXT NOT NULL,
		embedding_json TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (model, text)
	);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		if err := db.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
		return nil, err
	}

	return &EmbeddingCache{db: db}, nil
}

func (c *EmbeddingCache) Close() error {
	return c.db.Close()
}

// Get returns the cached embedding for text, or nil when there is none.
func (c *EmbeddingCache) Get(ctx context.Context, model, text string) ([]float64, error) {
	var embeddingJSON string
	err := c.db.QueryRowContext(ctx,
		"SELECT embedding_json FROM embeddings WHERE model = ? AND text = ?", model, text,
	).Scan(&embeddingJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var embedding []float64
	if err := json.Unmarshal([]byte(embeddingJSON), &embedding); err != nil {
		return nil, fmt.Errorf("failed to parse cached embedding: %w", err)
	}
	return embedding, nil
}

// Put stores an embedding, replacing any previous value.
func (c *EmbeddingCache) Put(ctx context.Context, model, text string, embedding []float64) error {
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	insertSQL := `
	INSERT OR REPLACE INTO embeddings (model, text, embedding_json)
	VALUES (?, ?, ?)
	`

	if _, err := c.db.ExecContext(ctx, insertSQL, model, text, string(embeddingJSON)); err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}
	return nil
}

// CachedEmbedder serves embeddings from the cache and only sends misses to the
// wrapped embedder. Cache failures are logged and treated as misses.
type CachedEmbedder struct {
	next  Embedder
	cache *EmbeddingCache
	model string
}

func NewCachedEmbedder(next Embedder, cache *EmbeddingCache, model string) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, model: model}
}

func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		v, err := e.cache.Get(ctx, e.model, text)
		if err != nil {
			log.Printf("Embedding cache lookup failed for %q: %v", text, err)
		}
		if v == nil {
			missTexts = append(missTexts, text)
			missIdx = append(missIdx, i)
			continue
		}
		vectors[i] = v
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	fresh, err := e.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(fresh), len(missTexts))
	}
	for j, i := range missIdx {
		vectors[i] = fresh[j]
		if err := e.cache.Put(ctx, e.model, missTexts[j], fresh[j]); err != nil {
			log.Printf("Failed to cache embedding for %q: %v", missTexts[j], err)
		}
	}
	return vectors, nil
}
