package keycluster

import (
	"context"
	"fmt"

	"github.com/austinfhunter/voyageai"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
)

// Embedder turns texts into vectors. The result must be order-aligned with texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// embedTexts sends texts to the embedder in chunks of batchSize and concatenates the
// results in order. Any failure or misaligned response aborts with *EmbeddingServiceError.
func embedTexts(ctx context.Context, embedder Embedder, texts []string, batchSize int) ([][]float64, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	vectors := make([][]float64, 0, len(texts))
	for batch, start := 0, 0; start < len(texts); batch, start = batch+1, start+batchSize {
		end := min(start+batchSize, len(texts))
		chunk := texts[start:end]
		result, err := embedder.Embed(ctx, chunk)
		if err != nil {
			return nil, &EmbeddingServiceError{Batch: batch, Err: err}
		}
		if len(result) != len(chunk) {
			return nil, &EmbeddingServiceError{
				Batch: batch,
				Err:   fmt.Errorf("got %d embeddings for %d texts", len(result), len(chunk)),
			}
		}
		for i, v := range result {
			if len(v) == 0 {
				return nil, &EmbeddingServiceError{Batch: batch, Err: fmt.Errorf("empty embedding for text %d", start+i)}
			}
		}
		vectors = append(vectors, result...)
	}
	return vectors, nil
}

// NewOpenAIClient builds an OpenAI client from config, pointing at Azure when an
// Azure endpoint is configured.
func NewOpenAIClient(cfg OpenAIConfig, opts ...option.RequestOption) openai.Client {
	var base []option.RequestOption
	if cfg.AzureEndpoint != "" {
		base = append(base,
			azure.WithEndpoint(cfg.AzureEndpoint, cfg.AzureAPIVersion),
			azure.WithAPIKey(cfg.AzureAPIKey),
		)
	} else {
		base = append(base, option.WithAPIKey(cfg.APIKey))
		if cfg.BaseURL != "" {
			base = append(base, option.WithBaseURL(cfg.BaseURL))
		}
	}
	base = append(base, option.WithMaxRetries(cfg.MaxRetries))
	return openai.NewClient(append(base, opts...)...)
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

func NewOpenAIEmbedder(client *openai.Client, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, model: model}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call OpenAI API: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data in response")
	}

	// The API reports an index per item; place by index to keep alignment.
	vectors := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// VoyageEmbedder calls the VoyageAI embeddings API.
type VoyageEmbedder struct {
	client *voyageai.VoyageClient
	model  string
}

const defaultVoyageModel = "voyage-3.5-lite"

func NewVoyageEmbedder(apiKey, model string) *VoyageEmbedder {
	if model == "" {
		model = defaultVoyageModel
	}
	return &VoyageEmbedder{
		client: voyageai.NewClient(&voyageai.VoyageClientOpts{Key: apiKey}),
		model:  model,
	}
}

func (e *VoyageEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inputType := "document"
	resp, err := e.client.Embed(texts, e.model, &voyageai.EmbeddingRequestOpts{
		InputType: &inputType,
	})
	if err != nil {
		return nil, fmt.Errorf("could not get embeddings: %w", err)
	}
	vectors := make([][]float64, len(resp.Data))
	for i, obj := range resp.Data {
		v := make([]float64, len(obj.Embedding))
		for j, x := range obj.Embedding {
			v[j] = float64(x)
		}
		vectors[i] = v
	}
	return vectors, nil
}

// NewEmbedder picks the provider named in cfg and wraps it with the sqlite cache
// when a cache path is configured. The returned close func releases the cache.
func NewEmbedder(cfg *Config, client *openai.Client) (Embedder, func() error, error) {
	var embedder Embedder
	switch cfg.Embedding.Provider {
	case "openai":
		embedder = NewOpenAIEmbedder(client, cfg.Clustering.EmbeddingModel)
	case "voyage":
		if cfg.Voyage.APIKey == "" {
			return nil, nil, fmt.Errorf("VOYAGE_API_KEY is required for the voyage provider")
		}
		embedder = NewVoyageEmbedder(cfg.Voyage.APIKey, cfg.Voyage.Model)
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}

	if cfg.Embedding.CachePath == "" {
		return embedder, func() error { return nil }, nil
	}
	cache, err := OpenEmbeddingCache(cfg.Embedding.CachePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	model := cfg.Embedding.Provider + "/" + cfg.Clustering.EmbeddingModel
	if cfg.Embedding.Provider == "voyage" {
		model = "voyage/" + embedder.(*VoyageEmbedder).model
	}
	return NewCachedEmbedder(embedder, cache, model), cache.Close, nil
}
