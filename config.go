package keycluster

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sosodev/duration"
	"gopkg.in/yaml.v3"
)

// Config holds everything a run needs. It is built once in main and passed down;
// nothing below the command layer reads the environment.
type Config struct {
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Voyage     VoyageConfig     `yaml:"voyage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Run        RunConfig        `yaml:"run"`
}

// Current is the configuration the commands run with. main sets it before
// any command executes.
var Current = DefaultConfig()

// OpenAIConfig configures both the embedding and the completion client.
// When AzureEndpoint is set the client talks to an Azure OpenAI deployment.
type OpenAIConfig struct {
	APIKey          string  `yaml:"api_key"`
	BaseURL         string  `yaml:"base_url"`
	AzureEndpoint   string  `yaml:"azure_endpoint"`
	AzureAPIKey     string  `yaml:"azure_api_key"`
	AzureAPIVersion string  `yaml:"azure_api_version"`
	CompletionModel string  `yaml:"completion_model"`
	Temperature     float64 `yaml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens"`
	MaxRetries      int     `yaml:"max_retries"`
}

type VoyageConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// EmbeddingConfig selects the embedding provider and the optional sqlite cache.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // openai | voyage
	CachePath string `yaml:"cache_path"`
}

// ClusteringConfig drives one clustering run. MinClusters and MaxClusters are
// adjusted by searchRange before use.
type ClusteringConfig struct {
	MinClusters        int     `yaml:"min_clusters"`
	MaxClusters        int     `yaml:"max_clusters"`
	RandomState        uint64  `yaml:"random_state"`
	ReducedDimensions  int     `yaml:"reduced_dimensions"`
	NeighborCount      int     `yaml:"neighbor_count"`
	MinDistance        float64 `yaml:"min_distance"`
	EmbeddingModel     string  `yaml:"embedding_model"`
	EmbeddingBatchSize int     `yaml:"embedding_batch_size"`
	KMeansRestarts     int     `yaml:"kmeans_restarts"`
}

// RunConfig drives the batch pipeline.
type RunConfig struct {
	TextField             string        `yaml:"text_field"`
	BatchSize             int           `yaml:"batch_size"`
	SequentialThreshold   int           `yaml:"sequential_threshold"`
	MaxConcurrentClusters int           `yaml:"max_concurrent_clusters"`
	MaxConcurrentBatches  int           `yaml:"max_concurrent_batches"`
	RequestTimeout        time.Duration `yaml:"-"`
	RequestTimeoutRaw     string        `yaml:"request_timeout"`
	ResponseFormat        string        `yaml:"response_format"` // json_object | json_schema | text
	PromptTemplate        string        `yaml:"prompt_template"`
}

const (
	ResponseFormatJSONObject = "json_object"
	ResponseFormatJSONSchema = "json_schema"
	ResponseFormatText       = "text"
)

// DefaultClusteringConfig returns the settings used when nothing is configured.
func DefaultClusteringConfig() ClusteringConfig {
	return ClusteringConfig{
		MinClusters:        2,
		MaxClusters:        15,
		RandomState:        42,
		ReducedDimensions:  2,
		NeighborCount:      15,
		MinDistance:        0.1,
		EmbeddingModel:     "text-embedding-3-small",
		EmbeddingBatchSize: 100,
		KMeansRestarts:     10,
	}
}

// DefaultRunConfig returns the batch pipeline defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		TextField:           "keyword",
		BatchSize:           100,
		SequentialThreshold: 100,
		RequestTimeout:      2 * time.Minute,
		ResponseFormat:      ResponseFormatJSONObject,
	}
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyConfigDefaults(cfg)
	return cfg
}

// LoadConfig reads a YAML config file. A missing file yields defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}
	if cfg.Run.RequestTimeoutRaw != "" {
		d, err := parseDuration(cfg.Run.RequestTimeoutRaw)
		if err != nil {
			return nil, fmt.Errorf("invalid request_timeout: %w", err)
		}
		cfg.Run.RequestTimeout = d
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

// ApplyEnv overrides config values with environment variables that are set.
// getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	set(&c.OpenAI.AzureEndpoint, "AZURE_OPENAI_ENDPOINT")
	set(&c.OpenAI.AzureAPIKey, "AZURE_OPENAI_API_KEY")
	set(&c.OpenAI.AzureAPIVersion, "AZURE_OPENAI_API_VERSION")
	set(&c.OpenAI.CompletionModel, "COMPLETION_MODEL")
	set(&c.Voyage.APIKey, "VOYAGE_API_KEY")
	set(&c.Embedding.Provider, "EMBEDDING_PROVIDER")
	set(&c.Embedding.CachePath, "EMBEDDING_CACHE")
	set(&c.Clustering.EmbeddingModel, "EMBEDDING_MODEL")

	if v := getenv("REQUEST_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
		}
		c.Run.RequestTimeout = d
	}
	if v := getenv("RANDOM_STATE"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid RANDOM_STATE: %w", err)
		}
		c.Clustering.RandomState = seed
	}
	return nil
}

// parseDuration accepts Go durations ("90s") and ISO-8601 durations ("PT1M30S").
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	d, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", s, err)
	}
	return d.ToTimeDuration(), nil
}

func applyConfigDefaults(cfg *Config) {
	cd := DefaultClusteringConfig()
	c := &cfg.Clustering
	if c.MinClusters == 0 {
		c.MinClusters = cd.MinClusters
	}
	if c.MaxClusters == 0 {
		c.MaxClusters = cd.MaxClusters
	}
	if c.RandomState == 0 {
		c.RandomState = cd.RandomState
	}
	if c.ReducedDimensions == 0 {
		c.ReducedDimensions = cd.ReducedDimensions
	}
	if c.NeighborCount == 0 {
		c.NeighborCount = cd.NeighborCount
	}
	if c.MinDistance == 0 {
		c.MinDistance = cd.MinDistance
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = cd.EmbeddingModel
	}
	if c.EmbeddingBatchSize == 0 {
		c.EmbeddingBatchSize = cd.EmbeddingBatchSize
	}
	if c.KMeansRestarts == 0 {
		c.KMeansRestarts = cd.KMeansRestarts
	}

	rd := DefaultRunConfig()
	r := &cfg.Run
	if r.TextField == "" {
		r.TextField = rd.TextField
	}
	if r.BatchSize == 0 {
		r.BatchSize = rd.BatchSize
	}
	if r.SequentialThreshold == 0 {
		r.SequentialThreshold = rd.SequentialThreshold
	}
	if r.RequestTimeout == 0 {
		r.RequestTimeout = rd.RequestTimeout
	}
	if r.ResponseFormat == "" {
		r.ResponseFormat = rd.ResponseFormat
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.OpenAI.CompletionModel == "" {
		cfg.OpenAI.CompletionModel = "gpt-4.1"
	}
	if cfg.OpenAI.Temperature == 0 {
		cfg.OpenAI.Temperature = 0.3
	}
	if cfg.OpenAI.MaxTokens == 0 {
		cfg.OpenAI.MaxTokens = 4000
	}
	if cfg.OpenAI.MaxRetries == 0 {
		cfg.OpenAI.MaxRetries = 5
	}
	if cfg.OpenAI.AzureAPIVersion == "" {
		cfg.OpenAI.AzureAPIVersion = "2024-08-01-preview"
	}
}
