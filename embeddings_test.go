package keycluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
)

func TestEmbedTextsBatches(t *testing.T) {
	texts := make([]string, 250)
	for i := range texts {
		texts[i] = fmt.Sprintf("kw-%d", i)
	}
	embedder := &FakeEmbedder{
		EmbedFunc: func(ctx context.Context, texts []string) ([][]float64, error) {
			vectors := make([][]float64, len(texts))
			for i, text := range texts {
				n, _ := strconv.Atoi(strings.TrimPrefix(text, "kw-"))
				vectors[i] = []float64{float64(n)}
			}
			return vectors, nil
		},
	}

	vectors, err := embedTexts(context.Background(), embedder, texts, 100)
	if err != nil {
		t.Fatalf("embedTexts() error = %v", err)
	}
	if embedder.CallCount != 3 {
		t.Errorf("embedder called %d times, want 3", embedder.CallCount)
	}
	var sizes []int
	for _, b := range embedder.Batches {
		sizes = append(sizes, len(b))
	}
	if want := []int{100, 100, 50}; !reflect.DeepEqual(sizes, want) {
		t.Errorf("batch sizes = %v, want %v", sizes, want)
	}
	if len(vectors) != 250 {
		t.Fatalf("got %d vectors, want 250", len(vectors))
	}
	for i, v := range vectors {
		if v[0] != float64(i) {
			t.Fatalf("vector %d = %v, not aligned with its text", i, v)
		}
	}
}

func TestEmbedTextsErrors(t *testing.T) {
	texts := make([]string, 150)
	for i := range texts {
		texts[i] = fmt.Sprintf("kw-%d", i)
	}
	tests := []struct {
		name  string
		embed func(ctx context.Context, texts []string) ([][]float64, error)
	}{
		{
			name: "service error",
			embed: func(ctx context.Context, texts []string) ([][]float64, error) {
				if texts[0] == "kw-100" {
					return nil, errors.New("status 503")
				}
				return groupedVectors(texts), nil
			},
		},
		{
			name: "short response",
			embed: func(ctx context.Context, texts []string) ([][]float64, error) {
				vectors := groupedVectors(texts)
				if texts[0] == "kw-100" {
					return vectors[1:], nil
				}
				return vectors, nil
			},
		},
		{
			name: "empty vector",
			embed: func(ctx context.Context, texts []string) ([][]float64, error) {
				vectors := groupedVectors(texts)
				if texts[0] == "kw-100" {
					vectors[3] = nil
				}
				return vectors, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := embedTexts(context.Background(), &FakeEmbedder{EmbedFunc: tt.embed}, texts, 100)
			var embErr *EmbeddingServiceError
			if !errors.As(err, &embErr) {
				t.Fatalf("err = %v, want EmbeddingServiceError", err)
			}
			if embErr.Batch != 1 {
				t.Errorf("failed batch = %d, want 1", embErr.Batch)
			}
		})
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/embeddings" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if body.Model != "text-embedding-3-small" {
			t.Errorf("model = %q", body.Model)
		}
		if !reflect.DeepEqual(body.Input, []string{"a", "b"}) {
			t.Errorf("input = %v", body.Input)
		}

		// Out of order on purpose.
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0.3, 0.4]},
				{"object": "embedding", "index": 0, "embedding": [0.1, 0.2]}
			],
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`)
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/"})
	embedder := NewOpenAIEmbedder(&client, "text-embedding-3-small")

	vectors, err := embedder.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	want := [][]float64{{0.1, 0.2}, {0.3, 0.4}}
	if !reflect.DeepEqual(vectors, want) {
		t.Errorf("vectors = %v, want %v", vectors, want)
	}
}

func TestOpenAIEmbedderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "bad input", "type": "invalid_request_error"}}`)
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/"})
	_, err := embedTexts(context.Background(), NewOpenAIEmbedder(&client, "m"), []string{"a"}, 100)

	var embErr *EmbeddingServiceError
	if !errors.As(err, &embErr) {
		t.Fatalf("err = %v, want EmbeddingServiceError", err)
	}
}

func TestNewEmbedder(t *testing.T) {
	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key"})

	cfg := DefaultConfig()
	embedder, closeFn, err := NewEmbedder(cfg, &client)
	if err != nil {
		t.Fatalf("NewEmbedder() error = %v", err)
	}
	if _, ok := embedder.(*OpenAIEmbedder); !ok {
		t.Errorf("embedder is %T, want *OpenAIEmbedder", embedder)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close error = %v", err)
	}

	cfg = DefaultConfig()
	cfg.Embedding.CachePath = filepath.Join(t.TempDir(), "cache.db")
	embedder, closeFn, err = NewEmbedder(cfg, &client)
	if err != nil {
		t.Fatalf("NewEmbedder() with cache error = %v", err)
	}
	cached, ok := embedder.(*CachedEmbedder)
	if !ok {
		t.Fatalf("embedder is %T, want *CachedEmbedder", embedder)
	}
	if cached.model != "openai/text-embedding-3-small" {
		t.Errorf("cache model key = %q", cached.model)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close error = %v", err)
	}

	cfg = DefaultConfig()
	cfg.Embedding.Provider = "voyage"
	if _, _, err := NewEmbedder(cfg, &client); err == nil {
		t.Error("voyage without API key should fail")
	}
	cfg.Voyage.APIKey = "voyage-key"
	embedder, _, err = NewEmbedder(cfg, &client)
	if err != nil {
		t.Fatalf("NewEmbedder(voyage) error = %v", err)
	}
	if v, ok := embedder.(*VoyageEmbedder); !ok || v.model != defaultVoyageModel {
		t.Errorf("embedder = %#v, want VoyageEmbedder with default model", embedder)
	}

	cfg.Embedding.Provider = "cohere"
	if _, _, err := NewEmbedder(cfg, &client); err == nil {
		t.Error("unknown provider should fail")
	}
}
