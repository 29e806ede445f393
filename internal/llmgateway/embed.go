package llmgateway

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/raphaelgruber/memcp-go/internal/config"
	"github.com/raphaelgruber/memcp-go/internal/metrics"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Embedder produces vector embeddings for the cohesion reviewer's
// glossary/style-guide similarity checks.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OllamaEmbedder wraps langchaingo's embeddings.EmbedderClient against a
// local Ollama server.
type OllamaEmbedder struct {
	embedder  embeddings.Embedder
	collector *metrics.Collector
}

// NewOllamaEmbedder builds an Embedder from cfg.
func NewOllamaEmbedder(cfg config.Config, collector *metrics.Collector) (*OllamaEmbedder, error) {
	llm, err := ollama.New(
		ollama.WithModel(cfg.EmbeddingModel),
		ollama.WithServerURL(cfg.OllamaHost),
	)
	if err != nil {
		return nil, fmt.Errorf("llmgateway: create ollama embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("llmgateway: create embedder: %w", err)
	}
	return &OllamaEmbedder{embedder: embedder, collector: collector}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, wrapFatalError(err)
	}
	if e.collector != nil {
		e.collector.RecordTiming(metrics.OpEmbedding, time.Since(start))
	}
	return vectors, nil
}

// CosineSimilarity returns the cosine similarity of a and b, in [-1, 1].
// Used by the cohesion review flavor to flag sections whose declared facts
// or glossary usage has drifted from the plan's style guide embedding.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ Embedder = (*OllamaEmbedder)(nil)
