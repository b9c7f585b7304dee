// Package embed provides the embedding-service client used by the
// Clusterer and Categorizer's semantic phase.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/dwahbe/climate-river/internal/resilience/circuitbreaker"
	"github.com/dwahbe/climate-river/internal/resilience/retry"
)

// Embedder produces a fixed-length embedding vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAI implements Embedder using OpenAI's embeddings API, wrapped with
// the same circuit-breaker/retry pattern the teacher applies to its chat
// completion adapters.
type OpenAI struct {
	client         *openai.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	model          openai.EmbeddingModel
}

// NewOpenAI creates an embedding client for the given API key and model id.
// model defaults to text-embedding-3-small (1536 dimensions, matching the
// articles.embedding column width).
func NewOpenAI(apiKey string, model openai.EmbeddingModel) *OpenAI {
	if model == "" {
		model = openai.SmallEmbedding3
	}
	return &OpenAI{
		client:         openai.NewClient(apiKey),
		circuitBreaker: circuitbreaker.New(circuitbreaker.OpenAIAPIConfig()),
		retryConfig:    retry.AIAPIConfig(),
		model:          model,
	}
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var result []float32
	retryErr := retry.WithBackoff(ctx, o.retryConfig, func() error {
		cbResult, err := o.circuitBreaker.Execute(func() (interface{}, error) {
			return o.doEmbed(ctx, text)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				slog.Warn("embedding circuit breaker open, request rejected",
					slog.String("service", "openai-embeddings"),
					slog.String("state", o.circuitBreaker.State().String()))
				return fmt.Errorf("embedding service unavailable: circuit breaker open")
			}
			return err
		}
		result = cbResult.([]float32)
		return nil
	})
	if retryErr != nil {
		return nil, fmt.Errorf("embed failed after retries: %w", retryErr)
	}
	return result, nil
}

func (o *OpenAI) doEmbed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: o.model,
	})
	duration := time.Since(start)

	if err != nil {
		slog.ErrorContext(ctx, "embedding request failed",
			slog.Duration("duration", duration), slog.String("error", err.Error()))
		return nil, fmt.Errorf("openai embeddings error: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings returned empty response")
	}

	slog.InfoContext(ctx, "embedding request succeeded", slog.Duration("duration", duration))
	return resp.Data[0].Embedding, nil
}
