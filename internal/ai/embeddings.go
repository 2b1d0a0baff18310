package ai

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

// EmbeddingClient turns text into dense vectors. Implementations must be
// safe for concurrent use.
type EmbeddingClient interface {
	// EmbedBatch embeds texts in order; result[i] corresponds to texts[i].
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is the fixed length of every vector this client produces.
	Dimensions() int
}

// GeminiEmbedder produces embeddings through the Google Generative AI
// batch API (text-embedding-004 by default).
type GeminiEmbedder struct {
	client      *genai.Client
	model       string
	dims        int
	rateLimiter *rate.Limiter
}

func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dims int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	return &GeminiEmbedder{
		client: client,
		model:  model,
		dims:   dims,
		// Free tier allows ~100 embedding requests per minute; stay under it.
		rateLimiter: rate.NewLimiter(rate.Limit(1.5), 3),
	}, nil
}

func (ge *GeminiEmbedder) Dimensions() int {
	return ge.dims
}

func (ge *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := ge.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	em := ge.client.EmbeddingModel(ge.model)
	batch := em.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding batch returned %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("no embedding returned for batch item %d", i)
		}
		if ge.dims > 0 && len(emb.Values) != ge.dims {
			return nil, fmt.Errorf("embedding dimension %d does not match configured %d", len(emb.Values), ge.dims)
		}
		vectors[i] = emb.Values
	}

	return vectors, nil
}

func (ge *GeminiEmbedder) Close() error {
	if ge.client != nil {
		return ge.client.Close()
	}
	return nil
}
