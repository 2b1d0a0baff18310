package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Krunal96369/thinkdocs/internal/ai"
	"github.com/Krunal96369/thinkdocs/internal/logger"
	"github.com/Krunal96369/thinkdocs/internal/telemetry"
)

// EmbeddingService batches chunk texts through the embedding client and
// retries transient provider failures with exponential backoff.
type EmbeddingService struct {
	client      ai.EmbeddingClient
	batchSize   int
	maxAttempts int
	backoffBase time.Duration
	metrics     *telemetry.Metrics
}

func NewEmbeddingService(client ai.EmbeddingClient, batchSize, maxAttempts int, backoffBase time.Duration, metrics *telemetry.Metrics) *EmbeddingService {
	if batchSize <= 0 {
		batchSize = 16
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	return &EmbeddingService{
		client:      client,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		metrics:     metrics,
	}
}

// Dimensions reports the vector length of the underlying client.
func (es *EmbeddingService) Dimensions() int {
	return es.client.Dimensions()
}

// EmbedTexts embeds texts in order, batch by batch. result[i] always
// corresponds to texts[i]. A batch that still fails after all retry
// attempts fails the whole call.
func (es *EmbeddingService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for offset := 0; offset < len(texts); offset += es.batchSize {
		end := offset + es.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[offset:end]

		batchVectors, err := es.embedBatchWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embedding batch starting at %d failed: %w", offset, err)
		}
		vectors = append(vectors, batchVectors...)
	}

	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (es *EmbeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := es.embedBatchWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 query vector, got %d", len(vectors))
	}
	return vectors[0], nil
}

func (es *EmbeddingService) embedBatchWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < es.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := es.backoffBase << (attempt - 1)
			logger.Warn("Retrying embedding batch", "attempt", attempt+1, "backoff", backoff.String(), "error", lastErr)
			if es.metrics != nil {
				es.metrics.RecordEmbeddingRetry()
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		vectors, err := es.client.EmbedBatch(ctx, batch)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		if !ai.IsTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}
