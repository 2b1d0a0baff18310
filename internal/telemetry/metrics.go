package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	DocumentsIngested metric.Int64Counter
	IngestDuration    metric.Float64Histogram
	ChunksIndexed     metric.Int64Counter
	EmbeddingRetries  metric.Int64Counter
	QueriesAnswered   metric.Int64Counter
	RetrievalDuration metric.Float64Histogram
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("thinkdocs")

	documentsIngested, err := meter.Int64Counter(
		"ingest.documents.total",
		metric.WithDescription("Documents that finished the ingestion pipeline"),
	)
	if err != nil {
		return nil, err
	}

	ingestDuration, err := meter.Float64Histogram(
		"ingest.duration",
		metric.WithDescription("End-to-end ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	chunksIndexed, err := meter.Int64Counter(
		"ingest.chunks.indexed",
		metric.WithDescription("Chunk vectors written to the index"),
	)
	if err != nil {
		return nil, err
	}

	embeddingRetries, err := meter.Int64Counter(
		"embeddings.retries.total",
		metric.WithDescription("Embedding batches retried after transient errors"),
	)
	if err != nil {
		return nil, err
	}

	queriesAnswered, err := meter.Int64Counter(
		"chat.queries.total",
		metric.WithDescription("Chat queries answered"),
	)
	if err != nil {
		return nil, err
	}

	retrievalDuration, err := meter.Float64Histogram(
		"chat.retrieval.duration",
		metric.WithDescription("Vector retrieval duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		DocumentsIngested: documentsIngested,
		IngestDuration:    ingestDuration,
		ChunksIndexed:     chunksIndexed,
		EmbeddingRetries:  embeddingRetries,
		QueriesAnswered:   queriesAnswered,
		RetrievalDuration: retrievalDuration,
	}, nil
}

// RecordIngest records one finished ingestion run.
func (m *Metrics) RecordIngest(status string, durationSec float64, chunks int) {
	attrs := []attribute.KeyValue{
		attribute.String("ingest.status", status),
	}

	m.DocumentsIngested.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.IngestDuration.Record(context.Background(), durationSec, metric.WithAttributes(attrs...))
	if chunks > 0 {
		m.ChunksIndexed.Add(context.Background(), int64(chunks))
	}
}

// RecordEmbeddingRetry records one retried embedding batch.
func (m *Metrics) RecordEmbeddingRetry() {
	m.EmbeddingRetries.Add(context.Background(), 1)
}

// RecordQuery records a chat query with its retrieval latency.
func (m *Metrics) RecordQuery(outcome string, retrievalSec float64) {
	attrs := []attribute.KeyValue{
		attribute.String("chat.outcome", outcome),
	}

	m.QueriesAnswered.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RetrievalDuration.Record(context.Background(), retrievalSec, metric.WithAttributes(attrs...))
}
