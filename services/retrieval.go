package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/Krunal96369/thinkdocs/internal/ai"
	"github.com/Krunal96369/thinkdocs/internal/config"
	"github.com/Krunal96369/thinkdocs/internal/logger"
	"github.com/Krunal96369/thinkdocs/internal/telemetry"
	"github.com/Krunal96369/thinkdocs/models"
)

// ErrNoRelevantContent signals that retrieval found nothing above the
// relevance floor. The generator is never called in that case, so the
// caller can show a "nothing relevant" state instead of a hallucinated
// answer.
var ErrNoRelevantContent = errors.New("no relevant content found")

const citationSnippetLen = 200

// AnswerRequest is a retrieval-grounded question.
type AnswerRequest struct {
	Query       string
	OwnerID     string
	DocumentIDs []string
	Tags        []string
	History     []models.ChatTurn
}

// AnswerResult is the grounded answer with its citations.
type AnswerResult struct {
	Answer    string
	Citations []models.Citation
}

// Retriever embeds the query, ranks chunks from the vector index,
// assembles a bounded context and hands it to the generator.
type Retriever struct {
	cfg       *config.Config
	index     VectorIndex
	embedder  *EmbeddingService
	generator ai.GeneratorClient
	metrics   *telemetry.Metrics
}

func NewRetriever(cfg *config.Config, index VectorIndex, embedder *EmbeddingService, generator ai.GeneratorClient, metrics *telemetry.Metrics) *Retriever {
	return &Retriever{
		cfg:       cfg,
		index:     index,
		embedder:  embedder,
		generator: generator,
		metrics:   metrics,
	}
}

// Answer runs the full retrieval + generation flow.
func (r *Retriever) Answer(ctx context.Context, req AnswerRequest) (*AnswerResult, error) {
	contextChunks, citations, err := r.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	answer, err := r.generator.Generate(ctx, req.Query, contextChunks, req.History)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	return &AnswerResult{Answer: answer, Citations: citations}, nil
}

// AnswerStream is Answer with the generated tokens streamed through emit
// as they arrive.
func (r *Retriever) AnswerStream(ctx context.Context, req AnswerRequest, emit func(token string) error) (*AnswerResult, error) {
	contextChunks, citations, err := r.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	answer, err := r.generator.GenerateStream(ctx, req.Query, contextChunks, req.History, emit)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	return &AnswerResult{Answer: answer, Citations: citations}, nil
}

func (r *Retriever) retrieve(ctx context.Context, req AnswerRequest) ([]string, []models.Citation, error) {
	start := time.Now()

	queryVector, err := r.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := r.index.Query(ctx, queryVector, r.cfg.RetrievalTopK, QueryFilter{
		OwnerID:     req.OwnerID,
		DocumentIDs: req.DocumentIDs,
		Tags:        req.Tags,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("vector query failed: %w", err)
	}

	retrievalSec := time.Since(start).Seconds()

	relevant := matches[:0]
	for _, match := range matches {
		if match.Score >= r.cfg.MinRelevanceScore {
			relevant = append(relevant, match)
		}
	}

	if len(relevant) == 0 {
		if r.metrics != nil {
			r.metrics.RecordQuery("no_relevant_content", retrievalSec)
		}
		logger.Debug("No matches above relevance floor", "candidates", len(matches), "floor", r.cfg.MinRelevanceScore)
		return nil, nil, ErrNoRelevantContent
	}

	contextChunks, citations := r.buildContext(relevant)

	if r.metrics != nil {
		r.metrics.RecordQuery("answered", retrievalSec)
	}

	return contextChunks, citations, nil
}

// buildContext takes matches in rank order and accumulates chunk texts
// until the context budget is spent. At least one chunk always goes in,
// truncated if it alone exceeds the budget.
func (r *Retriever) buildContext(matches []Match) ([]string, []models.Citation) {
	budget := r.cfg.MaxContextChars
	if budget <= 0 {
		budget = 8000
	}

	var contextChunks []string
	var citations []models.Citation
	used := 0

	for _, match := range matches {
		text := match.Text
		if used+len(text) > budget {
			if len(contextChunks) == 0 {
				text = truncateRuneSafe(text, budget)
			} else {
				break
			}
		}

		contextChunks = append(contextChunks, text)
		used += len(text)
		citations = append(citations, models.Citation{
			DocumentID: match.DocumentID,
			ChunkID:    match.ChunkID,
			Page:       match.Page,
			Snippet:    truncateRuneSafe(match.Text, citationSnippetLen),
			Score:      match.Score,
		})
	}

	return contextChunks, citations
}

// truncateRuneSafe cuts s to at most max bytes without splitting a rune.
func truncateRuneSafe(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
