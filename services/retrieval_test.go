package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Krunal96369/thinkdocs/internal/config"
	"github.com/Krunal96369/thinkdocs/models"
)

// queryEmbedder returns the same vector for every input, so tests steer
// relevance entirely through the vectors seeded into the index.
type queryEmbedder struct {
	vector []float32
}

func (q *queryEmbedder) Dimensions() int { return len(q.vector) }

func (q *queryEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = q.vector
	}
	return out, nil
}

type fakeGenerator struct {
	answer     string
	called     bool
	gotContext []string
	tokens     []string
}

func (g *fakeGenerator) Generate(_ context.Context, _ string, contextChunks []string, _ []models.ChatTurn) (string, error) {
	g.called = true
	g.gotContext = contextChunks
	return g.answer, nil
}

func (g *fakeGenerator) GenerateStream(_ context.Context, _ string, contextChunks []string, _ []models.ChatTurn, emit func(string) error) (string, error) {
	g.called = true
	g.gotContext = contextChunks
	for _, tok := range g.tokens {
		if err := emit(tok); err != nil {
			return "", err
		}
	}
	return g.answer, nil
}

func retrievalTestConfig() *config.Config {
	return &config.Config{
		RetrievalTopK:     5,
		MaxContextChars:   1000,
		MinRelevanceScore: 0.25,
	}
}

func newRetrieverHarness(t *testing.T, cfg *config.Config, entries []models.ChunkVector) (*Retriever, *fakeGenerator) {
	t.Helper()
	index := NewMemoryVectorIndex(3)
	if len(entries) > 0 {
		if err := index.Upsert(context.Background(), entries); err != nil {
			t.Fatalf("seed index: %v", err)
		}
	}
	embedService := NewEmbeddingService(&queryEmbedder{vector: []float32{1, 0, 0}}, 4, 1, time.Millisecond, nil)
	gen := &fakeGenerator{answer: "grounded answer", tokens: []string{"grounded ", "answer"}}
	return NewRetriever(cfg, index, embedService, gen, nil), gen
}

func TestAnswerNoRelevantContentSkipsGenerator(t *testing.T) {
	retriever, gen := newRetrieverHarness(t, retrievalTestConfig(), []models.ChunkVector{
		{OwnerID: "alice", DocumentID: "d1", ChunkID: "d1_0", Text: "unrelated", Vector: []float32{0, 1, 0}},
	})

	_, err := retriever.Answer(context.Background(), AnswerRequest{Query: "anything", OwnerID: "alice"})
	if !errors.Is(err, ErrNoRelevantContent) {
		t.Fatalf("want ErrNoRelevantContent, got %v", err)
	}
	if gen.called {
		t.Fatalf("generator must not run when nothing is relevant")
	}
}

func TestAnswerGroundedWithCitations(t *testing.T) {
	retriever, gen := newRetrieverHarness(t, retrievalTestConfig(), []models.ChunkVector{
		{OwnerID: "alice", DocumentID: "d1", ChunkID: "d1_0", Page: 2, Text: "the relevant passage", Vector: []float32{1, 0, 0}},
		{OwnerID: "alice", DocumentID: "d2", ChunkID: "d2_0", Page: 1, Text: "somewhat related", Vector: []float32{0.8, 0.6, 0}},
	})

	result, err := retriever.Answer(context.Background(), AnswerRequest{Query: "what is relevant?", OwnerID: "alice"})
	if err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	if result.Answer != "grounded answer" {
		t.Fatalf("unexpected answer %q", result.Answer)
	}
	if !gen.called || len(gen.gotContext) != 2 {
		t.Fatalf("generator should receive both relevant chunks, got %d", len(gen.gotContext))
	}
	if gen.gotContext[0] != "the relevant passage" {
		t.Fatalf("context must be in rank order, got %q first", gen.gotContext[0])
	}

	if len(result.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(result.Citations))
	}
	top := result.Citations[0]
	if top.DocumentID != "d1" || top.ChunkID != "d1_0" || top.Page != 2 {
		t.Fatalf("top citation wrong: %+v", top)
	}
	if top.Score < result.Citations[1].Score {
		t.Fatalf("citations must be ordered by score")
	}
	if top.Snippet == "" {
		t.Fatalf("citation missing snippet")
	}
}

func TestAnswerOwnerScoping(t *testing.T) {
	retriever, gen := newRetrieverHarness(t, retrievalTestConfig(), []models.ChunkVector{
		{OwnerID: "bob", DocumentID: "d1", ChunkID: "d1_0", Text: "bob's secret", Vector: []float32{1, 0, 0}},
	})

	_, err := retriever.Answer(context.Background(), AnswerRequest{Query: "secrets", OwnerID: "alice"})
	if !errors.Is(err, ErrNoRelevantContent) {
		t.Fatalf("another owner's chunks must be invisible, got %v", err)
	}
	if gen.called {
		t.Fatalf("generator must not see another owner's content")
	}
}

func TestContextBudgetCapsChunks(t *testing.T) {
	cfg := retrievalTestConfig()
	cfg.MaxContextChars = 150

	long := strings.Repeat("a", 100)
	retriever, gen := newRetrieverHarness(t, cfg, []models.ChunkVector{
		{OwnerID: "alice", DocumentID: "d1", ChunkID: "d1_0", Text: long, Vector: []float32{1, 0, 0}},
		{OwnerID: "alice", DocumentID: "d1", ChunkID: "d1_1", Text: long, Vector: []float32{0.99, 0.1, 0}},
	})

	result, err := retriever.Answer(context.Background(), AnswerRequest{Query: "q", OwnerID: "alice"})
	if err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	if len(gen.gotContext) != 1 {
		t.Fatalf("budget of 150 chars fits one 100-char chunk, got %d", len(gen.gotContext))
	}
	if len(result.Citations) != 1 {
		t.Fatalf("citations must match included context, got %d", len(result.Citations))
	}
}

func TestContextBudgetTruncatesSingleOversizeChunk(t *testing.T) {
	cfg := retrievalTestConfig()
	cfg.MaxContextChars = 50

	retriever, gen := newRetrieverHarness(t, cfg, []models.ChunkVector{
		{OwnerID: "alice", DocumentID: "d1", ChunkID: "d1_0", Text: strings.Repeat("b", 200), Vector: []float32{1, 0, 0}},
	})

	if _, err := retriever.Answer(context.Background(), AnswerRequest{Query: "q", OwnerID: "alice"}); err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	if len(gen.gotContext) != 1 || len(gen.gotContext[0]) != 50 {
		t.Fatalf("oversize top chunk must be truncated to the budget, got %d chunks", len(gen.gotContext))
	}
}

func TestAnswerStreamEmitsTokens(t *testing.T) {
	retriever, _ := newRetrieverHarness(t, retrievalTestConfig(), []models.ChunkVector{
		{OwnerID: "alice", DocumentID: "d1", ChunkID: "d1_0", Text: "passage", Vector: []float32{1, 0, 0}},
	})

	var streamed []string
	result, err := retriever.AnswerStream(context.Background(), AnswerRequest{Query: "q", OwnerID: "alice"}, func(token string) error {
		streamed = append(streamed, token)
		return nil
	})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if strings.Join(streamed, "") != result.Answer {
		t.Fatalf("streamed tokens %q do not assemble the answer %q", strings.Join(streamed, ""), result.Answer)
	}
}
