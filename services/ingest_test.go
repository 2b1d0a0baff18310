package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Krunal96369/thinkdocs/internal/ai"
	"github.com/Krunal96369/thinkdocs/internal/config"
	"github.com/Krunal96369/thinkdocs/models"
	"github.com/Krunal96369/thinkdocs/utils"
)

const testDims = 4

// fakeEmbedder produces deterministic vectors derived from the text so
// pipeline tests run without the provider.
type fakeEmbedder struct {
	transientFailures int
	permanentErr      error
	calls             int
}

func (f *fakeEmbedder) Dimensions() int { return testDims }

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.permanentErr != nil {
		return nil, f.permanentErr
	}
	if f.calls <= f.transientFailures {
		return nil, ai.ErrRateLimited
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, testDims)
		for j, b := range []byte(text) {
			v[j%testDims] += float32(b)
		}
		vectors[i] = v
	}
	return vectors, nil
}

func ingestTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		FileStorageDir:     t.TempDir(),
		MaxChunkSize:       200,
		ChunkOverlap:       40,
		MinChunkSize:       20,
		EmbeddingBatchSize: 4,
		VectorDimensions:   testDims,
		RetryMaxAttempts:   3,
		RetryBackoffMs:     1,
	}
}

type ingestHarness struct {
	cfg      *config.Config
	store    *MemoryDocumentStore
	index    *MemoryVectorIndex
	embedder *fakeEmbedder
	ingestor *Ingestor
}

func newIngestHarness(t *testing.T, embedder *fakeEmbedder) *ingestHarness {
	t.Helper()
	cfg := ingestTestConfig(t)
	store := NewMemoryDocumentStore()
	index := NewMemoryVectorIndex(testDims)
	chunker := NewChunker(cfg.MaxChunkSize, cfg.ChunkOverlap, cfg.MinChunkSize)
	embedService := NewEmbeddingService(embedder, cfg.EmbeddingBatchSize, cfg.RetryMaxAttempts, time.Millisecond, nil)

	return &ingestHarness{
		cfg:      cfg,
		store:    store,
		index:    index,
		embedder: embedder,
		ingestor: NewIngestor(cfg, store, index, NewExtractor(cfg), chunker, embedService, nil, nil),
	}
}

// uploadFile stores content on disk and inserts a pending document.
func (h *ingestHarness) uploadFile(t *testing.T, id, filename, contentType string, content []byte) {
	t.Helper()
	path := filepath.Join(h.cfg.FileStorageDir, filename)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	err := h.store.InsertDocument(context.Background(), &models.Document{
		ID:          id,
		OwnerID:     "alice",
		Filename:    filename,
		ContentType: contentType,
		FilePath:    path,
		Status:      models.StatusPending,
	})
	if err != nil {
		t.Fatalf("insert document: %v", err)
	}
}

func TestProcessHappyPath(t *testing.T) {
	h := newIngestHarness(t, &fakeEmbedder{})
	text := "Quarterly revenue grew nine percent across the EMEA region. " +
		"Customer churn declined after the March onboarding redesign. " +
		"Engineering headcount will expand by twelve specialists next fiscal year. " +
		"Marketing attribution now follows a position-based model with weekly recalibration. " +
		"Supply chain lead times improved once the Rotterdam warehouse opened. " +
		"Legal finished migrating vendor contracts into the clause library. " +
		"Procurement renegotiated cloud spend and trimmed eleven idle subscriptions. " +
		"Finance expects the hedging program to offset most currency exposure. "
	h.uploadFile(t, "doc1", "notes.txt", "text/plain", []byte(text))

	if err := h.ingestor.Process(context.Background(), "doc1", "task1"); err != nil {
		t.Fatalf("process returned error: %v", err)
	}

	doc, err := h.store.GetDocument(context.Background(), "doc1")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if doc.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", doc.Status, doc.ErrorDetail)
	}
	if doc.Progress != 100 || doc.ProcessedAt == nil {
		t.Fatalf("completed document missing progress/timestamp: %+v", doc)
	}

	chunks := h.store.ChunksForDocument("doc1")
	if len(chunks) == 0 {
		t.Fatalf("expected chunks to be stored")
	}
	if doc.Metadata.ChunkCount != len(chunks) {
		t.Fatalf("metadata chunk count %d != stored %d", doc.Metadata.ChunkCount, len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Fatalf("chunk %d has index %d", i, chunk.Index)
		}
		if !strings.HasPrefix(chunk.ChunkID, "doc1_") {
			t.Fatalf("chunk id %q not derived from document id", chunk.ChunkID)
		}
	}

	vectorCount, _ := h.index.Count(context.Background())
	if int(vectorCount) != len(chunks) {
		t.Fatalf("index has %d vectors for %d chunks", vectorCount, len(chunks))
	}

	if len(doc.ContentGz) == 0 {
		t.Fatalf("extracted text should be stored compressed")
	}
	stored, err := utils.GunzipText(doc.ContentGz)
	if err != nil || !strings.Contains(stored, "Quarterly revenue grew nine percent") {
		t.Fatalf("stored content does not round trip: %v", err)
	}
}

func TestProcessUnsupportedFormatFailsDocument(t *testing.T) {
	h := newIngestHarness(t, &fakeEmbedder{})
	h.uploadFile(t, "doc1", "tool.exe", "application/octet-stream", []byte{0x4d, 0x5a, 0x00, 0x01})

	if err := h.ingestor.Process(context.Background(), "doc1", "task1"); err != nil {
		t.Fatalf("document-level failures must not propagate as task errors, got %v", err)
	}

	doc, _ := h.store.GetDocument(context.Background(), "doc1")
	if doc.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", doc.Status)
	}
	if doc.Stage != models.StageExtracting {
		t.Fatalf("failure should be attributed to extraction, got %s", doc.Stage)
	}
	if !strings.Contains(doc.ErrorDetail, "unsupported") {
		t.Fatalf("error detail should mention the unsupported format: %q", doc.ErrorDetail)
	}
	if len(h.store.ChunksForDocument("doc1")) != 0 {
		t.Fatalf("failed document must not leave chunks behind")
	}
}

func TestProcessRetriesTransientEmbeddingErrors(t *testing.T) {
	embedder := &fakeEmbedder{transientFailures: 1}
	h := newIngestHarness(t, embedder)
	h.uploadFile(t, "doc1", "notes.txt", "text/plain", []byte("A small document. It embeds after one retry."))

	if err := h.ingestor.Process(context.Background(), "doc1", "task1"); err != nil {
		t.Fatalf("process returned error: %v", err)
	}

	doc, _ := h.store.GetDocument(context.Background(), "doc1")
	if doc.Status != models.StatusCompleted {
		t.Fatalf("expected completed after retry, got %s (%s)", doc.Status, doc.ErrorDetail)
	}
	if embedder.calls < 2 {
		t.Fatalf("expected at least one retry, embedder called %d times", embedder.calls)
	}
}

func TestProcessEmbeddingExhaustionRollsBack(t *testing.T) {
	embedder := &fakeEmbedder{permanentErr: ai.ErrRateLimited}
	h := newIngestHarness(t, embedder)
	h.uploadFile(t, "doc1", "notes.txt", "text/plain", []byte("Text that will never get embedded successfully."))

	if err := h.ingestor.Process(context.Background(), "doc1", "task1"); err != nil {
		t.Fatalf("exhausted retries must fail the document, not the task: %v", err)
	}

	doc, _ := h.store.GetDocument(context.Background(), "doc1")
	if doc.Status != models.StatusFailed || doc.Stage != models.StageEmbedding {
		t.Fatalf("expected failed at embedding, got %s/%s", doc.Status, doc.Stage)
	}
	if embedder.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", embedder.calls)
	}
	if len(h.store.ChunksForDocument("doc1")) != 0 {
		t.Fatalf("rollback must delete stored chunks")
	}
	if count, _ := h.index.Count(context.Background()); count != 0 {
		t.Fatalf("no vectors should reach the index, found %d", count)
	}
}

func TestProcessEmptyTextCompletesWithWarning(t *testing.T) {
	h := newIngestHarness(t, &fakeEmbedder{})
	h.uploadFile(t, "doc1", "blank.txt", "text/plain", []byte("   \n\n   \t  "))

	if err := h.ingestor.Process(context.Background(), "doc1", "task1"); err != nil {
		t.Fatalf("process returned error: %v", err)
	}

	doc, _ := h.store.GetDocument(context.Background(), "doc1")
	if doc.Status != models.StatusCompleted {
		t.Fatalf("empty extraction should complete, got %s", doc.Status)
	}
	if doc.Warning == "" {
		t.Fatalf("empty extraction should carry a warning")
	}
	if doc.Metadata.ChunkCount != 0 || len(h.store.ChunksForDocument("doc1")) != 0 {
		t.Fatalf("empty document must produce zero chunks")
	}
}

func TestProcessSkipsMissingDocument(t *testing.T) {
	h := newIngestHarness(t, &fakeEmbedder{})

	if err := h.ingestor.Process(context.Background(), "gone", "task1"); err != nil {
		t.Fatalf("missing document must be a no-op, got %v", err)
	}
}

func TestProcessSkipsTerminalDocument(t *testing.T) {
	embedder := &fakeEmbedder{}
	h := newIngestHarness(t, embedder)
	h.uploadFile(t, "doc1", "notes.txt", "text/plain", []byte("Already done."))
	h.store.MarkCompleted(context.Background(), "doc1", models.DocumentMetadata{}, "", nil)

	if err := h.ingestor.Process(context.Background(), "doc1", "task2"); err != nil {
		t.Fatalf("terminal document must be a no-op, got %v", err)
	}
	if embedder.calls != 0 {
		t.Fatalf("terminal document must not be re-embedded")
	}
}

// vanishingStore simulates a concurrent delete by reporting the document
// gone once the pipeline reaches a given stage.
type vanishingStore struct {
	DocumentStore
	vanishAt string
}

func (s *vanishingStore) SetStage(ctx context.Context, id, stage string, progress int) error {
	if stage == s.vanishAt {
		s.DocumentStore.DeleteDocument(ctx, id)
		return ErrDocumentNotFound
	}
	return s.DocumentStore.SetStage(ctx, id, stage, progress)
}

func TestProcessHaltsWhenDocumentDeletedMidPipeline(t *testing.T) {
	h := newIngestHarness(t, &fakeEmbedder{})
	h.uploadFile(t, "doc1", "notes.txt", "text/plain",
		[]byte("The committee reviewed seventeen proposals during the spring session. "+
			"Funding went to coastal erosion monitoring and wetland restoration. "+
			"Two applicants withdrew after the site inspection raised concerns. "+
			"A follow-up audit is scheduled before the September disbursement."))

	inner := h.store
	wrapped := &vanishingStore{DocumentStore: inner, vanishAt: models.StageEmbedding}
	chunker := NewChunker(h.cfg.MaxChunkSize, h.cfg.ChunkOverlap, h.cfg.MinChunkSize)
	embedService := NewEmbeddingService(h.embedder, h.cfg.EmbeddingBatchSize, h.cfg.RetryMaxAttempts, time.Millisecond, nil)
	ingestor := NewIngestor(h.cfg, wrapped, h.index, NewExtractor(h.cfg), chunker, embedService, nil, nil)

	if err := ingestor.Process(context.Background(), "doc1", "task1"); err != nil {
		t.Fatalf("mid-pipeline delete must halt cleanly, got %v", err)
	}

	if h.embedder.calls != 0 {
		t.Fatalf("embedding must not run after the document vanished")
	}
	if len(inner.ChunksForDocument("doc1")) != 0 {
		t.Fatalf("chunks written before the delete must be rolled back")
	}
	if count, _ := h.index.Count(context.Background()); count != 0 {
		t.Fatalf("no vectors should remain, found %d", count)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.FileStorageDir, "notes.txt")); !os.IsNotExist(err) {
		t.Fatalf("stored file should be removed after mid-pipeline delete")
	}
}

func TestProcessRepetitiveChunksStoredButNotIndexed(t *testing.T) {
	h := newIngestHarness(t, &fakeEmbedder{})
	text := strings.TrimSpace(strings.Repeat("lorem ipsum dolor ", 10))
	h.uploadFile(t, "doc1", "footer.txt", "text/plain", []byte(text))

	if err := h.ingestor.Process(context.Background(), "doc1", "task1"); err != nil {
		t.Fatalf("process returned error: %v", err)
	}

	doc, _ := h.store.GetDocument(context.Background(), "doc1")
	if doc.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", doc.Status, doc.ErrorDetail)
	}
	if doc.Warning == "" {
		t.Fatalf("fully repetitive document should carry a warning")
	}

	chunks := h.store.ChunksForDocument("doc1")
	if len(chunks) != 1 || !chunks[0].Repetitive {
		t.Fatalf("repetitive chunk must still be stored and flagged, got %+v", chunks)
	}
	if h.embedder.calls != 0 {
		t.Fatalf("repetitive chunks must not be embedded, embedder called %d times", h.embedder.calls)
	}
	if count, _ := h.index.Count(context.Background()); count != 0 {
		t.Fatalf("repetitive chunks must not reach the index, found %d", count)
	}
}

func TestProcessMissingStoredFileFailsDocument(t *testing.T) {
	h := newIngestHarness(t, &fakeEmbedder{})
	err := h.store.InsertDocument(context.Background(), &models.Document{
		ID:          "doc1",
		OwnerID:     "alice",
		Filename:    "gone.txt",
		ContentType: "text/plain",
		FilePath:    filepath.Join(h.cfg.FileStorageDir, "gone.txt"),
		Status:      models.StatusPending,
	})
	if err != nil {
		t.Fatalf("insert document: %v", err)
	}

	if err := h.ingestor.Process(context.Background(), "doc1", "task1"); err != nil {
		t.Fatalf("a deleted file is terminal for the document, not the task: %v", err)
	}

	doc, _ := h.store.GetDocument(context.Background(), "doc1")
	if doc.Status != models.StatusFailed || doc.Stage != models.StageExtracting {
		t.Fatalf("expected failed at extracting, got %s/%s", doc.Status, doc.Stage)
	}
	if !strings.Contains(doc.ErrorDetail, "missing") {
		t.Fatalf("error detail should mention the missing file: %q", doc.ErrorDetail)
	}
}

func TestProcessUnreadableStoredFileLeavesTaskRetryable(t *testing.T) {
	h := newIngestHarness(t, &fakeEmbedder{})
	// A directory opens fine but fails on read, without ErrNotExist.
	err := h.store.InsertDocument(context.Background(), &models.Document{
		ID:          "doc1",
		OwnerID:     "alice",
		Filename:    "notes.txt",
		ContentType: "text/plain",
		FilePath:    h.cfg.FileStorageDir,
		Status:      models.StatusPending,
	})
	if err != nil {
		t.Fatalf("insert document: %v", err)
	}

	if err := h.ingestor.Process(context.Background(), "doc1", "task1"); err == nil {
		t.Fatalf("a transient read failure must surface as a task error")
	}

	doc, _ := h.store.GetDocument(context.Background(), "doc1")
	if doc.Status == models.StatusFailed {
		t.Fatalf("transient read failures must leave the document retryable, got %s", doc.Status)
	}
}

// jobWatchingStore verifies every job record already carries its start
// time when it is written.
type jobWatchingStore struct {
	DocumentStore
	sawZeroStart bool
}

func (s *jobWatchingStore) UpsertJob(ctx context.Context, job *models.IngestionJob) error {
	if job.StartedAt.IsZero() {
		s.sawZeroStart = true
	}
	return s.DocumentStore.UpsertJob(ctx, job)
}

func TestProcessJobStartSetBeforeFirstRecord(t *testing.T) {
	embedder := &fakeEmbedder{permanentErr: ai.ErrRateLimited}
	h := newIngestHarness(t, embedder)
	h.uploadFile(t, "doc1", "notes.txt", "text/plain", []byte("Text whose embedding always fails."))

	wrapped := &jobWatchingStore{DocumentStore: h.store}
	chunker := NewChunker(h.cfg.MaxChunkSize, h.cfg.ChunkOverlap, h.cfg.MinChunkSize)
	embedService := NewEmbeddingService(embedder, h.cfg.EmbeddingBatchSize, h.cfg.RetryMaxAttempts, time.Millisecond, nil)
	ingestor := NewIngestor(h.cfg, wrapped, h.index, NewExtractor(h.cfg), chunker, embedService, nil, nil)

	if err := ingestor.Process(context.Background(), "doc1", "task1"); err != nil {
		t.Fatalf("process returned error: %v", err)
	}
	if wrapped.sawZeroStart {
		t.Fatalf("job records must carry the pipeline start time from the first write")
	}
}
