package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Krunal96369/thinkdocs/internal/config"
	"github.com/Krunal96369/thinkdocs/internal/logger"
	"github.com/Krunal96369/thinkdocs/internal/telemetry"
	"github.com/Krunal96369/thinkdocs/models"
	"github.com/Krunal96369/thinkdocs/utils"
)

// progressKeyPrefix is the Redis key prefix for the live progress cache.
const progressKeyPrefix = "ingest:progress:"
const progressTTL = 24 * time.Hour

// Ingestor drives a document through extract -> chunk -> embed -> index.
// Each stage transition is persisted before the stage runs, so status
// polling always reflects what the worker is doing.
type Ingestor struct {
	cfg       *config.Config
	store     DocumentStore
	index     VectorIndex
	extractor *Extractor
	chunker   *Chunker
	embedder  *EmbeddingService
	rdb       *redis.Client
	metrics   *telemetry.Metrics
}

func NewIngestor(cfg *config.Config, store DocumentStore, index VectorIndex, extractor *Extractor, chunker *Chunker, embedder *EmbeddingService, rdb *redis.Client, metrics *telemetry.Metrics) *Ingestor {
	return &Ingestor{
		cfg:       cfg,
		store:     store,
		index:     index,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		rdb:       rdb,
		metrics:   metrics,
	}
}

// Process runs the full pipeline for one document. The returned error is
// only non-nil for infrastructure problems worth a task-level retry;
// document-level failures are recorded on the document and return nil.
func (in *Ingestor) Process(ctx context.Context, documentID, taskID string) error {
	start := time.Now()

	doc, err := in.store.GetDocument(ctx, documentID)
	if errors.Is(err, ErrDocumentNotFound) {
		// Deleted between enqueue and pickup; nothing to clean besides
		// stray artifacts from an earlier attempt.
		logger.Info("Document gone before processing, cleaning up", "document_id", documentID)
		in.cleanupArtifacts(ctx, documentID)
		return nil
	}
	if err != nil {
		return err
	}
	if doc.Status == models.StatusCompleted || doc.Status == models.StatusFailed {
		logger.Info("Document already in terminal state, skipping", "document_id", documentID, "status", doc.Status)
		return nil
	}

	job := &models.IngestionJob{DocumentID: documentID, TaskID: taskID, Attempts: 1, StartedAt: start}

	// Stage: extract
	if halted, err := in.enterStage(ctx, doc, job, models.StageExtracting); halted || err != nil {
		return err
	}

	data, err := os.ReadFile(doc.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return in.fail(ctx, doc, job, models.StageExtracting, fmt.Errorf("stored file missing: %w", err))
		}
		// Other read failures may be transient; leave them to the
		// task-level retry.
		return fmt.Errorf("failed to read stored file: %w", err)
	}

	extraction, err := in.extractor.Extract(ctx, data, doc.ContentType, doc.Filename)
	if err != nil {
		// Unsupported formats and parse failures are terminal for the
		// document, not for the task.
		return in.fail(ctx, doc, job, models.StageExtracting, err)
	}

	meta := models.DocumentMetadata{
		Pages:            extraction.Pages,
		WordCount:        extraction.WordCount,
		CharacterCount:   extraction.CharacterCount,
		Language:         extraction.Language,
		ExtractionMethod: extraction.Method,
		QualityScore:     extraction.QualityScore,
	}

	if strings.TrimSpace(extraction.Text) == "" {
		// Zero extractable text completes with a warning instead of
		// failing; the caller can see why nothing is retrievable.
		return in.complete(ctx, doc, job, meta, "no text content could be extracted", "", start)
	}

	// Stage: chunk
	if halted, err := in.enterStage(ctx, doc, job, models.StageChunking); halted || err != nil {
		return err
	}

	drafts := in.chunker.Split(extraction.Text, extraction.PageOffsets)
	if len(drafts) == 0 {
		return in.complete(ctx, doc, job, meta, "no text content could be extracted", "", start)
	}

	chunks := make([]models.Chunk, len(drafts))
	for i, draft := range drafts {
		chunks[i] = models.Chunk{
			DocumentID:  doc.ID,
			ChunkID:     fmt.Sprintf("%s_%d", doc.ID, draft.Index),
			Index:       draft.Index,
			Page:        draft.Page,
			Text:        draft.Text,
			StartOffset: draft.StartOffset,
			EndOffset:   draft.EndOffset,
			CharCount:   len(draft.Text),
			WordCount:   draft.WordCount,
			Repetitive:  draft.Repetitive,
		}
	}
	if err := in.store.InsertChunks(ctx, chunks); err != nil {
		return err
	}
	meta.ChunkCount = len(chunks)

	// Repetitive chunks (boilerplate, repeated footers) stay stored for
	// content reassembly but are kept out of the index.
	embeddable := make([]models.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if !chunk.Repetitive {
			embeddable = append(embeddable, chunk)
		}
	}
	if len(embeddable) == 0 {
		return in.complete(ctx, doc, job, meta, "all extracted text was repetitive; nothing was indexed", extraction.Text, start)
	}

	// Stage: embed
	if halted, err := in.enterStage(ctx, doc, job, models.StageEmbedding); halted || err != nil {
		return err
	}

	texts := make([]string, len(embeddable))
	for i, chunk := range embeddable {
		texts[i] = chunk.Text
	}
	vectors, err := in.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		// Partial embeddings never reach the index: any batch failing
		// after retries fails the document and rolls back its artifacts.
		return in.fail(ctx, doc, job, models.StageEmbedding, err)
	}

	// Stage: index
	if halted, err := in.enterStage(ctx, doc, job, models.StageIndexing); halted || err != nil {
		return err
	}

	entries := make([]models.ChunkVector, len(embeddable))
	for i, chunk := range embeddable {
		entries[i] = models.ChunkVector{
			OwnerID:    doc.OwnerID,
			DocumentID: chunk.DocumentID,
			ChunkID:    chunk.ChunkID,
			Index:      chunk.Index,
			Page:       chunk.Page,
			Text:       chunk.Text,
			Tags:       doc.Tags,
			Vector:     vectors[i],
		}
	}
	if err := in.index.Upsert(ctx, entries); err != nil {
		return in.fail(ctx, doc, job, models.StageIndexing, err)
	}

	return in.complete(ctx, doc, job, meta, "", extraction.Text, start)
}

// enterStage persists the stage transition. halted=true means the
// document disappeared or reached a terminal state underneath us and
// processing must stop without error.
func (in *Ingestor) enterStage(ctx context.Context, doc *models.Document, job *models.IngestionJob, stage string) (halted bool, err error) {
	err = in.store.SetStage(ctx, doc.ID, stage, 0)
	if errors.Is(err, ErrDocumentNotFound) {
		logger.Info("Document deleted mid-pipeline, rolling back", "document_id", doc.ID, "stage", stage)
		in.cleanupArtifacts(ctx, doc.ID)
		in.removeStoredFile(doc)
		return true, nil
	}
	if errors.Is(err, ErrDocumentTerminal) {
		logger.Warn("Document reached terminal state outside pipeline", "document_id", doc.ID, "stage", stage)
		return true, nil
	}
	if err != nil {
		return false, err
	}

	job.Stage = stage
	if jobErr := in.store.UpsertJob(ctx, job); jobErr != nil {
		logger.Warn("Failed to record ingestion job", "document_id", doc.ID, "error", jobErr)
	}
	in.cacheProgress(ctx, doc.ID, stage, stageProgress(stage))
	return false, nil
}

// fail marks the document failed, rolls back partial chunks and vectors,
// and swallows the error at the task level.
func (in *Ingestor) fail(ctx context.Context, doc *models.Document, job *models.IngestionJob, stage string, cause error) error {
	detail := fmt.Sprintf("%s: %v", stage, cause)
	logger.Error("Ingestion failed", "document_id", doc.ID, "stage", stage, "error", cause)

	if err := in.store.MarkFailed(ctx, doc.ID, stage, detail); err != nil && !errors.Is(err, ErrDocumentNotFound) && !errors.Is(err, ErrDocumentTerminal) {
		return err
	}

	in.cleanupArtifacts(ctx, doc.ID)

	now := nowUTC()
	job.Stage = stage
	job.LastError = detail
	job.FinishedAt = &now
	if err := in.store.UpsertJob(ctx, job); err != nil {
		logger.Warn("Failed to record failed job", "document_id", doc.ID, "error", err)
	}

	in.cacheProgress(ctx, doc.ID, "failed", 0)
	if in.metrics != nil {
		in.metrics.RecordIngest("failed", time.Since(job.StartedAt).Seconds(), 0)
	}
	return nil
}

func (in *Ingestor) complete(ctx context.Context, doc *models.Document, job *models.IngestionJob, meta models.DocumentMetadata, warning, fullText string, start time.Time) error {
	var contentGz []byte
	if fullText != "" {
		gz, err := utils.GzipText(fullText)
		if err != nil {
			logger.Warn("Failed to compress extracted text", "document_id", doc.ID, "error", err)
		} else {
			contentGz = gz
		}
	}

	err := in.store.MarkCompleted(ctx, doc.ID, meta, warning, contentGz)
	if errors.Is(err, ErrDocumentNotFound) {
		in.cleanupArtifacts(ctx, doc.ID)
		in.removeStoredFile(doc)
		return nil
	}
	if errors.Is(err, ErrDocumentTerminal) {
		return nil
	}
	if err != nil {
		return err
	}

	now := nowUTC()
	job.FinishedAt = &now
	if jobErr := in.store.UpsertJob(ctx, job); jobErr != nil {
		logger.Warn("Failed to record finished job", "document_id", doc.ID, "error", jobErr)
	}

	in.cacheProgress(ctx, doc.ID, "completed", 100)
	if in.metrics != nil {
		in.metrics.RecordIngest("completed", time.Since(start).Seconds(), meta.ChunkCount)
	}

	logger.Info("Document ingested",
		"document_id", doc.ID,
		"chunks", meta.ChunkCount,
		"pages", meta.Pages,
		"duration", time.Since(start).String(),
	)
	return nil
}

// cleanupArtifacts removes chunks and vectors for a document. Failures
// are logged, not propagated; the janitor sweeps leftovers.
func (in *Ingestor) cleanupArtifacts(ctx context.Context, documentID string) {
	if err := in.store.DeleteChunks(ctx, documentID); err != nil {
		logger.Warn("Failed to delete chunks during rollback", "document_id", documentID, "error", err)
	}
	if err := in.index.DeleteDocument(ctx, documentID); err != nil {
		logger.Warn("Failed to delete vectors during rollback", "document_id", documentID, "error", err)
	}
	if in.rdb != nil {
		in.rdb.Del(ctx, progressKeyPrefix+documentID)
	}
}

func (in *Ingestor) removeStoredFile(doc *models.Document) {
	if doc.FilePath == "" {
		return
	}
	// Refuse to remove anything outside the storage dir.
	if in.cfg != nil && in.cfg.FileStorageDir != "" {
		rel, err := filepath.Rel(in.cfg.FileStorageDir, doc.FilePath)
		if err != nil || strings.HasPrefix(rel, "..") {
			return
		}
	}
	if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove stored file", "path", doc.FilePath, "error", err)
	}
}

// cacheProgress mirrors the document's live progress into Redis so the
// status endpoint can answer without hitting Mongo.
func (in *Ingestor) cacheProgress(ctx context.Context, documentID, stage string, progress int) {
	if in.rdb == nil {
		return
	}
	key := progressKeyPrefix + documentID
	if err := in.rdb.HSet(ctx, key, "stage", stage, "progress", progress).Err(); err != nil {
		logger.Debug("Failed to cache progress", "document_id", documentID, "error", err)
		return
	}
	in.rdb.Expire(ctx, key, progressTTL)
}

// CachedProgress reads the live progress cache; ok is false when nothing
// is cached for the document.
func CachedProgress(ctx context.Context, rdb *redis.Client, documentID string) (stage string, progress int, ok bool) {
	if rdb == nil {
		return "", 0, false
	}
	values, err := rdb.HGetAll(ctx, progressKeyPrefix+documentID).Result()
	if err != nil || len(values) == 0 {
		return "", 0, false
	}
	stage = values["stage"]
	fmt.Sscanf(values["progress"], "%d", &progress)
	return stage, progress, true
}

// ClearCachedProgress drops the cached progress entry for a document,
// used when the document is deleted.
func ClearCachedProgress(ctx context.Context, rdb *redis.Client, documentID string) {
	if rdb == nil {
		return
	}
	rdb.Del(ctx, progressKeyPrefix+documentID)
}
