package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Krunal96369/thinkdocs/models"
)

// MemoryDocumentStore is an in-process DocumentStore with the same
// transition rules as the Mongo store. It backs tests and the memory
// deployment mode.
type MemoryDocumentStore struct {
	mu        sync.RWMutex
	documents map[string]models.Document
	chunks    map[string]models.Chunk // keyed by chunk_id
	jobs      map[string]models.IngestionJob
	messages  []models.ChatMessage
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		documents: make(map[string]models.Document),
		chunks:    make(map[string]models.Chunk),
		jobs:      make(map[string]models.IngestionJob),
	}
}

func (s *MemoryDocumentStore) InsertDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = nowUTC()
	}
	doc.UpdatedAt = doc.UploadedAt
	s.documents[doc.ID] = *doc
	return nil
}

func (s *MemoryDocumentStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	copied := doc
	return &copied, nil
}

func (s *MemoryDocumentStore) FindDocumentByHash(_ context.Context, ownerID, hash string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.documents {
		if doc.OwnerID == ownerID && doc.FileHash == hash && doc.Status != models.StatusFailed {
			copied := doc
			return &copied, nil
		}
	}
	return nil, ErrDocumentNotFound
}

func (s *MemoryDocumentStore) ListDocuments(_ context.Context, ownerID, tag string, page, limit int) ([]models.Document, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []models.Document
	for _, doc := range s.documents {
		if doc.OwnerID != ownerID {
			continue
		}
		if tag != "" && !containsString(doc.Tags, tag) {
			continue
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].UploadedAt.After(docs[j].UploadedAt)
	})

	total := int64(len(docs))
	start := (page - 1) * limit
	if start >= len(docs) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(docs) {
		end = len(docs)
	}
	return docs[start:end], total, nil
}

func (s *MemoryDocumentStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return ErrDocumentNotFound
	}
	delete(s.documents, id)
	return nil
}

func (s *MemoryDocumentStore) SetStage(_ context.Context, id, stage string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return ErrDocumentNotFound
	}
	if !statusAllowsProcessing(doc.Status) {
		return ErrDocumentTerminal
	}

	if progress <= 0 {
		progress = stageProgress(stage)
	}
	doc.Status = models.StatusProcessing
	doc.Stage = stage
	doc.Progress = progress
	doc.UpdatedAt = nowUTC()
	s.documents[id] = doc
	return nil
}

func (s *MemoryDocumentStore) MarkCompleted(_ context.Context, id string, meta models.DocumentMetadata, warning string, contentGz []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return ErrDocumentNotFound
	}
	if !statusAllowsProcessing(doc.Status) {
		return ErrDocumentTerminal
	}

	now := nowUTC()
	doc.Status = models.StatusCompleted
	doc.Stage = ""
	doc.Progress = 100
	doc.Metadata = meta
	doc.Warning = warning
	if len(contentGz) > 0 {
		doc.ContentGz = contentGz
	}
	doc.UpdatedAt = now
	doc.ProcessedAt = &now
	s.documents[id] = doc
	return nil
}

func (s *MemoryDocumentStore) MarkFailed(_ context.Context, id, stage, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return ErrDocumentNotFound
	}
	if !statusAllowsProcessing(doc.Status) {
		return ErrDocumentTerminal
	}

	doc.Status = models.StatusFailed
	doc.Stage = stage
	doc.ErrorDetail = detail
	doc.UpdatedAt = nowUTC()
	s.documents[id] = doc
	return nil
}

func (s *MemoryDocumentStore) ListStaleProcessing(_ context.Context, olderThan time.Time) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []models.Document
	for _, doc := range s.documents {
		if doc.Status == models.StatusProcessing && doc.UpdatedAt.Before(olderThan) {
			stale = append(stale, doc)
		}
	}
	return stale, nil
}

func (s *MemoryDocumentStore) InsertChunks(_ context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunk := range chunks {
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = nowUTC()
		}
		s.chunks[chunk.ChunkID] = chunk
	}
	return nil
}

func (s *MemoryDocumentStore) DeleteChunks(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for chunkID, chunk := range s.chunks {
		if chunk.DocumentID == documentID {
			delete(s.chunks, chunkID)
		}
	}
	return nil
}

// ChunksForDocument returns the stored chunks ordered by index.
// Test helper.
func (s *MemoryDocumentStore) ChunksForDocument(documentID string) []models.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Chunk
	for _, chunk := range s.chunks {
		if chunk.DocumentID == documentID {
			out = append(out, chunk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (s *MemoryDocumentStore) CountDocuments(_ context.Context, ownerID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ownerID == "" {
		return int64(len(s.documents)), nil
	}
	var n int64
	for _, doc := range s.documents {
		if doc.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryDocumentStore) CountChunks(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.chunks)), nil
}

func (s *MemoryDocumentStore) UpsertJob(_ context.Context, job *models.IngestionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.StartedAt.IsZero() {
		job.StartedAt = nowUTC()
	}
	if job.ID == "" {
		job.ID = job.DocumentID + ":" + job.TaskID
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryDocumentStore) SaveMessage(_ context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = nowUTC()
	}
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *MemoryDocumentStore) ListMessages(_ context.Context, ownerID, sessionID string, limit int) ([]models.ChatMessage, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ChatMessage
	for _, msg := range s.messages {
		if msg.OwnerID == ownerID && msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
