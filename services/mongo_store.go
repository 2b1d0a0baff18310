package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Krunal96369/thinkdocs/models"
)

// MongoDocumentStore is the production DocumentStore.
type MongoDocumentStore struct {
	documents *mongo.Collection
	chunks    *mongo.Collection
	jobs      *mongo.Collection
	messages  *mongo.Collection
}

func NewMongoDocumentStore(db *mongo.Database) *MongoDocumentStore {
	return &MongoDocumentStore{
		documents: db.Collection("documents"),
		chunks:    db.Collection("chunks"),
		jobs:      db.Collection("ingestion_jobs"),
		messages:  db.Collection("messages"),
	}
}

func (s *MongoDocumentStore) InsertDocument(ctx context.Context, doc *models.Document) error {
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = nowUTC()
	}
	doc.UpdatedAt = doc.UploadedAt
	_, err := s.documents.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (s *MongoDocumentStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := s.documents.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (s *MongoDocumentStore) FindDocumentByHash(ctx context.Context, ownerID, hash string) (*models.Document, error) {
	var doc models.Document
	err := s.documents.FindOne(ctx, bson.M{
		"owner_id":  ownerID,
		"file_hash": hash,
		"status":    bson.M{"$ne": models.StatusFailed},
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up document by hash: %w", err)
	}
	return &doc, nil
}

func (s *MongoDocumentStore) ListDocuments(ctx context.Context, ownerID, tag string, page, limit int) ([]models.Document, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	filter := bson.M{"owner_id": ownerID}
	if tag != "" {
		filter["tags"] = tag
	}

	total, err := s.documents.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "uploaded_at", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"content_gz": 0})

	cursor, err := s.documents.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode documents: %w", err)
	}
	return docs, total, nil
}

func (s *MongoDocumentStore) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.documents.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *MongoDocumentStore) SetStage(ctx context.Context, id, stage string, progress int) error {
	if progress <= 0 {
		progress = stageProgress(stage)
	}
	result, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": []string{models.StatusPending, models.StatusProcessing}}},
		bson.M{"$set": bson.M{
			"status":     models.StatusProcessing,
			"stage":      stage,
			"progress":   progress,
			"updated_at": nowUTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update document stage: %w", err)
	}
	if result.MatchedCount == 0 {
		return s.classifyMissedUpdate(ctx, id)
	}
	return nil
}

func (s *MongoDocumentStore) MarkCompleted(ctx context.Context, id string, meta models.DocumentMetadata, warning string, contentGz []byte) error {
	now := nowUTC()
	set := bson.M{
		"status":       models.StatusCompleted,
		"stage":        "",
		"progress":     100,
		"metadata":     meta,
		"updated_at":   now,
		"processed_at": now,
	}
	if warning != "" {
		set["warning"] = warning
	}
	if len(contentGz) > 0 {
		set["content_gz"] = contentGz
	}

	result, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": []string{models.StatusPending, models.StatusProcessing}}},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("failed to mark document completed: %w", err)
	}
	if result.MatchedCount == 0 {
		return s.classifyMissedUpdate(ctx, id)
	}
	return nil
}

func (s *MongoDocumentStore) MarkFailed(ctx context.Context, id, stage, detail string) error {
	result, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": []string{models.StatusPending, models.StatusProcessing}}},
		bson.M{"$set": bson.M{
			"status":       models.StatusFailed,
			"stage":        stage,
			"error_detail": detail,
			"updated_at":   nowUTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark document failed: %w", err)
	}
	if result.MatchedCount == 0 {
		return s.classifyMissedUpdate(ctx, id)
	}
	return nil
}

// classifyMissedUpdate distinguishes "document was deleted" from
// "document already reached a terminal status".
func (s *MongoDocumentStore) classifyMissedUpdate(ctx context.Context, id string) error {
	count, err := s.documents.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check document existence: %w", err)
	}
	if count == 0 {
		return ErrDocumentNotFound
	}
	return ErrDocumentTerminal
}

func (s *MongoDocumentStore) ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]models.Document, error) {
	cursor, err := s.documents.Find(ctx, bson.M{
		"status":     models.StatusProcessing,
		"updated_at": bson.M{"$lt": olderThan},
	}, options.Find().SetProjection(bson.M{"content_gz": 0}))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale documents: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode stale documents: %w", err)
	}
	return docs, nil
}

func (s *MongoDocumentStore) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	writes := make([]mongo.WriteModel, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = nowUTC()
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"chunk_id": chunk.ChunkID}).
			SetUpdate(bson.M{"$set": bson.M{
				"document_id":  chunk.DocumentID,
				"index":        chunk.Index,
				"page":         chunk.Page,
				"text":         chunk.Text,
				"start_offset": chunk.StartOffset,
				"end_offset":   chunk.EndOffset,
				"char_count":   chunk.CharCount,
				"word_count":   chunk.WordCount,
				"created_at":   chunk.CreatedAt,
			}}).
			SetUpsert(true))
	}

	_, err := s.chunks.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return nil
}

func (s *MongoDocumentStore) DeleteChunks(ctx context.Context, documentID string) error {
	_, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": documentID})
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *MongoDocumentStore) CountDocuments(ctx context.Context, ownerID string) (int64, error) {
	filter := bson.M{}
	if ownerID != "" {
		filter["owner_id"] = ownerID
	}
	return s.documents.CountDocuments(ctx, filter)
}

func (s *MongoDocumentStore) CountChunks(ctx context.Context) (int64, error) {
	return s.chunks.CountDocuments(ctx, bson.M{})
}

func (s *MongoDocumentStore) UpsertJob(ctx context.Context, job *models.IngestionJob) error {
	if job.StartedAt.IsZero() {
		job.StartedAt = nowUTC()
	}
	if job.ID == "" {
		job.ID = job.DocumentID + ":" + job.TaskID
	}
	_, err := s.jobs.UpdateOne(ctx,
		bson.M{"_id": job.ID},
		bson.M{"$set": bson.M{
			"document_id": job.DocumentID,
			"task_id":     job.TaskID,
			"stage":       job.Stage,
			"attempts":    job.Attempts,
			"last_error":  job.LastError,
			"started_at":  job.StartedAt,
			"finished_at": job.FinishedAt,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ingestion job: %w", err)
	}
	return nil
}

func (s *MongoDocumentStore) SaveMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = nowUTC()
	}
	_, err := s.messages.InsertOne(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to save chat message: %w", err)
	}
	return nil
}

func (s *MongoDocumentStore) ListMessages(ctx context.Context, ownerID, sessionID string, limit int) ([]models.ChatMessage, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.messages.Find(ctx, bson.M{"owner_id": ownerID, "session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer cursor.Close(ctx)

	var msgs []models.ChatMessage
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode chat messages: %w", err)
	}
	return msgs, nil
}
