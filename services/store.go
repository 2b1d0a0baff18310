package services

import (
	"context"
	"errors"
	"time"

	"github.com/Krunal96369/thinkdocs/models"
)

// ErrDocumentNotFound is returned when a document record does not exist,
// typically because the caller deleted it while the pipeline was running.
var ErrDocumentNotFound = errors.New("document not found")

// ErrDocumentTerminal is returned when a status transition is attempted
// on a document that already reached completed or failed. Terminal states
// never change.
var ErrDocumentTerminal = errors.New("document already in terminal state")

// DocumentStore persists documents, their chunks, ingestion jobs and chat
// messages. Status transitions are enforced here: a document moves
// pending -> processing -> completed | failed and never backwards.
type DocumentStore interface {
	InsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	FindDocumentByHash(ctx context.Context, ownerID, hash string) (*models.Document, error)
	ListDocuments(ctx context.Context, ownerID, tag string, page, limit int) ([]models.Document, int64, error)
	DeleteDocument(ctx context.Context, id string) error

	// SetStage moves the document into processing (or keeps it there) and
	// records the current pipeline stage and progress.
	SetStage(ctx context.Context, id, stage string, progress int) error
	MarkCompleted(ctx context.Context, id string, meta models.DocumentMetadata, warning string, contentGz []byte) error
	MarkFailed(ctx context.Context, id, stage, detail string) error

	// ListStaleProcessing returns documents still in processing whose
	// last update is older than the cutoff.
	ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]models.Document, error)

	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	DeleteChunks(ctx context.Context, documentID string) error
	CountDocuments(ctx context.Context, ownerID string) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	UpsertJob(ctx context.Context, job *models.IngestionJob) error

	SaveMessage(ctx context.Context, msg *models.ChatMessage) error
	ListMessages(ctx context.Context, ownerID, sessionID string, limit int) ([]models.ChatMessage, error)
}

// statusAllowsProcessing reports whether a document in the given status
// may (re)enter processing.
func statusAllowsProcessing(status string) bool {
	return status == models.StatusPending || status == models.StatusProcessing
}

// stageProgress maps each pipeline stage to the progress shown while the
// stage runs.
func stageProgress(stage string) int {
	switch stage {
	case models.StageExtracting:
		return 20
	case models.StageChunking:
		return 45
	case models.StageEmbedding:
		return 70
	case models.StageIndexing:
		return 90
	default:
		return 10
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
