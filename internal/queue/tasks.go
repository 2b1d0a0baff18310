package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Krunal96369/thinkdocs/internal/config"
	"github.com/Krunal96369/thinkdocs/internal/logger"
	"github.com/Krunal96369/thinkdocs/services"
)

// RedisConnOpt builds the asynq Redis connection options from config,
// accepting either a bare host:port or a redis:// URL.
func RedisConnOpt(cfg *config.Config) asynq.RedisConnOpt {
	if strings.HasPrefix(cfg.RedisURL, "redis://") || strings.HasPrefix(cfg.RedisURL, "rediss://") {
		if opt, err := asynq.ParseRedisURI(cfg.RedisURL); err == nil {
			return opt
		}
	}
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

const (
	TaskDocumentProcess = "document:process"
)

type DocumentProcessPayload struct {
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
}

// NewDocumentProcessTask builds the ingestion task for one uploaded
// document.
func NewDocumentProcessTask(documentID, ownerID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DocumentProcessPayload{
		DocumentID: documentID,
		OwnerID:    ownerID,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskDocumentProcess,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

// TaskProcessor wires asynq task handlers to the ingestion pipeline.
type TaskProcessor struct {
	ingestor *services.Ingestor
}

func NewTaskProcessor(ingestor *services.Ingestor) *TaskProcessor {
	return &TaskProcessor{ingestor: ingestor}
}

// ProcessDocument handles one ingestion task. Document-level failures
// (bad format, corrupt file) are recorded on the document inside the
// Ingestor and do not error the task; only infrastructure failures
// propagate, so asynq retries are reserved for problems a retry can fix.
func (p *TaskProcessor) ProcessDocument(ctx context.Context, t *asynq.Task) error {
	var payload DocumentProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	taskID, _ := asynq.GetTaskID(ctx)
	logger.Info("Processing document", "document_id", payload.DocumentID, "task_id", taskID)

	if err := p.ingestor.Process(ctx, payload.DocumentID, taskID); err != nil {
		logger.Error("Document processing task failed", "document_id", payload.DocumentID, "error", err)
		return err
	}

	return nil
}
