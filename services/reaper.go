package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/Krunal96369/thinkdocs/internal/logger"
)

// Reaper fails documents stuck in processing, usually after a worker
// crash left them mid-pipeline. It runs on a fixed schedule in the
// worker process.
type Reaper struct {
	store      DocumentStore
	index      VectorIndex
	staleAfter time.Duration
	scheduler  *gocron.Scheduler
}

func NewReaper(store DocumentStore, index VectorIndex, staleAfter time.Duration) *Reaper {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &Reaper{
		store:      store,
		index:      index,
		staleAfter: staleAfter,
		scheduler:  gocron.NewScheduler(time.UTC),
	}
}

// Start schedules the sweep and returns immediately.
func (r *Reaper) Start() error {
	_, err := r.scheduler.Every(5).Minutes().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := r.Sweep(ctx); err != nil {
			logger.Error("Stale job sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule stale job sweep: %w", err)
	}
	r.scheduler.StartAsync()
	logger.Info("Stale ingestion job reaper started", "stale_after", r.staleAfter.String())
	return nil
}

func (r *Reaper) Stop() {
	r.scheduler.Stop()
}

// Sweep fails every document that has sat in processing longer than the
// stale window and rolls back its partial artifacts.
func (r *Reaper) Sweep(ctx context.Context) error {
	cutoff := nowUTC().Add(-r.staleAfter)
	stale, err := r.store.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, doc := range stale {
		detail := fmt.Sprintf("processing stalled for more than %s", r.staleAfter)
		if err := r.store.MarkFailed(ctx, doc.ID, doc.Stage, detail); err != nil {
			logger.Warn("Failed to reap stale document", "document_id", doc.ID, "error", err)
			continue
		}
		if err := r.store.DeleteChunks(ctx, doc.ID); err != nil {
			logger.Warn("Failed to delete chunks for stale document", "document_id", doc.ID, "error", err)
		}
		if err := r.index.DeleteDocument(ctx, doc.ID); err != nil {
			logger.Warn("Failed to delete vectors for stale document", "document_id", doc.ID, "error", err)
		}
		logger.Info("Reaped stale ingestion", "document_id", doc.ID, "stage", doc.Stage)
	}

	return nil
}
