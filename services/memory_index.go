package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Krunal96369/thinkdocs/models"
)

// MemoryVectorIndex is an in-process VectorIndex used in tests and in
// single-node deployments that don't want the Mongo round trip. It keeps
// the same ranking semantics as the Mongo index.
type MemoryVectorIndex struct {
	mu      sync.RWMutex
	entries map[string]models.ChunkVector // keyed by chunk_id
	nextSeq int64
	dims    int
}

func NewMemoryVectorIndex(dims int) *MemoryVectorIndex {
	return &MemoryVectorIndex{
		entries: make(map[string]models.ChunkVector),
		dims:    dims,
	}
}

func (idx *MemoryVectorIndex) Upsert(_ context.Context, entries []models.ChunkVector) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, entry := range entries {
		if idx.dims > 0 && len(entry.Vector) != idx.dims {
			return fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(entry.Vector), idx.dims)
		}
	}

	now := time.Now()
	for _, entry := range entries {
		if existing, ok := idx.entries[entry.ChunkID]; ok {
			// Replacing keeps the original slot in the ordering.
			entry.Seq = existing.Seq
		} else {
			idx.nextSeq++
			entry.Seq = idx.nextSeq
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		idx.entries[entry.ChunkID] = entry
	}
	return nil
}

func (idx *MemoryVectorIndex) Query(_ context.Context, vector []float32, topK int, filter QueryFilter) ([]Match, error) {
	if idx.dims > 0 && len(vector) != idx.dims {
		return nil, fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(vector), idx.dims)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var candidates []scoredEntry
	for _, entry := range idx.entries {
		if !matchesFilter(entry, filter) {
			continue
		}
		if len(entry.Vector) != len(vector) {
			continue
		}
		candidates = append(candidates, scoredEntry{
			entry: entry,
			score: cosineSimilarity(vector, entry.Vector),
			seq:   entry.Seq,
		})
	}

	return rankMatches(candidates, topK), nil
}

func (idx *MemoryVectorIndex) DeleteDocument(_ context.Context, documentID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for chunkID, entry := range idx.entries {
		if entry.DocumentID == documentID {
			delete(idx.entries, chunkID)
		}
	}
	return nil
}

func (idx *MemoryVectorIndex) Count(_ context.Context) (int64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return int64(len(idx.entries)), nil
}

func matchesFilter(entry models.ChunkVector, filter QueryFilter) bool {
	if filter.OwnerID != "" && entry.OwnerID != filter.OwnerID {
		return false
	}
	if len(filter.DocumentIDs) > 0 {
		found := false
		for _, id := range filter.DocumentIDs {
			if entry.DocumentID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.Tags) > 0 {
		found := false
		for _, want := range filter.Tags {
			for _, have := range entry.Tags {
				if want == have {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}
