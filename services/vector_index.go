package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Krunal96369/thinkdocs/models"
)

// ErrDimensionMismatch is returned when a vector's length does not match
// the index's configured dimensionality.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// QueryFilter narrows a similarity search. Zero-value fields are ignored.
type QueryFilter struct {
	OwnerID     string
	DocumentIDs []string
	Tags        []string
}

// Match is one ranked retrieval hit.
type Match struct {
	ChunkID    string
	DocumentID string
	Index      int
	Page       int
	Text       string
	Score      float64
}

// VectorIndex stores chunk vectors and answers similarity queries.
// Results are ranked by cosine similarity, descending; equal scores are
// broken by insertion order so a query is deterministic for a given
// index state.
type VectorIndex interface {
	Upsert(ctx context.Context, entries []models.ChunkVector) error
	Query(ctx context.Context, vector []float32, topK int, filter QueryFilter) ([]Match, error)
	DeleteDocument(ctx context.Context, documentID string) error
	Count(ctx context.Context) (int64, error)
}

// cosineSimilarity computes cos(a, b); zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rankMatches sorts candidates by score descending with seq as the
// stable tie-break and truncates to topK.
func rankMatches(candidates []scoredEntry, topK int) []Match {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].seq < candidates[j].seq
	})

	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}

	matches := make([]Match, len(candidates))
	for i, c := range candidates {
		matches[i] = Match{
			ChunkID:    c.entry.ChunkID,
			DocumentID: c.entry.DocumentID,
			Index:      c.entry.Index,
			Page:       c.entry.Page,
			Text:       c.entry.Text,
			Score:      c.score,
		}
	}
	return matches
}

type scoredEntry struct {
	entry models.ChunkVector
	score float64
	seq   int64
}

// MongoVectorIndex keeps vectors in the chunk_vectors collection and
// scores candidates in process. Entries are upserted by
// (document_id, chunk_id) so re-ingestion replaces instead of duplicating.
type MongoVectorIndex struct {
	collection *mongo.Collection
	counters   *mongo.Collection
	dims       int
}

func NewMongoVectorIndex(db *mongo.Database, dims int) *MongoVectorIndex {
	return &MongoVectorIndex{
		collection: db.Collection("chunk_vectors"),
		counters:   db.Collection("counters"),
		dims:       dims,
	}
}

// nextSeq hands out monotonically increasing insertion sequence numbers
// through a counters document, so ordering survives process restarts.
func (idx *MongoVectorIndex) nextSeq(ctx context.Context, n int64) (int64, error) {
	var result struct {
		Value int64 `bson:"value"`
	}
	err := idx.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "chunk_vector_seq"},
		bson.M{"$inc": bson.M{"value": n}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&result)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence: %w", err)
	}
	return result.Value - n + 1, nil
}

func (idx *MongoVectorIndex) Upsert(ctx context.Context, entries []models.ChunkVector) error {
	if len(entries) == 0 {
		return nil
	}

	for _, entry := range entries {
		if idx.dims > 0 && len(entry.Vector) != idx.dims {
			return fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(entry.Vector), idx.dims)
		}
	}

	firstSeq, err := idx.nextSeq(ctx, int64(len(entries)))
	if err != nil {
		return err
	}

	writes := make([]mongo.WriteModel, 0, len(entries))
	now := time.Now()
	for i, entry := range entries {
		entry.Seq = firstSeq + int64(i)
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"document_id": entry.DocumentID, "chunk_id": entry.ChunkID}).
			SetUpdate(bson.M{"$set": bson.M{
				"owner_id":   entry.OwnerID,
				"index":      entry.Index,
				"seq":        entry.Seq,
				"page":       entry.Page,
				"text":       entry.Text,
				"tags":       entry.Tags,
				"vector":     entry.Vector,
				"created_at": entry.CreatedAt,
			}}).
			SetUpsert(true))
	}

	_, err = idx.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to upsert chunk vectors: %w", err)
	}
	return nil
}

func (idx *MongoVectorIndex) Query(ctx context.Context, vector []float32, topK int, filter QueryFilter) ([]Match, error) {
	if idx.dims > 0 && len(vector) != idx.dims {
		return nil, fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(vector), idx.dims)
	}

	mongoFilter := bson.M{}
	if filter.OwnerID != "" {
		mongoFilter["owner_id"] = filter.OwnerID
	}
	if len(filter.DocumentIDs) > 0 {
		mongoFilter["document_id"] = bson.M{"$in": filter.DocumentIDs}
	}
	if len(filter.Tags) > 0 {
		mongoFilter["tags"] = bson.M{"$in": filter.Tags}
	}

	cursor, err := idx.collection.Find(ctx, mongoFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk vectors: %w", err)
	}
	defer cursor.Close(ctx)

	var candidates []scoredEntry
	for cursor.Next(ctx) {
		var entry models.ChunkVector
		if err := cursor.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode chunk vector: %w", err)
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
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return rankMatches(candidates, topK), nil
}

func (idx *MongoVectorIndex) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := idx.collection.DeleteMany(ctx, bson.M{"document_id": documentID})
	if err != nil {
		return fmt.Errorf("failed to delete chunk vectors for document %s: %w", documentID, err)
	}
	return nil
}

func (idx *MongoVectorIndex) Count(ctx context.Context) (int64, error) {
	return idx.collection.CountDocuments(ctx, bson.M{})
}
