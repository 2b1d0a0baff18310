package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Chunk is one contiguous span of a document's extracted text, stored in
// the chunks collection. ChunkID is "<document_id>_<index>" so re-ingesting
// a document overwrites rather than duplicates.
type Chunk struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	DocumentID  string             `bson:"document_id" json:"document_id"`
	ChunkID     string             `bson:"chunk_id" json:"chunk_id"`
	Index       int                `bson:"index" json:"index"`
	Page        int                `bson:"page" json:"page"`
	Text        string             `bson:"text" json:"text"`
	StartOffset int                `bson:"start_offset" json:"start_offset"`
	EndOffset   int                `bson:"end_offset" json:"end_offset"`
	CharCount   int                `bson:"char_count" json:"char_count"`
	WordCount   int                `bson:"word_count" json:"word_count"`
	Repetitive  bool               `bson:"repetitive,omitempty" json:"repetitive,omitempty"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
}

// ChunkVector is the vector index entry for one chunk. Seq is a global
// insertion sequence used to keep ranking stable when scores tie.
type ChunkVector struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	OwnerID    string             `bson:"owner_id" json:"owner_id"`
	DocumentID string             `bson:"document_id" json:"document_id"`
	ChunkID    string             `bson:"chunk_id" json:"chunk_id"`
	Index      int                `bson:"index" json:"index"`
	Seq        int64              `bson:"seq" json:"-"`
	Page       int                `bson:"page" json:"page"`
	Text       string             `bson:"text" json:"text"`
	Tags       []string           `bson:"tags,omitempty" json:"tags,omitempty"`
	Vector     []float32          `bson:"vector" json:"-"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
}

// Citation points an answer back at the chunk it was grounded on.
type Citation struct {
	DocumentID string  `bson:"document_id" json:"document_id"`
	ChunkID    string  `bson:"chunk_id" json:"chunk_id"`
	Page       int     `bson:"page" json:"page"`
	Snippet    string  `bson:"snippet" json:"snippet"`
	Score      float64 `bson:"score" json:"score"`
}
