package models

import "time"

// Document processing status values. A document only ever moves forward
// through these: pending -> processing -> completed | failed. Once a
// document is completed or failed its status never changes again.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Pipeline stages recorded on a document while it is processing.
const (
	StageExtracting = "extracting"
	StageChunking   = "chunking"
	StageEmbedding  = "embedding"
	StageIndexing   = "indexing"
)

// Document is the canonical record for an uploaded file, stored in the
// documents collection and keyed by a UUID string.
type Document struct {
	ID          string           `bson:"_id" json:"id"`
	OwnerID     string           `bson:"owner_id" json:"owner_id"`
	Filename    string           `bson:"filename" json:"filename"`
	Title       string           `bson:"title" json:"title"`
	ContentType string           `bson:"content_type" json:"content_type"`
	Size        int64            `bson:"size" json:"size"`
	FileHash    string           `bson:"file_hash" json:"-"`
	FilePath    string           `bson:"file_path" json:"-"`
	Status      string           `bson:"status" json:"status"`
	Stage       string           `bson:"stage,omitempty" json:"stage,omitempty"`
	Progress    int              `bson:"progress" json:"progress"`
	ErrorDetail string           `bson:"error_detail,omitempty" json:"error_detail,omitempty"`
	Warning     string           `bson:"warning,omitempty" json:"warning,omitempty"`
	Tags        []string         `bson:"tags,omitempty" json:"tags,omitempty"`
	Metadata    DocumentMetadata `bson:"metadata" json:"metadata"`
	// ContentGz holds the full extracted text, gzip compressed. Kept on
	// the record so the original text can be served without re-extraction.
	ContentGz   []byte     `bson:"content_gz,omitempty" json:"-"`
	UploadedAt  time.Time  `bson:"uploaded_at" json:"uploaded_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// DocumentMetadata is filled in as the pipeline learns about the document.
type DocumentMetadata struct {
	Pages            int     `bson:"pages" json:"pages"`
	WordCount        int     `bson:"word_count" json:"word_count"`
	CharacterCount   int     `bson:"character_count" json:"character_count"`
	ChunkCount       int     `bson:"chunk_count" json:"chunk_count"`
	Language         string  `bson:"language,omitempty" json:"language,omitempty"`
	ExtractionMethod string  `bson:"extraction_method,omitempty" json:"extraction_method,omitempty"`
	QualityScore     float64 `bson:"quality_score,omitempty" json:"quality_score,omitempty"`
}

// UploadResponse is returned from the async upload endpoint once the
// document record exists and the processing task is enqueued.
type UploadResponse struct {
	DocumentID string `json:"document_id"`
	TaskID     string `json:"task_id,omitempty"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	StatusURL  string `json:"status_url"`
}

// IngestionJob tracks one processing attempt for a document. Jobs live in
// the ingestion_jobs collection and survive the document they belong to,
// which makes failed runs inspectable after cleanup.
type IngestionJob struct {
	ID         string     `bson:"_id,omitempty" json:"id"`
	DocumentID string     `bson:"document_id" json:"document_id"`
	TaskID     string     `bson:"task_id,omitempty" json:"task_id,omitempty"`
	Stage      string     `bson:"stage" json:"stage"`
	Attempts   int        `bson:"attempts" json:"attempts"`
	LastError  string     `bson:"last_error,omitempty" json:"last_error,omitempty"`
	StartedAt  time.Time  `bson:"started_at" json:"started_at"`
	FinishedAt *time.Time `bson:"finished_at,omitempty" json:"finished_at,omitempty"`
}
