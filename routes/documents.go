package routes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Krunal96369/thinkdocs/internal/config"
	"github.com/Krunal96369/thinkdocs/internal/logger"
	"github.com/Krunal96369/thinkdocs/internal/queue"
	"github.com/Krunal96369/thinkdocs/middleware"
	"github.com/Krunal96369/thinkdocs/models"
	"github.com/Krunal96369/thinkdocs/services"
	"github.com/Krunal96369/thinkdocs/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// SetupDocumentRoutes registers the document lifecycle endpoints: upload,
// status polling, listing, content retrieval, deletion and corpus stats.
func SetupDocumentRoutes(router *gin.Engine, cfg *config.Config, store services.DocumentStore, index services.VectorIndex, queueClient *asynq.Client, rdb *redis.Client, authMiddleware *middleware.AuthMiddleware) {
	docs := router.Group("/documents")
	docs.Use(authMiddleware.RequireAuth())

	docs.POST("/upload", HandleDocumentUpload(cfg, store, queueClient))
	docs.GET("", ListDocuments(store))
	docs.GET("/:id/status", CheckDocumentStatus(store, rdb))
	docs.GET("/:id/content", GetDocumentContent(store))
	docs.DELETE("/:id", DeleteDocument(cfg, store, index, rdb))

	stats := router.Group("/stats")
	stats.Use(authMiddleware.RequireAuth())
	stats.GET("", GetCorpusStats(store, index))
}

// HandleDocumentUpload accepts a multipart upload, stores the raw file on
// disk, records a pending document and enqueues it for async processing.
// Format validation is deliberately deferred to the pipeline: an upload of
// an unsupported format is accepted here and fails during extraction.
func HandleDocumentUpload(cfg *config.Config, store services.DocumentStore, queueClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := middleware.GetOwnerID(c)
		if ownerID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error_code": "unauthorized",
				"message":    "Owner identity required for upload",
			})
			return
		}

		if err := c.Request.ParseMultipartForm(cfg.MaxFileSize); err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error_code": "file_too_large",
				"message":    "File size exceeds maximum limit",
			})
			return
		}

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "no_file",
				"message":    "No file provided",
			})
			return
		}
		defer file.Close()

		if header.Size > cfg.MaxFileSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error_code": "file_too_large",
				"message":    fmt.Sprintf("File size exceeds maximum limit of %d bytes", cfg.MaxFileSize),
			})
			return
		}
		if header.Size == 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "empty_file",
				"message":    "Uploaded file is empty",
			})
			return
		}

		documentID := uuid.NewString()

		uploadDir := filepath.Join(cfg.FileStorageDir, "documents", ownerID)
		if err := os.MkdirAll(uploadDir, 0755); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "directory_error",
				"message":    "Failed to create upload directory",
			})
			return
		}

		ext := strings.ToLower(filepath.Ext(header.Filename))
		filePath := filepath.Join(uploadDir, documentID+ext)
		dst, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "file_open_error",
				"message":    "Failed to open destination",
			})
			return
		}

		// Stream to disk and hash in one pass.
		hasher := sha256.New()
		_, err = io.Copy(io.MultiWriter(dst, hasher), io.LimitReader(file, cfg.MaxFileSize))
		dst.Close()
		if err != nil {
			os.Remove(filePath)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "file_save_error",
				"message":    "Failed to save file",
			})
			return
		}
		fileHash := hex.EncodeToString(hasher.Sum(nil))

		ctx := context.Background()

		// Duplicate detection by content hash. Failed uploads are not
		// counted as duplicates so they can be retried.
		if existing, err := store.FindDocumentByHash(ctx, ownerID, fileHash); err == nil && existing != nil {
			os.Remove(filePath)
			c.JSON(http.StatusConflict, gin.H{
				"error_code":  "duplicate_document",
				"message":     "An identical document has already been uploaded",
				"document_id": existing.ID,
				"status":      existing.Status,
			})
			return
		}

		now := time.Now()
		doc := &models.Document{
			ID:          documentID,
			OwnerID:     ownerID,
			Filename:    header.Filename,
			Title:       titleFromFilename(header.Filename),
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			FileHash:    fileHash,
			FilePath:    filePath,
			Status:      models.StatusPending,
			Progress:    0,
			Tags:        parseTags(c.PostForm("tags")),
			UploadedAt:  now,
			UpdatedAt:   now,
		}

		if err := store.InsertDocument(ctx, doc); err != nil {
			os.Remove(filePath)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "database_error",
				"message":    "Failed to create document record",
			})
			return
		}

		task, err := queue.NewDocumentProcessTask(documentID, ownerID)
		if err != nil {
			os.Remove(filePath)
			store.DeleteDocument(ctx, documentID)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "queue_error",
				"message":    "Failed to create processing task",
			})
			return
		}

		info, err := queueClient.Enqueue(task)
		if err != nil {
			os.Remove(filePath)
			store.DeleteDocument(ctx, documentID)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "queue_error",
				"message":    "Failed to enqueue processing task",
			})
			return
		}

		logger.Info("Document accepted for processing",
			"document_id", documentID,
			"owner_id", ownerID,
			"filename", header.Filename,
			"size", header.Size,
			"task_id", info.ID)

		c.JSON(http.StatusAccepted, models.UploadResponse{
			DocumentID: documentID,
			TaskID:     info.ID,
			Status:     models.StatusPending,
			Message:    "Document accepted for processing",
			StatusURL:  fmt.Sprintf("/documents/%s/status", documentID),
		})
	}
}

// CheckDocumentStatus reports the processing status for a document. While
// a document is processing, the worker's live progress cache in Redis is
// preferred over the persisted record.
func CheckDocumentStatus(store services.DocumentStore, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID := c.Param("id")
		ownerID := middleware.GetOwnerID(c)

		ctx := context.Background()
		doc, err := store.GetDocument(ctx, documentID)
		if err != nil || doc.OwnerID != ownerID {
			c.JSON(http.StatusNotFound, gin.H{
				"error_code": "document_not_found",
				"message":    "Document not found",
			})
			return
		}

		stage, progress := doc.Stage, doc.Progress
		if doc.Status == models.StatusProcessing {
			if cachedStage, cachedProgress, ok := services.CachedProgress(ctx, rdb, documentID); ok {
				stage, progress = cachedStage, cachedProgress
			}
		}

		resp := gin.H{
			"document_id": doc.ID,
			"filename":    doc.Filename,
			"status":      doc.Status,
			"stage":       stage,
			"progress":    progress,
			"size":        doc.Size,
			"tags":        doc.Tags,
			"uploaded_at": doc.UploadedAt,
			"updated_at":  doc.UpdatedAt,
		}
		if doc.Status == models.StatusCompleted {
			resp["metadata"] = doc.Metadata
			resp["processed_at"] = doc.ProcessedAt
			if doc.Warning != "" {
				resp["warning"] = doc.Warning
			}
		}
		if doc.Status == models.StatusFailed {
			resp["error_detail"] = doc.ErrorDetail
		}

		c.JSON(http.StatusOK, resp)
	}
}

// ListDocuments lists the caller's documents, newest first, optionally
// filtered by tag.
func ListDocuments(store services.DocumentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := middleware.GetOwnerID(c)
		tag := c.Query("tag")

		pageInt := 1
		limitInt := 10
		if p, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && p > 0 {
			pageInt = p
		}
		if l, err := strconv.Atoi(c.DefaultQuery("limit", "10")); err == nil && l > 0 && l <= 100 {
			limitInt = l
		}

		docs, total, err := store.ListDocuments(context.Background(), ownerID, tag, pageInt, limitInt)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "database_error",
				"message":    "Failed to retrieve documents",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"documents": docs,
			"pagination": gin.H{
				"page":        pageInt,
				"limit":       limitInt,
				"total":       total,
				"total_pages": (total + int64(limitInt) - 1) / int64(limitInt),
			},
		})
	}
}

// GetDocumentContent returns the extracted plain text of a completed
// document. The text is stored compressed and inflated on demand.
func GetDocumentContent(store services.DocumentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID := c.Param("id")
		ownerID := middleware.GetOwnerID(c)

		doc, err := store.GetDocument(context.Background(), documentID)
		if err != nil || doc.OwnerID != ownerID {
			c.JSON(http.StatusNotFound, gin.H{
				"error_code": "document_not_found",
				"message":    "Document not found",
			})
			return
		}

		if doc.Status != models.StatusCompleted {
			c.JSON(http.StatusConflict, gin.H{
				"error_code": "document_not_ready",
				"message":    fmt.Sprintf("Document is %s, content is available once processing completes", doc.Status),
			})
			return
		}

		text := ""
		if len(doc.ContentGz) > 0 {
			text, err = utils.GunzipText(doc.ContentGz)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error_code": "content_error",
					"message":    "Failed to decompress document content",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"document_id": doc.ID,
			"filename":    doc.Filename,
			"content":     text,
			"metadata":    doc.Metadata,
		})
	}
}

// DeleteDocument removes a document and everything derived from it. The
// record is deleted first so an in-flight pipeline run observes the
// missing record and halts; chunks, vectors, the stored file and cached
// progress are cleaned up after.
func DeleteDocument(cfg *config.Config, store services.DocumentStore, index services.VectorIndex, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID := c.Param("id")
		ownerID := middleware.GetOwnerID(c)

		ctx := context.Background()
		doc, err := store.GetDocument(ctx, documentID)
		if err != nil || doc.OwnerID != ownerID {
			c.JSON(http.StatusNotFound, gin.H{
				"error_code": "document_not_found",
				"message":    "Document not found",
			})
			return
		}

		if err := store.DeleteDocument(ctx, documentID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "database_error",
				"message":    "Failed to delete document",
			})
			return
		}

		if err := store.DeleteChunks(ctx, documentID); err != nil {
			logger.Warn("Failed to delete chunks", "document_id", documentID, "error", err)
		}
		if err := index.DeleteDocument(ctx, documentID); err != nil {
			logger.Warn("Failed to delete vectors", "document_id", documentID, "error", err)
		}
		removeDocumentFile(cfg, doc.FilePath)
		services.ClearCachedProgress(ctx, rdb, documentID)

		logger.Info("Document deleted", "document_id", documentID, "owner_id", ownerID)

		c.JSON(http.StatusOK, gin.H{
			"message":     "Document and associated data deleted",
			"document_id": documentID,
		})
	}
}

// GetCorpusStats reports aggregate counts for monitoring dashboards.
func GetCorpusStats(store services.DocumentStore, index services.VectorIndex) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := middleware.GetOwnerID(c)
		ctx := context.Background()

		docCount, err := store.CountDocuments(ctx, ownerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "database_error",
				"message":    "Failed to count documents",
			})
			return
		}
		chunkCount, _ := store.CountChunks(ctx)
		vectorCount, _ := index.Count(ctx)

		c.JSON(http.StatusOK, gin.H{
			"documents":    docCount,
			"chunks":       chunkCount,
			"vectors":      vectorCount,
			"generated_at": time.Now(),
		})
	}
}

func titleFromFilename(filename string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.TrimSpace(base)
}

func parseTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(strings.ToLower(t))
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// removeDocumentFile deletes a stored upload, refusing paths that escape
// the storage directory.
func removeDocumentFile(cfg *config.Config, path string) {
	if path == "" {
		return
	}
	rel, err := filepath.Rel(cfg.FileStorageDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	os.Remove(path)
}
