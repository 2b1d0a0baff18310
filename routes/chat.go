package routes

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Krunal96369/thinkdocs/internal/config"
	"github.com/Krunal96369/thinkdocs/internal/logger"
	"github.com/Krunal96369/thinkdocs/middleware"
	"github.com/Krunal96369/thinkdocs/models"
	"github.com/Krunal96369/thinkdocs/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SetupChatRoutes registers the question answering endpoints. Answers are
// grounded in the caller's indexed documents; when nothing relevant is
// found the endpoints say so instead of letting the model guess.
func SetupChatRoutes(router *gin.Engine, cfg *config.Config, store services.DocumentStore, retriever *services.Retriever, authMiddleware *middleware.AuthMiddleware) {
	chat := router.Group("/chat")
	chat.Use(authMiddleware.RequireAuth())

	chat.POST("/query", func(c *gin.Context) {
		var req models.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "Invalid request data",
				"details":    gin.H{"error": err.Error()},
			})
			return
		}

		ownerID := middleware.GetOwnerID(c)
		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
		defer cancel()

		result, err := retriever.Answer(ctx, services.AnswerRequest{
			Query:       req.Message,
			OwnerID:     ownerID,
			DocumentIDs: req.DocumentIDs,
			Tags:        req.Tags,
			History:     req.History,
		})
		if err != nil {
			if errors.Is(err, services.ErrNoRelevantContent) {
				saveChatTurn(store, ownerID, sessionID, req.Message, noRelevantContentMessage, nil)
				c.JSON(http.StatusOK, gin.H{
					"answer":              noRelevantContentMessage,
					"citations":           []models.Citation{},
					"no_relevant_content": true,
					"session_id":          sessionID,
					"timestamp":           time.Now(),
				})
				return
			}
			logger.Error("Failed to answer query", "owner_id", ownerID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error_code": "generation_error",
				"message":    "Failed to generate an answer, please try again",
			})
			return
		}

		saveChatTurn(store, ownerID, sessionID, req.Message, result.Answer, result.Citations)

		c.JSON(http.StatusOK, models.AnswerResponse{
			Answer:    result.Answer,
			Citations: result.Citations,
			SessionID: sessionID,
			Timestamp: time.Now(),
		})
	})

	chat.POST("/stream", func(c *gin.Context) {
		var req models.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "Invalid request data",
				"details":    gin.H{"error": err.Error()},
			})
			return
		}

		ownerID := middleware.GetOwnerID(c)
		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		ctx, cancel := context.WithTimeout(c.Request.Context(), 120*time.Second)
		defer cancel()

		result, err := retriever.AnswerStream(ctx, services.AnswerRequest{
			Query:       req.Message,
			OwnerID:     ownerID,
			DocumentIDs: req.DocumentIDs,
			Tags:        req.Tags,
			History:     req.History,
		}, func(token string) error {
			c.SSEvent("token", token)
			c.Writer.Flush()
			return nil
		})
		if err != nil {
			if errors.Is(err, services.ErrNoRelevantContent) {
				saveChatTurn(store, ownerID, sessionID, req.Message, noRelevantContentMessage, nil)
				c.SSEvent("no_relevant_content", gin.H{
					"message":    noRelevantContentMessage,
					"session_id": sessionID,
				})
				c.Writer.Flush()
				return
			}
			logger.Error("Failed to stream answer", "owner_id", ownerID, "error", err)
			c.SSEvent("error", gin.H{"message": "Failed to generate an answer"})
			c.Writer.Flush()
			return
		}

		saveChatTurn(store, ownerID, sessionID, req.Message, result.Answer, result.Citations)

		c.SSEvent("citations", result.Citations)
		c.SSEvent("done", gin.H{"session_id": sessionID})
		c.Writer.Flush()
	})

	chat.GET("/sessions/:session_id/messages", func(c *gin.Context) {
		ownerID := middleware.GetOwnerID(c)
		sessionID := c.Param("session_id")

		limit := 50
		if l, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && l > 0 && l <= 200 {
			limit = l
		}

		messages, err := store.ListMessages(context.Background(), ownerID, sessionID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "database_error",
				"message":    "Failed to retrieve messages",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"session_id": sessionID,
			"messages":   messages,
			"total":      len(messages),
		})
	})
}

const noRelevantContentMessage = "I could not find anything relevant to your question in the indexed documents."

// saveChatTurn persists the user question and the assistant answer as a
// pair. Persistence failures are logged but never fail the request, the
// answer was already produced.
func saveChatTurn(store services.DocumentStore, ownerID, sessionID, question, answer string, citations []models.Citation) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	userMsg := &models.ChatMessage{
		ID:        primitive.NewObjectID(),
		SessionID: sessionID,
		OwnerID:   ownerID,
		Role:      "user",
		Content:   question,
		Timestamp: now,
	}
	assistantMsg := &models.ChatMessage{
		ID:        primitive.NewObjectID(),
		SessionID: sessionID,
		OwnerID:   ownerID,
		Role:      "assistant",
		Content:   answer,
		Citations: citations,
		Timestamp: now.Add(time.Millisecond),
	}

	if err := store.SaveMessage(ctx, userMsg); err != nil {
		logger.Warn("Failed to save user message", "session_id", sessionID, "error", err)
		return
	}
	if err := store.SaveMessage(ctx, assistantMsg); err != nil {
		logger.Warn("Failed to save assistant message", "session_id", sessionID, "error", err)
	}
}
