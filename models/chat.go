package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// QueryRequest is the body for /chat/query and /chat/stream.
// DocumentIDs and Tags narrow retrieval; empty means search everything
// the caller owns.
type QueryRequest struct {
	Message     string     `json:"message" binding:"required,min=1,max=2000"`
	SessionID   string     `json:"session_id,omitempty"`
	DocumentIDs []string   `json:"document_ids,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	History     []ChatTurn `json:"history,omitempty"`
}

// ChatTurn is one prior exchange supplied by the caller for follow-up
// questions. Role is "user" or "assistant".
type ChatTurn struct {
	Role    string `bson:"role" json:"role"`
	Content string `bson:"content" json:"content"`
}

// AnswerResponse is returned from /chat/query.
type AnswerResponse struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	SessionID string     `json:"session_id"`
	Timestamp time.Time  `json:"timestamp"`
}

// ChatMessage is one persisted message in a chat session.
type ChatMessage struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID string             `bson:"session_id" json:"session_id"`
	OwnerID   string             `bson:"owner_id" json:"owner_id"`
	Role      string             `bson:"role" json:"role"`
	Content   string             `bson:"content" json:"content"`
	Citations []Citation         `bson:"citations,omitempty" json:"citations,omitempty"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
}
