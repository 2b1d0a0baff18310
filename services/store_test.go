package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Krunal96369/thinkdocs/models"
)

func pendingDoc(id, ownerID string) *models.Document {
	return &models.Document{
		ID:       id,
		OwnerID:  ownerID,
		Filename: id + ".txt",
		Status:   models.StatusPending,
	}
}

func TestStatusTransitionsForward(t *testing.T) {
	store := NewMemoryDocumentStore()
	ctx := context.Background()

	if err := store.InsertDocument(ctx, pendingDoc("doc1", "alice")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := store.SetStage(ctx, "doc1", models.StageExtracting, 0); err != nil {
		t.Fatalf("pending -> processing failed: %v", err)
	}
	doc, _ := store.GetDocument(ctx, "doc1")
	if doc.Status != models.StatusProcessing || doc.Stage != models.StageExtracting {
		t.Fatalf("expected processing/extracting, got %s/%s", doc.Status, doc.Stage)
	}
	if doc.Progress <= 0 {
		t.Fatalf("stage transition must set progress, got %d", doc.Progress)
	}

	if err := store.MarkCompleted(ctx, "doc1", models.DocumentMetadata{ChunkCount: 3}, "", nil); err != nil {
		t.Fatalf("processing -> completed failed: %v", err)
	}
	doc, _ = store.GetDocument(ctx, "doc1")
	if doc.Status != models.StatusCompleted || doc.Progress != 100 || doc.ProcessedAt == nil {
		t.Fatalf("completed document in bad shape: %+v", doc)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	store := NewMemoryDocumentStore()
	ctx := context.Background()

	store.InsertDocument(ctx, pendingDoc("done", "alice"))
	store.MarkCompleted(ctx, "done", models.DocumentMetadata{}, "", nil)

	if err := store.SetStage(ctx, "done", models.StageChunking, 0); !errors.Is(err, ErrDocumentTerminal) {
		t.Fatalf("SetStage on completed doc: want ErrDocumentTerminal, got %v", err)
	}
	if err := store.MarkFailed(ctx, "done", models.StageChunking, "late failure"); !errors.Is(err, ErrDocumentTerminal) {
		t.Fatalf("MarkFailed on completed doc: want ErrDocumentTerminal, got %v", err)
	}

	store.InsertDocument(ctx, pendingDoc("broken", "alice"))
	store.MarkFailed(ctx, "broken", models.StageExtracting, "corrupt file")

	if err := store.MarkCompleted(ctx, "broken", models.DocumentMetadata{}, "", nil); !errors.Is(err, ErrDocumentTerminal) {
		t.Fatalf("MarkCompleted on failed doc: want ErrDocumentTerminal, got %v", err)
	}
}

func TestTransitionsOnMissingDocument(t *testing.T) {
	store := NewMemoryDocumentStore()
	ctx := context.Background()

	if err := store.SetStage(ctx, "ghost", models.StageExtracting, 0); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("want ErrDocumentNotFound, got %v", err)
	}
	if err := store.MarkCompleted(ctx, "ghost", models.DocumentMetadata{}, "", nil); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("want ErrDocumentNotFound, got %v", err)
	}
	if _, err := store.GetDocument(ctx, "ghost"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("want ErrDocumentNotFound, got %v", err)
	}
}

func TestFindDocumentByHashSkipsFailed(t *testing.T) {
	store := NewMemoryDocumentStore()
	ctx := context.Background()

	failed := pendingDoc("old", "alice")
	failed.FileHash = "abc123"
	store.InsertDocument(ctx, failed)
	store.MarkFailed(ctx, "old", models.StageExtracting, "corrupt")

	if _, err := store.FindDocumentByHash(ctx, "alice", "abc123"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("failed uploads must not count as duplicates, got %v", err)
	}

	fresh := pendingDoc("new", "alice")
	fresh.FileHash = "abc123"
	store.InsertDocument(ctx, fresh)

	found, err := store.FindDocumentByHash(ctx, "alice", "abc123")
	if err != nil || found.ID != "new" {
		t.Fatalf("expected to find the fresh upload, got %v / %v", found, err)
	}

	if _, err := store.FindDocumentByHash(ctx, "bob", "abc123"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("hash lookup must be owner scoped, got %v", err)
	}
}

func TestListDocumentsTagFilter(t *testing.T) {
	store := NewMemoryDocumentStore()
	ctx := context.Background()

	a := pendingDoc("a", "alice")
	a.Tags = []string{"contracts"}
	a.UploadedAt = time.Now().Add(-2 * time.Hour)
	b := pendingDoc("b", "alice")
	b.Tags = []string{"reports"}
	b.UploadedAt = time.Now().Add(-1 * time.Hour)
	store.InsertDocument(ctx, a)
	store.InsertDocument(ctx, b)
	store.InsertDocument(ctx, pendingDoc("c", "bob"))

	docs, total, err := store.ListDocuments(ctx, "alice", "", 1, 10)
	if err != nil || total != 2 || len(docs) != 2 {
		t.Fatalf("expected 2 docs for alice, got %d (total %d, err %v)", len(docs), total, err)
	}
	if docs[0].ID != "b" {
		t.Fatalf("expected newest first, got %s", docs[0].ID)
	}

	docs, total, _ = store.ListDocuments(ctx, "alice", "contracts", 1, 10)
	if total != 1 || len(docs) != 1 || docs[0].ID != "a" {
		t.Fatalf("tag filter failed: got %d docs", len(docs))
	}
}

func TestListStaleProcessing(t *testing.T) {
	store := NewMemoryDocumentStore()
	ctx := context.Background()

	store.InsertDocument(ctx, pendingDoc("live", "alice"))
	store.SetStage(ctx, "live", models.StageEmbedding, 0)

	stale, err := store.ListStaleProcessing(ctx, time.Now().Add(-time.Hour))
	if err != nil || len(stale) != 0 {
		t.Fatalf("fresh document must not be stale, got %d", len(stale))
	}

	stale, err = store.ListStaleProcessing(ctx, time.Now().Add(time.Hour))
	if err != nil || len(stale) != 1 || stale[0].ID != "live" {
		t.Fatalf("expected the processing doc to be stale against a future cutoff, got %d", len(stale))
	}
}

func TestMessageHistoryScopedBySession(t *testing.T) {
	store := NewMemoryDocumentStore()
	ctx := context.Background()

	for _, m := range []models.ChatMessage{
		{OwnerID: "alice", SessionID: "s1", Role: "user", Content: "q1"},
		{OwnerID: "alice", SessionID: "s1", Role: "assistant", Content: "a1"},
		{OwnerID: "alice", SessionID: "s2", Role: "user", Content: "other session"},
		{OwnerID: "bob", SessionID: "s1", Role: "user", Content: "other owner"},
	} {
		msg := m
		if err := store.SaveMessage(ctx, &msg); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	msgs, err := store.ListMessages(ctx, "alice", "s1", 50)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages for alice/s1, got %d", len(msgs))
	}
	if msgs[0].Content != "q1" || msgs[1].Content != "a1" {
		t.Fatalf("messages out of order: %s, %s", msgs[0].Content, msgs[1].Content)
	}
}
