package main

import (
	"context"
	"log"
	"time"

	"github.com/Krunal96369/thinkdocs/internal/ai"
	"github.com/Krunal96369/thinkdocs/internal/config"
	"github.com/Krunal96369/thinkdocs/internal/logger"
	"github.com/Krunal96369/thinkdocs/internal/queue"
	"github.com/Krunal96369/thinkdocs/internal/telemetry"
	"github.com/Krunal96369/thinkdocs/services"

	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("thinkdocs-worker", cfg.OTLPEndpoint)
		if err != nil {
			log.Fatal("Failed to initialize tracer:", err)
		}
		defer shutdown()
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to initialize metrics:", err)
	}

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()
	db := mongoClient.Database(cfg.DBName)

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	store := services.NewMongoDocumentStore(db)

	var index services.VectorIndex
	if cfg.VectorBackend == "memory" {
		index = services.NewMemoryVectorIndex(cfg.VectorDimensions)
	} else {
		index = services.NewMongoVectorIndex(db, cfg.VectorDimensions)
	}

	// Initialize Gemini embedding client
	embedClient, err := ai.NewGeminiEmbedder(context.Background(), cfg.GeminiAPIKey, cfg.EmbeddingsModel, cfg.VectorDimensions)
	if err != nil {
		log.Fatal("Failed to initialize embedding client:", err)
	}
	defer embedClient.Close()

	extractor := services.NewExtractor(cfg)
	chunker := services.NewChunker(cfg.MaxChunkSize, cfg.ChunkOverlap, cfg.MinChunkSize)
	embedder := services.NewEmbeddingService(embedClient, cfg.EmbeddingBatchSize, cfg.RetryMaxAttempts, time.Duration(cfg.RetryBackoffMs)*time.Millisecond, metrics)

	ingestor := services.NewIngestor(cfg, store, index, extractor, chunker, embedder, rdb, metrics)

	// Reap documents stuck in processing after a worker crash
	reaper := services.NewReaper(store, index, time.Duration(cfg.StaleJobMinutes)*time.Minute)
	if err := reaper.Start(); err != nil {
		log.Fatal("Failed to start stale job reaper:", err)
	}
	defer reaper.Stop()

	// Create Asynq server
	server := asynq.NewServer(
		queue.RedisConnOpt(cfg),
		asynq.Config{
			Concurrency: 20,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	// Create task processor
	processor := queue.NewTaskProcessor(ingestor)

	// Create mux and register handlers
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskDocumentProcess, processor.ProcessDocument)

	log.Println("🚀 Starting ingestion worker...")
	log.Printf("   Concurrency: 20")
	log.Printf("   Queues: critical(6), default(3), low(1)")
	log.Printf("   Vector backend: %s", cfg.VectorBackend)

	// Start the server
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
