package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/docquery/backend/internal/answer"
	"github.com/docquery/backend/internal/api/handlers"
	rediscache "github.com/docquery/backend/internal/cache/redis"
	"github.com/docquery/backend/internal/ingestion"
	"github.com/docquery/backend/internal/llm"
	"github.com/docquery/backend/internal/metrics"
	"github.com/docquery/backend/internal/middleware/auth"
	"github.com/docquery/backend/internal/middleware/ratelimit"
	"github.com/docquery/backend/internal/middleware/security"
	"github.com/docquery/backend/internal/middleware/validation"
	"github.com/docquery/backend/internal/query"
	"github.com/docquery/backend/internal/retrieval"
	"github.com/docquery/backend/internal/storage/sqlite"
	"github.com/docquery/backend/internal/vector"
	"github.com/docquery/backend/internal/vector/local"
	"github.com/docquery/backend/internal/vector/milvus"
	"github.com/docquery/backend/pkg/config"
	appLogger "github.com/docquery/backend/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting DocQuery API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	index := openVectorIndex(cfg)
	if index != nil {
		defer index.Close()
	}

	var cacheClient *rediscache.Client
	if cfg.Redis.Enabled {
		cacheClient, err = rediscache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, caching disabled", zap.Error(err))
			cacheClient = nil
		} else {
			defer cacheClient.Close()
		}
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)
	if !llmClient.Configured() {
		appLogger.Warn("LLM API key not set, running in degraded mode")
	}

	chunker := ingestion.NewChunker(cfg.Ingest.MinChunkSize, cfg.Ingest.MaxChunkSize, cfg.Ingest.OverlapSize)
	processor := ingestion.NewProcessor(
		sqliteClient,
		index,
		llmClient,
		chunker,
		time.Duration(cfg.Ingest.FetchTimeout)*time.Second,
		cfg.Ingest.MaxUploadBytes,
	)

	rebuildIndexIfEmpty(cfg, index, sqliteClient, processor)

	var embCache retrieval.EmbeddingCache
	var respCache query.ResponseCache
	if cacheClient != nil {
		embCache = cacheClient
		respCache = cacheClient
	}
	retriever := retrieval.New(sqliteClient, index, llmClient, embCache)
	formatter := answer.NewFormatter(llmClient)
	queryEngine := query.NewEngine(sqliteClient, retriever, formatter, respCache, cfg.Retrieval.TopK)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	rateLimiter := ratelimit.New(ratelimit.Config{})
	defer rateLimiter.Stop()

	queryHandler := handlers.NewQueryHandler(queryEngine, processor)
	documentHandler := handlers.NewDocumentHandler(processor, sqliteClient, queryEngine, index, cacheClient)
	statsHandler := handlers.NewStatsHandler(sqliteClient, index, llmClient)
	wsHandler := handlers.NewWebSocketHandler(queryEngine)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})
	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1",
		rateLimiter.Middleware(),
		auth.Middleware(cfg.Auth.Token),
		validation.Middleware(validation.Config{}),
	)

	api.Post("/", queryHandler.HandleQuery)
	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/query/history", queryHandler.GetQueryHistory)

	api.Post("/upload", documentHandler.UploadDocument)
	api.Get("/documents", documentHandler.ListDocuments)
	api.Get("/documents/:id", documentHandler.GetDocument)
	api.Delete("/documents/:id", documentHandler.DeleteDocument)

	api.Get("/stats", statsHandler.GetStats)

	app.Use("/ws", auth.Middleware(cfg.Auth.Token), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

func openVectorIndex(cfg *config.Config) vector.Index {
	switch cfg.Vector.Backend {
	case "milvus":
		client, err := milvus.NewClient(cfg.Vector.Endpoint, cfg.Vector.CollectionName, cfg.Vector.Dim)
		if err != nil {
			appLogger.Fatal("Failed to connect to Milvus", zap.Error(err))
		}
		if err := client.EnsureCollection(context.Background()); err != nil {
			appLogger.Fatal("Failed to ensure Milvus collection", zap.Error(err))
		}
		return client
	case "local":
		index, err := local.Open(cfg.Vector.IndexPath, cfg.Vector.MetadataPath)
		if err != nil {
			appLogger.Fatal("Failed to open local vector index", zap.Error(err))
		}
		return index
	default:
		appLogger.Fatal("Unknown vector backend", zap.String("backend", cfg.Vector.Backend))
		return nil
	}
}

// rebuildIndexIfEmpty restores the local index from the relational store
// after the index file was lost or deleted.
func rebuildIndexIfEmpty(cfg *config.Config, index vector.Index, db *sqlite.Client, processor *ingestion.Processor) {
	if cfg.Vector.Backend != "local" || index == nil {
		return
	}

	indexed, err := index.Count(context.Background())
	if err != nil || indexed > 0 {
		return
	}

	stored, err := db.CountChunks()
	if err != nil || stored == 0 {
		return
	}

	appLogger.Info("Local index empty but store has chunks, rebuilding",
		zap.Int("stored_chunks", stored))

	if err := processor.ReindexAll(context.Background()); err != nil {
		appLogger.Warn("Index rebuild failed", zap.Error(err))
	}
}
