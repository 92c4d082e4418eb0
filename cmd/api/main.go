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
	"go.uber.org/zap"

	"github.com/enterprise-kb/backend/internal/api/handlers"
	"github.com/enterprise-kb/backend/internal/cache/redis"
	"github.com/enterprise-kb/backend/internal/chunker"
	"github.com/enterprise-kb/backend/internal/documents"
	"github.com/enterprise-kb/backend/internal/extract"
	"github.com/enterprise-kb/backend/internal/ingestion"
	"github.com/enterprise-kb/backend/internal/llm"
	"github.com/enterprise-kb/backend/internal/metrics"
	"github.com/enterprise-kb/backend/internal/middleware/ratelimit"
	"github.com/enterprise-kb/backend/internal/middleware/security"
	"github.com/enterprise-kb/backend/internal/middleware/validation"
	"github.com/enterprise-kb/backend/internal/query"
	"github.com/enterprise-kb/backend/internal/storage/sqlite"
	"github.com/enterprise-kb/backend/internal/vector/milvus"
	"github.com/enterprise-kb/backend/pkg/config"
	appLogger "github.com/enterprise-kb/backend/pkg/logger"
)

func main() {
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

	appLogger.Info("Starting Enterprise Knowledge Base API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	if err := milvusClient.CreateCollection(context.Background()); err != nil {
		appLogger.Fatal("Failed to create collection", zap.Error(err))
	}

	var llmOpts []llm.Option
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLHours)*time.Hour,
		)
		if err != nil {
			appLogger.Warn("Embedding cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer redisClient.Close()
			llmOpts = append(llmOpts, llm.WithEmbeddingCache(redisClient))
		}
	}

	// The RAG generator runs at low temperature so answers stay close to
	// the retrieved text; the plain generator uses the configured value.
	ragLLM := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		append(llmOpts, llm.WithTemperature(0.1))...,
	)
	plainLLM := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		llmOpts...,
	)

	ch, err := chunker.New(chunker.Config{
		ChunkSize:             cfg.Chunking.ChunkSize,
		Overlap:               cfg.Chunking.ChunkOverlap,
		MinChunkChars:         cfg.Chunking.MinChunkChars,
		MinChunkLengthToEmbed: cfg.Chunking.MinChunkLengthToEmbed,
		MaxChunks:             cfg.Chunking.MaxChunks,
	}, nil)
	if err != nil {
		appLogger.Fatal("Invalid chunking configuration", zap.Error(err))
	}

	pipeline := ingestion.NewPipeline(
		sqliteClient,
		milvusClient,
		ragLLM,
		extract.NewRegistry(),
		ch,
		ingestion.Config{
			Workers:   cfg.Ingestion.Workers,
			QueueSize: cfg.Ingestion.QueueSize,
			BatchSize: cfg.Chunking.BatchSize,
		},
	)

	documentService, err := documents.NewService(sqliteClient, milvusClient, pipeline, cfg.Document)
	if err != nil {
		appLogger.Fatal("Failed to create document service", zap.Error(err))
	}

	composer := query.NewComposer(sqliteClient, milvusClient, ragLLM, ragLLM, plainLLM, cfg.Query)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{Logger: appLogger.GetLogger()})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		MaxQuestionLength: cfg.Query.MaxQuestionLength,
		Logger:            appLogger.GetLogger(),
	}))

	documentHandler := handlers.NewDocumentHandler(documentService)
	queryHandler := handlers.NewQueryHandler(composer)
	wsHandler := handlers.NewWebSocketHandler(composer)

	api := app.Group("/api/v1")

	api.Post("/documents", documentHandler.Upload)
	api.Get("/documents", documentHandler.List)
	api.Get("/documents/failed", documentHandler.Failed)
	api.Get("/documents/categories", documentHandler.Categories)
	api.Get("/documents/search", documentHandler.Search)
	api.Get("/documents/statistics", documentHandler.Statistics)
	api.Post("/documents/batch-delete", documentHandler.BatchDelete)
	api.Get("/documents/:id", documentHandler.Get)
	api.Delete("/documents/:id", documentHandler.Delete)
	api.Post("/documents/:id/reprocess", documentHandler.Reprocess)

	api.Post("/query", queryHandler.Ask)
	api.Get("/query/history", queryHandler.History)
	api.Delete("/query/history", queryHandler.ClearHistory)
	api.Get("/query/search", queryHandler.SearchHistory)
	api.Get("/query/statistics", queryHandler.Statistics)
	api.Get("/query/popular", queryHandler.Popular)
	api.Get("/query/sessions/:sessionId", queryHandler.SessionHistory)

	app.Use("/ws", handlers.WebSocketUpgrade())
	app.Get("/ws/query", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.Handler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ready"})
	})

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
	pipeline.Stop()
	appLogger.Info("Server stopped")
}
