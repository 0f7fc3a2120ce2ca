package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Minerva/internal/command"
	"Minerva/internal/composer"
	"Minerva/internal/config"
	"Minerva/internal/conversation/api"
	"Minerva/internal/conversation/service"
	"Minerva/internal/dal"
	"Minerva/internal/database/kafka"
	"Minerva/internal/database/milvus"
	"Minerva/internal/database/mysql"
	"Minerva/internal/database/redis"
	"Minerva/internal/embedding"
	"Minerva/internal/ingest"
	"Minerva/internal/llm"
	"Minerva/internal/resolver"
	"Minerva/internal/retrieval"
	"Minerva/internal/thread"
	"Minerva/internal/vectorsync"
	"Minerva/internal/vectorstore"
	"Minerva/pkg/logger"

	minervahttp "Minerva/pkg/http"

	redislib "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger
	level, err := logrus.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.Init(level)
	appLogger := logger.New("conversation_service", "", "")
	appLogger.Info("Logger initialized")

	ctx := context.Background()

	// MySQL and Milvus are fatal dependencies: the service refuses to
	// start without them rather than serve with partial state.
	db, err := mysql.GetDB(&cfg.Databases.MySQL)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	appLogger.Info("MySQL connection established")

	milvusClient, err := milvus.GetClient(ctx, &cfg.Databases.Milvus)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	if err := milvusClient.EnsureCollections(ctx); err != nil {
		appLogger.Fatal(err.Error())
	}
	milvusClient.StartAutoFlush(30 * time.Second)
	appLogger.Info("Milvus collections ready")

	// Redis is an accelerator: a failed connection degrades to running
	// without the cache layer.
	var redisClient *redislib.Client
	if cfg.Databases.Redis.Enabled {
		redisClient, err = redis.GetClient(&cfg.Databases.Redis)
		if err != nil {
			appLogger.Warn(fmt.Sprintf("Redis unavailable, running without cache: %v", err))
			redisClient = nil
		} else {
			appLogger.Info("Redis cache connected")
		}
	}

	auditPublisher := kafka.NewAuditPublisher(&cfg.Databases.Kafka)
	if auditPublisher != nil {
		appLogger.Info("Kafka audit publisher ready")
	}

	embedder, err := embedding.NewEmdModel(cfg.Embedding)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	model, err := llm.NewClient(cfg.LLM)
	if err != nil {
		appLogger.Fatal(err.Error())
	}

	// Storage adapters
	threadStore := thread.NewSQLStore(db)
	docDAL := dal.NewDocDAL(db)
	vectors, err := vectorstore.NewStore(milvusClient, appLogger)
	if err != nil {
		appLogger.Fatal(err.Error())
	}

	// Thread layers: in-process runtime, Redis cache, vector mirror.
	runtime, err := thread.NewRuntime(cfg.Conversation.ActiveThreads)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	threadCache := thread.NewCache(redisClient, cfg.Conversation.CacheTTLDuration(), appLogger)
	mirror := thread.NewMirror(threadStore, vectors, embedder, cfg.Databases.Milvus.ThreadCollection, appLogger)
	threadManager := thread.NewManager(threadStore, threadCache, runtime, mirror, cfg.Conversation, appLogger)

	// Retrieval fan-out across the configured knowledge collections.
	collections := make([]string, 0, len(cfg.Databases.Milvus.Collections))
	priorities := make(map[string]int, len(cfg.Databases.Milvus.Collections))
	for _, col := range cfg.Databases.Milvus.Collections {
		collections = append(collections, col.Name)
		priorities[col.Name] = col.Priority
	}
	orchestrator := retrieval.NewOrchestrator(vectors, docDAL, embedder, priorities, appLogger)

	// Command path: registry, engine, breaker-wrapped executor.
	registry, err := command.LoadRegistry(cfg.Conversation.CommandsPath)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	engine := command.NewEngine(registry)

	breakerTimeout, err := time.ParseDuration(cfg.Middleware.CircuitBreaker.Timeout)
	if err != nil || breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}
	httpClient := minervahttp.NewClient(cfg.Conversation.CommandTimeoutDuration(), minervahttp.BreakerConfig{
		Enabled:          cfg.Middleware.CircuitBreaker.Enabled,
		FailureThreshold: cfg.Middleware.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.Middleware.CircuitBreaker.SuccessThreshold,
		OpenTimeout:      breakerTimeout,
	})
	executor := command.NewExecutor(registry, httpClient, auditPublisher, cfg.Conversation.CommandBaseURL, cfg.Conversation.CommandTimeoutDuration(), appLogger)

	splitter, err := ingest.NewTokenSplitter(cfg.Conversation.ChunkSize, cfg.Conversation.ChunkOverlap)
	if err != nil {
		appLogger.Fatal(err.Error())
	}
	ingestor := ingest.NewIngestor(docDAL, vectors, embedder, splitter, appLogger)

	conversationService := service.New(
		threadManager,
		resolver.New(appLogger),
		orchestrator,
		engine,
		executor,
		composer.New(model),
		ingestor,
		collections,
		cfg.Conversation,
		appLogger,
	)
	appLogger.Info("Dependencies injected")

	// Background reconciliation of unmirrored rows.
	reconciler := vectorsync.NewReconciler(threadStore, mirror, docDAL, vectors, embedder, cfg.Conversation.ReconcileInterval(), appLogger)
	reconciler.Start()
	appLogger.Info("Reconciliation worker started")

	handler := api.NewHandler(conversationService, func() map[string]string {
		statuses := map[string]string{"mysql": "ok", "milvus": "ok"}
		probeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := mysql.HealthCheck(probeCtx); err != nil {
			statuses["mysql"] = err.Error()
		}
		if err := milvusClient.HealthCheck(probeCtx); err != nil {
			statuses["milvus"] = err.Error()
		}
		if redisClient != nil {
			statuses["redis"] = "ok"
			if err := redis.HealthCheck(probeCtx); err != nil {
				statuses["redis"] = err.Error()
			}
		}
		return statuses
	})
	router := api.SetupRouter(handler, cfg)

	server := &http.Server{
		Addr:    cfg.App.Address,
		Handler: router,
	}

	go func() {
		appLogger.Info("Starting server on " + cfg.App.Address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(err.Error())
		}
	}()

	// Graceful shutdown: stop intake, drain the reconciler, flush Milvus,
	// close connections.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn(fmt.Sprintf("server shutdown: %v", err))
	}

	reconciler.Stop()
	milvusClient.StopAutoFlush(shutdownCtx)
	if err := milvusClient.FlushAll(shutdownCtx); err != nil {
		appLogger.Warn(fmt.Sprintf("final flush: %v", err))
	}
	milvusClient.Close()
	if auditPublisher != nil {
		_ = auditPublisher.Close()
	}
	_ = redis.Close()
	_ = mysql.Close()
	appLogger.Info("Shutdown complete")
}
