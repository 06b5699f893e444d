// Package main hosts the corpus engine HTTP API: document upload, job
// streaming, search, and image retrieval over the shared ingestion and
// search services.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vectral-ai/corpus-engine/internal/cache"
	"github.com/vectral-ai/corpus-engine/internal/config"
	"github.com/vectral-ai/corpus-engine/internal/embedding"
	"github.com/vectral-ai/corpus-engine/internal/ingest"
	"github.com/vectral-ai/corpus-engine/internal/jobs"
	"github.com/vectral-ai/corpus-engine/internal/llm"
	"github.com/vectral-ai/corpus-engine/internal/metadata"
	"github.com/vectral-ai/corpus-engine/internal/metrics"
	"github.com/vectral-ai/corpus-engine/internal/observability"
	"github.com/vectral-ai/corpus-engine/internal/search"
	"github.com/vectral-ai/corpus-engine/internal/store"
	"github.com/vectral-ai/corpus-engine/internal/vision"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "corpus-api",
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("store", fmt.Sprintf("%s:%d", cfg.Store.Host, cfg.Store.Port)).
		Bool("image_extraction", cfg.Vision.EnableImageExtraction).
		Bool("cache", cfg.Cache.Enabled).
		Msg("starting corpus API")

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	storeCfg := store.Config{
		Host:              cfg.Store.Host,
		Port:              cfg.Store.Port,
		User:              cfg.Store.User,
		Password:          cfg.Store.Password,
		ChunkTable:        cfg.Store.ChunkTable,
		HeaderTable:       cfg.Store.HeaderTable,
		ImageTable:        cfg.Store.ImageTable,
		VectorDim:         cfg.Embedding.Dimension,
		ConnectTimeout:    cfg.Store.ConnectTimeout,
		ConnectRetries:    cfg.Store.ConnectRetries,
		ConnectRetryDelay: cfg.Store.ConnectRetryDelay,
		ConnectRetryCap:   cfg.Store.ConnectRetryCap,
		ExecuteTimeout:    cfg.Store.ExecuteTimeout,
	}
	storeClient := store.NewClient(storeCfg, logger, m)

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 2*time.Minute)
	err = storeClient.EnsureSchema(schemaCtx)
	cancelSchema()
	if err != nil {
		logger.Error().Err(err).Msg("schema setup failed")
		os.Exit(1)
	}

	corpus := store.NewCorpus(storeClient, storeCfg.Tables(), logger)

	embedder := embedding.NewClient(embedding.Config{
		BaseURL:       cfg.Gateway.BaseURL,
		APIKey:        cfg.Gateway.APIKey,
		ResourceGroup: cfg.Gateway.ResourceGroup,
		Model:         cfg.Embedding.Model,
		Dimension:     cfg.Embedding.Dimension,
		BatchSize:     cfg.Embedding.BatchSize,
		Timeout:       cfg.Embedding.Timeout,
	}, logger, m)

	gateway := llm.NewClient(llm.Config{
		BaseURL:       cfg.Gateway.BaseURL,
		APIKey:        cfg.Gateway.APIKey,
		ResourceGroup: cfg.Gateway.ResourceGroup,
		ChatModel:     cfg.Gateway.MetadataModel,
		VisionModel:   cfg.Gateway.VisionModel,
		ChatTimeout:   cfg.Gateway.ChatTimeout,
		VisionTimeout: cfg.Gateway.VisionTimeout,
	}, logger)

	generator := metadata.NewGenerator(gateway, embedder, metadata.Config{
		PreviewMaxPages: cfg.Ingestion.SummaryInputMaxPages,
		PreviewMaxChars: cfg.Ingestion.SummaryInputMaxChars,
	}, logger)

	var extractor ingest.ImageExtractor
	if cfg.Vision.EnableImageExtraction {
		extractor = vision.NewExtractor(gateway, vision.Config{
			MaxImagePages: cfg.Vision.MaxImagePages,
		}, logger)
	}

	var cacheClient cache.Client
	if cfg.Cache.Enabled {
		rc, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, search cache disabled")
		} else {
			cacheClient = rc
		}
	}

	jobManager := jobs.NewManager(logger)

	orchestrator := ingest.NewOrchestrator(corpus, embedder, generator, extractor, jobManager, cacheClient, ingest.Config{
		ChunkSize:        cfg.Ingestion.ChunkSize,
		ChunkOverlap:     cfg.Ingestion.ChunkOverlap,
		DefaultTenant:    cfg.Ingestion.DefaultTenant,
		ImageConcurrency: cfg.Vision.ImageStorageConcurrency,
		ImageRetries:     cfg.Vision.ImageStorageRetries,
		ImageRetryDelay:  cfg.Vision.ImageStorageRetryDelay,
	}, m, logger)

	searchService := search.NewService(corpus, embedder, cacheClient, search.Config{
		CacheTTL: cfg.Cache.TTL,
	}, m, logger)

	handler := NewHandler(searchService, jobManager, orchestrator, storeClient, UploadLimits{
		MaxFiles:      cfg.Server.MaxFilesPerReq,
		MaxUploadMB:   cfg.Server.MaxUploadMB,
		DefaultTenant: cfg.Ingestion.DefaultTenant,
	}, logger)

	router := NewRouter(handler, reg, cfg.Server.RequestTimeout)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	// No WriteTimeout: SSE streams stay open until the job reaches a
	// terminal state or the client disconnects.
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("forced shutdown failed")
		}
	}

	if cacheClient != nil {
		if err := cacheClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("cache close failed")
		}
	}
	if err := storeClient.Close(); err != nil {
		logger.Warn().Err(err).Msg("store close failed")
	}

	logger.Info().Msg("server stopped")
}
