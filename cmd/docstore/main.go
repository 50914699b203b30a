package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docstore/internal/config"
	dbRedis "github.com/kailas-cloud/docstore/internal/db/redis"
	"github.com/kailas-cloud/docstore/internal/domain"
	"github.com/kailas-cloud/docstore/internal/domain/duplicate"
	"github.com/kailas-cloud/docstore/internal/domain/filter"
	logpkg "github.com/kailas-cloud/docstore/internal/logger"
	"github.com/kailas-cloud/docstore/internal/metrics"
	"github.com/kailas-cloud/docstore/internal/repository/embcache"
	chiTransport "github.com/kailas-cloud/docstore/internal/transport/chi"
	openaiEmb "github.com/kailas-cloud/docstore/internal/transport/openai"
	documentuc "github.com/kailas-cloud/docstore/internal/usecase/document"
	embeddinguc "github.com/kailas-cloud/docstore/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/docstore/internal/usecase/health"
	labeluc "github.com/kailas-cloud/docstore/internal/usecase/label"
	"github.com/kailas-cloud/docstore/internal/version"
)

const healthCheckTimeout = 3 * time.Second

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting docstore API server",
		zap.String("version", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("label_driver", cfg.Store.LabelDriver),
		zap.String("similarity", cfg.Store.Similarity),
		zap.Int("embedding_dim", cfg.Store.EmbeddingDim),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterHTTPMetrics()
	metrics.RegisterStoreMetrics()

	ctx := context.Background()
	stores, err := newBackends(&cfg, logger)
	if err != nil {
		logger.Fatal("Invalid store configuration", zap.Error(err))
	}
	defer stores.Close()

	docDriver, err := stores.open(ctx, cfg.Store.Driver)
	if err != nil {
		logger.Fatal("Failed to open document store", zap.Error(err))
	}
	labelDriver, err := stores.open(ctx, cfg.Store.LabelDriver)
	if err != nil {
		logger.Fatal("Failed to open label store", zap.Error(err))
	}
	if labelDriver.labels == nil {
		logger.Fatal("Label driver does not store labels", zap.String("driver", cfg.Store.LabelDriver))
	}
	logger.Info("Connected to stores")

	filters, closeFilters, err := buildFilterNormalizer(&cfg.Store)
	if err != nil {
		logger.Fatal("Failed to create filter cache", zap.Error(err))
	}
	defer closeFilters()

	defaultMode, err := duplicate.ParseMode(cfg.Store.DuplicateDocuments)
	if err != nil {
		logger.Fatal("Invalid duplicate policy", zap.Error(err))
	}

	docSvc := documentuc.New(docDriver.docs, filters, logger).
		WithBatchSize(cfg.Store.BatchSize).
		WithDefaultMode(defaultMode)
	labelSvc := labeluc.New(labelDriver.labels, filters, logger).
		WithBatchSize(cfg.Store.BatchSize)

	// Build embedder chain
	var docEmbedder domain.Embedder
	if cfg.Embedding.Enabled() {
		metrics.RegisterEmbeddingMetrics()
		var cache *dbRedis.Store
		if cfg.Embedding.Cache {
			cache, err = stores.redisStore(ctx)
			if err != nil {
				logger.Fatal("Failed to open embedding cache", zap.Error(err))
			}
		}
		docEmbedder = buildEmbedder(&cfg, cfg.Embedding.DocumentInstruction, cache, logger)
		queryEmbedder := buildEmbedder(&cfg, cfg.Embedding.QueryInstruction, cache, logger)
		docSvc.WithEmbedder(docEmbedder).WithQueryEmbedder(queryEmbedder)
		logger.Info("Embedders created",
			zap.String("provider", cfg.Embedding.Provider),
			zap.String("model", cfg.Embedding.Model),
			zap.Int("dimensions", cfg.Embedding.Dimensions),
			zap.Bool("cache", cache != nil),
		)
	}

	// Health service
	healthSvc := stores.registerHealth(healthuc.New().WithTimeout(healthCheckTimeout))
	if docEmbedder != nil {
		healthSvc.WithEmbedding(newEmbeddingHealthChecker(docEmbedder))
	}

	// Create chi server
	server := chiTransport.NewServer(docSvc, labelSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not_found", "route not found")
	})
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildFilterNormalizer returns the shared filter cache, or an uncached
// normalizer when the cache is disabled.
func buildFilterNormalizer(cfg *config.StoreConfig) (documentuc.FilterNormalizer, func(), error) {
	var opts []filter.Option
	if cfg.ListEquality {
		opts = append(opts, filter.WithListEquality())
	}
	if cfg.FilterCacheSize <= 0 {
		return filter.Uncached(opts), func() {}, nil
	}
	cache, err := filter.NewCache(cfg.FilterCacheSize, metrics.ObserveFilterCache, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cache, cache.Close, nil
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if err := domain.CheckHealth(ctx, h.embedder); err != nil {
		return fmt.Errorf("embedding health check: %w", err)
	}
	return nil
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Instruction
func buildEmbedder(
	cfg *config.Config,
	instruction string,
	cache *dbRedis.Store,
	logger *zap.Logger,
) domain.Embedder {
	// Base provider (with transport metrics built-in)
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})

	// Cached
	var embedder domain.Embedder = base
	if cache != nil {
		embedder = embcache.New(
			base, cache, cfg.Redis.KeyPrefix, cfg.Embedding.Model, metrics.EmbeddingCacheTotal, logger,
		).WithTTL(time.Duration(cfg.Embedding.CacheTTL) * time.Second)
	}

	// Instrumented (metrics + batch splitting)
	embedder = embeddinguc.NewInstrumentedEmbedder(
		embedder, cfg.Embedding.Provider, cfg.Embedding.Model, logger,
	).WithMaxBatchSize(cfg.Embedding.MaxBatchSize)

	// Instruction prefix (outermost, so the cache key includes it)
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}

	return embedder
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					writeJSONError(w, http.StatusInternalServerError, "internal_error", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    code,
		"message": message,
	})
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger; index routes add the index field
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if index := rctx.URLParam("index"); index != "" {
					fields = append(fields, zap.String("index", index))
				}
			}

			// Canonical log line, one per request
			reqLogger.Info("http_request", fields...)
		})
	}
}
