package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mataresit/embedpipe/internal/config"
	dbRedis "github.com/mataresit/embedpipe/internal/db/redis"
	"github.com/mataresit/embedpipe/internal/domain"
	logpkg "github.com/mataresit/embedpipe/internal/logger"
	"github.com/mataresit/embedpipe/internal/metrics"
	embeddingrepo "github.com/mataresit/embedpipe/internal/repository/embedding"
	quotarepo "github.com/mataresit/embedpipe/internal/repository/quota"
	chiTransport "github.com/mataresit/embedpipe/internal/transport/chi"
	openaiEmb "github.com/mataresit/embedpipe/internal/transport/openai"
	batchuc "github.com/mataresit/embedpipe/internal/usecase/batch"
	embeddinguc "github.com/mataresit/embedpipe/internal/usecase/embedding"
	healthuc "github.com/mataresit/embedpipe/internal/usecase/health"
	ratelimituc "github.com/mataresit/embedpipe/internal/usecase/ratelimit"
	statusuc "github.com/mataresit/embedpipe/internal/usecase/status"
	"github.com/mataresit/embedpipe/internal/version"
)

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

	logger.Info("Starting embedpipe API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("strategy", cfg.RateLimit.Strategy),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	strategy, err := domain.StrategyByName(cfg.RateLimit.Strategy)
	if err != nil {
		logger.Fatal("Unknown rate limit strategy", zap.Error(err))
	}

	// Quota windows live one window past expiry so late reads still resolve.
	quotaStore := quotarepo.New(store, domain.QuotaLimits{
		Requests: strategy.RequestsPerMinute + strategy.BurstAllowance,
		Tokens:   strategy.TokensPerMinute,
	}, 2*domain.QuotaWindowLength, logger)

	controller := ratelimituc.New(cfg.Embedding.Provider, quotaStore, strategy, logger)

	embedder := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	client := embeddinguc.NewClient(embedder, controller, quotaStore, cfg.Embedding.Provider, logger).
		WithMaxAttempts(cfg.Pipeline.MaxAttempts).
		WithCallTimeout(time.Duration(cfg.Embedding.CallTimeoutSec) * time.Second)

	embeddingRepo := embeddingrepo.New(store)

	coordinator, err := batchuc.New(client, embeddingRepo, batchuc.Config{
		BatchSize:       cfg.Pipeline.BatchSize,
		InterBatchDelay: time.Duration(cfg.Pipeline.InterBatchDelayMs) * time.Millisecond,
		PoolSize:        cfg.Pipeline.PoolSize,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create batch coordinator", zap.Error(err))
	}

	statusSvc := statusuc.New(quotaStore, controller)
	healthSvc := healthuc.New(store, embedder, quotaStore)

	server := chiTransport.NewServer(
		coordinator, statusSvc, controller, embeddingRepo, healthSvc,
		cfg.Embedding.Provider, logger,
	)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

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
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during HTTP shutdown", zap.Error(err))
	}

	// Let running jobs drain before the process exits.
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during coordinator shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
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
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
