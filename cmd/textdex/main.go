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

	"github.com/kailas-cloud/textdex/internal/cache"
	"github.com/kailas-cloud/textdex/internal/config"
	"github.com/kailas-cloud/textdex/internal/db"
	dbBadger "github.com/kailas-cloud/textdex/internal/db/badger"
	dbMemory "github.com/kailas-cloud/textdex/internal/db/memory"
	dbRedis "github.com/kailas-cloud/textdex/internal/db/redis"
	"github.com/kailas-cloud/textdex/internal/index"
	logpkg "github.com/kailas-cloud/textdex/internal/logger"
	"github.com/kailas-cloud/textdex/internal/metrics"
	chiTransport "github.com/kailas-cloud/textdex/internal/transport/chi"
	authuc "github.com/kailas-cloud/textdex/internal/usecase/auth"
	curationuc "github.com/kailas-cloud/textdex/internal/usecase/curation"
	searchuc "github.com/kailas-cloud/textdex/internal/usecase/search"
	synonymuc "github.com/kailas-cloud/textdex/internal/usecase/synonym"
	"github.com/kailas-cloud/textdex/internal/version"
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

	logger.Info("Starting textdex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
	)

	// Create metadata store based on driver
	var store db.Store
	switch cfg.Database.Driver {
	case "badger":
		store, err = dbBadger.NewStore(dbBadger.Config{Dir: cfg.Database.Dir}, logger)
	case "redis":
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
	case "memory":
		store = dbMemory.NewStore()
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create metadata store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()

	// Metrics registered explicitly (no init() for non-HTTP collectors)
	metrics.RegisterCacheMetrics()

	// Core services
	authSvc := authuc.New(logger)
	if err := authSvc.Init(ctx, store, cfg.Auth.BootstrapKey); err != nil {
		logger.Fatal("Failed to initialize API keys", zap.Error(err))
	}

	synonymSvc := synonymuc.New(logger)
	if err := synonymSvc.Init(ctx, store); err != nil {
		logger.Fatal("Failed to initialize synonyms", zap.Error(err))
	}

	overrideSvc := curationuc.New(logger)
	if err := overrideSvc.Init(ctx, store); err != nil {
		logger.Fatal("Failed to initialize overrides", zap.Error(err))
	}

	collManager := index.NewManager()
	searchSvc := searchuc.New(collManager, synonymSvc, overrideSvc, logger)

	respCache, err := cache.New(cfg.Cache.Capacity)
	if err != nil {
		logger.Fatal("Failed to create response cache", zap.Error(err))
	}

	server := chiTransport.NewServer(
		collManager, authSvc, searchSvc, synonymSvc, overrideSvc, respCache, logger,
	)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Mount(r)

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
		logger.Error("Error during shutdown", zap.Error(err))
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

			// Canonical log line — one line per request
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
