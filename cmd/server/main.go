package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"examprep-backend/internal/config"
	"examprep-backend/internal/database"
	"examprep-backend/internal/handlers"
	"examprep-backend/internal/middleware"
	"examprep-backend/internal/repository"
	"examprep-backend/internal/router"
	"examprep-backend/internal/services"
	"examprep-backend/internal/websocket"
	"examprep-backend/internal/worker"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	zcfg.DisableStacktrace = true
	return zcfg.Build()
}

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting exam session backend", zap.String("env", cfg.Env), zap.String("driver", cfg.DatabaseDriver))

	ctx := context.Background()

	// ──── Step 2: Open the Session Store ────
	var store services.ExamSessionStore
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			logger.Fatal("sqlite open failed", zap.Error(err))
		}
		defer db.Close()
		store = repository.NewExamSessionSQLiteRepo(db)
		logger.Info("sqlite store ready", zap.String("path", cfg.SQLitePath))
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres connection failed", zap.Error(err))
		}
		defer pool.Close()

		if err := database.RunMigrations(ctx, pool, cfg.MigrationsDir, logger); err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
		store = repository.NewExamSessionRepo(pool)
		logger.Info("postgres store ready")
	}

	// ──── Step 3: Realtime Events (optional) ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)

	var events services.EventPublisher = services.NopEventPublisher{}
	var wsHub *websocket.Hub
	if cfg.RedisURL != "" {
		redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisClients.Close()

		eventPool := worker.NewPool(services.NewRedisEventPublisher(redisClients.Publisher), cfg.EventWorkers, 256, logger)
		eventPool.Start()
		defer eventPool.Stop()
		events = eventPool

		wsHub = websocket.NewHub(redisClients.Subscriber, jwtAuth, logger)
		defer wsHub.Close()
		logger.Info("redis connected; realtime session events enabled")
	} else {
		logger.Warn("REDIS_URL not set; realtime session events disabled")
	}

	// ──── Step 4: Services & Handlers ────
	examSessionService := services.NewExamSessionService(store, events, logger)
	examSessionHandler := handlers.NewExamSessionHandler(examSessionService)

	writeLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	defer writeLimiter.Stop()

	// ──── Step 5: Start HTTP Server ────
	r := router.New(logger, jwtAuth, writeLimiter, examSessionHandler, wsHub, cfg.FrontendURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	logger.Info("exam session backend ready", zap.String("addr", server.Addr))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", zap.Error(err))
	}
}
