// Package main runs the course platform HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nova-academy/backend/config"
	"github.com/nova-academy/backend/internal/auth"
	"github.com/nova-academy/backend/internal/middleware"
	"github.com/nova-academy/backend/internal/realtime"
	"github.com/nova-academy/backend/internal/resources"
	"github.com/nova-academy/backend/internal/uploads"
	"github.com/nova-academy/backend/internal/worker"
	"github.com/nova-academy/backend/pkg/database"
	"github.com/nova-academy/backend/pkg/queue"
	"github.com/nova-academy/backend/pkg/redis"
	"github.com/nova-academy/backend/pkg/response"
	"github.com/nova-academy/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" && cfg.AWS.VideosBucket != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			VideosBucket:         cfg.AWS.VideosBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
			PartSizeMB:           cfg.AWS.PartSizeMB,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Resources (durable asset <-> entity linkage)
	resourceRepo := resources.NewRepository(pool)
	resourceHandler := resources.NewHandler(resourceRepo, logger)

	// Video upload orchestration
	sessionStore := uploads.NewSessionStore(rdb.Client,
		time.Duration(cfg.Upload.SessionTTLHours)*time.Hour, logger)
	bunnyProvider := uploads.NewBunnyProvider(cfg.Bunny, logger)
	s3Provider := uploads.NewS3Provider(s3Client, logger)
	uploadService := uploads.NewService(sessionStore,
		[]uploads.Provider{bunnyProvider, s3Provider},
		resourceRepo,
		cfg.Upload.MaxSizeBytes,
		time.Duration(cfg.Bunny.TimeoutSeconds)*time.Second,
		logger)
	uploadHandler := uploads.NewHandler(uploadService, logger)

	// Completion notifications + resource finalize
	notifier := uploads.NewHubNotifier(hub, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	webhookHandler := uploads.NewWebhookHandler(sessionStore, bunnyProvider, notifier, jobQueue, logger)
	finalizeProcessor := worker.NewFinalizeProcessor(resourceRepo, jobQueue, logger)

	jwtValidate := func(token string) (userID string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", err
		}
		return claims.UserID.String(), nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Video uploads: session init + polling fallback
		api.POST("/uploads/videos", middleware.RequireRole("admin", "instructor"), uploadHandler.InitVideoUpload)
		api.GET("/uploads/videos/status", uploadHandler.GetVideoUploadStatus)

		// Resources (processing placeholders / ready assets)
		api.GET("/entities/:type/:id/resources", resourceHandler.ListByEntity)
		api.GET("/resources/:id", resourceHandler.GetByID)
	}

	// Webhooks (no JWT; provider callbacks)
	router.POST("/webhooks/bunny", webhookHandler.HandleBunnyWebhook)

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (resource finalize)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go finalizeProcessor.Run(workerCtx)
	logger.Info("finalize worker started")

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
