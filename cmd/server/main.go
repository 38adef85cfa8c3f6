// Package main runs the coaching platform HTTP server with WebSocket and graceful shutdown.
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

	"github.com/coachline/backend/config"
	"github.com/coachline/backend/internal/auth"
	"github.com/coachline/backend/internal/daily"
	"github.com/coachline/backend/internal/middleware"
	"github.com/coachline/backend/internal/models"
	"github.com/coachline/backend/internal/realtime"
	"github.com/coachline/backend/internal/recordings"
	"github.com/coachline/backend/internal/sessions"
	"github.com/coachline/backend/internal/video"
	"github.com/coachline/backend/internal/worker"
	"github.com/coachline/backend/pkg/database"
	"github.com/coachline/backend/pkg/queue"
	"github.com/coachline/backend/pkg/redis"
	"github.com/coachline/backend/pkg/response"
	"github.com/coachline/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, database.PoolOptions{
		DSN:      cfg.Database.DSN(),
		MaxConns: int32(cfg.Database.MaxConns),
		MinConns: int32(cfg.Database.MinConns),
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.AccessKeyID != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Realtime
	hub := realtime.NewHub(logger)
	relay := realtime.NewRedisRelay(rdb.Client, logger)
	realtimeHandler := realtime.NewHandler(hub, logger)
	wsConfig := realtime.WsConfig{
		SendBuffer: cfg.Realtime.SendBuffer,
		Typing:     realtime.NewTypingLimiter(cfg.Realtime.TypingLimit, cfg.Realtime.TypingInterval()),
	}
	wsValidate := func(token string) (string, string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.Name, nil
	}

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Sessions
	sessionRepo := sessions.NewRepository(pool)
	sessionHandler := sessions.NewHandler(sessionRepo, logger)

	// Video
	dailyClient := daily.NewClient(daily.Config{
		APIKey:  cfg.Video.APIKey,
		BaseURL: cfg.Video.APIURL,
		Timeout: cfg.Video.RequestTimeout(),
	}, logger)
	recordingRepo := recordings.NewRepository(pool)
	videoSvc := video.NewService(video.Config{
		Enabled:         cfg.Video.Enabled(),
		RoomPrefix:      cfg.Video.RoomPrefix,
		MaxDuration:     cfg.Video.MaxDuration(),
		MaxParticipants: cfg.Video.MaxParticipants,
		EnableRecording: cfg.Video.EnableRecording,
		LookupTimeout:   cfg.Video.RequestTimeout(),
	}, dailyClient, video.NewRoomCache(cfg.Video.RoomCacheSize, cfg.Video.RoomCacheTTL()), sessionRepo, recordingRepo, hub, logger)
	videoHandler := video.NewHandler(videoSvc, logger)
	if !videoSvc.Enabled() {
		logger.Warn("video disabled: DAILY_API_KEY not set")
	}

	// Recordings (share links, provider webhook, S3 archive)
	var (
		presigner    recordings.Presigner
		archiveQueue recordings.ArchiveQueue
		processor    *worker.RecordingProcessor
	)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	if s3Client != nil {
		presigner = s3Client
		archiveQueue = jobQueue
		processor = worker.NewRecordingProcessor(recordingRepo, sessionRepo, dailyClient, s3Client, jobQueue, relay, logger)
	}
	recordingHandler := recordings.NewHandler(videoSvc, presigner, logger)
	recordingWebhook := recordings.NewWebhookHandler(videoSvc, archiveQueue, cfg.Video.RoomPrefix, cfg.Video.WebhookSecret, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins()))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "ok", "video": videoSvc.Enabled(), "online": len(hub.PresenceSnapshot())}
		if err := pool.Ping(c.Request.Context()); err != nil {
			logger.Warn("health: database", zap.Error(err))
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		if err := rdb.Check(c.Request.Context()); err != nil {
			logger.Warn("health: redis", zap.Error(err))
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		response.OK(c, status)
	})

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Public recording share links (the token is the credential)
	router.GET("/recordings/shared/:token", recordingHandler.Shared)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", authHandler.Me)

		// Sessions
		api.GET("/sessions", sessionHandler.List)
		api.POST("/sessions", middleware.RequireRole(models.RoleCoach, models.RoleAdmin), sessionHandler.Create)
		api.GET("/sessions/:id", sessionHandler.GetByID)
		api.PATCH("/sessions/:id/status", sessionHandler.UpdateStatus)

		// Session video
		videoHandler.Register(api)
		api.GET("/video/cache-stats", middleware.RequireRole(models.RoleAdmin), videoHandler.CacheStats)

		// Realtime
		api.POST("/notifications", middleware.RequireRole(models.RoleAdmin), realtimeHandler.Notify)
		api.GET("/presence", realtimeHandler.Presence)
	}

	// Webhooks (no JWT; signature checked in handler when configured)
	router.POST("/webhooks/daily", recordingWebhook.Provider)

	// WebSocket (token in query; identity confirmed by the first frame)
	router.GET("/ws", realtime.ServeWs(hub, logger, wsValidate, wsConfig))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Notifications published by other processes (worker, other replicas)
	go func() {
		if err := relay.Run(bgCtx, hub); err != nil && bgCtx.Err() == nil {
			logger.Error("realtime relay stopped", zap.Error(err))
		}
	}()

	// Background worker (recording archive to S3)
	if processor != nil {
		go processor.Run(bgCtx)
		logger.Info("recording worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
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
