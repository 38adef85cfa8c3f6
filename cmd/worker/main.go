// Package main runs the background job worker (recording archive to S3).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coachline/backend/config"
	"github.com/coachline/backend/internal/daily"
	"github.com/coachline/backend/internal/realtime"
	"github.com/coachline/backend/internal/recordings"
	"github.com/coachline/backend/internal/sessions"
	"github.com/coachline/backend/internal/worker"
	"github.com/coachline/backend/pkg/database"
	"github.com/coachline/backend/pkg/queue"
	"github.com/coachline/backend/pkg/redis"
	"github.com/coachline/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if !cfg.Video.Enabled() {
		logger.Fatal("DAILY_API_KEY is required to archive recordings")
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

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		RecordingsBucket:     cfg.AWS.RecordingsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	dailyClient := daily.NewClient(daily.Config{
		APIKey:  cfg.Video.APIKey,
		BaseURL: cfg.Video.APIURL,
		Timeout: cfg.Video.RequestTimeout(),
	}, logger)
	processor := worker.NewRecordingProcessor(
		recordings.NewRepository(pool),
		sessions.NewRepository(pool),
		dailyClient,
		s3Client,
		queue.NewQueue(rdb.Client, logger),
		realtime.NewRedisRelay(rdb.Client, logger),
		logger,
	)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
