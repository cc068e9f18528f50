package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/framelens/personcrop/internal/blob"
	"github.com/framelens/personcrop/internal/config"
	"github.com/framelens/personcrop/internal/crop"
	"github.com/framelens/personcrop/internal/detect"
	"github.com/framelens/personcrop/internal/jobstore"
	"github.com/framelens/personcrop/internal/lifecycle"
	"github.com/framelens/personcrop/internal/logging"
	"github.com/framelens/personcrop/internal/queue"
	"github.com/framelens/personcrop/internal/video"
	"github.com/framelens/personcrop/internal/worker"
)

func main() {
	logging.Setup()
	logrus.Info("crop worker starting")

	cfg := config.Load()
	ctx := context.Background()

	ffmpeg, err := video.NewFFmpeg()
	if err != nil {
		logrus.Fatalf("failed to initialize ffmpeg: %v", err)
	}
	logrus.Info("ffmpeg initialized")

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		logrus.Fatalf("failed to create temp dir: %v", err)
	}

	detector := detect.NewHTTPDetector(cfg.DetectorURL, detect.Params{
		ConfThreshold: cfg.ConfThreshold,
		IoUThreshold:  cfg.IoUThreshold,
	}, 60*time.Second)
	// A worker without its model would fail every job; refuse to start
	// instead.
	if err := detector.HealthCheck(ctx); err != nil {
		logrus.Fatalf("detector health check failed: %v", err)
	}
	logrus.Info("detector connection established")

	store, err := jobstore.NewPostgresStore(cfg.PostgresURL)
	if err != nil {
		logrus.Fatalf("failed to initialize job store: %v", err)
	}
	defer store.Close()
	logrus.Info("job store initialized")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logrus.Fatalf("failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logrus.Fatalf("failed to connect to Redis: %v", err)
	}
	logrus.Info("redis connection established")

	blobs, err := blob.NewStore(ctx)
	if err != nil {
		logrus.Fatalf("failed to initialize blob store: %v", err)
	}
	defer blobs.Close()

	manager := lifecycle.NewManager(store, redisClient, cfg.StaleAfter)
	processor := worker.NewProcessor(manager, detector, worker.NewFFmpegMedia(ffmpeg), blobs, worker.Config{
		OutputBucket: cfg.OutputBucket,
		TempDir:      cfg.TempDir,
		BatchSize:    cfg.BatchSize,
		CropParams: crop.Params{
			PaddingRatio: cfg.PaddingRatio,
			MinCropRatio: cfg.MinCropRatio,
			Alpha:        cfg.SmoothAlpha,
			KeepAspect:   cfg.KeepAspect,
		},
		DrawTimestamp: cfg.DrawTimestamp,
	})

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:    cfg.RedisURL,
		Concurrency: cfg.Concurrency,
		Processor:   processor,
	})
	if err != nil {
		logrus.Fatalf("failed to initialize queue consumer: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := consumer.Start(); err != nil {
			errChan <- err
		}
	}()

	logrus.WithFields(logrus.Fields{
		"concurrency": cfg.Concurrency,
		"temp_dir":    cfg.TempDir,
		"detector":    cfg.DetectorURL,
	}).Info("crop worker ready, waiting for jobs")

	select {
	case <-sigChan:
		logrus.Info("shutdown signal received, stopping gracefully")
		consumer.Stop()
	case err := <-errChan:
		logrus.Fatalf("worker error: %v", err)
	}

	logrus.Info("crop worker stopped")
}
