package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/framelens/personcrop/internal/api"
	"github.com/framelens/personcrop/internal/config"
	"github.com/framelens/personcrop/internal/jobstore"
	"github.com/framelens/personcrop/internal/lifecycle"
	"github.com/framelens/personcrop/internal/logging"
	"github.com/framelens/personcrop/internal/queue"

	"github.com/redis/go-redis/v9"
)

func main() {
	logging.Setup()
	logrus.Info("crop api starting")

	cfg := config.Load()
	ctx := context.Background()

	store, err := jobstore.NewPostgresStore(cfg.PostgresURL)
	if err != nil {
		logrus.Fatalf("failed to initialize job store: %v", err)
	}
	defer store.Close()

	queueClient, err := queue.NewClient(cfg.RedisURL)
	if err != nil {
		logrus.Fatalf("failed to initialize queue client: %v", err)
	}
	defer queueClient.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logrus.Fatalf("failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logrus.Fatalf("failed to connect to Redis: %v", err)
	}

	manager := lifecycle.NewManager(store, redisClient, cfg.StaleAfter)
	server := api.NewServer(store, queueClient, manager, api.Config{
		CleanupToken: cfg.CleanupToken,
		Retention:    cfg.Retention,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	logrus.WithField("port", cfg.Port).Info("crop api ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logrus.Info("shutdown signal received, stopping gracefully")
		shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("server shutdown: %v", err)
		}
	case err := <-errChan:
		logrus.Fatalf("server error: %v", err)
	}

	logrus.Info("crop api stopped")
}
