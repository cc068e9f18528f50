package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/framelens/personcrop/internal/models"
)

// Processor runs one job end to end. Implementations record the job's
// terminal state themselves; a returned error tells the queue whether
// to redeliver.
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

// Consumer pulls processing tasks off Redis and hands them to the
// processor.
type Consumer struct {
	server    *asynq.Server
	processor Processor
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	RedisURL    string
	Concurrency int
	Processor   Processor
}

// NewConsumer creates a Redis queue consumer.
func NewConsumer(config *ConsumerConfig) (*Consumer, error) {
	redisOpt, err := asynq.ParseRedisURI(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: config.Concurrency,
			Queues: map[string]int{
				"personcrop:default": 1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Exponential backoff: 1min, 2min, 4min
				return time.Duration(1<<uint(n)) * time.Minute
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logrus.WithFields(logrus.Fields{"task": task.Type(), "error": err}).Error("task failed")
			}),
		},
	)

	return &Consumer{
		server:    server,
		processor: config.Processor,
	}, nil
}

// Start begins serving tasks and blocks until Stop.
func (c *Consumer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskProcess, c.handleProcessTask)

	logrus.Info("starting crop worker")
	if err := c.server.Run(mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	return nil
}

// Stop drains in-flight tasks and shuts the server down.
func (c *Consumer) Stop() {
	logrus.Info("shutting down crop worker")
	c.server.Shutdown()
}

func (c *Consumer) handleProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload models.ProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// A payload that never parses will never parse; drop it.
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	logrus.WithField("job_id", payload.JobID).Info("processing job")

	if err := c.processor.Process(ctx, payload.JobID); err != nil {
		// The processor already recorded the failure on the job; a
		// redelivery would hit a terminal record and no-op anyway.
		return fmt.Errorf("job %s: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}
	return nil
}
