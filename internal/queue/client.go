// Package queue connects the API and the worker through Redis-backed
// task delivery.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/framelens/personcrop/internal/models"
)

// TaskProcess is the single task type the worker handles.
const TaskProcess = "personcrop:process"

// Client enqueues processing tasks; the API side of the queue.
type Client struct {
	client *asynq.Client
}

// NewClient creates the enqueue client from a Redis URL.
func NewClient(redisURL string) (*Client, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Client{client: asynq.NewClient(redisOpt)}, nil
}

// Enqueue submits a job for processing. Delivery is at-least-once; the
// worker's acquire step deduplicates.
func (c *Client) Enqueue(payload *models.ProcessPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	task := asynq.NewTask(TaskProcess, data)
	if _, err := c.client.Enqueue(task, asynq.Queue("personcrop:default"), asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
