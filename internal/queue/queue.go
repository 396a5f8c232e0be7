package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gaole-2025/rizzify-sub000/internal/model"
)

// Task types
const (
	TaskTypeGenerate = "portrait:generate"
)

const generateQueue = "generate"

// Client wraps the asynq producer. It is constructed once at process start
// and injected wherever jobs are enqueued; lifecycle is an explicit
// Close(), not an import side effect.
type Client struct {
	client   *asynq.Client
	maxRetry int
}

func NewClient(redisOpt asynq.RedisClientOpt, maxRetry int) *Client {
	if maxRetry < 0 {
		maxRetry = 0
	}
	return &Client{
		client:   asynq.NewClient(redisOpt),
		maxRetry: maxRetry,
	}
}

// EnqueueGenerate persists a generation job and returns the queue-side job
// id. Delivery is at-least-once: the job is redelivered if a worker crashes
// before acknowledging, and dead-lettered after maxRetry failed attempts
// with asynq's exponential backoff.
func (c *Client) EnqueueGenerate(ctx context.Context, payload *model.GenerateJobPayload, delay time.Duration) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(generateQueue),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(45 * time.Minute),
		asynq.Retention(24 * time.Hour),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	info, err := c.client.Enqueue(asynq.NewTask(TaskTypeGenerate, data), opts...)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return info.ID, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// NewServer builds the worker-side asynq server: a fixed-size pool pulling
// from the generate queue. errorHandler (optional) observes every failed
// delivery and is where dead-lettered jobs get reconciled with their task
// rows.
func NewServer(redisOpt asynq.RedisClientOpt, concurrency int, errorHandler asynq.ErrorHandler) *asynq.Server {
	if concurrency < 1 {
		concurrency = 8
	}
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			generateQueue: 1,
		},
		ErrorHandler: errorHandler,
	})
}
