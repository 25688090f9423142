package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/consequence-engine/pkg/queue"
)

// DefaultQueueKey is the Redis list holding pending generation jobs
const DefaultQueueKey = "generation-jobs"

// GenerationQueue is a FIFO of scenario generation jobs shared by every worker
type GenerationQueue struct {
	client *Client
	key    string
}

func NewGenerationQueue(client *Client, key string) *GenerationQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &GenerationQueue{
		client: client,
		key:    key,
	}
}

// Enqueue adds a job to the end of the queue
func (q *GenerationQueue) Enqueue(ctx context.Context, job *queue.GenerationJob) error {
	data, err := job.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize job: %w", err)
	}
	if err := q.client.rdb.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	q.client.logger.Debug("Enqueued generation job",
		"job_id", job.JobID,
		"party_code", job.PartyCode(),
		"attempts", job.Attempts)
	return nil
}

// Dequeue removes and returns the next job. Returns nil if the queue is empty.
func (q *GenerationQueue) Dequeue(ctx context.Context) (*queue.GenerationJob, error) {
	result, err := q.client.rdb.LPop(ctx, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	return q.parse(result)
}

// BlockingDequeue waits up to timeout for a job. Returns nil if none arrived.
func (q *GenerationQueue) BlockingDequeue(ctx context.Context, timeout time.Duration) (*queue.GenerationJob, error) {
	result, err := q.client.rdb.BLPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	// BLPop returns [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BLPop result: %v", result)
	}
	return q.parse(result[1])
}

func (q *GenerationQueue) parse(raw string) (*queue.GenerationJob, error) {
	job, err := queue.FromJSON([]byte(raw))
	if err != nil {
		q.client.logger.Warn("Dropping unreadable generation job", "error", err)
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	return job, nil
}

// Depth returns the number of pending jobs
func (q *GenerationQueue) Depth(ctx context.Context) (int, error) {
	count, err := q.client.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return int(count), nil
}

// Clear drops every pending job
func (q *GenerationQueue) Clear(ctx context.Context) error {
	if err := q.client.rdb.Del(ctx, q.key).Err(); err != nil {
		return fmt.Errorf("failed to clear generation queue: %w", err)
	}
	return nil
}
