package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/consequence-engine/internal/services/queue"
	queuePkg "github.com/jwebster45206/consequence-engine/pkg/queue"
	"github.com/jwebster45206/consequence-engine/pkg/scenario"
)

const (
	workerTimeout      = 5 * time.Second
	lockTTL            = 2 * time.Minute
	requeueDelay       = 250 * time.Millisecond
	DefaultMaxAttempts = 3
)

// ScenarioGenerator produces a registered scenario for a request
type ScenarioGenerator interface {
	GenerateScenario(ctx context.Context, req *scenario.GenerationRequest) (*scenario.ScenarioResponse, error)
}

// Publisher tells the party how a queued job ended
type Publisher interface {
	PublishScenarioReady(ctx context.Context, partyCode, scenarioID string, data map[string]any) error
	PublishGenerationFailed(ctx context.Context, partyCode, jobID, reason string) error
}

// Worker takes generation jobs off the shared queue, one party at a time
type Worker struct {
	id          string
	queue       *queue.GenerationQueue
	generator   ScenarioGenerator
	publisher   Publisher
	redisClient *redis.Client
	log         *slog.Logger
	maxAttempts int
	pollTimeout time.Duration
}

// New creates a new worker instance
func New(q *queue.GenerationQueue, generator ScenarioGenerator, publisher Publisher, redisClient *redis.Client, log *slog.Logger, workerID string) *Worker {
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	return &Worker{
		id:          workerID,
		queue:       q,
		generator:   generator,
		publisher:   publisher,
		redisClient: redisClient,
		log:         log.With("worker_id", workerID),
		maxAttempts: DefaultMaxAttempts,
		pollTimeout: workerTimeout,
	}
}

// SetMaxAttempts bounds how often a failing job is re-queued
func (w *Worker) SetMaxAttempts(n int) {
	w.maxAttempts = max(n, 1)
}

// Run processes jobs until ctx is done
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("Worker starting")

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker shutting down")
			return
		default:
			if err := w.processNext(ctx); err != nil && ctx.Err() == nil {
				w.log.Error("Error processing job", "error", err)
				// keep going, but do not spin on a broken connection
				sleep(ctx, time.Second)
			}
		}
	}
}

// processNext pulls the next job from the queue and processes it
func (w *Worker) processNext(ctx context.Context) error {
	job, err := w.queue.BlockingDequeue(ctx, w.pollTimeout)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	party := job.PartyCode()
	w.log.Info("Received generation job",
		"job_id", job.JobID,
		"party_code", party,
		"attempts", job.Attempts)

	locked, err := w.acquirePartyLock(ctx, party)
	if err != nil {
		if requeueErr := w.queue.Enqueue(context.WithoutCancel(ctx), job); requeueErr != nil {
			w.log.Error("Failed to re-queue job", "job_id", job.JobID, "error", requeueErr)
		}
		return fmt.Errorf("failed to acquire party lock: %w", err)
	}
	if !locked {
		// another worker is generating for this party
		w.log.Debug("Party busy, re-queueing job", "job_id", job.JobID, "party_code", party)
		if err := w.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("failed to re-queue job: %w", err)
		}
		sleep(ctx, requeueDelay)
		return nil
	}
	defer w.releasePartyLock(party)

	return w.process(ctx, job)
}

func lockKey(partyCode string) string {
	return fmt.Sprintf("generation-lock:%s", partyCode)
}

// acquirePartyLock returns true if the lock was acquired, false if already held
func (w *Worker) acquirePartyLock(ctx context.Context, partyCode string) (bool, error) {
	return w.redisClient.SetNX(ctx, lockKey(partyCode), w.id, lockTTL).Result()
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// releasePartyLock deletes the lock only if this worker owns it
func (w *Worker) releasePartyLock(partyCode string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, w.redisClient, []string{lockKey(partyCode)}, w.id).Err(); err != nil {
		w.log.Error("Failed to release party lock", "error", err, "party_code", partyCode)
	}
}

func (w *Worker) process(ctx context.Context, job *queuePkg.GenerationJob) error {
	start := time.Now()
	party := job.PartyCode()

	resp, err := w.generator.GenerateScenario(ctx, &job.Request)
	if err != nil {
		job.Attempts++
		if job.Attempts < w.maxAttempts && ctx.Err() == nil {
			w.log.Warn("Generation failed, re-queueing",
				"job_id", job.JobID,
				"party_code", party,
				"attempts", job.Attempts,
				"error", err)
			if requeueErr := w.queue.Enqueue(ctx, job); requeueErr != nil {
				return fmt.Errorf("failed to re-queue job: %w", requeueErr)
			}
			return nil
		}

		w.log.Error("Generation job failed",
			"job_id", job.JobID,
			"party_code", party,
			"attempts", job.Attempts,
			"error", err)
		if pubErr := w.publisher.PublishGenerationFailed(context.WithoutCancel(ctx), party, job.JobID, err.Error()); pubErr != nil {
			w.log.Error("Failed to publish failure event", "error", pubErr)
		}
		return nil
	}

	w.log.Info("Generation job completed",
		"job_id", job.JobID,
		"party_code", party,
		"scenario_id", resp.ID,
		"source", resp.Source,
		"duration_ms", time.Since(start).Milliseconds())

	result := map[string]any{
		"job_id":      job.JobID,
		"title":       resp.Title,
		"type":        resp.Type,
		"source":      resp.Source,
		"choices":     len(resp.Choices),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err := w.publisher.PublishScenarioReady(ctx, party, resp.ID, result); err != nil {
		w.log.Error("Failed to publish completion event", "error", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
