package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Redis key prefixes
const (
	queuePrefix      = "queue:"
	processingPrefix = "processing:"
	delayedPrefix    = "delayed:"
	failedPrefix     = "failed:"
	completedPrefix  = "completed:"

	// DefaultRetryCount is the retry budget of a job without WithMaxRetry
	DefaultRetryCount = 3
)

// RedisQueue is a named job queue on Redis lists. Ready jobs sit in a list,
// jobs waiting for a retry in a sorted set scored by due time.
type RedisQueue struct {
	client  *redis.Client
	name    string
	backoff Backoff

	mu       sync.RWMutex
	handlers map[JobType]JobHandler
}

// NewRedisQueue creates a queue called name on client
func NewRedisQueue(client *redis.Client, name string) *RedisQueue {
	return &RedisQueue{
		client:   client,
		name:     name,
		backoff:  DefaultBackoff,
		handlers: make(map[JobType]JobHandler),
	}
}

// Name returns the queue name
func (q *RedisQueue) Name() string {
	return q.name
}

// SetBackoff replaces the retry backoff policy
func (q *RedisQueue) SetBackoff(b Backoff) {
	q.backoff = b
}

// RegisterHandler registers a handler for a job type
func (q *RedisQueue) RegisterHandler(jobType JobType, handler JobHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

// Handler returns the handler registered for jobType
func (q *RedisQueue) Handler(jobType JobType) (JobHandler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// Enqueue adds a job to the queue and returns its ID
func (q *RedisQueue) Enqueue(ctx context.Context, jobType JobType, payload interface{}, opts ...EnqueueOption) (string, error) {
	options := &EnqueueOptions{
		maxRetry: DefaultRetryCount,
	}
	for _, opt := range opts {
		opt(options)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	now := time.Now().UTC()
	job := Job{
		ID:         uuid.New(),
		Type:       jobType,
		Payload:    payloadBytes,
		Status:     JobStatusPending,
		MaxRetries: options.maxRetry,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if options.delay > 0 {
		if err := q.schedule(ctx, job, now.Add(options.delay)); err != nil {
			return "", err
		}
		return job.ID.String(), nil
	}

	if err := q.push(ctx, job); err != nil {
		return "", err
	}
	return job.ID.String(), nil
}

func (q *RedisQueue) push(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, queuePrefix+q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to add job to queue: %w", err)
	}
	return nil
}

func (q *RedisQueue) schedule(ctx context.Context, job Job, at time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.ZAdd(ctx, delayedPrefix+q.name, &redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: data,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add job to delayed queue: %w", err)
	}
	return nil
}

// Dequeue pops the next job, waiting up to timeout. It returns nil, nil when
// the queue stayed empty.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BRPop(ctx, timeout, queuePrefix+q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("error popping job from queue %s: %w", q.name, err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("invalid result from BRPOP for queue %s", q.name)
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job data: %w", err)
	}

	job.Status = JobStatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if data, err := json.Marshal(job); err == nil {
		if err := q.client.HSet(ctx, processingPrefix+q.name, job.ID.String(), data).Err(); err != nil {
			log.Printf("Warning: failed to add job to processing set: %v", err)
		}
	}

	return &job, nil
}

// Complete marks a job as completed
func (q *RedisQueue) Complete(ctx context.Context, job *Job) error {
	if err := q.client.HDel(ctx, processingPrefix+q.name, job.ID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove job from processing set: %w", err)
	}
	if err := q.client.Incr(ctx, completedPrefix+q.name).Err(); err != nil {
		return fmt.Errorf("failed to count completed job: %w", err)
	}
	return nil
}

// Fail records a failed attempt. The job is rescheduled with backoff while
// it has retries left, otherwise it is parked in the failed hash.
func (q *RedisQueue) Fail(ctx context.Context, job *Job, jobErr error) error {
	if err := q.client.HDel(ctx, processingPrefix+q.name, job.ID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove job from processing set: %w", err)
	}

	job.RetryCount++
	job.UpdatedAt = time.Now().UTC()
	if jobErr != nil {
		job.Error = jobErr.Error()
	}

	if job.RetryCount < job.MaxRetries {
		job.Status = JobStatusPending
		delay := q.backoff.Duration(job.RetryCount)
		log.Printf("Scheduling retry %d/%d for job %s in %v. Error: %v",
			job.RetryCount, job.MaxRetries, job.ID, delay, jobErr)
		return q.schedule(ctx, *job, job.UpdatedAt.Add(delay))
	}

	job.Status = JobStatusFailed
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.HSet(ctx, failedPrefix+q.name, job.ID.String(), data).Err(); err != nil {
		return fmt.Errorf("failed to add job to failed set: %w", err)
	}
	log.Printf("Job %s of type %s failed permanently after %d attempts: %v", job.ID, job.Type, job.RetryCount, jobErr)
	return nil
}

// PromoteDue moves delayed jobs whose time has come back onto the queue
func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	key := delayedPrefix + q.name
	due, err := q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("error getting delayed jobs: %w", err)
	}

	moved := 0
	for _, member := range due {
		removed, err := q.client.ZRem(ctx, key, member).Result()
		if err != nil {
			log.Printf("Failed to remove job from delayed queue: %v", err)
			continue
		}
		if removed == 0 {
			// another worker promoted it first
			continue
		}
		if err := q.client.LPush(ctx, queuePrefix+q.name, member).Err(); err != nil {
			log.Printf("Failed to add job to queue: %v", err)
			continue
		}
		moved++
	}
	return moved, nil
}

// FailedJobs returns the jobs that exhausted their retries
func (q *RedisQueue) FailedJobs(ctx context.Context) ([]Job, error) {
	result, err := q.client.HGetAll(ctx, failedPrefix+q.name).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed jobs: %w", err)
	}

	jobs := make([]Job, 0, len(result))
	for _, data := range result {
		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			log.Printf("Error unmarshaling failed job: %v", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Stats gets statistics for the queue
func (q *RedisQueue) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{Queue: q.name}

	waiting, err := q.client.LLen(ctx, queuePrefix+q.name).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get waiting count: %w", err)
	}
	stats.Waiting = int(waiting)

	delayed, err := q.client.ZCard(ctx, delayedPrefix+q.name).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get delayed count: %w", err)
	}
	stats.Delayed = int(delayed)

	processing, err := q.client.HLen(ctx, processingPrefix+q.name).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get processing count: %w", err)
	}
	stats.Processing = int(processing)

	failed, err := q.client.HLen(ctx, failedPrefix+q.name).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed count: %w", err)
	}
	stats.Failed = int(failed)

	completed, err := q.client.Get(ctx, completedPrefix+q.name).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get completed count: %w", err)
	}
	stats.Completed = completed

	return stats, nil
}
