package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	Name string `json:"name"`
}

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, "test"), mr
}

func TestEnqueueDequeue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "greet", greeting{Name: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	job, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID.String())
	assert.Equal(t, JobType("greet"), job.Type)
	assert.Equal(t, JobStatusProcessing, job.Status)
	assert.Equal(t, DefaultRetryCount, job.MaxRetries)

	var payload greeting
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "alice", payload.Name)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processing)

	require.NoError(t, q.Complete(ctx, job))
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processing)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestDequeueEmptyQueue(t *testing.T) {
	q, _ := newTestQueue(t)

	job, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestFailReschedulesThenParks(t *testing.T) {
	q, _ := newTestQueue(t)
	q.SetBackoff(Backoff{InitialInterval: time.Second, Multiplier: 2, MaxInterval: time.Minute})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "greet", greeting{Name: "bob"}, WithMaxRetry(2))
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, job, errors.New("boom")))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delayed)
	assert.Equal(t, 0, stats.Waiting)

	moved, err := q.PromoteDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, moved, "retry is not due yet")

	moved, err = q.PromoteDue(ctx, time.Now().Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	job, err = q.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "boom", job.Error)

	require.NoError(t, q.Fail(ctx, job, errors.New("boom again")))
	failed, err := q.FailedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, JobStatusFailed, failed[0].Status)
	assert.Equal(t, 2, failed[0].RetryCount)
}

func TestEnqueueWithDelay(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "greet", greeting{Name: "carol"}, WithDelay(time.Hour))
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)

	moved, err := q.PromoteDue(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
}

func TestBackoffDuration(t *testing.T) {
	b := Backoff{InitialInterval: 200 * time.Millisecond, Multiplier: 2, MaxInterval: time.Second}

	assert.Equal(t, 200*time.Millisecond, b.Duration(1))
	assert.Equal(t, 400*time.Millisecond, b.Duration(2))
	assert.Equal(t, 800*time.Millisecond, b.Duration(3))
	assert.Equal(t, time.Second, b.Duration(4))
	assert.Equal(t, time.Second, b.Duration(10))
}

func TestWorkerPoolProcessOne(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var calls int32
	q.RegisterHandler("greet", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	q.RegisterHandler("explode", func(ctx context.Context, job Job) error {
		panic("kaboom")
	})

	pool := NewWorkerPool(q, 1)
	pool.pollTimeout = 50 * time.Millisecond

	_, err := q.Enqueue(ctx, "greet", greeting{Name: "dave"})
	require.NoError(t, err)
	handled, err := pool.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err = q.Enqueue(ctx, "explode", greeting{}, WithMaxRetry(1))
	require.NoError(t, err)
	handled, err = pool.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, handled)

	_, err = q.Enqueue(ctx, "unknown", greeting{}, WithMaxRetry(1))
	require.NoError(t, err)
	_, err = pool.ProcessOne(ctx)
	require.NoError(t, err)

	failed, err := q.FailedJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	handled, err = pool.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestWorkerPoolStartStop(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	done := make(chan struct{}, 1)
	q.RegisterHandler("greet", func(ctx context.Context, job Job) error {
		done <- struct{}{}
		return nil
	})

	pool := NewWorkerPool(q, 2)
	pool.pollTimeout = 50 * time.Millisecond
	require.NoError(t, pool.Start(ctx))

	_, err := q.Enqueue(ctx, "greet", greeting{Name: "erin"})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not processed")
	}

	pool.Stop()
}
