package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// WorkerPool processes jobs from a RedisQueue with a fixed number of goroutines.
// A gocron job promotes delayed retries back onto the queue.
type WorkerPool struct {
	queue        *RedisQueue
	numWorkers   int
	pollTimeout  time.Duration
	promoteEvery time.Duration

	wg        sync.WaitGroup
	cancel    context.CancelFunc
	scheduler *gocron.Scheduler
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(q *RedisQueue, numWorkers int) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &WorkerPool{
		queue:        q,
		numWorkers:   numWorkers,
		pollTimeout:  time.Second,
		promoteEvery: 5 * time.Second,
		scheduler:    gocron.NewScheduler(time.UTC),
	}
}

// Start starts the workers and the delayed-job promoter
func (w *WorkerPool) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	log.Printf("Starting %d workers for queue %s", w.numWorkers, w.queue.Name())
	for i := 0; i < w.numWorkers; i++ {
		w.wg.Add(1)
		go w.process(ctx, i)
	}

	if _, err := w.scheduler.Every(w.promoteEvery).Do(func() {
		if n, err := w.queue.PromoteDue(ctx, time.Now()); err != nil {
			log.Printf("[Queue] Error promoting delayed jobs on %s: %v", w.queue.Name(), err)
		} else if n > 0 {
			log.Printf("Promoted %d delayed jobs on %s", n, w.queue.Name())
		}
	}); err != nil {
		w.cancel()
		w.wg.Wait()
		return fmt.Errorf("failed to schedule delayed job promotion: %w", err)
	}
	w.scheduler.StartAsync()
	return nil
}

// Stop stops the workers and waits for in-flight jobs
func (w *WorkerPool) Stop() {
	log.Printf("Stopping workers for queue %s", w.queue.Name())
	w.scheduler.Stop()
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *WorkerPool) process(ctx context.Context, workerID int) {
	defer w.wg.Done()

	for {
		if ctx.Err() != nil {
			log.Printf("[Queue] Worker %d for queue %s stopped", workerID, w.queue.Name())
			return
		}

		if _, err := w.ProcessOne(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Printf("[Queue] Error dequeueing job: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessOne dequeues and handles a single job. It reports whether a job was found.
func (w *WorkerPool) ProcessOne(ctx context.Context) (bool, error) {
	job, err := w.queue.Dequeue(ctx, w.pollTimeout)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	// Jobs finish even if the pool is stopping.
	jobCtx := context.WithoutCancel(ctx)

	if err := w.handle(jobCtx, job); err != nil {
		log.Printf("[Queue] Error processing job %s (%s): %v", job.ID, job.Type, err)
		if err := w.queue.Fail(jobCtx, job, err); err != nil {
			log.Printf("[Queue] Error marking job %s as failed: %v", job.ID, err)
		}
		return true, nil
	}

	if err := w.queue.Complete(jobCtx, job); err != nil {
		log.Printf("[Queue] Error marking job %s as completed: %v", job.ID, err)
	}
	return true, nil
}

func (w *WorkerPool) handle(ctx context.Context, job *Job) (err error) {
	handler, ok := w.queue.Handler(job.Type)
	if !ok {
		return fmt.Errorf("no handler registered for job type %s", job.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprint("handler panic: ", r))
		}
	}()
	return handler(ctx, *job)
}
