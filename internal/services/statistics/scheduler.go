package statistics

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Refresher is what the scheduler drives; *CachedStatistics implements it.
type Refresher interface {
	RefreshAll(ctx context.Context) map[string]bool
}

// SchedulerStatus is a point-in-time view of the scheduler
type SchedulerStatus struct {
	Running         bool            `json:"running"`
	IntervalMinutes float64         `json:"interval_minutes"`
	LastRefresh     *time.Time      `json:"last_refresh,omitempty"`
	NextRefresh     *time.Time      `json:"next_refresh,omitempty"`
	LastResults     map[string]bool `json:"last_results,omitempty"`
}

// Scheduler refreshes the statistics cache in the background: once on start,
// then every Interval until stopped. An iteration that fails outright waits
// RetryDelay before the next attempt instead.
type Scheduler struct {
	refresher  Refresher
	interval   time.Duration
	retryDelay time.Duration
	now        func() time.Time

	// refreshMu serializes refreshes between the loop and RefreshNow
	refreshMu sync.Mutex

	mu          sync.RWMutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	lastRefresh time.Time
	nextRefresh time.Time
	lastResults map[string]bool
}

// NewScheduler creates a stopped scheduler
func NewScheduler(refresher Refresher, interval, retryDelay time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if retryDelay <= 0 {
		retryDelay = time.Minute
	}
	return &Scheduler{
		refresher:  refresher,
		interval:   interval,
		retryDelay: retryDelay,
		now:        time.Now,
	}
}

// Start launches the refresh loop. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		log.Println("[Scheduler] Statistics scheduler is already running")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(loopCtx, s.done)

	log.Printf("[Scheduler] Statistics scheduler started with %v interval", s.interval)
}

// Stop cancels the pending wait and returns once any in-flight refresh has finished
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.running = false
	s.nextRefresh = time.Time{}
	s.mu.Unlock()

	log.Println("[Scheduler] Statistics scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		delay := s.interval
		if err := s.iterate(ctx); err != nil {
			log.Printf("[Scheduler] Error in statistics refresh loop: %v; retrying in %v", err, s.retryDelay)
			delay = s.retryDelay
		}

		s.mu.Lock()
		s.nextRefresh = s.now().UTC().Add(delay)
		s.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// iterate runs one refresh. The refresh itself is detached from ctx so that
// Stop lets it finish rather than cutting it off mid-write.
func (s *Scheduler) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panicked: %v", r)
		}
	}()

	if ctx.Err() != nil {
		return nil
	}

	results := s.refresh(context.WithoutCancel(ctx))

	ok := 0
	for _, success := range results {
		if success {
			ok++
		}
	}
	if ok < len(results) {
		log.Printf("[Scheduler] Statistics refresh partially failed (%d/%d)", ok, len(results))
	}
	return nil
}

func (s *Scheduler) refresh(ctx context.Context) map[string]bool {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	results := s.refresher.RefreshAll(ctx)

	s.mu.Lock()
	s.lastRefresh = s.now().UTC()
	s.lastResults = results
	s.mu.Unlock()
	return results
}

// RefreshNow refreshes immediately, outside the loop's timing
func (s *Scheduler) RefreshNow(ctx context.Context) map[string]bool {
	log.Println("[Scheduler] Manual statistics refresh triggered")
	return s.refresh(ctx)
}

// Status reports the scheduler state without waiting for a running refresh
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		Running:         s.running,
		IntervalMinutes: s.interval.Minutes(),
	}
	if !s.lastRefresh.IsZero() {
		last := s.lastRefresh
		status.LastRefresh = &last
	}
	if s.running && !s.nextRefresh.IsZero() {
		next := s.nextRefresh
		status.NextRefresh = &next
	}
	if s.lastResults != nil {
		status.LastResults = make(map[string]bool, len(s.lastResults))
		for k, v := range s.lastResults {
			status.LastResults[k] = v
		}
	}
	return status
}
