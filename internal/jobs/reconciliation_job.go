package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/u9rzm/barinya-bot/internal/services/ledger"
)

// Reconciler compares cached balances against the ledger
type Reconciler interface {
	Reconcile(ctx context.Context) ([]ledger.BalanceDrift, error)
}

// ReconciliationJob periodically checks every user's balance against the
// sum of their ledger entries and logs any drift. It never repairs balances.
type ReconciliationJob struct {
	reconciler Reconciler
	interval   time.Duration
	scheduler  *gocron.Scheduler
}

// NewReconciliationJob creates a reconciliation job running every interval
func NewReconciliationJob(reconciler Reconciler, interval time.Duration) *ReconciliationJob {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &ReconciliationJob{
		reconciler: reconciler,
		interval:   interval,
		scheduler:  gocron.NewScheduler(time.UTC),
	}
}

// Start schedules the job; the first run happens one interval from now
func (j *ReconciliationJob) Start(ctx context.Context) error {
	_, err := j.scheduler.Every(j.interval).SingletonMode().WaitForSchedule().Do(func() {
		if _, err := j.Run(ctx); err != nil {
			log.Printf("[Reconcile] Ledger reconciliation failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule ledger reconciliation: %w", err)
	}
	j.scheduler.StartAsync()
	log.Printf("[Reconcile] Ledger reconciliation scheduled every %v", j.interval)
	return nil
}

// Stop stops the schedule
func (j *ReconciliationJob) Stop() {
	j.scheduler.Stop()
}

// Run reconciles once and logs every drifting balance
func (j *ReconciliationJob) Run(ctx context.Context) ([]ledger.BalanceDrift, error) {
	started := time.Now()
	drifts, err := j.reconciler.Reconcile(ctx)
	if err != nil {
		return nil, err
	}

	for _, d := range drifts {
		log.Printf("[Reconcile] Balance drift for user %s: balance=%s ledger=%s difference=%s",
			d.UserID, d.Balance, d.LedgerSum, d.Difference)
	}
	log.Printf("[Reconcile] Ledger reconciliation finished in %v: %d drifting balances", time.Since(started), len(drifts))
	return drifts, nil
}
