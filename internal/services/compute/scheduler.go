package compute

import (
	"context"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

const (
	defaultSweepInterval = 30 * time.Second

	// staleAfter is how long a non-terminal job may sit without an update
	// before the sweep re-polls it.
	staleAfter = 1 * time.Minute

	sweepBatchSize = 100
)

// Scheduler periodically sweeps non-terminal jobs into the poll worker.
// Webhooks are the primary signal; the sweep is the safety net that keeps
// the ledger and job table converging when deliveries are lost.
type Scheduler struct {
	reconciler *Reconciler
	worker     *Worker
	interval   time.Duration
	stopChan   chan struct{}
}

func NewScheduler(reconciler *Reconciler, worker *Worker, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Scheduler{
		reconciler: reconciler,
		worker:     worker,
		interval:   interval,
		stopChan:   make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	fiberlog.Infof("compute: reconcile sweep started, running every %s", s.interval)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			fiberlog.Info("compute: reconcile sweep stopped")
			return
		case <-ctx.Done():
			fiberlog.Info("compute: reconcile sweep stopped due to context cancellation")
			return
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	jobs, err := s.reconciler.StaleJobs(ctx, staleAfter, sweepBatchSize)
	if err != nil {
		fiberlog.Errorf("compute: sweep: %v", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	fiberlog.Debugf("compute: sweeping %d stale jobs", len(jobs))
	for _, job := range jobs {
		s.worker.Submit(job.ID)
	}
}

func (s *Scheduler) Stop() {
	close(s.stopChan)
}
