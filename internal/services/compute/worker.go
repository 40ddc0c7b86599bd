package compute

import (
	"context"
	"sync"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Worker is a pool that polls provider task state and feeds the results
// through the reconciler. Used for jobs whose webhooks never arrived.
type Worker struct {
	client     *Client
	reconciler *Reconciler
	tasks      chan string
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    chan struct{}
}

func NewWorker(client *Client, reconciler *Reconciler, poolSize, bufferSize int) *Worker {
	if poolSize <= 0 {
		poolSize = 4
	}
	if bufferSize <= 0 {
		bufferSize = 128
	}

	w := &Worker{
		client:     client,
		reconciler: reconciler,
		tasks:      make(chan string, bufferSize),
		stopped:    make(chan struct{}),
	}

	for range poolSize {
		w.wg.Add(1)
		go w.run()
	}

	return w
}

// Submit enqueues one job id for a status poll. Drops the task when the
// buffer is full; the next sweep will pick the job up again.
func (w *Worker) Submit(jobID string) {
	select {
	case <-w.stopped:
		fiberlog.Warnf("compute: worker stopped, cannot poll job %s", jobID)
	case w.tasks <- jobID:
	default:
		fiberlog.Warnf("compute: poll buffer full, dropping job %s", jobID)
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopped:
			return
		case jobID := <-w.tasks:
			w.poll(jobID)
		}
	}
}

func (w *Worker) poll(jobID string) {
	ctx := context.Background()

	status, err := w.client.Status(ctx, jobID)
	if err != nil {
		fiberlog.Errorf("compute: poll job %s: %v", jobID, err)
		return
	}

	_, err = w.reconciler.Apply(ctx, Transition{
		JobID:         jobID,
		Status:        status.Status,
		ResultURLs:    status.ResultURLs,
		FailureReason: status.FailureReason,
	})
	if err != nil {
		fiberlog.Errorf("compute: reconcile job %s: %v", jobID, err)
	}
}

// Stop gracefully stops the worker pool.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
		w.wg.Wait()
	})
}
