package analytics

import (
	"context"
	"sync"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/artforge-ai/artforge-api/internal/models"
)

// Recorder writes generation and ledger events to a separate analytics
// database, typically ClickHouse. Events flow through a buffered worker
// pool so request paths never block on the analytics store.
type Recorder struct {
	db       *gorm.DB
	tasks    chan any
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

func NewRecorder(db *gorm.DB, poolSize, bufferSize int) *Recorder {
	if poolSize <= 0 {
		poolSize = 2
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}

	r := &Recorder{
		db:      db,
		tasks:   make(chan any, bufferSize),
		stopped: make(chan struct{}),
	}
	for range poolSize {
		r.wg.Add(1)
		go r.run()
	}
	return r
}

func (r *Recorder) AutoMigrate() error {
	return r.db.AutoMigrate(&models.GenerationEvent{}, &models.LedgerEvent{})
}

// RecordGeneration enqueues one generation lifecycle event. Drops the event
// when the buffer is full.
func (r *Recorder) RecordGeneration(event models.GenerationEvent) {
	r.submit(&event)
}

// RecordLedger enqueues one ledger activity event.
func (r *Recorder) RecordLedger(event models.LedgerEvent) {
	r.submit(&event)
}

func (r *Recorder) submit(event any) {
	if r == nil {
		return
	}
	select {
	case <-r.stopped:
		return
	case r.tasks <- event:
	default:
		fiberlog.Warn("analytics: event buffer full, dropping event")
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopped:
			return
		case event := <-r.tasks:
			if err := r.db.WithContext(context.Background()).Create(event).Error; err != nil {
				fiberlog.Errorf("analytics: write event: %v", err)
			}
		}
	}
}

// Stop drains nothing; queued events not yet written are discarded.
func (r *Recorder) Stop() {
	if r == nil {
		return
	}
	r.stopOnce.Do(func() {
		close(r.stopped)
		r.wg.Wait()
	})
}
