package compute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/analytics"
	"github.com/artforge-ai/artforge-api/internal/services/ledger"
	"github.com/artforge-ai/artforge-api/internal/services/notify"
	"github.com/artforge-ai/artforge-api/internal/services/storage"
)

const assetDownloadConcurrency = 4

// Transition is one observed change of a job's provider-side state, either
// delivered by webhook or discovered by the poll sweep.
type Transition struct {
	JobID         string
	Status        models.JobStatus
	ResultURLs    []string
	FailureReason string
}

// Reconciler applies provider state onto stored jobs. Transitions are
// monotonic: a delivery for a state the job already passed is a no-op, so
// at-least-once webhook delivery is safe.
type Reconciler struct {
	db       *gorm.DB
	ledger   *ledger.Service
	client   *Client
	store    *storage.Store
	recorder *analytics.Recorder
	notifier *notify.Service

	refundOnFailure bool
}

func NewReconciler(db *gorm.DB, ledgerSvc *ledger.Service, client *Client, store *storage.Store, recorder *analytics.Recorder, notifier *notify.Service, refundOnFailure bool) *Reconciler {
	return &Reconciler{
		db:              db,
		ledger:          ledgerSvc,
		client:          client,
		store:           store,
		recorder:        recorder,
		notifier:        notifier,
		refundOnFailure: refundOnFailure,
	}
}

func (r *Reconciler) AutoMigrate() error {
	return r.db.AutoMigrate(&models.GenerationJob{}, &models.GeneratedAsset{})
}

// GetJob loads one job by provider task id.
func (r *Reconciler) GetJob(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	var job models.GenerationJob
	err := r.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return &job, nil
}

// ListJobs returns the caller's jobs, newest first.
func (r *Reconciler) ListJobs(ctx context.Context, userID string, limit, offset int) ([]models.GenerationJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var jobs []models.GenerationJob
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", userID, err)
	}
	return jobs, nil
}

// ListAssets returns the caller's generated assets, newest first.
func (r *Reconciler) ListAssets(ctx context.Context, userID string, limit, offset int) ([]models.GeneratedAsset, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var assets []models.GeneratedAsset
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&assets).Error
	if err != nil {
		return nil, fmt.Errorf("list assets for %s: %w", userID, err)
	}
	return assets, nil
}

// CreateJob records a freshly submitted task in IN_QUEUE.
func (r *Reconciler) CreateJob(ctx context.Context, job *models.GenerationJob) error {
	job.Status = models.JobStatusInQueue
	job.MarkStatus(models.JobStatusInQueue, time.Now())
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// Apply moves one job through the state machine. Side effects fire exactly
// once per job:
//   - first COMPLETED attaches the generated assets
//   - first FAILED/CANCELLED refunds the charged cost (when configured),
//     keyed (refund, jobID) in the ledger so replays cannot double-refund
//
// Stale or duplicate transitions return the current job unchanged.
func (r *Reconciler) Apply(ctx context.Context, t Transition) (*models.GenerationJob, error) {
	job, err := r.GetJob(ctx, t.JobID)
	if err != nil {
		return nil, err
	}

	if t.Status.Rank() <= job.Status.Rank() {
		fiberlog.Debugf("reconciler: job %s already at %s, ignoring %s", job.ID, job.Status, t.Status)
		return job, nil
	}

	// Asset payloads are fetched before the transaction so the row lock is
	// never held across network calls. Attachment itself is guarded inside
	// the transaction, so a concurrent duplicate delivery wastes the
	// downloads but cannot duplicate rows.
	var assets []models.GeneratedAsset
	if t.Status == models.JobStatusCompleted {
		assets, err = r.buildAssets(ctx, job, t.ResultURLs)
		if err != nil {
			return nil, err
		}
	}

	var updated models.GenerationJob
	applied := false
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&updated, "id = ?", t.JobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrJobNotFound
			}
			return err
		}

		// A concurrent delivery may have won the race since the unlocked
		// check above; losing here must not re-fire the events either.
		if t.Status.Rank() <= updated.Status.Rank() {
			return nil
		}
		applied = true

		now := time.Now()
		updated.Status = t.Status
		updated.MarkStatus(t.Status, now)
		if t.FailureReason != "" {
			updated.FailureReason = t.FailureReason
		}

		switch t.Status {
		case models.JobStatusCompleted:
			if len(updated.AttachedAssetIDs()) == 0 && len(assets) > 0 {
				ids := make([]string, 0, len(assets))
				for i := range assets {
					if err := tx.Create(&assets[i]).Error; err != nil {
						return fmt.Errorf("attach asset to job %s: %w", updated.ID, err)
					}
					ids = append(ids, assets[i].ID)
				}
				updated.SetAttachedAssetIDs(ids)
			}

		case models.JobStatusFailed, models.JobStatusCancelled:
			if r.refundOnFailure && updated.CostCharged > 0 {
				_, err := r.ledger.CreditInTx(tx, models.CreditParams{
					UserID:      updated.UserID,
					Tokens:      updated.CostCharged,
					Kind:        models.CreditKindRefund,
					SourceRef:   updated.ID,
					Description: fmt.Sprintf("refund for %s job", t.Status),
				})
				if err != nil {
					return fmt.Errorf("refund job %s: %w", updated.ID, err)
				}
			}
		}

		return tx.Save(&updated).Error
	})
	if err != nil {
		return nil, err
	}

	if applied {
		r.emitEvents(ctx, &updated, t)
	}
	return &updated, nil
}

// buildAssets downloads the result images and stages GeneratedAsset rows.
// When no object store is configured the provider URLs are used directly.
func (r *Reconciler) buildAssets(ctx context.Context, job *models.GenerationJob, urls []string) ([]models.GeneratedAsset, error) {
	if len(job.AttachedAssetIDs()) > 0 || len(urls) == 0 {
		return nil, nil
	}

	assets := make([]models.GeneratedAsset, len(urls))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(assetDownloadConcurrency)
	for i, url := range urls {
		g.Go(func() error {
			asset := models.GeneratedAsset{
				ID:          uuid.NewString(),
				UserID:      job.UserID,
				JobID:       job.ID,
				PublicURL:   url,
				ContentType: "image/png",
			}

			if r.store != nil {
				data, err := r.client.Download(gctx, url)
				if err != nil {
					return err
				}
				key, publicURL, err := r.store.Save(gctx, job.UserID, data, asset.ContentType)
				if err != nil {
					return fmt.Errorf("store asset for job %s: %w", job.ID, err)
				}
				asset.StorageKey = key
				asset.PublicURL = publicURL
				asset.SizeBytes = int64(len(data))
				asset.Placeholder = storage.Placeholder(data)
			}

			mu.Lock()
			assets[i] = asset
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return assets, nil
}

func (r *Reconciler) emitEvents(ctx context.Context, job *models.GenerationJob, t Transition) {
	if r.recorder != nil {
		var durationMs int64
		times := job.StatusTimestamps()
		if started, ok := times[models.JobStatusInQueue]; ok {
			if ended, ok := times[job.Status]; ok {
				durationMs = ended.Sub(started).Milliseconds()
			}
		}
		r.recorder.RecordGeneration(models.GenerationEvent{
			UserID:     job.UserID,
			JobID:      job.ID,
			Model:      job.Model,
			Status:     string(job.Status),
			Width:      job.Width,
			Height:     job.Height,
			NumOutputs: job.NumOutputs,
			Cost:       job.CostCharged,
			DurationMs: durationMs,
		})
	}

	switch job.Status {
	case models.JobStatusCompleted:
		r.notifier.Event(ctx, notify.Event{
			Type:   notify.EventJobCompleted,
			UserID: job.UserID,
			Data:   map[string]any{"job_id": job.ID, "assets": job.AttachedAssetIDs()},
		})
	case models.JobStatusFailed, models.JobStatusCancelled:
		r.notifier.Event(ctx, notify.Event{
			Type:   notify.EventJobFailed,
			UserID: job.UserID,
			Data:   map[string]any{"job_id": job.ID, "reason": t.FailureReason},
		})
	}
}

// PurgeUserAssets removes a departing user's generated assets and jobs:
// stored objects first, best-effort, then the rows. Backs the user.deleted
// identity cascade.
func (r *Reconciler) PurgeUserAssets(ctx context.Context, userID string) error {
	var assets []models.GeneratedAsset
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&assets).Error; err != nil {
		return fmt.Errorf("list assets for %s: %w", userID, err)
	}

	if r.store != nil {
		for _, asset := range assets {
			if asset.StorageKey == "" {
				continue
			}
			if err := r.store.Delete(ctx, asset.StorageKey); err != nil {
				// Row deletion proceeds; an orphaned object only costs
				// storage, a dangling row would resurface in listings.
				fiberlog.Warnf("reconciler: delete stored asset %s: %v", asset.StorageKey, err)
			}
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.GeneratedAsset{}).Error; err != nil {
			return fmt.Errorf("delete assets for %s: %w", userID, err)
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.GenerationJob{}).Error; err != nil {
			return fmt.Errorf("delete jobs for %s: %w", userID, err)
		}
		return nil
	})
}

// StaleJobs returns non-terminal jobs whose last update is older than age,
// i.e. candidates for the poll sweep.
func (r *Reconciler) StaleJobs(ctx context.Context, age time.Duration, limit int) ([]models.GenerationJob, error) {
	if limit <= 0 {
		limit = 100
	}
	var jobs []models.GenerationJob
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.JobStatus{models.JobStatusInQueue, models.JobStatusInProgress}).
		Where("updated_at < ?", time.Now().Add(-age)).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return jobs, nil
}
