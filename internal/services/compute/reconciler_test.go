package compute

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/analytics"
	"github.com/artforge-ai/artforge-api/internal/services/ledger"
	"github.com/artforge-ai/artforge-api/internal/services/notify"
)

func newTestReconciler(t *testing.T, refundOnFailure bool) (*Reconciler, *ledger.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ledgerSvc := ledger.NewService(db)
	require.NoError(t, ledgerSvc.AutoMigrate())

	r := NewReconciler(db, ledgerSvc, nil, nil, nil, notify.NewService(nil, nil), refundOnFailure)
	require.NoError(t, r.AutoMigrate())

	return r, ledgerSvc, db
}

func seedJob(t *testing.T, r *Reconciler, id string, cost int64) *models.GenerationJob {
	t.Helper()

	job := &models.GenerationJob{
		ID:          id,
		UserID:      "user-1",
		Model:       "flux-base",
		Prompt:      "a watercolor fox",
		Width:       1024,
		Height:      1024,
		NumOutputs:  1,
		CostCharged: cost,
		RequestRef:  "req-1",
	}
	require.NoError(t, r.CreateJob(context.Background(), job))
	return job
}

func TestApplyAdvancesStatus(t *testing.T) {
	r, _, _ := newTestReconciler(t, false)
	seedJob(t, r, "task-1", 10)
	ctx := context.Background()

	job, err := r.Apply(ctx, Transition{JobID: "task-1", Status: models.JobStatusInProgress})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusInProgress, job.Status)

	job, err = r.Apply(ctx, Transition{
		JobID:      "task-1",
		Status:     models.JobStatusCompleted,
		ResultURLs: []string{"https://cdn.provider/img-1.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestApplyNeverRegresses(t *testing.T) {
	r, _, _ := newTestReconciler(t, false)
	seedJob(t, r, "task-1", 10)
	ctx := context.Background()

	_, err := r.Apply(ctx, Transition{
		JobID:      "task-1",
		Status:     models.JobStatusCompleted,
		ResultURLs: []string{"https://cdn.provider/img-1.png"},
	})
	require.NoError(t, err)

	// Late delivery of an earlier state is a no-op.
	job, err := r.Apply(ctx, Transition{JobID: "task-1", Status: models.JobStatusInProgress})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)

	// And a terminal state cannot displace another terminal state.
	job, err = r.Apply(ctx, Transition{JobID: "task-1", Status: models.JobStatusFailed})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestApplyCompletedAttachesAssetsOnce(t *testing.T) {
	r, _, db := newTestReconciler(t, false)
	seedJob(t, r, "task-1", 10)
	ctx := context.Background()

	urls := []string{
		"https://cdn.provider/img-1.png",
		"https://cdn.provider/img-2.png",
	}
	job, err := r.Apply(ctx, Transition{JobID: "task-1", Status: models.JobStatusCompleted, ResultURLs: urls})
	require.NoError(t, err)
	assert.Len(t, job.AttachedAssetIDs(), 2)

	// Redelivered COMPLETED webhook: no new asset rows.
	_, err = r.Apply(ctx, Transition{JobID: "task-1", Status: models.JobStatusCompleted, ResultURLs: urls})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.GeneratedAsset{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	// Without an object store the provider URLs are served directly.
	assets, err := r.ListAssets(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	for _, asset := range assets {
		assert.Contains(t, urls, asset.PublicURL)
		assert.Equal(t, "task-1", asset.JobID)
	}
}

func TestApplyEmitsEventsOncePerTransition(t *testing.T) {
	r, _, db := newTestReconciler(t, false)

	recorder := analytics.NewRecorder(db, 1, 64)
	require.NoError(t, recorder.AutoMigrate())
	t.Cleanup(recorder.Stop)
	r.recorder = recorder

	seedJob(t, r, "task-1", 10)

	// Concurrent identical deliveries: only the one that wins the in-row
	// race may record the completion event.
	const deliveries = 8
	var wg sync.WaitGroup
	for range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Apply(context.Background(), Transition{
				JobID:      "task-1",
				Status:     models.JobStatusCompleted,
				ResultURLs: []string{"https://cdn.provider/img-1.png"},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	countEvents := func() int64 {
		var n int64
		require.NoError(t, db.Model(&models.GenerationEvent{}).Count(&n).Error)
		return n
	}
	require.Eventually(t, func() bool { return countEvents() >= 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return countEvents() > 1 },
		300*time.Millisecond, 25*time.Millisecond)
}

func TestApplyFailedRefundsOnce(t *testing.T) {
	r, ledgerSvc, _ := newTestReconciler(t, true)
	seedJob(t, r, "task-1", 40)
	ctx := context.Background()

	job, err := r.Apply(ctx, Transition{
		JobID:         "task-1",
		Status:        models.JobStatusFailed,
		FailureReason: "gpu oom",
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "gpu oom", job.FailureReason)

	account, err := ledgerSvc.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), account.Tokens)

	// A redelivered failure webhook cannot refund twice.
	_, err = r.Apply(ctx, Transition{JobID: "task-1", Status: models.JobStatusFailed})
	require.NoError(t, err)

	account, err = ledgerSvc.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), account.Tokens)

	history, err := ledgerSvc.GetTransactionHistory(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.LedgerTransactionRefund, history[0].Type)
	assert.Equal(t, "task-1", history[0].SourceRef)
}

func TestApplyCancelledRefunds(t *testing.T) {
	r, ledgerSvc, _ := newTestReconciler(t, true)
	seedJob(t, r, "task-1", 25)

	_, err := r.Apply(context.Background(), Transition{JobID: "task-1", Status: models.JobStatusCancelled})
	require.NoError(t, err)

	account, err := ledgerSvc.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), account.Tokens)
}

func TestApplyFailureWithoutRefundPolicy(t *testing.T) {
	r, ledgerSvc, _ := newTestReconciler(t, false)
	seedJob(t, r, "task-1", 40)

	_, err := r.Apply(context.Background(), Transition{JobID: "task-1", Status: models.JobStatusFailed})
	require.NoError(t, err)

	_, err = ledgerSvc.GetAccount(context.Background(), "user-1")
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestApplyUnknownJob(t *testing.T) {
	r, _, _ := newTestReconciler(t, false)

	_, err := r.Apply(context.Background(), Transition{JobID: "ghost", Status: models.JobStatusCompleted})
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestStaleJobsSkipsTerminalAndFresh(t *testing.T) {
	r, _, db := newTestReconciler(t, false)
	ctx := context.Background()

	seedJob(t, r, "stale-queued", 10)
	seedJob(t, r, "fresh-queued", 10)
	seedJob(t, r, "done", 10)
	_, err := r.Apply(ctx, Transition{
		JobID:      "done",
		Status:     models.JobStatusCompleted,
		ResultURLs: []string{"https://cdn.provider/img.png"},
	})
	require.NoError(t, err)

	old := time.Now().Add(-10 * time.Minute)
	require.NoError(t, db.Model(&models.GenerationJob{}).
		Where("id = ?", "stale-queued").
		Update("updated_at", old).Error)

	jobs, err := r.StaleJobs(ctx, 5*time.Minute, 100)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "stale-queued", jobs[0].ID)
}

func TestPurgeUserAssetsRemovesJobsAndAssets(t *testing.T) {
	r, _, db := newTestReconciler(t, false)
	ctx := context.Background()

	seedJob(t, r, "task-1", 10)
	_, err := r.Apply(ctx, Transition{
		JobID:      "task-1",
		Status:     models.JobStatusCompleted,
		ResultURLs: []string{"https://cdn.provider/img-1.png"},
	})
	require.NoError(t, err)

	other := &models.GenerationJob{
		ID:     "task-2",
		UserID: "user-2",
		Model:  "flux-base",
		Prompt: "a clay hummingbird",
	}
	require.NoError(t, r.CreateJob(ctx, other))

	require.NoError(t, r.PurgeUserAssets(ctx, "user-1"))

	var jobs, assets int64
	require.NoError(t, db.Model(&models.GenerationJob{}).Where("user_id = ?", "user-1").Count(&jobs).Error)
	require.NoError(t, db.Model(&models.GeneratedAsset{}).Where("user_id = ?", "user-1").Count(&assets).Error)
	assert.Zero(t, jobs)
	assert.Zero(t, assets)

	// Another user's jobs survive the purge.
	_, err = r.GetJob(ctx, "task-2")
	assert.NoError(t, err)
}

func TestListJobsScopedToOwner(t *testing.T) {
	r, _, _ := newTestReconciler(t, false)
	seedJob(t, r, "task-1", 10)
	ctx := context.Background()

	jobs, err := r.ListJobs(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	jobs, err = r.ListJobs(ctx, "someone-else", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestNormalizeState(t *testing.T) {
	cases := map[string]models.JobStatus{
		"waiting":    models.JobStatusInQueue,
		"queued":     models.JobStatusInQueue,
		"generating": models.JobStatusInProgress,
		"success":    models.JobStatusCompleted,
		"fail":       models.JobStatusFailed,
		"cancelled":  models.JobStatusCancelled,
		"canceled":   models.JobStatusCancelled,
	}
	for state, want := range cases {
		assert.Equal(t, want, NormalizeState(state), "state %q", state)
	}

	// Unknown provider states must never regress a job.
	assert.Equal(t, models.JobStatusInProgress, NormalizeState("some-new-state"))
}

func TestMarkStatusKeepsFirstObservation(t *testing.T) {
	job := &models.GenerationJob{ID: "task-1"}

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job.MarkStatus(models.JobStatusInQueue, first)
	job.MarkStatus(models.JobStatusInQueue, first.Add(time.Hour))

	times := job.StatusTimestamps()
	assert.Equal(t, first, times[models.JobStatusInQueue])
}
