package generation

import (
	"context"
	"fmt"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/compute"
	"github.com/artforge-ai/artforge-api/internal/services/ledger"
	"github.com/artforge-ai/artforge-api/internal/services/notify"
)

const (
	maxPromptLength = 4000
	maxOutputs      = 4
	maxDimension    = 2048

	defaultWidth  = 1024
	defaultHeight = 1024
)

// Service runs the paid generation flow: entitlement check, pricing, debit,
// then submission. The order is fixed: submission happens only after the
// debit transaction commits, and a failed submission refunds through the
// ledger keyed on the request id so client retries cannot double-refund.
type Service struct {
	ledger     *ledger.Service
	pricing    *ledger.PricingTable
	client     *compute.Client
	reconciler *compute.Reconciler
	notifier   *notify.Service
}

func NewService(ledgerSvc *ledger.Service, pricing *ledger.PricingTable, client *compute.Client, reconciler *compute.Reconciler, notifier *notify.Service) *Service {
	return &Service{
		ledger:     ledgerSvc,
		pricing:    pricing,
		client:     client,
		reconciler: reconciler,
		notifier:   notifier,
	}
}

// Quote prices a spec without charging. Exposed so clients can show the
// cost before committing.
func (s *Service) Quote(spec models.JobSpec) (tokens, loraCredits int64) {
	spec = withDefaults(spec)
	return s.pricing.Cost(spec), s.pricing.LoraCost(spec)
}

// Generate charges for and submits one generation job.
func (s *Service) Generate(ctx context.Context, requestID string, spec models.JobSpec) (*models.GenerationJob, error) {
	spec = withDefaults(spec)
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	account, err := s.ledger.GetAccount(ctx, spec.UserID)
	if err != nil {
		return nil, err
	}
	if err := ledger.CheckEntitlement(account, s.pricing, spec); err != nil {
		return nil, err
	}

	cost := s.pricing.Cost(spec)
	loraCost := s.pricing.LoraCost(spec)

	_, err = s.ledger.Debit(ctx, models.DebitParams{
		UserID:      spec.UserID,
		Tokens:      cost,
		LoraCredits: loraCost,
		SourceRef:   requestID,
		Description: fmt.Sprintf("generation with %s", spec.Model),
	})
	if err != nil {
		return nil, err
	}

	taskID, err := s.client.Submit(ctx, spec)
	if err != nil {
		s.refundSubmitFailure(ctx, spec, cost, loraCost, requestID)
		return nil, err
	}

	job := &models.GenerationJob{
		ID:          taskID,
		UserID:      spec.UserID,
		Model:       spec.Model,
		Prompt:      spec.Prompt,
		Width:       spec.Width,
		Height:      spec.Height,
		NumOutputs:  spec.NumOutputs,
		CostCharged: cost,
		RequestRef:  requestID,
	}
	if err := s.reconciler.CreateJob(ctx, job); err != nil {
		// The task is already charged and running; losing the job row
		// would orphan the charge, so this is an ops-level integrity
		// problem rather than something the caller can fix.
		s.notifier.Alert("job row creation failed for charged task %s (user %s): %v", taskID, spec.UserID, err)
		return nil, models.NewInternalError("failed to record generation job", err)
	}

	fiberlog.Infof("generation: job %s submitted for user %s, cost %d", taskID, spec.UserID, cost)
	return job, nil
}

// refundSubmitFailure compensates a debit whose submission never reached the
// provider. Keyed on the request id, so redeliveries and retries collapse
// into one refund.
func (s *Service) refundSubmitFailure(ctx context.Context, spec models.JobSpec, cost, loraCost int64, requestID string) {
	_, err := s.ledger.Credit(ctx, models.CreditParams{
		UserID:      spec.UserID,
		Tokens:      cost,
		LoraCredits: loraCost,
		Kind:        models.CreditKindRefund,
		SourceRef:   requestID,
		Description: "refund for failed submission",
	})
	if err != nil {
		// A charged token with no job and no refund must never vanish
		// silently.
		fiberlog.Errorf("generation: compensating refund failed for request %s (user %s): %v", requestID, spec.UserID, err)
		s.notifier.Alert("compensating refund failed for request %s (user %s): %v", requestID, spec.UserID, err)
	}
}

func withDefaults(spec models.JobSpec) models.JobSpec {
	if spec.Width <= 0 {
		spec.Width = defaultWidth
	}
	if spec.Height <= 0 {
		spec.Height = defaultHeight
	}
	if spec.NumOutputs <= 0 {
		spec.NumOutputs = 1
	}
	return spec
}

func validateSpec(spec models.JobSpec) error {
	if spec.Prompt == "" {
		return models.NewValidationError("prompt is required", nil)
	}
	if len(spec.Prompt) > maxPromptLength {
		return models.NewValidationError("prompt too long", nil)
	}
	if spec.Model == "" {
		return models.NewValidationError("model is required", nil)
	}
	if spec.NumOutputs > maxOutputs {
		return models.NewValidationError(fmt.Sprintf("num_outputs cannot exceed %d", maxOutputs), nil)
	}
	if spec.Width > maxDimension || spec.Height > maxDimension {
		return models.NewValidationError(fmt.Sprintf("dimensions cannot exceed %d", maxDimension), nil)
	}
	return nil
}
