package api

import (
	"bufio"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/valyala/fasthttp"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/auth"
	"github.com/artforge-ai/artforge-api/internal/services/compute"
	"github.com/artforge-ai/artforge-api/internal/utils"
)

const (
	// computeSignatureHeader carries the provider's shared webhook secret.
	computeSignatureHeader = "X-Webhook-Secret"

	eventsPollInterval = 2 * time.Second
	eventsMaxDuration  = 10 * time.Minute
)

type JobsHandler struct {
	reconciler    *compute.Reconciler
	webhookSecret string
}

func NewJobsHandler(reconciler *compute.Reconciler, webhookSecret string) *JobsHandler {
	return &JobsHandler{
		reconciler:    reconciler,
		webhookSecret: webhookSecret,
	}
}

// GetJob returns one job, scoped to its owner.
func (h *JobsHandler) GetJob(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return writeError(c, models.ErrUnauthenticated)
	}

	job, err := h.reconciler.GetJob(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if job.UserID != userID {
		return writeError(c, models.ErrJobNotFound)
	}

	return c.JSON(job)
}

// ListJobs returns the caller's jobs, newest first.
func (h *JobsHandler) ListJobs(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return writeError(c, models.ErrUnauthenticated)
	}

	limit := parseQueryInt(c, "limit", 50, 1, 100)
	offset := parseQueryInt(c, "offset", 0, 0, 1<<30)

	jobs, err := h.reconciler.ListJobs(c.Context(), userID, limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}

// StreamJobEvents streams job status changes as SSE until the job reaches a
// terminal state or the stream times out.
func (h *JobsHandler) StreamJobEvents(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return writeError(c, models.ErrUnauthenticated)
	}

	jobID := c.Params("id")
	job, err := h.reconciler.GetJob(c.Context(), jobID)
	if err != nil {
		return writeError(c, err)
	}
	if job.UserID != userID {
		return writeError(c, models.ErrJobNotFound)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		deadline := time.Now().Add(eventsMaxDuration)
		lastStatus := models.JobStatus("")

		for time.Now().Before(deadline) {
			job, err := h.reconciler.GetJob(c.Context(), jobID)
			if err != nil {
				fiberlog.Errorf("jobs: event stream load %s: %v", jobID, err)
				return
			}

			if job.Status != lastStatus {
				lastStatus = job.Status
				if err := writeSSEEvent(w, job); err != nil {
					return
				}
			}

			if job.Status.IsTerminal() {
				return
			}
			time.Sleep(eventsPollInterval)
		}
	}))

	return nil
}

// writeSSEEvent frames one job snapshot as an SSE data event.
func writeSSEEvent(w *bufio.Writer, job *models.GenerationJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	buf := utils.Get()
	defer utils.Put(buf)

	buf.B = append(buf.B, "event: status\ndata: "...)
	buf.B = append(buf.B, payload...)
	buf.B = append(buf.B, "\n\n"...)

	if _, err := w.Write(buf.B); err != nil {
		return err
	}
	return w.Flush()
}

// computeWebhookPayload is the provider's status callback body.
type computeWebhookPayload struct {
	TaskID     string   `json:"taskId"`
	State      string   `json:"state"`
	ResultURLs []string `json:"resultUrls,omitempty"`
	FailCode   string   `json:"failCode,omitempty"`
	FailMsg    string   `json:"failMsg,omitempty"`
}

// HandleComputeWebhook applies one provider callback through the
// reconciler. An unknown job id is logged as an integrity concern but still
// acknowledged so the provider stops redelivering.
func (h *JobsHandler) HandleComputeWebhook(c *fiber.Ctx) error {
	secret := c.Get(computeSignatureHeader)
	if h.webhookSecret == "" ||
		subtle.ConstantTimeCompare([]byte(secret), []byte(h.webhookSecret)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid webhook secret",
		})
	}

	var payload computeWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if payload.TaskID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "taskId is required",
		})
	}

	transition := compute.Transition{
		JobID:      payload.TaskID,
		Status:     compute.NormalizeState(payload.State),
		ResultURLs: payload.ResultURLs,
	}
	if transition.Status == models.JobStatusFailed {
		transition.FailureReason = payload.FailMsg
		if transition.FailureReason == "" {
			transition.FailureReason = "unknown provider error"
		}
	}

	_, err := h.reconciler.Apply(c.Context(), transition)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			fiberlog.Warnf("jobs: webhook for unknown job %s (state %s)", payload.TaskID, payload.State)
			return c.JSON(fiber.Map{"received": true, "known": false})
		}
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"received": true})
}
