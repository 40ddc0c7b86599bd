package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/auth"
	"github.com/artforge-ai/artforge-api/internal/services/generation"
	"github.com/artforge-ai/artforge-api/internal/services/request"
)

type GenerationHandler struct {
	requestIDs        *request.IDSource
	generationService *generation.Service
}

func NewGenerationHandler(generationService *generation.Service) *GenerationHandler {
	return &GenerationHandler{
		requestIDs:        request.NewIDSource(),
		generationService: generationService,
	}
}

// CreateGenerationRequest is the POST /v1/generations body.
type CreateGenerationRequest struct {
	Model          string   `json:"model"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Width          int      `json:"width,omitempty"`
	Height         int      `json:"height,omitempty"`
	NumOutputs     int      `json:"num_outputs,omitempty"`
	ReferenceURLs  []string `json:"reference_urls,omitempty"`
	Upscale        bool     `json:"upscale,omitempty"`
	WithCharacter  bool     `json:"with_character,omitempty"`
	LoraTraining   bool     `json:"lora_training,omitempty"`
}

func (r *CreateGenerationRequest) toSpec(userID string) models.JobSpec {
	return models.JobSpec{
		UserID:         userID,
		Model:          r.Model,
		Prompt:         r.Prompt,
		NegativePrompt: r.NegativePrompt,
		Width:          r.Width,
		Height:         r.Height,
		NumOutputs:     r.NumOutputs,
		ReferenceURLs:  r.ReferenceURLs,
		Upscale:        r.Upscale,
		WithCharacter:  r.WithCharacter,
		LoraTraining:   r.LoraTraining,
	}
}

// CreateGeneration charges the caller and submits a generation job. The
// request id doubles as the debit's source reference, which is what ties a
// compensating refund back to this exact request.
func (h *GenerationHandler) CreateGeneration(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return writeError(c, models.ErrUnauthenticated)
	}

	var req CreateGenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	requestID := h.requestIDs.RequestID(c)

	job, err := h.generationService.Generate(c.Context(), requestID, req.toSpec(userID))
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(job)
}

// QuoteGeneration prices a spec without charging.
func (h *GenerationHandler) QuoteGeneration(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return writeError(c, models.ErrUnauthenticated)
	}

	var req CreateGenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	tokens, loraCredits := h.generationService.Quote(req.toSpec(userID))
	return c.JSON(fiber.Map{
		"tokens":       tokens,
		"lora_credits": loraCredits,
	})
}
