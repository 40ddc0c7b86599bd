package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services"
	"github.com/artforge-ai/artforge-api/internal/services/circuitbreaker"
)

const (
	createTaskPath = "/api/v1/jobs/createTask"
	recordInfoPath = "/api/v1/jobs/recordInfo"

	defaultRequestTimeout = 30 * time.Second
)

// TaskStatus is the provider's view of one job, normalized to the internal
// state machine.
type TaskStatus struct {
	TaskID        string
	Status        models.JobStatus
	ResultURLs    []string
	FailureReason string
}

// Client talks to the async GPU job-queue provider. All calls go through a
// Redis-backed circuit breaker so a provider outage fails fast instead of
// holding request goroutines.
type Client struct {
	http      *services.Client
	apiKey    string
	jwtSecret string
	timeout   time.Duration
	breaker   *circuitbreaker.CircuitBreaker
}

func NewClient(cfg models.ComputeConfig, redisClient *redis.Client) *Client {
	timeout := defaultRequestTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}

	var breaker *circuitbreaker.CircuitBreaker
	if redisClient != nil {
		if cb := cfg.CircuitBreaker; cb != nil {
			breaker = circuitbreaker.NewWithConfig(redisClient, "compute", circuitbreaker.Config{
				FailureThreshold: cb.FailureThreshold,
				SuccessThreshold: cb.SuccessThreshold,
				Timeout:          time.Duration(cb.TimeoutMs) * time.Millisecond,
				ResetAfter:       time.Duration(cb.ResetAfterMs) * time.Millisecond,
			})
		} else {
			breaker = circuitbreaker.NewForService(redisClient, "compute")
		}
	}

	clientCfg := services.DefaultClientConfig(cfg.BaseURL)
	clientCfg.Timeout = timeout

	return &Client{
		http:      services.NewClientWithConfig(clientCfg),
		apiKey:    cfg.APIKey,
		jwtSecret: cfg.JWTSecret,
		timeout:   timeout,
		breaker:   breaker,
	}
}

type taskEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type createTaskData struct {
	TaskID string `json:"taskId"`
}

type recordInfoData struct {
	TaskID     string `json:"taskId"`
	State      string `json:"state"`
	ResultJSON string `json:"resultJson"`
	FailCode   string `json:"failCode"`
	FailMsg    string `json:"failMsg"`
}

// Submit creates one generation task and returns the provider task id. The
// returned id becomes the job's primary key.
func (c *Client) Submit(ctx context.Context, spec models.JobSpec) (string, error) {
	if c.breaker != nil && !c.breaker.CanExecute() {
		return "", models.NewCircuitBreakerError("compute")
	}

	input := map[string]any{
		"prompt":      spec.Prompt,
		"width":       spec.Width,
		"height":      spec.Height,
		"num_outputs": spec.NumOutputs,
	}
	if spec.NegativePrompt != "" {
		input["negative_prompt"] = spec.NegativePrompt
	}
	if len(spec.ReferenceURLs) > 0 {
		input["image_input"] = spec.ReferenceURLs
	}
	if spec.Upscale {
		input["upscale"] = true
	}
	if spec.WithCharacter {
		input["with_character"] = true
	}
	if spec.LoraTraining {
		input["lora_training"] = true
	}

	payload := map[string]any{
		"model": spec.Model,
		"input": input,
	}

	var envelope taskEnvelope
	err := c.http.Post(createTaskPath, payload, &envelope, c.requestOptions(ctx))
	if err != nil {
		c.recordFailure()
		return "", models.NewProviderError("compute", "create task failed", err)
	}
	if envelope.Code != 200 {
		c.recordFailure()
		return "", models.NewProviderError("compute", fmt.Sprintf("create task rejected: code=%d msg=%s", envelope.Code, envelope.Msg), nil)
	}

	var data createTaskData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		c.recordFailure()
		return "", models.NewProviderError("compute", "decode create task response", err)
	}
	if data.TaskID == "" {
		c.recordFailure()
		return "", models.NewProviderError("compute", "empty task id in create response", nil)
	}

	c.recordSuccess()
	fiberlog.Infof("compute: task created - task_id: %s, model: %s", data.TaskID, spec.Model)
	return data.TaskID, nil
}

// Status fetches one task's current state. Used by the poll sweep for jobs
// whose webhooks never arrived.
func (c *Client) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	if c.breaker != nil && !c.breaker.CanExecute() {
		return nil, models.NewCircuitBreakerError("compute")
	}

	opts := c.requestOptions(ctx)
	opts.QueryParams = map[string]string{"taskId": taskID}

	var envelope taskEnvelope
	if err := c.http.Get(recordInfoPath, &envelope, opts); err != nil {
		c.recordFailure()
		return nil, models.NewProviderError("compute", "get task status failed", err)
	}
	if envelope.Code != 200 {
		c.recordFailure()
		return nil, models.NewProviderError("compute", fmt.Sprintf("task status rejected: code=%d msg=%s", envelope.Code, envelope.Msg), nil)
	}

	var data recordInfoData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		c.recordFailure()
		return nil, models.NewProviderError("compute", "decode task status response", err)
	}

	c.recordSuccess()

	status := &TaskStatus{
		TaskID: data.TaskID,
		Status: NormalizeState(data.State),
	}
	if status.Status == models.JobStatusCompleted && data.ResultJSON != "" {
		var result struct {
			ResultURLs []string `json:"resultUrls"`
		}
		if err := json.Unmarshal([]byte(data.ResultJSON), &result); err != nil {
			return nil, models.NewProviderError("compute", "parse task result", err)
		}
		status.ResultURLs = result.ResultURLs
	}
	if status.Status == models.JobStatusFailed {
		status.FailureReason = data.FailMsg
		if status.FailureReason == "" {
			status.FailureReason = "unknown provider error"
		}
		if data.FailCode != "" {
			status.FailureReason = fmt.Sprintf("%s (code: %s)", status.FailureReason, data.FailCode)
		}
	}

	return status, nil
}

// Download fetches one result image from the provider's CDN.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	opts := &services.RequestOptions{
		Context:      ctx,
		ResponseType: "binary",
	}
	// Absolute result URLs bypass the configured base.
	raw := services.NewClient("")
	defer raw.Close()
	if err := raw.Get(url, &data, opts); err != nil {
		return nil, models.NewProviderError("compute", "download result", err)
	}
	return data, nil
}

func (c *Client) requestOptions(ctx context.Context) *services.RequestOptions {
	headers := map[string]string{}
	if token, err := c.bearerToken(); err == nil {
		headers["Authorization"] = "Bearer " + token
	} else {
		fiberlog.Warnf("compute: bearer token generation failed, using api key: %v", err)
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	return &services.RequestOptions{
		Context: ctx,
		Timeout: c.timeout,
		Headers: headers,
	}
}

// bearerToken signs a short-lived JWT when a shared secret is configured;
// otherwise the static API key is used as-is.
func (c *Client) bearerToken() (string, error) {
	if c.jwtSecret == "" {
		return c.apiKey, nil
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": "artforge-api",
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.jwtSecret))
}

// BreakerState reports the current circuit breaker state without mutating
// it. Returns an empty string when no breaker is configured.
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return ""
	}
	return c.breaker.GetState().String()
}

func (c *Client) recordSuccess() {
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
}

func (c *Client) recordFailure() {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
}

// NormalizeState maps provider task states onto the job state machine.
// Unrecognized states map to IN_PROGRESS so they never regress a job.
func NormalizeState(state string) models.JobStatus {
	switch state {
	case "waiting", "queued", "queueing":
		return models.JobStatusInQueue
	case "generating", "processing":
		return models.JobStatusInProgress
	case "success":
		return models.JobStatusCompleted
	case "fail":
		return models.JobStatusFailed
	case "cancelled", "canceled":
		return models.JobStatusCancelled
	default:
		return models.JobStatusInProgress
	}
}
