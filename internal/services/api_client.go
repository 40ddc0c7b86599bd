package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Client is a pooled HTTP client shared by the outbound compute and payment
// gateway integrations.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Headers    map[string]string
}

// RequestOptions provides per-request options.
type RequestOptions struct {
	Headers      map[string]string
	QueryParams  map[string]string
	Timeout      time.Duration
	Context      context.Context
	ResponseType string // "json" or "binary"
	Retries      int
	RetryDelay   time.Duration
}

// ClientConfig holds connection pool configuration.
type ClientConfig struct {
	BaseURL             string
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	KeepAlive           time.Duration
	TLSHandshakeTimeout time.Duration
}

func DefaultClientConfig(baseURL string) *ClientConfig {
	return &ClientConfig{
		BaseURL:             baseURL,
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		KeepAlive:           30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

func NewClient(baseURL string) *Client {
	return NewClientWithConfig(DefaultClientConfig(baseURL))
}

func NewClientWithConfig(config *ClientConfig) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		TLSHandshakeTimeout: config.TLSHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		BaseURL: config.BaseURL,
		HTTPClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
			"User-Agent":   "artforge-api/1.0",
		},
	}
}

// Get performs a GET request.
func (c *Client) Get(path string, result any, opts *RequestOptions) error {
	return c.doRequest(http.MethodGet, path, nil, result, opts)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(path string, body, result any, opts *RequestOptions) error {
	return c.doRequest(http.MethodPost, path, body, result, opts)
}

// doRequest performs an HTTP request with bounded retries on transient
// failures. Non-retryable errors break out early.
func (c *Client) doRequest(method, path string, body, result any, opts *RequestOptions) error {
	url := c.BaseURL + path

	if opts == nil {
		opts = &RequestOptions{}
	}
	if opts.Retries == 0 {
		opts.Retries = 3
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 1 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * opts.RetryDelay)
		}

		err := c.executeRequest(method, url, body, result, opts)
		if err == nil {
			return nil
		}

		lastErr = err

		if !c.isRetryableError(err) {
			break
		}
	}

	return fmt.Errorf("request failed after %d attempts: %w", opts.Retries+1, lastErr)
}

func (c *Client) executeRequest(method, url string, body, result any, opts *RequestOptions) error {
	ctx := context.Background()
	if opts.Context != nil {
		ctx = opts.Context
	} else if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var reqBody io.Reader
	var bodySize int64
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
		bodySize = int64(len(jsonBody))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	if bodySize > 0 {
		req.ContentLength = bodySize
	}

	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	if len(opts.QueryParams) > 0 {
		q := req.URL.Query()
		for k, v := range opts.QueryParams {
			q.Add(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("error executing request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fiberlog.Errorf("Error closing response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API request failed with status code %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return c.handleResponse(resp, result, opts)
}

func (c *Client) handleResponse(resp *http.Response, result any, opts *RequestOptions) error {
	responseType := "json"
	if opts.ResponseType != "" {
		responseType = opts.ResponseType
	}

	switch responseType {
	case "json":
		return c.handleJSONResponse(resp, result)
	case "binary":
		return c.handleBinaryResponse(resp, result)
	default:
		return fmt.Errorf("unsupported response type: %s", responseType)
	}
}

func (c *Client) handleJSONResponse(resp *http.Response, result any) error {
	if result == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if err := json.Unmarshal(bodyBytes, result); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}

	return nil
}

func (c *Client) handleBinaryResponse(resp *http.Response, result any) error {
	bytesResult, ok := result.(*[]byte)
	if !ok {
		return fmt.Errorf("result must be *[]byte for binary response")
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	*bytesResult = bodyBytes
	return nil
}

func (c *Client) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if netErr, ok := err.(net.Error); ok {
		return netErr.Timeout()
	}

	if err == context.DeadlineExceeded {
		return true
	}

	errStr := err.Error()
	retryableStatusCodes := []string{"500", "502", "503", "504", "520", "521", "522", "523", "524"}
	for _, code := range retryableStatusCodes {
		if containsStatusCode(errStr, code) {
			return true
		}
	}

	return false
}

func containsStatusCode(errStr, statusCode string) bool {
	return fmt.Sprintf("status code %s", statusCode) == errStr ||
		fmt.Sprintf("status %s", statusCode) == errStr
}

// Close closes idle connections in the underlying transport.
func (c *Client) Close() {
	if transport, ok := c.HTTPClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
