// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// Configuration constants for OpenRouter API.
const (
	// DefaultOpenRouterURL is the base URL for OpenRouter API.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of attempts for transient
	// catalog errors.
	DefaultMaxRetries = 3

	// DefaultSiteURL is sent as HTTP-Referer.
	DefaultSiteURL = "https://rigchat.local"

	// DefaultSiteName is sent as X-Title.
	DefaultSiteName = "rigchat"

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed non-streaming response body size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024

	// maxErrorBodySize caps how much of an error body is read.
	maxErrorBodySize = 64 * 1024

	// genericFailure is reported when an error body cannot be parsed.
	genericFailure = "Request failed"
)

var tracer = otel.Tracer("github.com/jeranaias/rigrun-chat/internal/cloud")

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	sharedHTTPClient = &http.Client{
		Transport: newTransport(),
		Timeout:   DefaultTimeout,
	}

	// sharedStreamingClient has no timeout; streams are bounded by context.
	sharedStreamingClient = &http.Client{
		Transport: newTransport(),
	}
)

// Error variables for common OpenRouter errors.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("OpenRouter API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account has insufficient credits.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// OpenRouterError represents a non-success response from the OpenRouter API.
//
// Message is the server-supplied error message, or a generic one when the
// body could not be parsed.
type OpenRouterError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *OpenRouterError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("OpenRouter error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("OpenRouter error (HTTP %d): %s", e.Status, e.Message)
}

// Is maps HTTP status codes onto the package sentinels.
func (e *OpenRouterError) Is(target error) bool {
	switch target {
	case ErrAuthFailed:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrInsufficientCredits:
		return e.Status == http.StatusPaymentRequired
	case ErrModelNotFound:
		return e.Status == http.StatusNotFound
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	}
	return false
}

// apiErrorResponse represents an error response from the API.
// Code is a number on OpenRouter and a string on some compatible servers.
type apiErrorResponse struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// modelsResponse is the wire structure of the catalog endpoint.
type modelsResponse struct {
	Data []struct {
		ID            string         `json:"id"`
		Name          string         `json:"name"`
		Description   string         `json:"description"`
		ContextLength int            `json:"context_length"`
		Pricing       *model.Pricing `json:"pricing"`
	} `json:"data"`
}

// OpenRouterClient talks to an OpenRouter-compatible API. The credential is
// supplied per call so one client can serve any number of sessions.
type OpenRouterClient struct {
	baseURL      string
	siteURL      string
	siteName     string
	maxRetries   int
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// NewOpenRouterClient creates a client with default settings and no pacing.
func NewOpenRouterClient() *OpenRouterClient {
	return &OpenRouterClient{
		baseURL:      DefaultOpenRouterURL,
		siteURL:      DefaultSiteURL,
		siteName:     DefaultSiteName,
		maxRetries:   DefaultMaxRetries,
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
		limiter:      rate.NewLimiter(rate.Inf, 1),
		logger:       slog.Default(),
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *OpenRouterClient) WithBaseURL(url string) *OpenRouterClient {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithTimeout sets the timeout for non-streaming requests.
func (c *OpenRouterClient) WithTimeout(timeout time.Duration) *OpenRouterClient {
	client := *c.httpClient
	client.Timeout = timeout
	c.httpClient = &client
	return c
}

// WithMaxRetries sets the maximum number of catalog attempts.
func (c *OpenRouterClient) WithMaxRetries(maxRetries int) *OpenRouterClient {
	if maxRetries < 1 {
		maxRetries = 1
	}
	c.maxRetries = maxRetries
	return c
}

// WithSiteURL sets the HTTP-Referer sent with every request.
func (c *OpenRouterClient) WithSiteURL(url string) *OpenRouterClient {
	c.siteURL = url
	return c
}

// WithSiteName sets the X-Title sent with every request.
func (c *OpenRouterClient) WithSiteName(name string) *OpenRouterClient {
	c.siteName = name
	return c
}

// WithRateLimit paces outbound requests with a token bucket. A non-positive
// rps disables pacing.
func (c *OpenRouterClient) WithRateLimit(rps float64, burst int) *OpenRouterClient {
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// WithLogger sets the logger.
func (c *OpenRouterClient) WithLogger(logger *slog.Logger) *OpenRouterClient {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// BaseURL returns the configured API base URL.
func (c *OpenRouterClient) BaseURL() string {
	return c.baseURL
}

// setHeaders sets the required headers for OpenRouter API requests.
func (c *OpenRouterClient) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "rigchat/1.0")

	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// wait blocks until the limiter admits one request.
func (c *OpenRouterClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// =============================================================================
// COMPLETION STREAM
// =============================================================================

// OpenStream issues the streaming chat-completions request and returns the
// open response body on a 2xx status. The caller must close it. Cancelling
// ctx aborts an in-flight Read on the body.
//
// A non-2xx status is returned as *OpenRouterError.
func (c *OpenRouterClient) OpenStream(ctx context.Context, apiKey string, reqBody CompletionRequest) (io.ReadCloser, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	reqBody.Stream = true
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, apiKey)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	c.logger.Debug("opening completion stream",
		"model", reqBody.Model,
		"messages", len(reqBody.Messages),
		"key", util.Fingerprint(apiKey))

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logger.Debug("completion stream response",
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, handleErrorResponse(resp.StatusCode, body)
	}
	return resp.Body, nil
}

// =============================================================================
// MODEL CATALOG
// =============================================================================

// ListModels retrieves the model catalog. Transient failures (5xx and 429)
// are retried with exponential backoff.
func (c *OpenRouterClient) ListModels(ctx context.Context, apiKey string) (_ []model.ModelInfo, err error) {
	ctx, span := tracer.Start(ctx, "OpenRouterClient.ListModels",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", c.baseURL+"/models")))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt - 1)
			c.logger.Debug("retrying model catalog", "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		models, err := c.listModelsOnce(ctx, apiKey)
		if err == nil {
			span.SetAttributes(attribute.Int("models.count", len(models)))
			return models, nil
		}
		if !c.isRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *OpenRouterClient) listModelsOnce(ctx context.Context, apiKey string) ([]model.ModelInfo, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, strings.TrimSpace(apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	var modelsResp modelsResponse
	if err := json.Unmarshal(body, &modelsResp); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}

	models := make([]model.ModelInfo, 0, len(modelsResp.Data))
	for _, m := range modelsResp.Data {
		if m.ID == "" {
			continue
		}
		info := model.ModelInfo{
			ID:            m.ID,
			Name:          m.Name,
			Description:   m.Description,
			ContextLength: m.ContextLength,
		}
		if m.Pricing != nil {
			info.Pricing = *m.Pricing
		}
		models = append(models, info)
	}
	return models, nil
}

// =============================================================================
// RESPONSE HANDLING
// =============================================================================

// readResponse reads the response body with size limits.
// SECURITY: Response size limit prevents memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts a non-success response into *OpenRouterError,
// extracting the server message when the body carries one.
func handleErrorResponse(statusCode int, body []byte) error {
	orErr := &OpenRouterError{Status: statusCode, Message: genericFailure}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		orErr.Message = apiErr.Error.Message
		orErr.Code = strings.Trim(string(apiErr.Error.Code), `"`)
		if orErr.Code == "null" {
			orErr.Code = ""
		}
	}
	return orErr
}

// ErrorMessage returns the text to show a user for err: the server message
// for API errors, otherwise the error string.
func ErrorMessage(err error) string {
	var orErr *OpenRouterError
	if errors.As(err, &orErr) {
		return orErr.Message
	}
	var fe *FrameError
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	return err.Error()
}

// isRetryable determines if a catalog error should trigger a retry.
func (c *OpenRouterClient) isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var orErr *OpenRouterError
	if errors.As(err, &orErr) {
		return orErr.Status >= 500 && orErr.Status < 600
	}
	return false
}

// calculateBackoff returns the delay to wait before the next retry.
func (c *OpenRouterClient) calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay || delay <= 0 {
		delay = retryMaxDelay
	}
	return delay
}
