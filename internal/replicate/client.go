package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maauso/faceswap-api/internal/usage"
)

// Static errors for Replicate client operations.
var (
	// ErrAPITokenNotSet is returned when no API token is configured.
	ErrAPITokenNotSet = errors.New("replicate: API token is not set")
	// ErrModelRequired is returned when a submit request names no model.
	ErrModelRequired = errors.New("replicate: model is required")
	// ErrPredictionIDRequired is returned when the prediction ID is not provided.
	ErrPredictionIDRequired = errors.New("replicate: prediction ID is required")
	// ErrNoPredictionIDReturned is returned when the create response contains no ID.
	ErrNoPredictionIDReturned = errors.New("replicate: submit failed: no prediction ID returned")
	// ErrAuthentication is matched by API errors with status 401 or 403.
	ErrAuthentication = errors.New("replicate: authentication failed")
	// ErrServerError is matched by API errors with a 5xx status code.
	ErrServerError = errors.New("replicate: server error")
	// ErrRateLimited is matched by API errors with status 429.
	ErrRateLimited = errors.New("replicate: rate limited")
	// ErrRequestFailed is matched by any other non-2xx API error.
	ErrRequestFailed = errors.New("replicate: request failed")
)

// AuthHint is the remediation shown for authentication failures.
const AuthHint = "check that REPLICATE_API_TOKEN is set to a valid token with access to the requested model"

// APIError is returned for every non-2xx provider response.
type APIError struct {
	StatusCode int
	Body       string
	Endpoint   string
}

func (e *APIError) Error() string {
	if e.IsAuthentication() {
		return fmt.Sprintf("replicate: %s returned %d: %s (%s)", e.Endpoint, e.StatusCode, e.Body, AuthHint)
	}
	return fmt.Sprintf("replicate: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// IsAuthentication reports whether the provider rejected the credentials.
func (e *APIError) IsAuthentication() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Unwrap classifies the error so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.IsAuthentication():
		return ErrAuthentication
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrServerError
	default:
		return ErrRequestFailed
	}
}

// Client defines the interface for interacting with the Replicate API.
type Client interface {
	// Submit creates a prediction and returns its ID.
	Submit(ctx context.Context, req SubmitRequest) (string, error)

	// Poll checks the status of a prediction.
	Poll(ctx context.Context, req PollRequest) (PollResult, error)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// HTTPClient is the HTTP implementation of the Client interface.
type HTTPClient struct {
	apiToken    string
	baseURL     string
	httpClient  *http.Client
	tracker     usage.Tracker
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the Replicate API.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimRight(url, "/")
	}
}

// WithUsageTracker records every outbound call in the given tracker.
func WithUsageTracker(t usage.Tracker) ClientOption {
	return func(hc *HTTPClient) {
		hc.tracker = t
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
// Each retry is a separate outbound call with its own usage record.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new Replicate HTTP client.
func NewClient(apiToken string, opts ...ClientOption) (*HTTPClient, error) {
	if apiToken == "" {
		return nil, ErrAPITokenNotSet
	}

	c := &HTTPClient{
		apiToken:    apiToken,
		baseURL:     "https://api.replicate.com/v1",
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		tracker:     usage.Discard{},
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Submit creates a prediction and returns its ID.
// Models given as "owner/name" use the model predictions endpoint; a
// "owner/name:version" identifier posts the version to /predictions.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.Model == "" {
		return "", ErrModelRequired
	}

	body := predictionRequest{Input: req.Input}
	if body.Input == nil {
		body.Input = map[string]any{}
	}

	url := c.baseURL + "/predictions"
	if _, version, ok := strings.Cut(req.Model, ":"); ok {
		body.Version = version
	} else if strings.Contains(req.Model, "/") {
		url = fmt.Sprintf("%s/models/%s/predictions", c.baseURL, req.Model)
	} else {
		body.Version = req.Model
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("replicate: marshal request: %w", err)
	}

	var resp predictionResponse
	call := callInfo{userID: req.UserID, endpoint: req.Endpoint}
	if err := c.doRequestWithRetry(ctx, http.MethodPost, url, bodyBytes, &resp, call); err != nil {
		return "", err
	}

	if resp.ID == "" {
		if msg := parseError(resp.Error); msg != "" {
			return "", fmt.Errorf("%w: %s", ErrRequestFailed, msg)
		}
		return "", ErrNoPredictionIDReturned
	}

	return resp.ID, nil
}

// Poll checks the status of a prediction and returns the result.
func (c *HTTPClient) Poll(ctx context.Context, req PollRequest) (PollResult, error) {
	if req.ID == "" {
		return PollResult{}, ErrPredictionIDRequired
	}

	url := fmt.Sprintf("%s/predictions/%s", c.baseURL, req.ID)

	var resp predictionResponse
	call := callInfo{userID: req.UserID, endpoint: req.Endpoint, requestID: req.ID}
	if err := c.doRequestWithRetry(ctx, http.MethodGet, url, nil, &resp, call); err != nil {
		return PollResult{}, err
	}

	output, err := parseOutput(resp.Output)
	if err != nil {
		return PollResult{}, err
	}

	result := PollResult{
		ID:     resp.ID,
		Status: Status(resp.Status),
		Output: output,
	}
	if result.Status == StatusFailed || result.Status == StatusCanceled {
		result.Error = parseError(resp.Error)
	}

	return result, nil
}

// callInfo carries the usage attribution for one logical call.
type callInfo struct {
	userID    int64
	endpoint  string
	requestID string
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result *predictionResponse, call callInfo) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("replicate: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, method, url, body, result, call)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	if c.maxRetries == 0 {
		return errors.Unwrap(lastErr)
	}
	return fmt.Errorf("replicate: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request and records exactly one usage entry for it.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result *predictionResponse, call callInfo) (err error) {
	start := time.Now()
	var respBody []byte
	defer func() {
		rec := usage.Call{
			UserID:        call.userID,
			Endpoint:      call.endpoint,
			RequestID:     call.requestID,
			RequestBytes:  len(body),
			ResponseBytes: len(respBody),
			Duration:      time.Since(start),
			Err:           err,
		}
		if rec.RequestID == "" && result != nil {
			rec.RequestID = result.ID
		}
		c.tracker.Track(ctx, rec)
	}()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("replicate: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("replicate: %s: request failed: %w", call.endpoint, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("replicate: %s: read response: %w", call.endpoint, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody), Endpoint: call.endpoint}
		// 5xx and 429 are retryable, everything else is final
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: apiErr}
		}
		return apiErr
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("replicate: unmarshal response: %w", err)
	}

	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
