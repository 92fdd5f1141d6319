package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Static errors for image API client operations.
var (
	// ErrBaseURLRequired is returned when the base URL is not provided.
	ErrBaseURLRequired = errors.New("imagegen: base URL is required")
	// ErrTokenNotSet is returned when no API token is provided.
	ErrTokenNotSet = errors.New("imagegen: token is required")
	// ErrModelRequired is returned when a prediction names no model.
	ErrModelRequired = errors.New("imagegen: model is required")
	// ErrPredictionIDRequired is returned when the prediction ID is not provided.
	ErrPredictionIDRequired = errors.New("imagegen: prediction ID is required")
	// ErrNoPredictionIDReturned is returned when the create response contains no ID.
	ErrNoPredictionIDReturned = errors.New("imagegen: create failed: no prediction ID returned")
	// ErrMalformedResponse is returned when a response cannot be interpreted.
	ErrMalformedResponse = errors.New("imagegen: malformed response")
	// ErrNoOutputURL is returned when a succeeded prediction has no output.
	ErrNoOutputURL = fmt.Errorf("%w: no output URL in succeeded prediction", ErrMalformedResponse)
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("imagegen: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("imagegen: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("imagegen: request failed")
)

// Client defines the interface for interacting with the image prediction API.
type Client interface {
	// Create starts a prediction on the given model and returns its ID.
	Create(ctx context.Context, model string, input Input) (predictionID string, err error)

	// Get checks the status of a prediction.
	Get(ctx context.Context, predictionID string) (PollResult, error)
}

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	token       string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithToken sets the API token for authentication.
func WithToken(token string) ClientOption {
	return func(hc *HTTPClient) {
		hc.token = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
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

// NewClient creates a new image API HTTP client.
// The token must be supplied with WithToken.
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.token == "" {
		return nil, ErrTokenNotSet
	}

	return c, nil
}

// Create starts a prediction on the given model and returns its ID.
func (c *HTTPClient) Create(ctx context.Context, model string, input Input) (string, error) {
	if model == "" {
		return "", ErrModelRequired
	}

	bodyBytes, err := json.Marshal(predictionRequest{Model: model, Input: input})
	if err != nil {
		return "", fmt.Errorf("imagegen: marshal request: %w", err)
	}

	var resp predictionResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, c.baseURL+"/predictions", bodyBytes, &resp); err != nil {
		return "", err
	}

	if resp.ID == "" {
		if resp.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrRequestFailed, resp.Error)
		}
		return "", ErrNoPredictionIDReturned
	}

	return resp.ID, nil
}

// Get checks the status of a prediction.
func (c *HTTPClient) Get(ctx context.Context, predictionID string) (PollResult, error) {
	if predictionID == "" {
		return PollResult{}, ErrPredictionIDRequired
	}

	endpoint := c.baseURL + "/predictions/" + url.PathEscape(predictionID)

	var resp predictionResponse
	if err := c.doRequestWithRetry(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return PollResult{}, err
	}

	result := PollResult{Status: Status(strings.ToLower(resp.Status))}

	switch result.Status {
	case StatusStarting, StatusProcessing:
	case StatusSucceeded:
		if len(resp.Output) == 0 || resp.Output[0] == "" {
			return PollResult{}, ErrNoOutputURL
		}
		result.OutputURL = resp.Output[0]
	case StatusFailed:
		result.Error = resp.Error
		if result.Error == "" {
			result.Error = "image generation failed"
		}
	case StatusCanceled:
		result.Error = "prediction canceled"
	default:
		return PollResult{}, fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, resp.Status)
	}

	return result, nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, endpoint string, body []byte, result interface{}) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("imagegen: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2 // Exponential backoff
			}
		}

		err := c.doRequest(ctx, method, endpoint, body, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("imagegen: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, endpoint string, body []byte, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("imagegen: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("imagegen: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("imagegen: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
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
