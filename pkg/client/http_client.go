package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/troikatech/pbx-voice-bridge/pkg/circuitbreaker"
	"github.com/troikatech/pbx-voice-bridge/pkg/metrics"
	"github.com/troikatech/pbx-voice-bridge/pkg/retry"
)

// maxResponseBytes bounds how much of an upstream body is buffered.
const maxResponseBytes = 32 << 20

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

// Temporary reports whether retrying might help.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPClient wraps http.Client with retry and circuit breaker
type HTTPClient struct {
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	serviceName    string
}

// NewHTTPClient creates a new HTTP client with retry and circuit breaker
func NewHTTPClient(serviceName string, timeout time.Duration) *HTTPClient {
	cbConfig := circuitbreaker.DefaultConfig()
	cbConfig.IsFailure = isUpstreamFailure

	retryConfig := retry.DefaultConfig()
	retryConfig.Retryable = isUpstreamFailure

	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		circuitBreaker: circuitbreaker.New(cbConfig),
		retryConfig:    retryConfig,
		serviceName:    serviceName,
	}
}

// WithRetry replaces the retry policy. The upstream failure predicate is kept
// unless the new config sets its own.
func (c *HTTPClient) WithRetry(cfg retry.Config) *HTTPClient {
	if cfg.Retryable == nil {
		cfg.Retryable = isUpstreamFailure
	}
	c.retryConfig = cfg
	return c
}

// Caller mistakes (4xx) neither trip the breaker nor get retried.
func isUpstreamFailure(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

// PostJSON marshals body and posts it.
func (c *HTTPClient) PostJSON(ctx context.Context, url string, headers map[string]string, body interface{}) (*Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", c.serviceName, err)
	}

	merged := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		merged[k] = v
	}
	return c.Do(ctx, http.MethodPost, url, merged, jsonData)
}

// Do performs a request with retry and circuit breaker. Non-2xx responses
// come back as *StatusError.
func (c *HTTPClient) Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error) {
	start := time.Now()
	var resp *Response

	err := c.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			var attemptErr error
			resp, attemptErr = c.attempt(ctx, method, url, headers, body)
			return attemptErr
		})
	})

	metrics.RecordServiceCall(c.serviceName, err == nil, time.Since(start))
	metrics.UpdateCircuitBreaker(c.serviceName, c.circuitBreaker.GetState().String(), int64(c.circuitBreaker.Failures()))

	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) attempt(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", c.serviceName, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		snippet := string(data)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, &StatusError{Service: c.serviceName, StatusCode: httpResp.StatusCode, Body: snippet}
	}

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}
