// Package utils provides shared adapters for triggerflow.
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultRequestTimeout applies when a request carries no explicit timeout
const DefaultRequestTimeout = 15 * time.Second

// HTTPClient is the outbound call adapter used by the API_CALL executor
type HTTPClient struct {
	client *http.Client
}

// HTTPRequest represents an outbound HTTP request
type HTTPRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty"`
}

// HTTPResponse represents an outbound HTTP response
type HTTPResponse struct {
	StatusCode int         `json:"status_code"`
	Body       interface{} `json:"body"`
	RawBody    []byte      `json:"raw_body,omitempty"`
}

// Success reports whether the response status is 2xx
func (r *HTTPResponse) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// NewHTTPClient creates a new outbound HTTP client
func NewHTTPClient() *HTTPClient {
	return &HTTPClient{
		client: &http.Client{},
	}
}

// Do executes an HTTP request. Transport errors are returned as errors;
// non-2xx statuses are returned as a response the caller inspects.
func (c *HTTPClient) Do(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if req.Body != "" {
		bodyReader = bytes.NewBufferString(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if req.Body != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	// Parse JSON bodies so executors can stash structured data in the bag
	var parsedBody interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(body, &parsedBody); err != nil {
			parsedBody = string(body)
		}
	} else {
		parsedBody = string(body)
	}

	return &HTTPResponse{
		StatusCode: resp.StatusCode,
		Body:       parsedBody,
		RawBody:    body,
	}, nil
}
