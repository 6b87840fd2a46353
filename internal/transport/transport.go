// Package transport implements the node-facing wire layer.
//
// This package contains:
//   - Requester: HTTP requests with header merging and timeout control
//   - JSONRPC: single and batch JSON-RPC 2.0 calls
//   - REST: GET/POST with JSON bodies against node REST gateways
//   - DialGRPC: connection setup for gRPC node endpoints
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultUserAgent = "blockchain-libs"

// DefaultTimeout bounds a single request when the caller's context
// carries no earlier deadline.
const DefaultTimeout = 30 * time.Second

// TransportError is a non-2xx HTTP status or a network-level failure.
// Status is zero when the request never produced a response.
type TransportError struct {
	Status int
	Body   []byte
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("Wrong response<%d>", e.Status)
	}
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Requester issues HTTP requests against one base URL.
// Headers merge lowest to highest precedence: built-in defaults,
// instance headers, per-call headers.
type Requester struct {
	baseURL string
	headers map[string]string
	timeout time.Duration

	httpClient *http.Client
	log        *slog.Logger
}

// RequesterOption customizes a Requester.
type RequesterOption func(*Requester)

// WithHeaders sets instance-level headers.
func WithHeaders(h map[string]string) RequesterOption {
	return func(r *Requester) { r.headers = h }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) RequesterOption {
	return func(r *Requester) { r.timeout = d }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) RequesterOption {
	return func(r *Requester) { r.log = l }
}

// NewRequester creates a Requester bound to baseURL.
func NewRequester(baseURL string, opts ...RequesterOption) *Requester {
	r := &Requester{
		baseURL: baseURL,
		timeout: DefaultTimeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BaseURL returns the endpoint this Requester is bound to.
func (r *Requester) BaseURL() string { return r.baseURL }

// Do issues one HTTP request and returns the raw response body on 2xx.
// Any other status yields a *TransportError carrying the status code
// and body. The configured timeout is applied as a context deadline,
// so an expired timeout aborts the in-flight request.
func (r *Requester) Do(
	ctx context.Context,
	method, path string,
	body []byte,
	headers map[string]string,
) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range mergeHeaders(r.headers, headers) {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read response: %w", err)}
	}

	r.log.Debug("http request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"latency", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Status: resp.StatusCode, Body: raw}
	}

	return raw, nil
}

// mergeHeaders applies precedence: defaults < instance < call.
func mergeHeaders(instance, call map[string]string) map[string]string {
	merged := map[string]string{
		"User-Agent":   defaultUserAgent,
		"Content-Type": "application/json",
	}
	for k, v := range instance {
		merged[k] = v
	}
	for k, v := range call {
		merged[k] = v
	}
	return merged
}
