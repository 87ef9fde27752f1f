// Package client implements the Embedder Client (C3): a thin HTTP JSON
// client over the embedder subprocess's loopback endpoint. It performs
// no internal serialization of its own — the pipeline's batcher is the
// only place call ordering is managed (see internal/pipeline) — so
// concurrent Embed calls are expected and safe.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jeanbovet/semantica/internal/coreerr"
)

const defaultRequestTimeout = 30 * time.Second

// maxAttempts bounds the linear-backoff retry for network errors and 5xx
// responses: 2 attempts total, per §4.3.
const maxAttempts = 2

const retryBackoff = 1 * time.Second

// Client wraps a single *http.Client pointed at the embedder
// subprocess's loopback endpoint. One Client is shared by every caller;
// there is no per-call subprocess spawn and no promise-chain
// serialization (Design Notes explicitly reject that historical
// pattern).
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New returns a Client targeting endpoint (e.g. "http://127.0.0.1:8123").
func New(endpoint string) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
}

// HealthResponse is the /health response body.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	ModelID string `json:"model_id"`
	Dim     int    `json:"dim"`
	Device  string `json:"device"`
}

// InfoResponse is the /info response body.
type InfoResponse struct {
	ModelID string `json:"model_id"`
	Dim     int    `json:"dim"`
	Device  string `json:"device"`
	Version string `json:"version"`
}

type embedRequest struct {
	Texts     []string `json:"texts"`
	Normalize bool     `json:"normalize"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// Health calls GET /health, used for liveness by the Embedder Service's
// startup and restart health polling.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Info calls GET /info.
func (c *Client) Info(ctx context.Context) (InfoResponse, error) {
	var out InfoResponse
	err := c.doJSON(ctx, http.MethodGet, "/info", nil, &out)
	return out, err
}

// Embed calls POST /embed and returns vectors strictly in the order of
// texts — the pipeline relies on this order to pair vectors to chunks
// and performs no re-sorting.
func (c *Client) Embed(ctx context.Context, texts []string, normalize bool) ([][]float32, error) {
	req := embedRequest{Texts: texts, Normalize: normalize}
	var out embedResponse
	if err := c.doJSON(ctx, http.MethodPost, "/embed", req, &out); err != nil {
		return nil, err
	}
	return out.Vectors, nil
}

// doJSON issues one logical request/response round trip, retrying at
// most maxAttempts times total with a fixed linear backoff. Only
// network-level errors and 5xx responses are retried; 4xx responses
// surface immediately. Context cancellation is returned untouched —
// callers treat it as idempotent, not as a server failure.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := c.attempt(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		if !isRetryable(err) || attempt == maxAttempts {
			return lastErr
		}

		select {
		case <-time.After(retryBackoff * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("embedder returned status %d: %s", e.status, e.body)
}

func isRetryable(err error) bool {
	var statusErr *httpStatusError
	if cause := coreerr.CodeOf(err); cause == coreerr.HTTPError {
		if asStatusErr(err, &statusErr) {
			return statusErr.status >= 500
		}
	}
	// Network-level errors (connection refused, reset, timeout, ...) are
	// retryable; decode and request-building errors are not.
	return coreerr.CodeOf(err) == coreerr.NetworkError
}

func asStatusErr(err error, target **httpStatusError) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if se, ok := err.(*httpStatusError); ok {
			*target = se
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (c *Client) attempt(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return coreerr.Wrap(coreerr.NetworkError, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return coreerr.Wrap(coreerr.NetworkError, "read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &httpStatusError{status: resp.StatusCode, body: string(data)}
		return coreerr.Wrap(coreerr.HTTPError, "embed request failed", statusErr)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return coreerr.Wrap(coreerr.ParseError, "decode response body", err)
	}
	return nil
}
