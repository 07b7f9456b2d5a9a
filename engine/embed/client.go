// Package embed provides the HTTP client for the external text-embedding
// service. It owns timeout handling and error translation; retry policy
// belongs to callers.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single embed call.
const DefaultTimeout = 10 * time.Second

// ErrEmptyInput is returned when the trimmed input text is empty.
var ErrEmptyInput = errors.New("embed: text must not be empty")

// UnreachableError reports that the embedding service could not be reached
// within the configured timeout.
type UnreachableError struct {
	URL string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("embed: service at %s unreachable: %v", e.URL, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// BadResponseError reports a non-2xx status or a malformed payload.
type BadResponseError struct {
	Status int
	Detail string
}

func (e *BadResponseError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("embed: service returned HTTP %d", e.Status)
	}
	return "embed: " + e.Detail
}

// Embedding is a generated vector with its declared dimensionality.
type Embedding struct {
	Vectors    []float32
	Dimensions int
}

// Client calls the embedding service's POST /embed endpoint.
type Client struct {
	baseURL string
	httpc   *http.Client
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type embedRequest struct {
	Text string `json:"text"`
}

// Canonical response shape: {"embedding": {"vectors": [...], "dimensions": n}}.
type embedResponse struct {
	Embedding *struct {
		Vectors    []float64 `json:"vectors"`
		Dimensions int       `json:"dimensions"`
	} `json:"embedding"`
}

// Embed generates an embedding for text. It fails with ErrEmptyInput on
// blank input, *UnreachableError when the call cannot complete within the
// timeout, and *BadResponseError on a non-2xx status or malformed payload.
// No retries are performed here.
func (c *Client) Embed(ctx context.Context, text string) (Embedding, error) {
	if strings.TrimSpace(text) == "" {
		return Embedding{}, ErrEmptyInput
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, _ := json.Marshal(embedRequest{Text: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return Embedding{}, fmt.Errorf("embed: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Embedding{}, &UnreachableError{URL: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Embedding{}, &BadResponseError{Status: resp.StatusCode}
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Embedding{}, &BadResponseError{Detail: "invalid JSON payload"}
	}
	if result.Embedding == nil {
		return Embedding{}, &BadResponseError{Detail: "missing embedding object"}
	}

	raw := result.Embedding.Vectors
	if len(raw) == 0 {
		return Embedding{}, &BadResponseError{Detail: "empty vector"}
	}
	out := make([]float32, len(raw))
	for i, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Embedding{}, &BadResponseError{Detail: fmt.Sprintf("non-finite value at index %d", i)}
		}
		out[i] = float32(v)
	}

	dims := result.Embedding.Dimensions
	if dims == 0 {
		dims = len(out)
	}
	if dims != len(out) {
		return Embedding{}, &BadResponseError{
			Detail: fmt.Sprintf("declared dimensions %d do not match vector length %d", dims, len(out)),
		}
	}

	return Embedding{Vectors: out, Dimensions: dims}, nil
}
