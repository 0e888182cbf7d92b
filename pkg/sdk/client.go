package embedpipe

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
)

const defaultTimeout = 30 * time.Second

// Client is the embedpipe API client entry point.
type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
	obs     *observer
}

// New creates a client for the pipeline API at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("embedpipe: base URL required")
	}

	cfg := &clientConfig{timeout: defaultTimeout}
	for _, o := range opts {
		o.apply(cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.apiKey,
		hc:      hc,
		obs:     obs,
	}, nil
}

// Jobs returns the batch job service.
func (c *Client) Jobs() *JobService {
	return &JobService{client: c}
}

// RateLimit returns the rate-limit inspection and strategy service.
func (c *Client) RateLimit() *RateLimitService {
	return &RateLimitService{client: c}
}

// Embeddings retrieves all stored embeddings for a receipt.
func (c *Client) Embeddings(ctx context.Context, receiptID string) ([]EmbeddingRecord, error) {
	start := time.Now()
	var out struct {
		ReceiptID  string            `json:"receipt_id"`
		Embeddings []EmbeddingRecord `json:"embeddings"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/embeddings/"+receiptID, nil, &out)
	c.obs.observe("embeddings", start, err)
	if err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}

// Health checks the health of all pipeline components. A degraded or
// unhealthy server still yields a report, not an error.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	start := time.Now()
	status, err := c.health(ctx)
	c.obs.observe("health", start, err)
	return status, err
}

func (c *Client) health(ctx context.Context) (HealthStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return HealthStatus{}, err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("embedpipe: health request: %w", err)
	}
	defer resp.Body.Close()

	// The server answers 503 for degraded health with the same body shape.
	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return HealthStatus{}, fmt.Errorf("embedpipe: decode health response: %w", err)
	}
	return status, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("embedpipe: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("embedpipe: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// do executes a request and decodes the response into out (when non-nil).
// Error responses become *APIError values.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("embedpipe: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("embedpipe: decode response: %w", err)
		}
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Message != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
