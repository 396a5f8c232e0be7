package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gaole-2025/rizzify-sub000/internal/config"
)

// ImageGenerator defines the interface for image generation operations
type ImageGenerator interface {
	Generate(ctx context.Context, reqs []GenerationRequest) []GenerationResult
	Beautify(ctx context.Context, imageURL string) (string, error)
}

// GenAPIClient implements ImageGenerator against the external HTTP API
type GenAPIClient struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	model         string
	beautifyModel string
	size          string
	maxAttempts   int
	retryDelay    time.Duration
	concurrency   int
	log           *slog.Logger
}

// GenerationRequest is one image to produce
type GenerationRequest struct {
	Prompt   string
	ImageURL string
	N        int
	Size     string
}

// GenerationResult is the outcome for one request; Err is set when all
// attempts were exhausted.
type GenerationResult struct {
	URL string
	Err error
}

type generationAPIRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Image  string `json:"image,omitempty"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type generationAPIResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// NewGenAPIClient creates a new generation API client
func NewGenAPIClient(cfg *config.GenAPIConfig, log *slog.Logger) *GenAPIClient {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 5
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &GenAPIClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		model:         cfg.Model,
		beautifyModel: cfg.BeautifyModel,
		size:          cfg.Size,
		maxAttempts:   maxAttempts,
		retryDelay:    time.Duration(cfg.RetryDelayMS) * time.Millisecond,
		concurrency:   concurrency,
		log:           log,
	}
}

// Generate produces one image URL per request, order-preserving. Requests
// are issued in fixed-size windows; every request in a window runs
// concurrently and the whole window is awaited before the next starts. A
// request that exhausts its attempts carries its error in the result and
// does not abort its siblings.
func (c *GenAPIClient) Generate(ctx context.Context, reqs []GenerationRequest) []GenerationResult {
	results := make([]GenerationResult, len(reqs))

	for start := 0; start < len(reqs); start += c.concurrency {
		end := start + c.concurrency
		if end > len(reqs) {
			end = len(reqs)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				url, err := c.generateOne(ctx, c.model, reqs[i])
				results[i] = GenerationResult{URL: url, Err: err}
			}(i)
		}
		wg.Wait()
	}

	return results
}

// Beautify runs a single-image enhancement call using the reference photo.
func (c *GenAPIClient) Beautify(ctx context.Context, imageURL string) (string, error) {
	return c.generateOne(ctx, c.beautifyModel, GenerationRequest{
		Prompt:   "Subtly retouch this portrait: even skin tone, clean background, natural look. Keep the identity unchanged.",
		ImageURL: imageURL,
		N:        1,
		Size:     c.size,
	})
}

// generateOne retries a single request with a fixed inter-attempt delay.
// Retry is an explicit loop carrying the attempt count so the bound is
// trivial to reason about and to test.
func (c *GenAPIClient) generateOne(ctx context.Context, model string, req GenerationRequest) (string, error) {
	size := req.Size
	if size == "" {
		size = c.size
	}
	n := req.N
	if n < 1 {
		n = 1
	}
	body := generationAPIRequest{
		Model:  model,
		Prompt: req.Prompt,
		Image:  req.ImageURL,
		N:      n,
		Size:   size,
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		url, err := c.post(ctx, &body)
		if err == nil {
			return url, nil
		}
		lastErr = err
		c.log.Warn("generation attempt failed",
			"attempt", attempt, "max_attempts", c.maxAttempts, "error", err)

		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}

	return "", fmt.Errorf("generation failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *GenAPIClient) post(ctx context.Context, body *generationAPIRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/images/generations", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("generation API error (status %d): %s", resp.StatusCode, truncateBody(respBody))
	}

	var result generationAPIResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(result.Data) == 0 || result.Data[0].URL == "" {
		return "", fmt.Errorf("generation API returned no image")
	}

	return result.Data[0].URL, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GenAPIClient) IsConfigured() bool {
	return c.apiKey != "" && c.baseURL != ""
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
