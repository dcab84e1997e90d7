// Package openai implements the embedding client against an OpenAI-compatible
// /v1/embeddings endpoint. Requests are batched, transient provider errors are
// retried with exponential backoff, and a response whose vector count does not
// match the request is rejected as an integrity error rather than trusted as
// partial success.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/sitechat/ingest/internal/pipeline"
)

// Config holds the provider settings.
type Config struct {
	// BaseURL is the API root, e.g. https://api.jina.ai/v1.
	BaseURL string
	APIKey  string
	Model   string
	// Dimensions, when non-zero, is sent to the provider and enforced on the
	// returned vectors.
	Dimensions int
	// BatchSize caps texts per provider call.
	BatchSize int
	Timeout   time.Duration
	// MaxAttempts bounds retries per batch.
	MaxAttempts int
}

// Client implements pipeline.Embedder.
type Client struct {
	http       *resty.Client
	model      string
	dimensions int
	batchSize  int
	retry      *pipeline.ExponentialRetryPolicy
	logger     *zap.Logger
}

// New builds a Client from cfg.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		httpClient.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	return &Client{
		http:       httpClient,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		retry:      pipeline.NewExponentialRetryPolicy(cfg.MaxAttempts, 0, 0),
		logger:     logger,
	}
}

type embeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
}

// Embed generates vectors for texts, order-preserving. On success
// len(result) == len(texts); any other outcome is an error.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		vectors, retryAfter, err := c.post(ctx, batch)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		// attempt+1 is the number of calls made so far; MaxAttempts bounds
		// total calls, not retries.
		if !c.retry.ShouldRetry(err, attempt+1) {
			break
		}
		delay := c.retry.Backoff(attempt)
		if retryAfter > delay {
			delay = retryAfter
		}
		c.logger.Warn("embedding call failed, backing off",
			zap.Int("attempt", attempt+1),
			zap.Int("batch_size", len(batch)),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("embed batch of %d: %w", len(batch), lastErr)
}

// post performs one provider call. The returned duration is the provider's
// Retry-After hint, zero when absent.
func (c *Client) post(ctx context.Context, batch []string) ([][]float32, time.Duration, error) {
	body := embeddingsRequest{
		Model:      c.model,
		Input:      batch,
		Dimensions: c.dimensions,
	}
	var parsed embeddingsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&parsed).
		SetError(&parsed).
		Post("/embeddings")
	if err != nil {
		return nil, 0, fmt.Errorf("call embeddings endpoint: %w", err)
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusOK:
		// Fall through to the payload checks below.
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, 0, pipeline.Permanent(fmt.Errorf("%w: status %d", pipeline.ErrProviderAuth, status))
	case status == http.StatusTooManyRequests:
		return nil, retryAfterHint(resp), fmt.Errorf("provider rate limited: status %d", status)
	case status >= 500:
		return nil, retryAfterHint(resp), fmt.Errorf("provider error: status %d", status)
	default:
		detail := parsed.Detail
		if detail == "" {
			detail = resp.Status()
		}
		return nil, 0, pipeline.Permanent(fmt.Errorf("provider rejected request: %s", detail))
	}

	if len(parsed.Data) != len(batch) {
		return nil, 0, pipeline.Permanent(fmt.Errorf(
			"%w: provider returned %d embeddings for %d inputs",
			pipeline.ErrIntegrity, len(parsed.Data), len(batch),
		))
	}

	vectors := make([][]float32, len(batch))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, 0, pipeline.Permanent(fmt.Errorf(
				"%w: provider returned out-of-range index %d", pipeline.ErrIntegrity, item.Index,
			))
		}
		vectors[item.Index] = item.Embedding
	}
	for i, vec := range vectors {
		if len(vec) == 0 {
			return nil, 0, pipeline.Permanent(fmt.Errorf(
				"%w: provider returned empty vector at index %d", pipeline.ErrIntegrity, i,
			))
		}
		if c.dimensions > 0 && len(vec) != c.dimensions {
			return nil, 0, pipeline.Permanent(fmt.Errorf(
				"%w: vector %d has %d dimensions, want %d",
				pipeline.ErrIntegrity, i, len(vec), c.dimensions,
			))
		}
	}
	return vectors, 0, nil
}

func retryAfterHint(resp *resty.Response) time.Duration {
	raw := resp.Header().Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
