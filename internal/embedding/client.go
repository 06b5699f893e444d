// Package embedding generates fixed-dimension vectors for chunks, summaries,
// captions, and queries through the OpenAI-compatible embeddings endpoint.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/metrics"
	"github.com/vectral-ai/corpus-engine/internal/observability"
)

const (
	defaultModel     = "text-embedding-3-small"
	defaultDimension = 1536
	defaultBatchSize = 16
)

// Config holds embedding client configuration.
type Config struct {
	BaseURL       string
	APIKey        string
	ResourceGroup string
	Model         string
	Dimension     int
	BatchSize     int
	Timeout       time.Duration

	// rate-limit retry policy
	MaxRetries int
	RetryBase  time.Duration
}

// Client generates embeddings using the inference gateway.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *observability.Logger
	metrics    *metrics.Metrics
}

// NewClient creates an embedding client.
func NewClient(cfg Config, logger *observability.Logger, m *metrics.Metrics) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = defaultDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if logger == nil {
		logger = observability.DefaultLogger()
	}

	return &Client{
		httpClient: &http.Client{},
		cfg:        cfg,
		logger:     logger.WithComponent("embedding"),
		metrics:    m,
	}
}

// EmbeddingRequest represents a request to generate embeddings.
type EmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// EmbeddingResponse represents the API response.
type EmbeddingResponse struct {
	Object string          `json:"object"`
	Data   []EmbeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  EmbeddingUsage  `json:"usage"`
	Error  *EmbeddingError `json:"error,omitempty"`
}

// EmbeddingData contains one embedding vector.
type EmbeddingData struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// EmbeddingUsage contains token usage information.
type EmbeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbeddingError represents an API error payload.
type EmbeddingError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// EmbedDocuments embeds texts in sequential batches. result[i] corresponds
// to texts[i]. onProgress, when non-nil, receives the cumulative count of
// embedded texts after each batch.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string, onProgress func(done int)) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	processed := 0

	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := texts[start:end]
		vectors, err := c.embedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		for i, v := range vectors {
			out[start+i] = v
		}

		processed += len(batch)
		if onProgress != nil {
			onProgress(processed)
		}
	}

	return out, nil
}

// EmbedQuery embeds a single search query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, domain.InferenceError("no embedding returned", nil)
	}
	return vectors[0], nil
}

// Model returns the model being used.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Dimension returns the embedding dimension.
func (c *Client) Dimension() int {
	return c.cfg.Dimension
}

// embedBatch calls the gateway once for a batch, retrying rate-limit and
// server-side failures with exponential backoff.
func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	started := time.Now()

	var result [][]float32
	operation := func() error {
		vectors, status, err := c.requestEmbeddings(ctx, batch)
		if err != nil {
			if status == http.StatusTooManyRequests || status >= 500 {
				return err
			}
			return backoff.Permanent(err)
		}
		result = vectors
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryBase
	policy.MaxInterval = 30 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(c.cfg.MaxRetries)), ctx))
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.EmbeddingBatches.Inc()
		c.metrics.EmbeddingDuration.Observe(time.Since(started).Seconds())
	}
	return result, nil
}

// requestEmbeddings performs one embeddings call. The returned status code
// is zero for transport-level failures.
func (c *Client) requestEmbeddings(ctx context.Context, batch []string) ([][]float32, int, error) {
	jsonBody, err := json.Marshal(EmbeddingRequest{Input: batch, Model: c.cfg.Model})
	if err != nil {
		return nil, 0, domain.InternalError("marshal embeddings request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, 0, domain.InternalError("create embeddings request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if c.cfg.ResourceGroup != "" {
		req.Header.Set("AI-Resource-Group", c.cfg.ResourceGroup)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, domain.InferenceError("send embeddings request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, domain.InferenceError("read embeddings response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resp.StatusCode, domain.RateLimitError("embeddings endpoint throttled", nil)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp EmbeddingResponse
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Error != nil {
			return nil, resp.StatusCode, domain.InferenceError(
				fmt.Sprintf("embeddings API error: %s (type: %s)", errResp.Error.Message, errResp.Error.Type), nil)
		}
		return nil, resp.StatusCode, domain.InferenceError(
			fmt.Sprintf("embeddings API status %d", resp.StatusCode), nil)
	}

	var embResp EmbeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, resp.StatusCode, domain.InferenceError("unmarshal embeddings response", err)
	}

	// write back by index so result order matches input order
	vectors := make([][]float32, len(batch))
	for _, data := range embResp.Data {
		if data.Index < 0 || data.Index >= len(vectors) {
			return nil, resp.StatusCode, domain.InferenceError(
				fmt.Sprintf("embedding index %d out of range", data.Index), nil)
		}
		vectors[data.Index] = data.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, resp.StatusCode, domain.InferenceError(
				fmt.Sprintf("missing embedding for input %d", i), nil)
		}
		if len(v) != c.cfg.Dimension {
			return nil, resp.StatusCode, domain.InferenceError(
				fmt.Sprintf("embedding dimension %d, expected %d", len(v), c.cfg.Dimension), nil)
		}
	}

	return vectors, resp.StatusCode, nil
}

// MockClient is a deterministic embedder for tests and the demo binary.
type MockClient struct {
	dimension int
}

// NewMockClient creates a mock embedder.
func NewMockClient(dimension int) *MockClient {
	if dimension <= 0 {
		dimension = defaultDimension
	}
	return &MockClient{dimension: dimension}
}

// EmbedDocuments generates hash-based embeddings: the same text always maps
// to the same unit vector.
func (c *MockClient) EmbedDocuments(_ context.Context, texts []string, onProgress func(done int)) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = c.vectorFor(text)
	}
	if onProgress != nil && len(texts) > 0 {
		onProgress(len(texts))
	}
	return embeddings, nil
}

// EmbedQuery generates a mock embedding for a single text.
func (c *MockClient) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return c.vectorFor(text), nil
}

// Model returns the mock model name.
func (c *MockClient) Model() string {
	return "mock-embedding-model"
}

// Dimension returns the embedding dimension.
func (c *MockClient) Dimension() int {
	return c.dimension
}

func (c *MockClient) vectorFor(text string) []float32 {
	v := make([]float32, c.dimension)
	for j, char := range text {
		v[(j*31+int(char))%c.dimension] += float32(char) / 1000.0
	}
	return normalize(v)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= norm
	}
	return v
}

// Ensure implementations satisfy the shared contract.
var (
	_ domain.Embedder = (*Client)(nil)
	_ domain.Embedder = (*MockClient)(nil)
)
