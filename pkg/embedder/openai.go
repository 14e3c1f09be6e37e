package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/soundprediction/go-vetgraph/pkg/utils"
)

const (
	DefaultMaxRetries = 3
	DefaultBatchSize  = 16
	DefaultModel      = string(openai.SmallEmbedding3)
)

// OpenAIEmbedder implements Client against the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	config Config
	logger *slog.Logger
}

// NewOpenAIEmbedder creates a new OpenAI embedder client.
func NewOpenAIEmbedder(apiKey string, config Config) (*OpenAIEmbedder, error) {
	clientConfig := openai.DefaultConfig(apiKey)
	if config.BaseURL != "" {
		if !strings.HasPrefix(config.BaseURL, "http://") && !strings.HasPrefix(config.BaseURL, "https://") {
			return nil, fmt.Errorf("invalid embedding base URL %q", config.BaseURL)
		}
		clientConfig.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	}

	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Dimensions == 0 {
		switch config.Model {
		case string(openai.AdaEmbeddingV2), string(openai.SmallEmbedding3):
			config.Dimensions = 1536
		case string(openai.LargeEmbedding3):
			config.Dimensions = 3072
		}
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.Backoff <= 0 {
		config.Backoff = time.Second
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: slog.Default().With("component", "embedder", "model", config.Model),
	}, nil
}

// Embed generates embeddings for multiple texts, BatchSize at a time.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	all := make([][]float32, 0, len(texts))
	for i, batch := range utils.ChunkSlice(texts, e.config.BatchSize) {
		vecs, err := e.embedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d: %w", i, err)
		}
		all = append(all, vecs...)
	}
	return all, nil
}

// EmbedSingle generates an embedding for a single text.
func (e *OpenAIEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return embeddings[0], nil
}

// Dimensions returns the configured embedding size, 0 when unknown.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// Close is a no-op.
func (e *OpenAIEmbedder) Close() error {
	return nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * e.config.Backoff
			e.logger.Warn("retrying embedding request", "backoff", backoff, "attempt", attempt+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req := openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(e.config.Model),
		}
		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if isRetriableEmbeddingError(err) {
				continue
			}
			return nil, fmt.Errorf("openai embedding request failed: %w", err)
		}
		if len(resp.Data) != len(texts) {
			return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
		}

		embeddings := make([][]float32, len(texts))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(texts) {
				return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
			}
			vec := make([]float32, len(d.Embedding))
			for j, v := range d.Embedding {
				vec[j] = float32(v)
			}
			if e.config.Normalize {
				vec = utils.NormalizeL2Float32(vec)
			}
			embeddings[d.Index] = vec
		}
		return embeddings, nil
	}
	return nil, fmt.Errorf("all retries exhausted, last error: %w", lastErr)
}

// isRetriableEmbeddingError reports rate limits, server errors and
// transport failures.
func isRetriableEmbeddingError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	errStr := strings.ToLower(err.Error())
	for _, retriable := range []string{
		"rate limit",
		"rate_limit",
		"timeout",
		"connection",
		"service unavailable",
		"bad gateway",
		"temporary failure",
	} {
		if strings.Contains(errStr, retriable) {
			return true
		}
	}
	return false
}
