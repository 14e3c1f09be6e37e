// Package embedder computes text embeddings and attaches them to index records.
package embedder

import (
	"context"
	"time"
)

// Client defines the interface for embedding operations.
type Client interface {
	// Embed generates embeddings for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle generates an embedding for a single text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the number of dimensions in the embeddings.
	Dimensions() int

	// Close cleans up any resources.
	Close() error
}

// Config holds configuration for embedding clients. BaseURL points at an
// OpenAI-compatible service. Normalize scales returned vectors to unit length.
type Config struct {
	Model      string        `json:"model"`
	BatchSize  int           `json:"batch_size"`
	Dimensions int           `json:"dimensions"`
	BaseURL    string        `json:"base_url,omitempty"`
	MaxRetries int           `json:"max_retries"`
	Backoff    time.Duration `json:"backoff,omitempty"`
	Normalize  bool          `json:"normalize,omitempty"`
}
