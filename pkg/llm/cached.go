package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/soundprediction/go-vetgraph/pkg/cache"
)

// CachedClient memoizes successful completions in a cache keyed by model and messages.
type CachedClient struct {
	client Client
	cache  cache.Cache
	model  string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedClient wraps client. model scopes the cache key so switching models
// does not replay old answers.
func NewCachedClient(client Client, c cache.Cache, model string, ttl time.Duration, logger *slog.Logger) *CachedClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedClient{client: client, cache: c, model: model, ttl: ttl, logger: logger}
}

// Chat implements Client.
func (c *CachedClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	key, err := cache.Key("llm", c.model, messages)
	if err != nil {
		return c.client.Chat(ctx, messages)
	}

	var cached Response
	if err := cache.GetJSON(c.cache, key, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrKeyNotFound) {
		c.logger.Warn("llm cache read failed", "error", err)
	}

	resp, err := c.client.Chat(ctx, messages)
	if err != nil {
		return nil, err
	}
	if CheckSentinel(resp.Content) != nil {
		return resp, nil
	}
	b, err := json.Marshal(resp)
	if err == nil {
		err = c.cache.Set(key, b, c.ttl)
	}
	if err != nil {
		c.logger.Warn("llm cache write failed", "error", err)
	}
	return resp, nil
}

// MaxLength forwards the wrapped client's context window.
func (c *CachedClient) MaxLength() int { return MaxLengthOf(c.client, 0) }

// Close closes the wrapped client. The cache is owned by the caller.
func (c *CachedClient) Close() error { return c.client.Close() }
