package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerClient stops calling an upstream model after repeated failures.
type BreakerClient struct {
	client Client
	cb     *gobreaker.CircuitBreaker
}

// BreakerSettings configures NewBreakerClient.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// NewBreakerClient wraps client in a circuit breaker.
func NewBreakerClient(client Client, s BreakerSettings, logger *slog.Logger) *BreakerClient {
	if s.Name == "" {
		s.Name = "llm"
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	threshold := s.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("llm circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &BreakerClient{client: client, cb: cb}
}

// Chat implements Client.
func (b *BreakerClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.client.Chat(ctx, messages)
	})
	if err != nil {
		return nil, fmt.Errorf("llm breaker %s: %w", b.cb.Name(), err)
	}
	return out.(*Response), nil
}

// State reports the breaker state.
func (b *BreakerClient) State() gobreaker.State { return b.cb.State() }

// MaxLength forwards the wrapped client's context window.
func (b *BreakerClient) MaxLength() int { return MaxLengthOf(b.client, 0) }

// Close implements Client.
func (b *BreakerClient) Close() error { return b.client.Close() }
