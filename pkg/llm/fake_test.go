package llm_test

import (
	"context"
	"errors"
	"sync"

	"github.com/soundprediction/go-vetgraph/pkg/llm"
)

// fakeClient replays replies in order; an empty string entry yields errFake.
type fakeClient struct {
	mu      sync.Mutex
	replies []string
	usage   *llm.TokenUsage
	calls   int
}

var errFake = errors.New("fake failure")

func (f *fakeClient) Chat(_ context.Context, _ []llm.Message) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	if f.replies[i] == "" {
		return nil, errFake
	}
	return &llm.Response{Content: f.replies[i], TokensUsed: f.usage}, nil
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
