package llm_test

import (
	"context"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-vetgraph/pkg/cache"
	"github.com/soundprediction/go-vetgraph/pkg/llm"
)

func TestCheckSentinel(t *testing.T) {
	assert.NoError(t, llm.CheckSentinel("(\"entity\"<|>DOG(犬)<|>ANIMAL(动物)<|>pet)"))
	assert.ErrorIs(t, llm.CheckSentinel("**ERROR**: upstream timeout"), llm.ErrErrorSentinel)
}

func TestChatWithRetry(t *testing.T) {
	tests := []struct {
		name     string
		replies  []string
		attempts int
		want     string
		wantErr  error
		calls    int
	}{
		{"first try", []string{"ok"}, 3, "ok", nil, 1},
		{"error then ok", []string{"", "ok"}, 3, "ok", nil, 2},
		{"sentinel is retried", []string{"**ERROR**", "ok"}, 3, "ok", nil, 2},
		{"exhausted", []string{"", "", ""}, 3, "", errFake, 3},
		{"sentinel exhausted", []string{"**ERROR**"}, 2, "", llm.ErrErrorSentinel, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeClient{replies: tt.replies}
			got, err := llm.ChatWithRetry(context.Background(), fake, nil, tt.attempts, 0)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.Equal(t, tt.calls, fake.Calls())
		})
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := llm.Retry(ctx, 5, time.Hour, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, errFake
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestCachedClient(t *testing.T) {
	c, err := cache.NewInMemoryBadgerCache()
	require.NoError(t, err)
	defer c.Close()

	fake := &fakeClient{replies: []string{"**ERROR**", "answer", "other"}}
	client := llm.NewCachedClient(fake, c, "m", time.Hour, nil)
	msgs := []llm.Message{llm.NewSystemMessage("sys"), llm.NewUserMessage("Output:")}

	resp, err := client.Chat(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, "**ERROR**", resp.Content)

	resp, err = client.Chat(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Content)

	resp, err = client.Chat(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Content)
	assert.Equal(t, 2, fake.Calls())

	resp, err = client.Chat(context.Background(), msgs[:1])
	require.NoError(t, err)
	assert.Equal(t, "other", resp.Content)
}

func TestBreakerClientOpens(t *testing.T) {
	fake := &fakeClient{replies: []string{""}}
	client := llm.NewBreakerClient(fake, llm.BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Hour}, nil)

	for i := 0; i < 2; i++ {
		_, err := client.Chat(context.Background(), nil)
		assert.ErrorIs(t, err, errFake)
	}
	assert.Equal(t, gobreaker.StateOpen, client.State())

	_, err := client.Chat(context.Background(), nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, fake.Calls())
}

func TestMaxLengthOf(t *testing.T) {
	assert.Equal(t, 4096, llm.MaxLengthOf(&fakeClient{}, 4096))

	openaiClient, err := llm.NewOpenAIClient(llm.NewLLMConfig().WithMaxLength(16384))
	require.NoError(t, err)
	wrapped := llm.NewBreakerClient(openaiClient, llm.BreakerSettings{}, nil)
	assert.Equal(t, 16384, llm.MaxLengthOf(wrapped, 4096))
}

func TestNewOpenAIClientBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"empty uses default", "", false},
		{"http", "http://localhost:8000", false},
		{"already versioned", "https://example.com/v1", false},
		{"bad scheme", "ftp://example.com", true},
		{"no scheme", "localhost:8000", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := llm.NewOpenAIClient(llm.NewLLMConfig().WithBaseURL(tt.baseURL))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodeJSONResponse(t *testing.T) {
	var out struct {
		Title  string  `json:"title"`
		Rating float64 `json:"rating"`
	}
	resp := "<think>plan</think>Here you go:\n```json\n{\"title\": \"Rotavirus\", \"rating\": 7.5,}\n```"
	require.NoError(t, llm.DecodeJSONResponse(resp, &out))
	assert.Equal(t, "Rotavirus", out.Title)
	assert.Equal(t, 7.5, out.Rating)
}
