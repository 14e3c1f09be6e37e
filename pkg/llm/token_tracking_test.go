package llm_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-vetgraph/pkg/llm"
	"github.com/soundprediction/go-vetgraph/pkg/types"
)

func TestDuckDBTokenTracker(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "token_usage.duckdb")

	db, err := sql.Open("duckdb", dbPath)
	require.NoError(t, err)
	defer db.Close()

	tracker, err := llm.NewTokenTracker(db)
	require.NoError(t, err)

	ctx := context.Background()
	ctx = context.WithValue(ctx, types.ContextKeyUserID, "test-user")
	ctx = context.WithValue(ctx, types.ContextKeySessionID, "test-session")
	ctx = context.WithValue(ctx, types.ContextKeyKBID, "kb1")
	ctx = context.WithValue(ctx, types.ContextKeySystemCall, true)

	usage := &llm.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}
	require.NoError(t, tracker.AddUsage(ctx, usage, "gpt-4-test"))
	require.NoError(t, tracker.AddUsage(ctx, nil, "gpt-4-test"))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM token_usage").Scan(&count))
	assert.Equal(t, 1, count)

	var userID, sessionID, kbID, model string
	var total, prompt, completion int
	var isSystem bool
	err = db.QueryRow("SELECT user_id, session_id, kb_id, model, total_tokens, prompt_tokens, completion_tokens, is_system_call FROM token_usage").
		Scan(&userID, &sessionID, &kbID, &model, &total, &prompt, &completion, &isSystem)
	require.NoError(t, err)

	assert.Equal(t, "test-user", userID)
	assert.Equal(t, "test-session", sessionID)
	assert.Equal(t, "kb1", kbID)
	assert.Equal(t, "gpt-4-test", model)
	assert.Equal(t, 30, total)
	assert.True(t, isSystem)
}

func TestTokenTrackingClient(t *testing.T) {
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	tracker, err := llm.NewTokenTracker(db)
	require.NoError(t, err)

	fake := &fakeClient{replies: []string{"a", "b"}, usage: &llm.TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}}
	client := llm.NewTokenTrackingClient(fake, tracker, "m", nil)

	for i := 0; i < 2; i++ {
		_, err := client.Chat(context.Background(), []llm.Message{llm.NewUserMessage("hi")})
		require.NoError(t, err)
	}

	totals, err := tracker.Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, llm.TokenUsage{PromptTokens: 6, CompletionTokens: 4, TotalTokens: 10}, totals)
}
