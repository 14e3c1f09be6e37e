package llm

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/soundprediction/go-vetgraph/pkg/types"
)

// TokenTracker records per-call token usage in a DuckDB table.
type TokenTracker struct {
	db *sql.DB
}

// NewTokenTracker creates the token_usage table if needed.
func NewTokenTracker(db *sql.DB) (*TokenTracker, error) {
	t := &TokenTracker{db: db}
	if err := t.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize token_usage schema: %w", err)
	}
	return t, nil
}

func (t *TokenTracker) initSchema() error {
	_, err := t.db.Exec(`
	CREATE TABLE IF NOT EXISTS token_usage (
		id VARCHAR,
		timestamp TIMESTAMP,
		user_id VARCHAR,
		session_id VARCHAR,
		request_source VARCHAR,
		kb_id VARCHAR,
		doc_id VARCHAR,
		model VARCHAR,
		prompt_tokens INTEGER,
		completion_tokens INTEGER,
		total_tokens INTEGER,
		is_system_call BOOLEAN
	);`)
	return err
}

// DB returns the underlying database handle.
func (t *TokenTracker) DB() *sql.DB { return t.db }

// AddUsage stores one usage row tagged with the request identity found in ctx.
func (t *TokenTracker) AddUsage(ctx context.Context, usage *TokenUsage, model string) error {
	if usage == nil {
		return nil
	}
	str := func(k types.ContextKey) string {
		v, _ := ctx.Value(k).(string)
		return v
	}
	system, _ := ctx.Value(types.ContextKeySystemCall).(bool)

	_, err := t.db.ExecContext(ctx, `
	INSERT INTO token_usage (
		id, timestamp, user_id, session_id, request_source, kb_id, doc_id,
		model, prompt_tokens, completion_tokens, total_tokens, is_system_call
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		uuid.New().String(), time.Now().UTC(),
		str(types.ContextKeyUserID), str(types.ContextKeySessionID), str(types.ContextKeyRequestSource),
		str(types.ContextKeyKBID), str(types.ContextKeyDocID),
		model, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, system,
	)
	return err
}

// Totals sums all recorded usage.
func (t *TokenTracker) Totals(ctx context.Context) (TokenUsage, error) {
	var u TokenUsage
	err := t.db.QueryRowContext(ctx, `
	SELECT COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(total_tokens), 0)
	FROM token_usage`).Scan(&u.PromptTokens, &u.CompletionTokens, &u.TotalTokens)
	return u, err
}

// TokenTrackingClient wraps a Client to track usage
type TokenTrackingClient struct {
	client  Client
	tracker *TokenTracker
	model   string
	logger  *slog.Logger
}

// NewTokenTrackingClient creates a wrapper client
func NewTokenTrackingClient(client Client, tracker *TokenTracker, model string, logger *slog.Logger) *TokenTrackingClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenTrackingClient{client: client, tracker: tracker, model: model, logger: logger}
}

// Chat implements Client
func (c *TokenTrackingClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	resp, err := c.client.Chat(ctx, messages)
	if err != nil {
		return nil, err
	}
	if resp.TokensUsed != nil {
		model := resp.Model
		if model == "" {
			model = c.model
		}
		if err := c.tracker.AddUsage(ctx, resp.TokensUsed, model); err != nil {
			c.logger.Warn("failed to save token usage", "error", err)
		}
	}
	return resp, nil
}

// MaxLength forwards the wrapped client's context window.
func (c *TokenTrackingClient) MaxLength() int { return MaxLengthOf(c.client, 0) }

// Close implements Client
func (c *TokenTrackingClient) Close() error { return c.client.Close() }
