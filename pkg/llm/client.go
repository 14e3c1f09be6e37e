package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorSentinel is the marker some serving stacks put in a completion instead
// of returning an error.
const ErrorSentinel = "**ERROR**"

// ErrErrorSentinel is returned by CheckSentinel for completions carrying ErrorSentinel.
var ErrErrorSentinel = errors.New("completion contains error sentinel")

// Client defines the interface for language model operations.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, messages []Message) (*Response, error)

	// Close cleans up any resources.
	Close() error
}

// ContextWindow is implemented by clients that know their model's context size.
type ContextWindow interface {
	MaxLength() int
}

// MaxLengthOf returns the client's context size, or def when it does not report one.
func MaxLengthOf(c Client, def int) int {
	if w, ok := c.(ContextWindow); ok && w.MaxLength() > 0 {
		return w.MaxLength()
	}
	return def
}

// Message represents a chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role represents the role of a message sender.
type Role string

const (
	// RoleSystem represents a system message.
	RoleSystem Role = "system"
	// RoleUser represents a user message.
	RoleUser Role = "user"
	// RoleAssistant represents an assistant message.
	RoleAssistant Role = "assistant"
)

// Response represents a chat completion response.
type Response struct {
	Content      string                 `json:"content"`
	TokensUsed   *TokenUsage            `json:"tokens_used,omitempty"`
	FinishReason string                 `json:"finish_reason,omitempty"`
	Model        string                 `json:"model,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// TokenUsage represents token usage statistics.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewMessage creates a new message with the specified role and content.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:    role,
		Content: content,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// CheckSentinel turns a completion containing ErrorSentinel into an error.
func CheckSentinel(content string) error {
	if strings.Contains(content, ErrorSentinel) {
		return fmt.Errorf("%w: %s", ErrErrorSentinel, truncate(content, 200))
	}
	return nil
}

// ChatText runs one chat call and returns the completion text, failing on the
// error sentinel.
func ChatText(ctx context.Context, c Client, messages []Message) (string, error) {
	resp, err := c.Chat(ctx, messages)
	if err != nil {
		return "", err
	}
	if err := CheckSentinel(resp.Content); err != nil {
		return "", err
	}
	return resp.Content, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
