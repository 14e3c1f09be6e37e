package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient implements the Client interface for OpenAI and OpenAI-compatible servers.
type OpenAIClient struct {
	client *openai.Client
	config LLMConfig
}

// NewOpenAIClient creates a new OpenAI client. A non-empty BaseURL points it
// at any OpenAI-compatible service (vLLM, Ollama, LocalAI).
func NewOpenAIClient(config *LLMConfig) (*OpenAIClient, error) {
	if config == nil {
		config = NewLLMConfig()
	}
	cfg := *config
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		base, err := normalizeBaseURL(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		clientConfig.BaseURL = base
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

func normalizeBaseURL(baseURL string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid baseURL format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("baseURL must use http:// or https:// scheme")
	}
	base := strings.TrimRight(baseURL, "/")
	if !hasAPIPath(parsed.Path) {
		base += "/v1"
	}
	return base, nil
}

func hasAPIPath(path string) bool {
	path = strings.TrimRight(path, "/")
	return strings.HasSuffix(path, "/v1") || strings.Contains(path, "/v1/") || strings.HasSuffix(path, "/api")
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.config.Model }

// MaxLength reports the configured context window.
func (c *OpenAIClient) MaxLength() int { return c.config.MaxLength }

// API exposes the underlying go-openai client, used by the batch runner.
func (c *OpenAIClient) API() *openai.Client { return c.client }

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	req := c.BuildChatRequest(messages)

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from openai")
	}

	choice := resp.Choices[0]
	return &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		TokensUsed: &TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Close cleans up resources (no-op for OpenAI client).
func (c *OpenAIClient) Close() error {
	return nil
}

// BuildChatRequest converts messages into a go-openai request using the client settings.
func (c *OpenAIClient) BuildChatRequest(messages []Message) openai.ChatCompletionRequest {
	openaiMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		openaiMessages[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    openaiMessages,
		Temperature: c.config.Temperature,
	}
	if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}
	return req
}
