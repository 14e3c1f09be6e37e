package llm

import "time"

// Default configuration values
const (
	DefaultMaxTokens   = 2048
	DefaultTemperature = 0.3
	DefaultMaxLength   = 8192
	DefaultCacheTTL    = 7 * 24 * time.Hour
)

// LLMConfig holds configuration for LLM clients
type LLMConfig struct {
	// APIKey is the authentication key for accessing the LLM API
	APIKey string `json:"api_key,omitempty"`

	// Model is the specific LLM model to use for generating responses
	Model string `json:"model,omitempty"`

	// BaseURL is the base URL of an OpenAI-compatible API. Empty means api.openai.com.
	BaseURL string `json:"base_url,omitempty"`

	// Temperature controls randomness in generation (0.0 to 2.0)
	Temperature float32 `json:"temperature,omitempty"`

	// MaxTokens is the maximum number of tokens to generate
	MaxTokens int `json:"max_tokens,omitempty"`

	// MaxLength is the model context window in tokens
	MaxLength int `json:"max_length,omitempty"`
}

// NewLLMConfig creates a new LLMConfig with default values
func NewLLMConfig() *LLMConfig {
	return &LLMConfig{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		MaxLength:   DefaultMaxLength,
	}
}

// WithAPIKey sets the API key
func (c *LLMConfig) WithAPIKey(apiKey string) *LLMConfig {
	c.APIKey = apiKey
	return c
}

// WithModel sets the model
func (c *LLMConfig) WithModel(model string) *LLMConfig {
	c.Model = model
	return c
}

// WithBaseURL sets the base URL
func (c *LLMConfig) WithBaseURL(baseURL string) *LLMConfig {
	c.BaseURL = baseURL
	return c
}

// WithTemperature sets the temperature
func (c *LLMConfig) WithTemperature(temperature float32) *LLMConfig {
	c.Temperature = temperature
	return c
}

// WithMaxTokens sets the max tokens
func (c *LLMConfig) WithMaxTokens(maxTokens int) *LLMConfig {
	c.MaxTokens = maxTokens
	return c
}

// WithMaxLength sets the context window
func (c *LLMConfig) WithMaxLength(maxLength int) *LLMConfig {
	c.MaxLength = maxLength
	return c
}
