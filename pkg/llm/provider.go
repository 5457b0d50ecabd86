package llm

import (
	"context"
	"fmt"
	"strings"

	"echotwin/pkg/config"
)

// Message is a single chat message sent to a completion API.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request holds the parameters of a single completion call.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Provider abstracts a chat completion API. Complete returns the full
// assistant message text for the given request.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config holds completion provider configuration
type Config struct {
	Provider string
	Model    string
	APIKey   string
	APIURL   string
}

// LoadConfig loads provider configuration from LLM_* env vars
func LoadConfig() Config {
	return Config{
		Provider: config.GetEnv("LLM_PROVIDER", "openai"),
		Model:    config.GetEnv("LLM_MODEL", ""),
		APIKey:   config.GetEnv("LLM_API_KEY", ""),
		APIURL:   config.GetEnv("LLM_API_URL", ""),
	}
}

// NewProvider constructs a Provider for the configured backend
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
