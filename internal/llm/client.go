// Package llm provides the streaming LLM provider interface and its
// implementations.
package llm

import (
	"context"
	"fmt"
)

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest represents a streaming completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// Stream is a lazy, single-pass sequence of text fragments. Recv returns
// io.EOF once the provider signals completion. Close releases the upstream
// connection and is safe to call more than once.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Provider is the interface for streaming LLM providers. Failures are
// returned as *ProviderError, both from Stream and from Stream.Recv.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Stream starts a streaming completion.
	Stream(ctx context.Context, req *CompletionRequest) (Stream, error)
}

// ProviderName is the type of LLM provider.
type ProviderName string

const (
	ProviderAnthropic ProviderName = "anthropic"
	ProviderOpenAI    ProviderName = "openai"
	ProviderDemo      ProviderName = "demo"
)

// Config selects and configures a provider.
type Config struct {
	Provider ProviderName
	APIKey   string
	BaseURL  string
	Model    string
}

// NewProvider creates a provider for a hosted API. The demo provider is
// wired by the caller.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case ProviderOpenAI, "":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
