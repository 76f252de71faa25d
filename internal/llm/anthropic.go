package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = string(anthropic.ModelClaude3_5HaikuLatest)

// AnthropicProvider streams messages from the Anthropic API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey, baseURL, model string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultAnthropicModel
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return string(ProviderAnthropic)
}

// Stream sends a streaming messages request. Anthropic takes the system
// prompt out of band, so system-role messages are folded into it.
func (p *AnthropicProvider) Stream(ctx context.Context, req *CompletionRequest) (Stream, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	var system []anthropic.TextBlockParam
	if req.System != "" {
		system = append(system, anthropic.TextBlockParam{Text: req.System})
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	stream := p.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    messages,
		System:      system,
		Temperature: anthropic.Float(req.Temperature),
	})
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, mapAnthropicError(err)
	}
	return &anthropicStream{stream: stream}, nil
}

type anthropicStream struct {
	stream    *ssestream.Stream[anthropic.MessageStreamEventUnion]
	closeOnce sync.Once
	closeErr  error
}

func (s *anthropicStream) Recv() (string, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
			return event.Delta.Text, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", mapAnthropicError(err)
	}
	return "", io.EOF
}

func (s *anthropicStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stream.Close()
	})
	return s.closeErr
}

// mapAnthropicError translates Anthropic API errors into typed
// ProviderError values.
func mapAnthropicError(err error) error {
	if err == nil {
		return nil
	}
	if cerr := contextError(err); cerr != nil {
		return cerr
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusBadRequest &&
			strings.Contains(strings.ToLower(apiErr.RawJSON()), "credit balance") {
			return NewProviderError(ErrCodeQuota, "anthropic credit balance exhausted", err)
		}
		return fromStatus("anthropic", apiErr.StatusCode, err)
	}

	// Errors sent as stream events carry only the raw payload.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "overloaded_error"):
		return NewProviderError(ErrCodeOverloaded, "anthropic overloaded", err)
	case strings.Contains(msg, "rate_limit_error"):
		return NewProviderError(ErrCodeRateLimit, "anthropic rate limit exceeded", err)
	}
	return NewProviderError(ErrCodeServerError, "anthropic error", err)
}
