package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.GPT3Dot5Turbo

// OpenAIProvider streams chat completions from OpenAI or a compatible API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI provider. baseURL may point at any
// OpenAI-compatible endpoint; empty means the public API.
func NewOpenAIProvider(apiKey, baseURL, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return string(ProviderOpenAI)
}

// Stream sends a streaming chat completion request.
func (p *OpenAIProvider) Stream(ctx context.Context, req *CompletionRequest) (Stream, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      true,
	})
	if err != nil {
		return nil, mapOpenAIError(err)
	}

	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream    *openai.ChatCompletionStream
	closeOnce sync.Once
	closeErr  error
}

func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", mapOpenAIError(err)
		}

		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

func (s *openAIStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stream.Close()
	})
	return s.closeErr
}

// mapOpenAIError translates OpenAI and network errors into typed
// ProviderError values.
func mapOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	if cerr := contextError(err); cerr != nil {
		return cerr
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		switch {
		case code == ErrCodeQuota:
			return NewProviderError(ErrCodeQuota, "openai quota exhausted", err)
		case code == ErrCodeRateLimit:
			return NewProviderError(ErrCodeRateLimit, "openai rate limit exceeded", err)
		case code == ErrCodeAuthentication:
			return NewProviderError(ErrCodeAuthentication, "openai rejected credentials", err)
		}
		return fromStatus("openai", apiErr.HTTPStatusCode, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fromStatus("openai", reqErr.HTTPStatusCode, err)
	}

	return NewProviderError(ErrCodeServerError, "openai error", err)
}

// fromStatus classifies an upstream failure by HTTP status alone.
func fromStatus(provider string, status int, err error) error {
	switch status {
	case http.StatusTooManyRequests:
		return NewProviderError(ErrCodeRateLimit, provider+" rate limit exceeded", err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewProviderError(ErrCodeAuthentication, provider+" rejected credentials", err)
	case http.StatusServiceUnavailable, 529:
		return NewProviderError(ErrCodeOverloaded, provider+" overloaded", err)
	default:
		return NewProviderError(ErrCodeServerError, provider+" error", err)
	}
}
