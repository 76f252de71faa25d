package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/sportsgpt/chat-relay/internal/model"
	"github.com/sportsgpt/chat-relay/internal/ratelimit"
)

// ChatPath is the relay's chat endpoint.
const ChatPath = "/api/v1/chat"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 4 << 10

// ErrNetwork marks failures where no HTTP response arrived at all.
var ErrNetwork = errors.New("relay unreachable")

// Request is one turn sent to the relay.
type Request struct {
	Messages    []model.Message
	Teams       []string
	Fingerprint string
	Language    string
}

// Relay opens a turn's response stream.
type Relay interface {
	// Open returns the decoded text stream of a successful response. Any
	// failure before the body is readable is a *model.Error.
	Open(ctx context.Context, req *Request) (io.ReadCloser, error)
}

// HTTPRelay talks to the relay over HTTP.
type HTTPRelay struct {
	client *resty.Client
}

// NewHTTPRelay creates a relay client for baseURL. No client timeout is
// set; a turn is bounded by its context.
func NewHTTPRelay(baseURL string) *HTTPRelay {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "text/plain")
	return &HTTPRelay{client: client}
}

// Open posts the conversation and returns the response body once the
// relay has committed to a 200.
func (r *HTTPRelay) Open(ctx context.Context, req *Request) (io.ReadCloser, error) {
	body := model.ChatRequest{
		Messages: make([]model.Message, len(req.Messages)),
		Teams:    req.Teams,
	}
	for i, m := range req.Messages {
		body.Messages[i] = model.Message{Role: m.Role, Content: m.Content}
	}

	httpReq := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetDoNotParseResponse(true)
	if req.Fingerprint != "" {
		httpReq.SetHeader(ratelimit.FingerprintHeader, req.Fingerprint)
	}
	if req.Language != "" {
		httpReq.SetHeader("Accept-Language", req.Language)
	}

	resp, err := httpReq.Post(ChatPath)
	if err != nil {
		return nil, &model.Error{
			Kind:    model.KindTransmission,
			Message: "relay request failed",
			Err:     fmt.Errorf("%w: %w", ErrNetwork, err),
		}
	}

	raw := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		defer raw.Close()
		text, _ := io.ReadAll(io.LimitReader(raw, maxErrorBody))
		return nil, responseError(resp.StatusCode(), resp.Header(), string(text))
	}

	return &decodedBody{
		Reader: transform.NewReader(raw, unicode.UTF8.NewDecoder()),
		raw:    raw,
	}, nil
}

func responseError(status int, header http.Header, body string) *model.Error {
	kind := model.KindFromResponse(status, header.Get(model.ErrorKindHeader))
	e := &model.Error{
		Kind:    kind,
		Message: strings.TrimSpace(body),
		Err:     fmt.Errorf("relay responded %d", status),
	}
	if kind == model.KindRateLimited {
		e.RetryAfter = model.RetryAfter
		if secs, err := strconv.Atoi(header.Get("Retry-After")); err == nil && secs >= 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

// decodedBody yields whole UTF-8 characters even when a multi-byte
// character is split across network reads.
type decodedBody struct {
	io.Reader
	raw io.ReadCloser
}

func (b *decodedBody) Close() error {
	return b.raw.Close()
}
