package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/sportsgpt/chat-relay/internal/i18n"
	"github.com/sportsgpt/chat-relay/internal/middleware"
	"github.com/sportsgpt/chat-relay/internal/model"
	"github.com/sportsgpt/chat-relay/internal/service"
	"github.com/sportsgpt/chat-relay/pkg/logger"
)

// MaxBodyBytes caps a chat request body.
const MaxBodyBytes = 1 << 20

// Relay runs one chat turn against a sink.
type Relay interface {
	Serve(ctx context.Context, correlationID string, body io.Reader, sink service.Sink) error
}

// ChatHandler handles the streaming chat endpoint.
type ChatHandler struct {
	relay  Relay
	locale language.Tag
	logger *logger.Logger
}

// NewChatHandler creates a new chat handler. locale is used for error
// bodies when the request carries no Accept-Language header.
func NewChatHandler(relay Relay, locale string, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		relay:  relay,
		locale: i18n.Match(locale),
		logger: log,
	}
}

// Chat handles POST /api/v1/chat.
// The body is {"messages": [...], "teams": [...]}; the response is the raw
// generated text, flushed fragment by fragment.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeText(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sink := &httpSink{w: w, flusher: flusher}
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	err := h.relay.Serve(ctx, middleware.GetCorrelationID(ctx), body, sink)
	if err == nil {
		return
	}

	if sink.opened {
		// Headers are already sent; abort so the client sees a truncated
		// body rather than a clean close.
		if ctx.Err() == nil {
			h.logger.Warn("aborting chat stream",
				zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
				zap.Error(err),
			)
		}
		panic(http.ErrAbortHandler)
	}

	h.writeRelayError(w, r, err)
}

func (h *ChatHandler) writeRelayError(w http.ResponseWriter, r *http.Request, err error) {
	var relayErr *model.Error
	if !errors.As(err, &relayErr) {
		relayErr = &model.Error{Kind: model.KindServerError, Message: "relay error", Err: err}
	}

	tag := h.locale
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		tag = i18n.Match(accept)
	}

	var body string
	switch relayErr.Kind {
	case model.KindValidation:
		body = relayErr.Message
	case model.KindServiceUnavailable:
		body = i18n.Text(tag, i18n.KeyQuotaExhausted)
	case model.KindConfiguration:
		body = i18n.Text(tag, i18n.KeyConfigurationBody)
	case model.KindTransmission:
		body = i18n.ForKind(tag, model.KindTransmission)
	case model.KindRateLimited, model.KindMalformedRequest:
		body = i18n.ForKind(tag, relayErr.Kind)
	default:
		body = i18n.ForKind(tag, model.KindServerError)
	}

	if relayErr.Kind == model.KindRateLimited {
		retry := relayErr.RetryAfter
		if retry <= 0 {
			retry = model.RetryAfter
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
	}
	w.Header().Set(model.ErrorKindHeader, string(relayErr.Kind))
	writeText(w, relayErr.Kind.Status(), body)
}

// httpSink streams fragments to the response, flushing after every write.
type httpSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	opened  bool
}

func (s *httpSink) Open() error {
	h := s.w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering

	s.w.WriteHeader(http.StatusOK)
	s.opened = true
	s.flusher.Flush()
	return nil
}

func (s *httpSink) Write(fragment string) error {
	if _, err := io.WriteString(s.w, fragment); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
