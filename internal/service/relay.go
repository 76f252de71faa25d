// Package service holds the relay's per-request business logic.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sportsgpt/chat-relay/internal/llm"
	"github.com/sportsgpt/chat-relay/internal/model"
	"github.com/sportsgpt/chat-relay/internal/validation"
	"github.com/sportsgpt/chat-relay/pkg/logger"
	"github.com/sportsgpt/chat-relay/pkg/metrics"
	"github.com/sportsgpt/chat-relay/pkg/tracing"
)

// State is a relay turn's position in its lifecycle.
type State string

const (
	StateReceived   State = "received"
	StateValidating State = "validating"
	StateDispatched State = "dispatched"
	StateStreaming  State = "streaming"
	StateClosed     State = "closed"
	StateFailed     State = "failed"
)

// Turn is one relay request, from the raw body to a closed or failed stream.
type Turn struct {
	ID            string
	CorrelationID string
	Messages      []model.Message
	Teams         []string

	state     State
	kind      model.ErrorKind
	fragments int
	bytes     int
	started   time.Time
	log       *logger.Logger
}

// State returns the turn's current state.
func (t *Turn) State() State { return t.state }

// Kind returns the failure kind of a failed turn.
func (t *Turn) Kind() model.ErrorKind { return t.kind }

// Fragments returns how many fragments reached the sink.
func (t *Turn) Fragments() int { return t.fragments }

func (t *Turn) enter(s State) {
	t.log.Debug("relay state", zap.String("from", string(t.state)), zap.String("to", string(s)))
	t.state = s
}

// Sink is the outbound byte stream of one turn.
type Sink interface {
	// Open commits a successful response. It is called at most once and
	// always before the first Write.
	Open() error
	// Write emits one fragment to the caller without buffering.
	Write(fragment string) error
}

// EventPublisher receives a summary of every finished turn.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.RelayEvent) error
}

// RelayConfig holds the generation parameters applied to every turn.
type RelayConfig struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	TurnTimeout  time.Duration
	SystemPrompt string
}

// Relay forwards validated conversations to an LLM provider and streams the
// generated text back.
type Relay struct {
	provider  llm.Provider
	validator *validation.Validator
	publisher EventPublisher
	cfg       RelayConfig
	logger    *logger.Logger
	tracer    trace.Tracer
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithPublisher publishes turn outcomes.
func WithPublisher(p EventPublisher) RelayOption {
	return func(r *Relay) { r.publisher = p }
}

// WithValidator replaces the default input validator.
func WithValidator(v *validation.Validator) RelayOption {
	return func(r *Relay) { r.validator = v }
}

// NewRelay creates a new relay.
func NewRelay(provider llm.Provider, cfg RelayConfig, log *logger.Logger, opts ...RelayOption) *Relay {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = SystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}

	r := &Relay{
		provider:  provider,
		validator: validation.Default(),
		cfg:       cfg,
		logger:    log,
		tracer:    tracing.Tracer("github.com/sportsgpt/chat-relay/internal/service"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Serve runs one turn end to end. It returns nil when the provider stream
// completed, and a *model.Error otherwise. The sink knows whether it was
// opened, which decides between an HTTP error and an aborted stream.
func (r *Relay) Serve(ctx context.Context, correlationID string, body io.Reader, sink Sink) error {
	turn := r.NewTurn(correlationID)

	ctx, span := r.tracer.Start(ctx, "relay.turn", trace.WithAttributes(
		attribute.String("relay.turn_id", turn.ID),
		attribute.String("llm.provider", r.provider.Name()),
	))
	defer span.End()

	err := r.Prepare(turn, body)
	if err == nil {
		err = r.Stream(ctx, turn, sink)
	}
	r.finish(ctx, turn, err, span)
	return err
}

// NewTurn starts a turn in the Received state.
func (r *Relay) NewTurn(correlationID string) *Turn {
	id := uuid.NewString()
	return &Turn{
		ID:            id,
		CorrelationID: correlationID,
		state:         StateReceived,
		started:       time.Now(),
		log:           r.logger.WithTurn(correlationID, id),
	}
}

// Prepare parses the raw body into turn and validates it, messages first.
func (r *Relay) Prepare(turn *Turn, body io.Reader) error {
	var raw model.RawChatRequest
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return &model.Error{Kind: model.KindMalformedRequest, Message: "request body is not valid JSON", Err: err}
	}

	turn.enter(StateValidating)

	msgs := r.validator.Conversation(raw.Messages)
	if !msgs.Valid {
		metrics.RecordValidationRejection("messages")
		return model.NewError(model.KindValidation, msgs.Error)
	}

	teamIDs, err := raw.TeamsValue()
	if err != nil {
		return &model.Error{Kind: model.KindMalformedRequest, Message: "request body is not valid JSON", Err: err}
	}
	teams := r.validator.Teams(teamIDs)
	if !teams.Valid {
		metrics.RecordValidationRejection("teams")
		return model.NewError(model.KindValidation, teams.Error)
	}

	turn.Messages = msgs.Sanitized
	turn.Teams = teams.Sanitized
	return nil
}

// Stream dispatches a validated turn and copies fragments to sink in
// emission order. The first fragment is pulled before the sink is opened,
// so a provider that fails on its first read still yields an HTTP error.
// The provider stream is closed on every exit path.
func (r *Relay) Stream(ctx context.Context, turn *Turn, sink Sink) error {
	turn.enter(StateDispatched)

	if r.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.TurnTimeout)
		defer cancel()
	}

	messages := make([]llm.ChatMessage, len(turn.Messages))
	for i, m := range turn.Messages {
		messages[i] = llm.ChatMessage{Role: string(m.Role), Content: m.Content}
	}

	stream, err := r.provider.Stream(ctx, &llm.CompletionRequest{
		Model:       r.cfg.Model,
		System:      BuildSystemPrompt(r.cfg.SystemPrompt, turn.Teams),
		Messages:    messages,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	})
	if err != nil {
		return providerError(ctx, err)
	}
	defer stream.Close()

	frag, recvErr := stream.Recv()
	if recvErr != nil && !errors.Is(recvErr, io.EOF) {
		return providerError(ctx, recvErr)
	}

	turn.enter(StateStreaming)
	metrics.IncrementStreams()
	defer metrics.DecrementStreams()

	if err := sink.Open(); err != nil {
		return &model.Error{Kind: model.KindTransmission, Message: "open response stream", Err: err}
	}

	for recvErr == nil {
		if err := sink.Write(frag); err != nil {
			return &model.Error{Kind: model.KindTransmission, Message: "write to caller", Err: err}
		}
		turn.fragments++
		turn.bytes += len(frag)
		metrics.RecordFragment(r.provider.Name())

		frag, recvErr = stream.Recv()
	}

	if !errors.Is(recvErr, io.EOF) {
		return &model.Error{Kind: model.KindTransmission, Message: "provider stream failed", Err: recvErr}
	}
	return nil
}

// providerError maps a failure raised before any byte was streamed.
func providerError(ctx context.Context, err error) *model.Error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &model.Error{Kind: model.KindTransmission, Message: "turn timed out", Err: err}
	case llm.IsRateLimited(err):
		return &model.Error{Kind: model.KindRateLimited, Message: "provider rate limit exceeded", RetryAfter: model.RetryAfter, Err: err}
	case llm.IsQuotaExhausted(err):
		return &model.Error{Kind: model.KindServiceUnavailable, Message: "provider quota exhausted", Err: err}
	case llm.IsUnauthenticated(err):
		return &model.Error{Kind: model.KindConfiguration, Message: "provider rejected credentials", Err: err}
	case llm.IsCanceled(err):
		return &model.Error{Kind: model.KindTransmission, Message: "request canceled", Err: err}
	default:
		return &model.Error{Kind: model.KindServerError, Message: "provider error", Err: err}
	}
}

func (r *Relay) finish(ctx context.Context, turn *Turn, err error, span trace.Span) {
	duration := time.Since(turn.started)
	outcome := model.OutcomeCompleted
	var kind model.ErrorKind

	if err == nil {
		turn.enter(StateClosed)
	} else {
		turn.enter(StateFailed)
		kind = model.KindOf(err)
		turn.kind = kind

		switch {
		case kind == model.KindRateLimited:
			outcome = model.OutcomeRateLimit
		case errors.Is(err, context.DeadlineExceeded):
			outcome = model.OutcomeTimeout
		case ctx.Err() != nil || errors.Is(err, context.Canceled):
			outcome = model.OutcomeCancel
		default:
			outcome = model.OutcomeError
		}
	}

	fields := []zap.Field{
		zap.String("outcome", string(outcome)),
		zap.Int("messages", len(turn.Messages)),
		zap.Strings("teams", turn.Teams),
		zap.Int("fragments", turn.fragments),
		zap.Int("bytes", turn.bytes),
		zap.Duration("duration", duration),
	}
	switch {
	case err == nil:
		turn.log.Info("relay turn completed", fields...)
	case kind == model.KindValidation || kind == model.KindMalformedRequest:
		turn.log.Info("relay turn rejected", append(fields, zap.String("kind", string(kind)), zap.String("reason", err.Error()))...)
	default:
		turn.log.Warn("relay turn failed", append(fields, zap.String("kind", string(kind)), zap.Error(err))...)
	}

	span.SetAttributes(
		attribute.String("relay.outcome", string(outcome)),
		attribute.Int("relay.fragments", turn.fragments),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
	}

	metrics.RecordTurn(r.provider.Name(), string(outcome), string(kind), duration.Seconds())

	if r.publisher == nil {
		return
	}
	event := &model.RelayEvent{
		ID:            uuid.NewString(),
		TurnID:        turn.ID,
		CorrelationID: turn.CorrelationID,
		Provider:      r.provider.Name(),
		Outcome:       outcome,
		Kind:          kind,
		Teams:         turn.Teams,
		Fragments:     turn.fragments,
		Bytes:         turn.bytes,
		DurationMs:    duration.Milliseconds(),
		CreatedAt:     time.Now().UTC(),
	}
	if kind == model.KindValidation {
		event.Reason = err.Error()
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		pubCtx, cancel := context.WithTimeout(detached, 5*time.Second)
		defer cancel()
		if err := r.publisher.PublishEvent(pubCtx, event); err != nil {
			turn.log.Warn("failed to publish relay event", zap.Error(err))
		}
	}()
}
