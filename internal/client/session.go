package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/sportsgpt/chat-relay/internal/i18n"
	"github.com/sportsgpt/chat-relay/internal/model"
	"github.com/sportsgpt/chat-relay/internal/ratelimit"
	"github.com/sportsgpt/chat-relay/internal/validation"
	"github.com/sportsgpt/chat-relay/pkg/logger"
)

// DefaultMinInterval is the shortest gap allowed between two submissions.
const DefaultMinInterval = 2 * time.Second

const readBufferSize = 4 << 10

var (
	// ErrNothingToRetry is returned by Retry when no turn has failed.
	ErrNothingToRetry = errors.New("no failed turn to retry")
	// ErrNotRetryable is returned by Retry after a failure that resubmitting
	// cannot fix.
	ErrNotRetryable = errors.New("last failure is not retryable")
	// ErrTurnDiscarded is returned by a turn that a Reset overtook. The turn
	// leaves no trace in the session.
	ErrTurnDiscarded = errors.New("turn discarded by reset")
)

// Snapshot is what a UI renders: the transcript and the current error.
type Snapshot struct {
	Messages  []model.Message
	Error     string
	ErrorKind model.ErrorKind
	Streaming bool
	CanRetry  bool
}

// Observer receives a fresh snapshot after every state change, including
// every streamed fragment.
type Observer func(Snapshot)

type pendingTurn struct {
	content string
	teams   []string
}

// Session drives chat turns against a relay and owns the transcript.
type Session struct {
	relay       Relay
	validator   *validation.Validator
	limiter     *ratelimit.Limiter
	fingerprint string
	pacer       *rate.Limiter
	transcript  *Transcript
	observer    Observer
	locale      language.Tag
	turnTimeout time.Duration
	now         func() time.Time
	log         *logger.Logger

	mu       sync.Mutex
	err      *model.Error
	errText  string
	failed   *pendingTurn
	inFlight int
	// generation counts resets; a turn only writes state while the
	// generation it started in is current.
	generation uint64
	cancels    map[*pendingTurn]context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithLimiter rate-limits submissions per fingerprint key.
func WithLimiter(l *ratelimit.Limiter, fingerprint string) Option {
	return func(s *Session) {
		s.limiter = l
		s.fingerprint = fingerprint
	}
}

// WithMinInterval sets the minimum spacing between submissions. Zero
// disables pacing.
func WithMinInterval(d time.Duration) Option {
	return func(s *Session) {
		if d <= 0 {
			s.pacer = nil
			return
		}
		s.pacer = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithObserver registers the UI callback.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithLocale selects the language of error messages.
func WithLocale(locale string) Option {
	return func(s *Session) { s.locale = i18n.Match(locale) }
}

// WithTurnTimeout bounds a whole turn, streaming included.
func WithTurnTimeout(d time.Duration) Option {
	return func(s *Session) { s.turnTimeout = d }
}

// WithValidator replaces the default input validator.
func WithValidator(v *validation.Validator) Option {
	return func(s *Session) { s.validator = v }
}

// WithClock injects the time source used for pacing.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogger sets the session logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Session) { s.log = log }
}

// NewSession creates a session with an empty transcript.
func NewSession(relay Relay, opts ...Option) *Session {
	s := &Session{
		relay:      relay,
		validator:  validation.Default(),
		pacer:      rate.NewLimiter(rate.Every(DefaultMinInterval), 1),
		transcript: NewTranscript(),
		locale:     i18n.PortugueseBR,
		now:        time.Now,
		log:        logger.Nop(),
		cancels:    make(map[*pendingTurn]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transcript returns the session's transcript.
func (s *Session) Transcript() *Transcript {
	return s.transcript
}

// Submit runs one turn: checks, optimistic user message, streamed
// assistant message. The returned error is nil, ErrTurnDiscarded, or a
// *model.Error whose Message is the text shown to the user.
func (s *Session) Submit(ctx context.Context, content string, teams []string) error {
	gen := s.currentGeneration()
	sanitized, err := s.check(ctx, content, teams)
	if err != nil {
		return s.fail(gen, err, nil)
	}
	return s.run(ctx, gen, content, sanitized, teams)
}

// Retry resubmits the exact content of the last failed turn.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	failed, last := s.failed, s.err
	s.mu.Unlock()

	if failed == nil {
		return ErrNothingToRetry
	}
	if last != nil && !last.Retryable() {
		return ErrNotRetryable
	}
	return s.Submit(ctx, failed.content, failed.teams)
}

// Reset discards the transcript, the current error and the retry slot.
// Turns still streaming are canceled and end without touching the session.
func (s *Session) Reset() {
	s.mu.Lock()
	s.generation++
	s.err, s.errText, s.failed = nil, "", nil
	cancels := s.cancels
	s.cancels = make(map[*pendingTurn]context.CancelFunc)
	s.transcript.Reset()
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.publish()
}

func (s *Session) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Messages:  s.transcript.Messages(),
		Error:     s.errText,
		Streaming: s.inFlight > 0,
	}
	if s.err != nil {
		snap.ErrorKind = s.err.Kind
		snap.CanRetry = s.failed != nil && s.err.Retryable()
	}
	return snap
}

// check validates and rate-limits a submission without touching the
// transcript. It returns the sanitized content.
func (s *Session) check(ctx context.Context, content string, teams []string) (string, *model.Error) {
	msg := s.validator.Message(content)
	if !msg.Valid {
		return "", model.NewError(model.KindValidation, msg.Error)
	}
	if res := s.validator.Teams(teams); !res.Valid {
		return "", model.NewError(model.KindValidation, res.Error)
	}

	if s.pacer != nil {
		now := s.now()
		r := s.pacer.ReserveN(now, 1)
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			return "", &model.Error{
				Kind:       model.KindRateLimited,
				Message:    i18n.Text(s.locale, i18n.KeyWaitBeforeSending, ceilSeconds(delay)),
				RetryAfter: delay,
			}
		}
	}

	if s.limiter != nil && !s.limiter.Allow(ctx, s.fingerprint) {
		wait := s.limiter.ResetSeconds(ctx, s.fingerprint)
		return "", &model.Error{
			Kind:       model.KindRateLimited,
			Message:    i18n.Text(s.locale, i18n.KeyLimitReached, wait),
			RetryAfter: time.Duration(wait) * time.Second,
		}
	}
	return msg.Sanitized, nil
}

func (s *Session) run(ctx context.Context, gen uint64, content, sanitized string, teams []string) error {
	turn := &pendingTurn{content: content, teams: append([]string(nil), teams...)}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return ErrTurnDiscarded
	}
	s.cancels[turn] = cancel
	user := s.transcript.Append(model.RoleUser, sanitized)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.cancels, turn)
		s.mu.Unlock()
	}()

	s.begin()
	defer s.end()

	if s.turnTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.turnTimeout)
		defer cancelTimeout()
	}

	body, err := s.relay.Open(ctx, &Request{
		Messages:    s.transcript.ContextThrough(user.ID),
		Teams:       turn.teams,
		Fingerprint: s.fingerprint,
		Language:    s.locale.String(),
	})
	if err != nil {
		s.transcript.Remove(user.ID)
		return s.fail(gen, s.relayError(err), turn)
	}
	defer body.Close()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return ErrTurnDiscarded
	}
	assistant := s.transcript.Append(model.RoleAssistant, "")
	s.mu.Unlock()
	s.publish()

	buf := make([]byte, readBufferSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 && s.transcript.AppendContent(assistant.ID, string(buf[:n])) {
			s.publish()
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			s.transcript.Remove(assistant.ID, user.ID)
			s.log.Debug("relay stream interrupted", zap.Error(rerr))
			return s.fail(gen, &model.Error{
				Kind:    model.KindTransmission,
				Message: i18n.ForKind(s.locale, model.KindTransmission),
				Err:     rerr,
			}, turn)
		}
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return ErrTurnDiscarded
	}
	empty := strings.TrimSpace(s.transcript.Content(assistant.ID)) == ""
	s.mu.Unlock()

	if empty {
		s.transcript.Remove(assistant.ID, user.ID)
		return s.fail(gen, &model.Error{
			Kind:    model.KindEmptyResponse,
			Message: i18n.ForKind(s.locale, model.KindEmptyResponse),
		}, turn)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return ErrTurnDiscarded
	}
	s.transcript.Settle(assistant.ID)
	s.err, s.errText, s.failed = nil, "", nil
	s.mu.Unlock()
	s.publish()
	return nil
}

// relayError turns a failed Open into the error shown to the user.
func (s *Session) relayError(err error) *model.Error {
	var relayErr *model.Error
	if !errors.As(err, &relayErr) {
		relayErr = &model.Error{Kind: model.KindTransmission, Err: err}
	}

	out := &model.Error{Kind: relayErr.Kind, RetryAfter: relayErr.RetryAfter, Err: err}
	switch {
	case errors.Is(err, ErrNetwork):
		out.Message = i18n.Text(s.locale, i18n.KeyNetwork)
	case errors.Is(err, context.DeadlineExceeded):
		out.Kind = model.KindTransmission
		out.Message = i18n.ForKind(s.locale, model.KindTransmission)
	case relayErr.Kind == model.KindValidation && relayErr.Message != "":
		out.Message = relayErr.Message
	default:
		out.Message = i18n.ForKind(s.locale, relayErr.Kind)
	}
	return out
}

// fail records err as the current error. A non-nil turn becomes the retry
// slot; check failures keep the previous slot. A turn from before the last
// Reset records nothing.
func (s *Session) fail(gen uint64, err *model.Error, turn *pendingTurn) error {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.log.Debug("discarding turn overtaken by reset", zap.String("kind", string(err.Kind)))
		return ErrTurnDiscarded
	}
	s.err, s.errText = err, err.Message
	if turn != nil {
		s.failed = turn
	}
	s.mu.Unlock()

	s.log.Info("chat turn failed", zap.String("kind", string(err.Kind)), zap.Error(err))
	s.publish()
	return err
}

func (s *Session) begin() {
	s.mu.Lock()
	s.inFlight++
	s.err, s.errText = nil, ""
	s.mu.Unlock()
	s.publish()
}

func (s *Session) end() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	s.publish()
}

func (s *Session) publish() {
	if s.observer == nil {
		return
	}
	s.observer(s.Snapshot())
}

func ceilSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}
