package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sportsgpt/chat-relay/pkg/logger"
	"github.com/sportsgpt/chat-relay/pkg/metrics"
)

const (
	DefaultMax           = 10
	DefaultWindow        = 60 * time.Second
	DefaultSweepInterval = 5 * time.Minute
)

// Limiter is a fixed-window counter: each key gets max requests per window,
// and the window starts at the key's first request. Store failures fail
// open.
type Limiter struct {
	name   string
	max    int
	window time.Duration
	store  Store
	now    func() time.Time
	log    *logger.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithStore replaces the default in-memory store.
func WithStore(s Store) Option {
	return func(l *Limiter) { l.store = s }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger used for store failures and sweeps.
func WithLogger(log *logger.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

// WithName labels the limiter's metrics.
func WithName(name string) Option {
	return func(l *Limiter) { l.name = name }
}

// New creates a limiter allowing max requests per window. Non-positive
// arguments fall back to the defaults.
func New(max int, window time.Duration, opts ...Option) *Limiter {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}

	l := &Limiter{
		name:   "fingerprint",
		max:    max,
		window: window,
		now:    time.Now,
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		l.store = NewMemoryStore()
	}
	return l
}

// Max returns the per-window request budget.
func (l *Limiter) Max() int { return l.max }

// Window returns the window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Allow counts a request for key and reports whether it may proceed. Denied
// calls leave the window untouched.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	_, allowed, err := l.store.Take(ctx, key, l.now(), l.window, l.max)
	if err != nil {
		l.log.Warn("rate limit store unavailable, allowing request",
			zap.String("limiter", l.name),
			zap.Error(err),
		)
		allowed = true
	}
	metrics.RecordRateLimit(l.name, allowed)
	return allowed
}

// Remaining returns how many requests key may still make in its window.
func (l *Limiter) Remaining(ctx context.Context, key string) int {
	e, ok := l.current(ctx, key)
	if !ok {
		return l.max
	}
	if r := l.max - e.Count; r > 0 {
		return r
	}
	return 0
}

// ResetSeconds returns the whole seconds, rounded up, until key's window
// ends, or 0 when there is no live window.
func (l *Limiter) ResetSeconds(ctx context.Context, key string) int {
	e, ok := l.current(ctx, key)
	if !ok {
		return 0
	}
	d := e.ResetAt.Sub(l.now())
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func (l *Limiter) current(ctx context.Context, key string) (Entry, bool) {
	e, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.log.Warn("rate limit store unavailable",
			zap.String("limiter", l.name),
			zap.Error(err),
		)
		return Entry{}, false
	}
	if !ok || e.Expired(l.now()) {
		return Entry{}, false
	}
	return e, true
}

// Sweep drops expired windows and returns how many were removed.
func (l *Limiter) Sweep(ctx context.Context) int {
	n, err := l.store.Sweep(ctx, l.now())
	if err != nil {
		l.log.Warn("rate limit sweep failed", zap.String("limiter", l.name), zap.Error(err))
		return 0
	}
	if n > 0 {
		l.log.Debug("rate limit sweep", zap.String("limiter", l.name), zap.Int("removed", n))
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(ctx)
		}
	}
}

// Close releases the store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
