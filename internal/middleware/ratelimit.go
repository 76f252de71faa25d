package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/sportsgpt/chat-relay/internal/i18n"
	"github.com/sportsgpt/chat-relay/internal/model"
	"github.com/sportsgpt/chat-relay/internal/ratelimit"
)

// RateLimit creates the network-level backstop, keyed by the caller's real
// IP. Unlike the fingerprint limit it cannot be sidestepped by the client.
func RateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(model.RetryAfter / time.Second))

	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			tag := i18n.Match(r.Header.Get("Accept-Language"))
			w.Header().Set("Retry-After", retryAfter)
			w.Header().Set(model.ErrorKindHeader, string(model.KindRateLimited))
			http.Error(w, i18n.ForKind(tag, model.KindRateLimited), http.StatusTooManyRequests)
		}),
	)
}

// FingerprintLimit applies limiter to requests that carry the advisory
// fingerprint header. Requests without one pass through to the network
// backstop alone.
func FingerprintLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(ratelimit.FingerprintHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			if !limiter.Allow(ctx, key) {
				wait := limiter.ResetSeconds(ctx, key)
				tag := i18n.Match(r.Header.Get("Accept-Language"))

				w.Header().Set("Retry-After", strconv.Itoa(wait))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set(model.ErrorKindHeader, string(model.KindRateLimited))
				http.Error(w, i18n.Text(tag, i18n.KeyLimitReached, wait), http.StatusTooManyRequests)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(ctx, key)))
			next.ServeHTTP(w, r)
		})
	}
}
