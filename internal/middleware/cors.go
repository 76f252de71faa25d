package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/sportsgpt/chat-relay/internal/model"
	"github.com/sportsgpt/chat-relay/internal/ratelimit"
)

// CORS returns a configured CORS middleware. Browser clients need the error
// kind and rate-limit headers exposed to read them.
func CORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Accept-Language", "Authorization", "Content-Type",
			"X-Correlation-ID", ratelimit.FingerprintHeader,
		},
		ExposedHeaders: []string{
			"Retry-After", "X-Correlation-ID", "X-RateLimit-Remaining", model.ErrorKindHeader,
		},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// SecurityHeaders sets conservative browser security headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
