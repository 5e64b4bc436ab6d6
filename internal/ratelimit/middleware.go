package ratelimit

import (
	"log"
	"net/http"
)

// Middleware enforces the limiter on HTTP traffic. Identity comes from the
// X-User-ID and X-Session-Token headers set by the caller.
type Middleware struct {
	limiter *Limiter
	enabled bool
	logger  *log.Logger
}

// NewMiddleware creates a rate limiting middleware.
func NewMiddleware(limiter *Limiter, enabled bool, logger *log.Logger) *Middleware {
	return &Middleware{
		limiter: limiter,
		enabled: enabled,
		logger:  logger,
	}
}

// Wrap applies rate limiting to an HTTP handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if !m.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		token := r.Header.Get("X-Session-Token")

		if !m.limiter.AllowUser(r.Context(), userID) {
			if m.logger != nil {
				m.logger.Printf("rate limit exceeded: user=%s path=%s", userID, r.URL.Path)
			}
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		if token != "" && !m.limiter.AllowSession(r.Context(), token) {
			if m.logger != nil {
				m.logger.Printf("session rate limit exceeded: path=%s", r.URL.Path)
			}
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
