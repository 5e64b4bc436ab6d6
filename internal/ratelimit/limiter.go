// Package ratelimit throttles marketplace traffic per user and per access
// session with token buckets behind a pluggable storage backend.
package ratelimit

import "context"

// Store is the rate limit storage backend. MemoryStore serves a single
// instance; RedisStore coordinates buckets across instances.
type Store interface {
	// AllowUser checks whether a request from the user should pass.
	AllowUser(ctx context.Context, userID string, capacity, refillRate float64) (allowed bool, remaining float64, err error)

	// AllowSession checks whether a request on the access session should pass.
	AllowSession(ctx context.Context, token string, capacity, refillRate float64) (allowed bool, remaining float64, err error)

	// ResetUser refills the user's bucket.
	ResetUser(ctx context.Context, userID string) error

	// ResetSession refills the session's bucket.
	ResetSession(ctx context.Context, token string) error

	// Close releases resources.
	Close() error
}

// Limiter manages per-user and per-session limits over a Store.
type Limiter struct {
	store Store

	userCapacity      float64
	userRefillRate    float64
	sessionCapacity   float64
	sessionRefillRate float64
}

// Config holds rate limiter settings.
type Config struct {
	// Store defaults to MemoryStore when nil.
	Store Store

	UserRequestsPerSecond float64
	UserBurstSize         float64

	SessionRequestsPerSecond float64
	SessionBurstSize         float64
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		UserRequestsPerSecond:    20,
		UserBurstSize:            40,
		SessionRequestsPerSecond: 5,
		SessionBurstSize:         10,
	}
}

// NewLimiter creates a limiter with the given configuration.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.UserRequestsPerSecond <= 0 {
		cfg.UserRequestsPerSecond = def.UserRequestsPerSecond
	}
	if cfg.UserBurstSize <= 0 {
		cfg.UserBurstSize = def.UserBurstSize
	}
	if cfg.SessionRequestsPerSecond <= 0 {
		cfg.SessionRequestsPerSecond = def.SessionRequestsPerSecond
	}
	if cfg.SessionBurstSize <= 0 {
		cfg.SessionBurstSize = def.SessionBurstSize
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{
		store:             store,
		userCapacity:      cfg.UserBurstSize,
		userRefillRate:    cfg.UserRequestsPerSecond,
		sessionCapacity:   cfg.SessionBurstSize,
		sessionRefillRate: cfg.SessionRequestsPerSecond,
	}
}

// AllowUser reports whether a request from the user should pass. Backend
// errors fail open: a broken Redis never takes the marketplace down.
func (l *Limiter) AllowUser(ctx context.Context, userID string) bool {
	if userID == "" {
		return true
	}
	allowed, _, err := l.store.AllowUser(ctx, userID, l.userCapacity, l.userRefillRate)
	if err != nil {
		return true
	}
	return allowed
}

// AllowSession reports whether a request on the access session should pass.
func (l *Limiter) AllowSession(ctx context.Context, token string) bool {
	if token == "" {
		return true
	}
	allowed, _, err := l.store.AllowSession(ctx, token, l.sessionCapacity, l.sessionRefillRate)
	if err != nil {
		return true
	}
	return allowed
}

// ResetUser refills the user's bucket.
func (l *Limiter) ResetUser(ctx context.Context, userID string) error {
	return l.store.ResetUser(ctx, userID)
}

// ResetSession refills the session's bucket.
func (l *Limiter) ResetSession(ctx context.Context, token string) error {
	return l.store.ResetSession(ctx, token)
}

// Close releases the underlying store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
