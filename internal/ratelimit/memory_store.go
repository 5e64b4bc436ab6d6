package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps token buckets in process memory. Suitable for a single
// instance; distributed deployments should use RedisStore.
type MemoryStore struct {
	userBuckets    map[string]*TokenBucket
	sessionBuckets map[string]*TokenBucket
	mu             sync.RWMutex

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
}

// NewMemoryStore creates an in-memory store with a 5 minute cleanup cycle.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanup(5 * time.Minute)
}

// NewMemoryStoreWithCleanup creates an in-memory store with a custom
// cleanup interval. Zero disables cleanup.
func NewMemoryStoreWithCleanup(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		userBuckets:     make(map[string]*TokenBucket),
		sessionBuckets:  make(map[string]*TokenBucket),
		cleanupInterval: interval,
		stopCleanup:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) AllowUser(ctx context.Context, userID string, capacity, refillRate float64) (bool, float64, error) {
	bucket := s.bucket(s.userBuckets, userID, capacity, refillRate)
	return bucket.Allow(), bucket.Remaining(), nil
}

func (s *MemoryStore) AllowSession(ctx context.Context, token string, capacity, refillRate float64) (bool, float64, error) {
	bucket := s.bucket(s.sessionBuckets, token, capacity, refillRate)
	return bucket.Allow(), bucket.Remaining(), nil
}

func (s *MemoryStore) ResetUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.userBuckets[userID]; ok {
		bucket.Reset()
	}
	return nil
}

func (s *MemoryStore) ResetSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.sessionBuckets[token]; ok {
		bucket.Reset()
	}
	return nil
}

// Close stops background cleanup.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	return nil
}

func (s *MemoryStore) bucket(m map[string]*TokenBucket, key string, capacity, refillRate float64) *TokenBucket {
	s.mu.RLock()
	bucket, ok := m[key]
	s.mu.RUnlock()
	if ok {
		return bucket
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok = m[key]; ok {
		return bucket
	}
	bucket = NewTokenBucket(capacity, refillRate)
	m[key] = bucket
	return bucket
}

func (s *MemoryStore) cleanupLoop() {
	if s.cleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup drops buckets that refilled back near capacity, i.e. idle keys.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, bucket := range s.userBuckets {
		if bucket.Remaining() >= bucket.capacity*0.95 {
			delete(s.userBuckets, key)
		}
	}
	for key, bucket := range s.sessionBuckets {
		if bucket.Remaining() >= bucket.capacity*0.95 {
			delete(s.sessionBuckets, key)
		}
	}
}
