package cache

import (
	"encoding/json"
	"time"
)

type envelope[T any] struct {
	ExpiresAt int64 `json:"expires_at"` // unix milliseconds, 0 = no expiry
	Value     T     `json:"value"`
}

// Store is a typed view over a Cache. Values are JSON encoded together with an
// expiry timestamp so individual entries can carry their own TTL on top of the
// backend's instance TTL.
type Store[T any] struct {
	cache Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewStore wraps c. ttl is the default entry lifetime used by Set; zero means the
// backend TTL alone decides.
func NewStore[T any](c Cache, ttl time.Duration) *Store[T] {
	return &Store[T]{cache: c, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (s *Store[T]) WithClock(now func() time.Time) *Store[T] {
	s.now = now
	return s
}

// Get decodes the entry for key. Expired or undecodable entries are misses.
func (s *Store[T]) Get(key string) (T, bool) {
	var zero T
	data, ok := s.cache.Get(key)
	if !ok {
		return zero, false
	}
	var env envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		return zero, false
	}
	if env.ExpiresAt != 0 && s.now().UnixMilli() >= env.ExpiresAt {
		return zero, false
	}
	return env.Value, true
}

// Set stores value with the default TTL.
func (s *Store[T]) Set(key string, value T) {
	s.SetWithTTL(key, value, s.ttl)
}

// SetWithTTL stores value expiring after ttl.
func (s *Store[T]) SetWithTTL(key string, value T, ttl time.Duration) {
	env := envelope[T]{Value: value}
	if ttl > 0 {
		env.ExpiresAt = s.now().Add(ttl).UnixMilli()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.cache.Set(key, data)
}
