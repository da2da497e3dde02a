package cache

import "github.com/rs/zerolog"

// EvictCallback is invoked for entries dropped by the backend.
// Redis only reports keys evicted by its own LRU script, never TTL expiry.
type EvictCallback func(key string, value []byte)

// Cache is a byte-oriented key-value store with a fixed TTL per instance.
// Entries are written whole and never patched; readers decode them into fresh values.
type Cache interface {
	// Get returns the stored value and true, or nil and false on a miss or expired entry.
	Get(key string) ([]byte, bool)

	// Set stores value under key, replacing any previous entry.
	Set(key string, value []byte)

	// Contains reports whether key is present without refreshing its recency.
	Contains(key string) bool

	// Len returns the number of live entries.
	Len() int

	// Close releases backend resources.
	Close() error
}

// Logger receives errors raised by remote backends.
type Logger interface {
	Error(msg string, err error)
}

// ZerologLogger adapts a zerolog.Logger to Logger.
type ZerologLogger struct {
	Log zerolog.Logger
}

// Error logs msg at error level with err attached.
func (l ZerologLogger) Error(msg string, err error) {
	l.Log.Error().Err(err).Msg(msg)
}
