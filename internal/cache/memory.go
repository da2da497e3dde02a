package cache

import (
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// defaultMemorySize bounds a group opened without cache.size, enough for a
// few hundred search pages or extracted archives.
const defaultMemorySize = 256

func init() {
	Register("memory", newMemoryCache)
}

// memoryCache holds one cache group (podnapisi_search, opensubtitles_files,
// aggregate_feeds...) in process memory. Entries expire after the group TTL;
// the feed groups are opened with a zero TTL and keep their last good payload
// until it is replaced or evicted. Nothing survives a restart.
type memoryCache struct {
	inner *lru.LRU[string, []byte]
}

func newMemoryCache(cfg ProviderConfig) (Cache, error) {
	size := cfg.Size
	if size <= 0 {
		size = defaultMemorySize
	}
	var onEvict func(string, []byte)
	if cfg.OnEvict != nil {
		onEvict = func(key string, value []byte) {
			cfg.OnEvict(key, value)
		}
	}
	return &memoryCache{
		inner: lru.NewLRU[string, []byte](size, onEvict, cfg.TTL),
	}, nil
}

func (m *memoryCache) Get(key string) ([]byte, bool) {
	return m.inner.Get(key)
}

func (m *memoryCache) Set(key string, value []byte) {
	m.inner.Add(key, value)
}

func (m *memoryCache) Contains(key string) bool {
	return m.inner.Contains(key)
}

func (m *memoryCache) Len() int {
	return m.inner.Len()
}

// Close is a no-op; the group is dropped with the process.
func (m *memoryCache) Close() error {
	return nil
}
