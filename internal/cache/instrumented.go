package cache

// instrumentedCache records hit, miss and entry-count metrics for one cache
// group. Evictions are counted by the backends themselves through the onEvict
// hook installed by New.
type instrumentedCache struct {
	inner Cache
	group string
}

// The entries gauge is read lazily at scrape time because Redis expires keys
// without telling us.
func newInstrumentedCache(inner Cache, group string) *instrumentedCache {
	registerEntriesCollector(group, inner.Len)
	return &instrumentedCache{inner: inner, group: group}
}

func (c *instrumentedCache) Get(key string) ([]byte, bool) {
	val, ok := c.inner.Get(key)
	c.observe(ok)
	return val, ok
}

func (c *instrumentedCache) observe(hit bool) {
	if hit {
		HitsTotal.WithLabelValues(c.group).Inc()
		return
	}
	MissesTotal.WithLabelValues(c.group).Inc()
}

func (c *instrumentedCache) Set(key string, value []byte) { c.inner.Set(key, value) }

func (c *instrumentedCache) Contains(key string) bool { return c.inner.Contains(key) }

func (c *instrumentedCache) Len() int { return c.inner.Len() }

func (c *instrumentedCache) Close() error {
	unregisterEntriesCollector(c.group)
	return c.inner.Close()
}
