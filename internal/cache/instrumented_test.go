package cache

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(cv *prometheus.CounterVec, group string) float64 {
	c, err := cv.GetMetricWithLabelValues(group)
	if err != nil {
		return 0
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// useEntriesRegistry swaps the entries registry for an isolated one.
func useEntriesRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	orig := entriesReg
	entriesReg = reg
	t.Cleanup(func() { entriesReg = orig })
	return reg
}

func entriesGauge(reg *prometheus.Registry, group string) float64 {
	mfs, _ := reg.Gather()
	for _, mf := range mfs {
		if mf.GetName() != "cache_entries" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "cache" && lp.GetValue() == group {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return -1
}

func TestInstrumentedCache_HitsAndMisses(t *testing.T) {
	useEntriesRegistry(t)
	const group = "test_addic7ed_search"
	c := newMemory(t, ProviderConfig{Size: 10, TTL: time.Hour, Group: group})

	hits, misses := counterValue(HitsTotal, group), counterValue(MissesTotal, group)

	c.Set("search:house", []byte("[]"))
	_, _ = c.Get("search:house")
	_, _ = c.Get("search:house")
	_, _ = c.Get("search:lost")

	if got := counterValue(HitsTotal, group) - hits; got != 2 {
		t.Errorf("Expected 2 hits, got %.0f", got)
	}
	if got := counterValue(MissesTotal, group) - misses; got != 1 {
		t.Errorf("Expected 1 miss, got %.0f", got)
	}
	if c.Contains("search:lost") {
		t.Error("Contains should not create entries")
	}
}

func TestInstrumentedCache_EvictionsKeepCallback(t *testing.T) {
	useEntriesRegistry(t)
	const group = "test_yify_search"
	var evicted []string
	c := newMemory(t, ProviderConfig{
		Size:  1,
		TTL:   time.Hour,
		Group: group,
		OnEvict: func(key string, _ []byte) {
			evicted = append(evicted, key)
		},
	})

	before := counterValue(EvictionsTotal, group)
	c.Set("search:up", []byte("1"))
	c.Set("search:cars", []byte("2"))

	if got := counterValue(EvictionsTotal, group) - before; got != 1 {
		t.Errorf("Expected 1 eviction, got %.0f", got)
	}
	if len(evicted) != 1 || evicted[0] != "search:up" {
		t.Errorf("Expected the caller's OnEvict for search:up, got %v", evicted)
	}
}

func TestInstrumentedCache_EntriesGaugeLifecycle(t *testing.T) {
	reg := useEntriesRegistry(t)
	const group = "test_tvsubtitles_feeds"

	c, err := New("memory", ProviderConfig{Size: 10, Group: group})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if v := entriesGauge(reg, group); v != 0 {
		t.Fatalf("Expected 0 entries before Set, got %.0f", v)
	}
	c.Set("feed:latest", []byte("[]"))
	c.Set("feed:most-downloaded", []byte("[]"))
	if v := entriesGauge(reg, group); v != 2 {
		t.Errorf("Expected 2 entries, got %.0f", v)
	}

	// A second instance of the same group replaces the collector.
	again, err := New("memory", ProviderConfig{Size: 10, Group: group})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if v := entriesGauge(reg, group); v != 0 {
		t.Errorf("Expected the new instance to report 0 entries, got %.0f", v)
	}

	_ = c.Close()
	_ = again.Close()
	if v := entriesGauge(reg, group); v != -1 {
		t.Errorf("Expected no gauge after Close, got %.0f", v)
	}
}
