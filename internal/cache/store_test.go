package cache

import (
	"testing"
	"time"
)

type feedItem struct {
	Title string `json:"title"`
	Count int    `json:"count"`
}

func TestStore_GetSet(t *testing.T) {
	c, err := New("memory", ProviderConfig{Size: 10, TTL: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	store := NewStore[[]feedItem](c, time.Minute)
	if _, ok := store.Get("latest"); ok {
		t.Fatal("Expected miss on empty store")
	}

	store.Set("latest", []feedItem{{Title: "Severance", Count: 3}})
	got, ok := store.Get("latest")
	if !ok {
		t.Fatal("Expected hit after Set")
	}
	if len(got) != 1 || got[0].Title != "Severance" || got[0].Count != 3 {
		t.Errorf("Unexpected value: %+v", got)
	}
}

func TestStore_ExpiryUsesClock(t *testing.T) {
	c, err := New("memory", ProviderConfig{Size: 10, TTL: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore[string](c, 5*time.Minute).WithClock(func() time.Time { return now })

	store.Set("search:dune", "cached")
	if _, ok := store.Get("search:dune"); !ok {
		t.Fatal("Expected hit before expiry")
	}

	now = now.Add(5 * time.Minute)
	if _, ok := store.Get("search:dune"); ok {
		t.Fatal("Expected miss once the entry TTL has elapsed")
	}
}

func TestStore_SetWithTTLZeroNeverExpires(t *testing.T) {
	c, err := New("memory", ProviderConfig{Size: 10, TTL: 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	now := time.Now()
	store := NewStore[int](c, 0).WithClock(func() time.Time { return now })
	store.SetWithTTL("k", 42, 0)

	now = now.Add(24 * 365 * time.Hour)
	got, ok := store.Get("k")
	if !ok || got != 42 {
		t.Errorf("Expected 42 without expiry, got %d (hit=%v)", got, ok)
	}
}

func TestStore_CorruptEntryIsMiss(t *testing.T) {
	c, err := New("memory", ProviderConfig{Size: 10, TTL: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Set("bad", []byte("not json"))
	store := NewStore[string](c, time.Minute)
	if _, ok := store.Get("bad"); ok {
		t.Fatal("Expected corrupt entry to be treated as a miss")
	}
}
