package normalize

import (
	"strings"
	"sync"
)

// RemovedIDs is the registry of OpenSubtitles ids known to point at removed
// content. Ids are stored without the "OS-" record prefix.
type RemovedIDs struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewRemovedIDs(ids ...string) *RemovedIDs {
	r := &RemovedIDs{ids: make(map[string]struct{})}
	r.Add(ids...)
	return r
}

// Add registers ids; blank entries are ignored. It returns how many were new.
func (r *RemovedIDs) Add(ids ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, id := range ids {
		id = canonicalID(id)
		if id == "" {
			continue
		}
		if _, ok := r.ids[id]; !ok {
			r.ids[id] = struct{}{}
			added++
		}
	}
	return added
}

func (r *RemovedIDs) Contains(id string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[canonicalID(id)]
	return ok
}

func (r *RemovedIDs) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

func canonicalID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), "OS-")
}
