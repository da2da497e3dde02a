// Package providers defines the adapter contracts every subtitle source
// implements and the registry the aggregator and download proxy select from.
package providers

import (
	"context"
	"sort"
	"sync"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/models"
)

// Searcher returns provisional descriptors for a free-text query. An empty
// slice with a nil error means the source had nothing.
type Searcher interface {
	Source() models.Source
	SearchRaw(ctx context.Context, query string) ([]models.RawSubtitle, error)
}

// Downloader fetches the file behind a provider page or file reference.
type Downloader interface {
	Source() models.Source
	Download(ctx context.Context, req models.DownloadRequest) (*models.DownloadResult, error)
}

// Resolver turns a provider page into a final downloadable URL without
// fetching the file itself.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string, debug bool) (*models.Target, error)
}

// Provider is a full source adapter.
type Provider interface {
	Searcher
	Downloader
}

// Registry maps sources to their adapters.
type Registry struct {
	mu        sync.RWMutex
	providers map[models.Source]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[models.Source]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any adapter already registered for its source.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Source()] = p
}

// Get returns the adapter for src or an ErrNotFound.
func (r *Registry) Get(src models.Source) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[src]
	if !ok {
		return nil, apperrors.NewNotFoundError("provider", string(src))
	}
	return p, nil
}

// Lookup resolves a case-insensitive provider name ("tvsubtitles", "yifky").
func (r *Registry) Lookup(name string) (Provider, error) {
	src, ok := models.ParseSource(name)
	if !ok {
		return nil, apperrors.NewNotFoundError("provider", name)
	}
	return r.Get(src)
}

// Sources lists registered sources in models.AllSources order.
func (r *Registry) Sources() []models.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rank := make(map[models.Source]int, len(models.AllSources))
	for i, s := range models.AllSources {
		rank[s] = i
	}
	out := make([]models.Source, 0, len(r.providers))
	for s := range r.providers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		if iok != jok {
			return iok
		}
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

// Searchers returns the adapters for the requested sources, skipping unknown
// ones. A nil or empty list selects every registered source.
func (r *Registry) Searchers(sources []models.Source) []Searcher {
	if len(sources) == 0 {
		sources = r.Sources()
	}
	out := make([]Searcher, 0, len(sources))
	for _, s := range sources {
		if p, err := r.Get(s); err == nil {
			out = append(out, p)
		}
	}
	return out
}
