// Package aggregator fans a query out to every enabled provider, normalizes
// and filters what comes back and merges it into one deduplicated list.
package aggregator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/cache"
	"github.com/Belphemur/Sublynk/internal/config"
	"github.com/Belphemur/Sublynk/internal/metrics"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/normalize"
	"github.com/Belphemur/Sublynk/internal/providers"
)

const (
	DefaultMinQueryLength = 3
	DefaultPerSourceLimit = 10
	DefaultChunkSize      = 10
	DefaultFeedTTL        = 10 * time.Minute
	DefaultFeedSize       = 50
)

// Config holds the aggregator-wide settings.
type Config struct {
	MinQueryLength int
	PerSourceLimit int
	ChunkSize      int
	// Priority sources are searched one after another, in order, before the
	// remaining sources start in parallel.
	Priority []models.Source
	// Required sources join every query, whatever the caller selected.
	Required []models.Source
	FeedTTL  time.Duration
	FeedSize int
}

// ConfigFromConfig reads the aggregator section of the service configuration.
func ConfigFromConfig(cfg *config.Config) Config {
	out := Config{
		MinQueryLength: cfg.Aggregator.MinQueryLength,
		PerSourceLimit: cfg.Aggregator.PerSourceLimit,
		ChunkSize:      cfg.Aggregator.ChunkSize,
		Required:       []models.Source{models.SourceOpenSubtitles},
	}
	for _, name := range cfg.Aggregator.Priority {
		if src, ok := models.ParseSource(name); ok {
			out.Priority = append(out.Priority, src)
		}
	}
	return out
}

// Options narrows a single query. Zero values fall back to the Config.
type Options struct {
	// Sources selects the optional sources; empty selects every registered one.
	Sources        []models.Source
	PerSourceLimit int
	ChunkSize      int
	// ShowUnusable keeps records tagged unusable instead of hiding them.
	ShowUnusable bool
}

type Aggregator struct {
	registry   *providers.Registry
	normalizer *normalize.Normalizer
	feeds      *cache.Store[[]models.Subtitle]
	lastGood   *cache.Store[[]models.Subtitle]
	cfg        Config
	logger     zerolog.Logger
	now        func() time.Time
	shuffle    func([]models.Subtitle)
}

// New creates an Aggregator. feedCache may be nil, which disables feed caching.
func New(registry *providers.Registry, normalizer *normalize.Normalizer, feedCache cache.Cache, cfg Config) *Aggregator {
	if cfg.MinQueryLength <= 0 {
		cfg.MinQueryLength = DefaultMinQueryLength
	}
	if cfg.PerSourceLimit <= 0 {
		cfg.PerSourceLimit = DefaultPerSourceLimit
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.FeedTTL <= 0 {
		cfg.FeedTTL = DefaultFeedTTL
	}
	if cfg.FeedSize <= 0 {
		cfg.FeedSize = DefaultFeedSize
	}
	if normalizer == nil {
		normalizer = normalize.New(nil)
	}
	a := &Aggregator{
		registry:   registry,
		normalizer: normalizer,
		cfg:        cfg,
		logger:     config.GetLogger().With().Str("component", "aggregator").Logger(),
		now:        time.Now,
		shuffle:    shuffle,
	}
	if feedCache != nil {
		a.feeds = cache.NewStore[[]models.Subtitle](feedCache, cfg.FeedTTL)
		a.lastGood = cache.NewStore[[]models.Subtitle](feedCache, 0)
	}
	return a
}

// TooShort reports whether query is below the minimum length.
func (a *Aggregator) TooShort(query string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(query)) < a.cfg.MinQueryLength
}

// plan splits the selected searchers into the sequential priority group and
// the parallel rest.
func (a *Aggregator) plan(sources []models.Source) (first, rest []providers.Searcher) {
	var selected []providers.Searcher
	if len(sources) == 0 {
		selected = a.registry.Searchers(nil)
	} else {
		want := append([]models.Source(nil), sources...)
		for _, req := range a.cfg.Required {
			if !containsSource(want, req) {
				want = append(want, req)
			}
		}
		selected = a.registry.Searchers(want)
	}

	bySource := make(map[models.Source]providers.Searcher, len(selected))
	for _, s := range selected {
		bySource[s.Source()] = s
	}
	for _, src := range a.cfg.Priority {
		if s, ok := bySource[src]; ok {
			first = append(first, s)
			delete(bySource, src)
		}
	}
	for _, s := range selected {
		if _, ok := bySource[s.Source()]; ok {
			rest = append(rest, s)
		}
	}
	return first, rest
}

// outcome is what one source produced.
type outcome struct {
	source  models.Source
	records []models.Subtitle
	err     error
}

// Stream searches every selected source and delivers each source's records in
// chunks of at most opts.ChunkSize, the last one flagged Done. Sources that
// fail deliver a single empty Done chunk. When no source produced anything the
// stream ends with an ErrNoSubtitles. Short queries close the stream at once.
func (a *Aggregator) Stream(ctx context.Context, query string, opts Options) <-chan models.StreamResult[models.Chunk] {
	ch := make(chan models.StreamResult[models.Chunk])
	query = strings.TrimSpace(query)

	go func() {
		defer close(ch)
		if a.TooShort(query) {
			a.logger.Debug().Str("query", query).Msg("Query too short, skipping aggregation")
			return
		}
		outcomes := a.run(ctx, query, opts, func(c models.Chunk) bool {
			select {
			case ch <- models.StreamResult[models.Chunk]{Value: c}:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err := noResults(query, outcomes); err != nil {
			select {
			case ch <- models.StreamResult[models.Chunk]{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch
}

// Aggregate runs Stream to completion and returns the merged, deduplicated
// records in source order. Short queries return an empty list.
func (a *Aggregator) Aggregate(ctx context.Context, query string, opts Options) ([]models.Subtitle, error) {
	query = strings.TrimSpace(query)
	if a.TooShort(query) {
		return []models.Subtitle{}, nil
	}
	outcomes := a.run(ctx, query, opts, nil)
	if err := noResults(query, outcomes); err != nil {
		return nil, err
	}
	var all []models.Subtitle
	for _, o := range outcomes {
		all = append(all, o.records...)
	}
	out := Dedup(all)
	metrics.AggregateResults.Observe(float64(len(out)))
	return out, nil
}

// run searches the priority sources sequentially, then the rest in parallel.
// emit, when set, receives chunks as soon as a source settles; it returns
// false once the consumer is gone. Outcomes come back in plan order.
func (a *Aggregator) run(ctx context.Context, query string, opts Options, emit func(models.Chunk) bool) []outcome {
	first, rest := a.plan(opts.Sources)
	limit := opts.PerSourceLimit
	if limit <= 0 {
		limit = a.cfg.PerSourceLimit
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = a.cfg.ChunkSize
	}

	var emitMu sync.Mutex
	deliver := func(o outcome) {
		if emit == nil {
			return
		}
		emitMu.Lock()
		defer emitMu.Unlock()
		for _, c := range Chunks(o.source, o.records, chunkSize) {
			if !emit(c) {
				return
			}
		}
	}

	outcomes := make([]outcome, 0, len(first)+len(rest))
	for _, s := range first {
		o := a.searchOne(ctx, s, query, limit, !opts.ShowUnusable)
		deliver(o)
		outcomes = append(outcomes, o)
	}

	parallel := make([]outcome, len(rest))
	var wg sync.WaitGroup
	for i, s := range rest {
		wg.Add(1)
		go func(i int, s providers.Searcher) {
			defer wg.Done()
			o := a.searchOne(ctx, s, query, limit, !opts.ShowUnusable)
			deliver(o)
			parallel[i] = o
		}(i, s)
	}
	wg.Wait()
	return append(outcomes, parallel...)
}

// searchOne runs one source. Failures are logged and yield no records.
// Records are deduplicated before the cap; the key carries the source, so a
// streamed outcome already holds exactly what Aggregate keeps for it.
func (a *Aggregator) searchOne(ctx context.Context, s providers.Searcher, query string, limit int, hideUnusable bool) outcome {
	src := s.Source()
	started := a.now()
	raws, err := s.SearchRaw(ctx, query)
	metrics.ProviderSearchDuration.WithLabelValues(src.Slug()).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.ProviderSearchesTotal.WithLabelValues(src.Slug(), metrics.ResultError).Inc()
		event := a.logger.Warn()
		if errors.Is(err, &apperrors.ErrNoSubtitles{}) {
			event = a.logger.Debug()
		}
		event.Err(err).Str("source", string(src)).Str("query", query).Msg("Source search failed")
		return outcome{source: src, err: err}
	}

	records := Dedup(normalize.Filter(a.normalizer.NormalizeAll(raws, src), hideUnusable))
	if len(records) > limit {
		records = records[:limit]
	}
	result := metrics.ResultOK
	if len(records) == 0 {
		result = metrics.ResultEmpty
	}
	metrics.ProviderSearchesTotal.WithLabelValues(src.Slug(), result).Inc()
	a.logger.Debug().Str("source", string(src)).Int("raw", len(raws)).Int("kept", len(records)).Msg("Source search complete")
	return outcome{source: src, records: records}
}

// noResults builds the error reported when every outcome is empty: offline
// when each source failed on the network, otherwise a plain no-results error
// naming the source if only one was asked.
func noResults(query string, outcomes []outcome) error {
	failed := 0
	for _, o := range outcomes {
		if len(o.records) > 0 {
			return nil
		}
		if o.err != nil && errors.Is(o.err, &apperrors.ErrNetworkUnavailable{}) {
			failed++
		}
	}
	err := &apperrors.ErrNoSubtitles{Query: query}
	if len(outcomes) > 0 && failed == len(outcomes) {
		err.Offline = true
	}
	if len(outcomes) == 1 {
		err.Source = string(outcomes[0].source)
	}
	return err
}

// Chunks splits records into Done-terminated chunks of at most size. A source
// without records gets one empty Done chunk.
func Chunks(source models.Source, records []models.Subtitle, size int) []models.Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(records) == 0 {
		return []models.Chunk{{Source: source, Subtitles: []models.Subtitle{}, Done: true}}
	}
	var out []models.Chunk
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		out = append(out, models.Chunk{
			Source:    source,
			Subtitles: records[start:end],
			Done:      end == len(records),
		})
	}
	return out
}

// Dedup keeps the first record of each (source, language, release-or-id) key.
func Dedup(records []models.Subtitle) []models.Subtitle {
	seen := make(map[string]struct{}, len(records))
	out := make([]models.Subtitle, 0, len(records))
	for _, r := range records {
		key := r.DedupKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func containsSource(list []models.Source, s models.Source) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
