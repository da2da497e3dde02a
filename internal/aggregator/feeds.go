package aggregator

import (
	"context"
	"math/rand/v2"
	"strconv"
	"sync"

	"github.com/Belphemur/Sublynk/internal/models"
)

// Feed names a canned-query feed.
type Feed string

const (
	FeedLatest   Feed = "latest"
	FeedTopRated Feed = "top-rated"
)

const lastGoodSuffix = ":last-good"

var topRatedQueries = []string{"matrix", "inception", "interstellar", "breaking bad", "the godfather"}

// feedQueries returns the canned queries of a feed. Latest mixes a broad word
// with the current and previous year so the set moves with time.
func (a *Aggregator) feedQueries(feed Feed) []string {
	if feed == FeedTopRated {
		return topRatedQueries
	}
	year := a.now().Year()
	return []string{"the", strconv.Itoa(year), strconv.Itoa(year - 1)}
}

// Latest returns the shuffled union of the "latest" canned queries.
func (a *Aggregator) Latest(ctx context.Context) ([]models.Subtitle, error) {
	return a.feed(ctx, FeedLatest)
}

// TopRated returns the shuffled union of the "top-rated" canned queries.
func (a *Aggregator) TopRated(ctx context.Context) ([]models.Subtitle, error) {
	return a.feed(ctx, FeedTopRated)
}

// feed serves a cached feed when fresh, otherwise runs its queries. An empty
// live run falls back to the last feed that produced records.
func (a *Aggregator) feed(ctx context.Context, feed Feed) ([]models.Subtitle, error) {
	key := string(feed)
	if a.feeds != nil {
		if cached, ok := a.feeds.Get(key); ok {
			out := append([]models.Subtitle(nil), cached...)
			a.shuffle(out)
			return out, nil
		}
	}

	records, err := a.runFeed(ctx, feed)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		if a.lastGood != nil {
			if stale, ok := a.lastGood.Get(key + lastGoodSuffix); ok {
				a.logger.Warn().Str("feed", key).Int("count", len(stale)).Msg("Live feed empty, serving last known good")
				out := append([]models.Subtitle(nil), stale...)
				a.shuffle(out)
				return out, nil
			}
		}
		return []models.Subtitle{}, nil
	}

	if a.feeds != nil {
		a.feeds.Set(key, records)
		a.lastGood.Set(key+lastGoodSuffix, records)
	}
	return records, nil
}

// runFeed aggregates every canned query, merges the results, dedups them by
// (id, release), shuffles and caps them to the feed size.
func (a *Aggregator) runFeed(ctx context.Context, feed Feed) ([]models.Subtitle, error) {
	queries := a.feedQueries(feed)
	results := make([][]models.Subtitle, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			records, err := a.Aggregate(ctx, q, Options{})
			if err != nil {
				a.logger.Debug().Err(err).Str("feed", string(feed)).Str("query", q).Msg("Feed query returned nothing")
				return
			}
			results[i] = records
		}(i, q)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type feedKey struct{ id, release string }
	seen := make(map[feedKey]struct{})
	var merged []models.Subtitle
	for _, set := range results {
		for _, r := range set {
			k := feedKey{r.ID, r.Attributes.Release}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			merged = append(merged, r)
		}
	}

	a.shuffle(merged)
	if len(merged) > a.cfg.FeedSize {
		merged = merged[:a.cfg.FeedSize]
	}
	a.logger.Info().Str("feed", string(feed)).Int("count", len(merged)).Msg("Feed refreshed")
	return merged, nil
}

func shuffle(records []models.Subtitle) {
	rand.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
}
