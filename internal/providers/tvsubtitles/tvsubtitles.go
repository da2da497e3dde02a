// Package tvsubtitles scrapes www.tvsubtitles.net: show search, season pack
// resolution, browser-driven downloads and the homepage feeds.
package tvsubtitles

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/browser"
	"github.com/Belphemur/Sublynk/internal/cache"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/config"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/normalize"
)

// DefaultBaseURL is the public site.
const DefaultBaseURL = "https://www.tvsubtitles.net"

// ProviderName is the lowercase name the site's API responses use.
const ProviderName = "tvsubtitles"

var (
	seasonedRe = regexp.MustCompile(`tvshow-(\d+)-(\d+)\.html`)
	singleRe   = regexp.MustCompile(`subtitle-(\d+)\.html`)
)

// Item is one season pack (or single subtitle) found by Search.
type Item struct {
	Provider    string `json:"provider"`
	Season      int    `json:"season"`
	Title       string `json:"title"`
	DownloadURL string `json:"downloadUrl"`
	// ShowURL is the season page the pack belongs to.
	ShowURL string `json:"-"`
	ShowID  string `json:"-"`
}

// SearchResult is the response of a TVSubtitles search.
type SearchResult struct {
	RequestID string `json:"requestId"`
	Subtitles []Item `json:"subtitles"`
}

// Options configures a Provider.
type Options struct {
	BaseURL string
	// FeedTTL bounds how long the last-known-good homepage feeds are kept.
	// Zero keeps them until replaced.
	FeedTTL time.Duration
}

// Provider is the TVSubtitles adapter.
type Provider struct {
	baseURL  string
	hosts    []string
	client   client.Client
	launcher browser.Launcher
	feeds    *cache.Store[[]FeedItem]
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

// Hosts returns the allow-list for a site rooted at baseURL: the public
// TVSubtitles hosts plus the configured host.
func Hosts(baseURL string) []string {
	hosts := append([]string(nil), normalize.TVSubtitlesHosts...)
	if u, err := url.Parse(baseURL); err == nil && u.Hostname() != "" {
		hosts = append(hosts, u.Hostname())
	}
	return hosts
}

// New creates the adapter. feedStore persists the homepage feeds used by
// Fallback and may be nil; launcher may be nil when no browser is available.
func New(c client.Client, launcher browser.Launcher, feedStore cache.Cache, opts Options) *Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	p := &Provider{
		baseURL:  base,
		hosts:    Hosts(base),
		client:   c,
		launcher: launcher,
		opts:     opts,
		logger:   config.GetLogger().With().Str("provider", ProviderName).Logger(),
		now:      time.Now,
	}
	if feedStore != nil {
		p.feeds = cache.NewStore[[]FeedItem](feedStore, opts.FeedTTL)
	}
	return p
}

// WithClock replaces the clock used for relative upload dates.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

func (p *Provider) Source() models.Source { return models.SourceTVSubtitles }

// AllowedHosts is the download allow-list.
func (p *Provider) AllowedHosts() []string { return p.hosts }

func (p *Provider) url(ref string) string {
	return client.Absolute(p.baseURL+"/", ref)
}

type showCandidate struct {
	title string
	href  string
}

// closeness ranks a show title by where the query appears in it; titles that
// do not contain the query sort last.
func closeness(title, query string) int {
	i := strings.Index(strings.ToLower(title), strings.ToLower(query))
	if i < 0 {
		return math.MaxInt
	}
	return i
}

// Search finds the show closest to query and lists its season packs. A show
// with a season index yields one pack per detected season; a single subtitle
// page yields its one download link.
func (p *Provider) Search(ctx context.Context, query string) (*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &apperrors.ErrInvalidInput{Field: "query", Reason: "must not be empty"}
	}
	requestID := uuid.NewString()
	log := p.logger.With().Str("request_id", requestID).Str("query", query).Logger()

	listURL := p.url("tvshows.html")
	doc, err := p.client.Document(ctx, listURL)
	if err != nil {
		return nil, fmt.Errorf("fetch show list: %w", err)
	}

	lowerQuery := strings.ToLower(query)
	var shows []showCandidate
	doc.Find("a[href^='tvshow-'], a[href^='subtitle-']").Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Text())
		href, _ := s.Attr("href")
		if title == "" || href == "" {
			return
		}
		lowerTitle := strings.ToLower(title)
		if strings.Contains(lowerTitle, lowerQuery) || strings.Contains(lowerQuery, lowerTitle) {
			shows = append(shows, showCandidate{title: title, href: href})
		}
	})
	log.Debug().Int("matches", len(shows)).Msg("Matched shows")

	if len(shows) == 0 {
		return nil, &apperrors.ErrNoSubtitles{Query: query, Source: string(models.SourceTVSubtitles)}
	}
	sort.SliceStable(shows, func(i, j int) bool {
		return closeness(shows[i].title, query) < closeness(shows[j].title, query)
	})

	for _, cand := range shows {
		if m := seasonedRe.FindStringSubmatch(cand.href); m != nil {
			items, err := p.seasonPacks(ctx, m[1], cand.title)
			if err != nil {
				return nil, err
			}
			log.Info().Str("show", cand.title).Int("seasons", len(items)).Msg("Resolved season packs")
			return &SearchResult{RequestID: requestID, Subtitles: items}, nil
		}
		if m := singleRe.FindStringSubmatch(cand.href); m != nil {
			item, err := p.singleSubtitle(ctx, m[1], cand.title)
			if err != nil {
				return nil, err
			}
			return &SearchResult{RequestID: requestID, Subtitles: []Item{item}}, nil
		}
	}

	log.Warn().Int("candidates", len(shows)).Str("sample", shows[0].href).Msg("No show link matched a known URL pattern")
	return nil, &apperrors.ErrNoSubtitles{Query: query, Source: string(models.SourceTVSubtitles)}
}

func (p *Provider) seasonPacks(ctx context.Context, showID, title string) ([]Item, error) {
	firstSeason := p.url(fmt.Sprintf("tvshow-%s-1.html", showID))
	doc, err := p.client.Document(ctx, firstSeason)
	if err != nil {
		return nil, fmt.Errorf("fetch season index: %w", err)
	}

	seasonRe := regexp.MustCompile(`tvshow-` + regexp.QuoteMeta(showID) + `-(\d+)\.html`)
	total := 0
	doc.Find(fmt.Sprintf("a[href^='tvshow-%s-']", showID)).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if m := seasonRe.FindStringSubmatch(href); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > total {
				total = n
			}
		}
	})
	if total == 0 {
		total = 1
	}

	items := make([]Item, 0, total)
	for season := 1; season <= total; season++ {
		items = append(items, Item{
			Provider:    ProviderName,
			Season:      season,
			Title:       fmt.Sprintf("%s Season %d complete", title, season),
			DownloadURL: p.url(fmt.Sprintf("download-%s-%d-en.html", showID, season)),
			ShowURL:     p.url(fmt.Sprintf("tvshow-%s-%d.html", showID, season)),
			ShowID:      showID,
		})
	}
	return items, nil
}

func (p *Provider) singleSubtitle(ctx context.Context, subtitleID, title string) (Item, error) {
	pageURL := p.url(fmt.Sprintf("subtitle-%s.html", subtitleID))
	doc, err := p.client.Document(ctx, pageURL)
	if err != nil {
		return Item{}, fmt.Errorf("fetch subtitle page: %w", err)
	}
	href, ok := doc.Find("a[href^='download-']").First().Attr("href")
	if !ok || href == "" {
		p.logger.Warn().Str("url", pageURL).Msg("Subtitle page has no download link")
		return Item{}, &apperrors.ErrResourceMissing{Provider: string(models.SourceTVSubtitles), URL: pageURL}
	}
	return Item{
		Provider:    ProviderName,
		Season:      1,
		Title:       title,
		DownloadURL: p.url(href),
		ShowURL:     pageURL,
		ShowID:      subtitleID,
	}, nil
}

// SearchRaw adapts Search to the aggregator contract. Every pack is an English
// season archive reachable through its download page.
func (p *Provider) SearchRaw(ctx context.Context, query string) ([]models.RawSubtitle, error) {
	res, err := p.Search(ctx, query)
	if err != nil {
		if errors.Is(err, &apperrors.ErrNoSubtitles{}) {
			return nil, nil
		}
		return nil, err
	}
	raws := make([]models.RawSubtitle, 0, len(res.Subtitles))
	for _, item := range res.Subtitles {
		raws = append(raws, models.RawSubtitle{
			ID:           fmt.Sprintf("%s-%d", item.ShowID, item.Season),
			DownloadPage: item.DownloadURL,
			ExternalURL:  item.ShowURL,
			Release:      item.Title,
			Language:     "en",
			FileName:     item.Title + ".zip",
		})
	}
	return raws, nil
}
