// Package addic7ed scrapes addic7ed.com search results and subtitle pages.
package addic7ed

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/browser"
	"github.com/Belphemur/Sublynk/internal/cache"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/config"
	"github.com/Belphemur/Sublynk/internal/language"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/parser"
)

const (
	DefaultBaseURL   = "https://www.addic7ed.com"
	defaultSearchTTL = 5 * time.Minute
	maxPageSize      = 4 << 20
	defaultRelease   = "Addic7ed Release"
)

// Hosts is the Addic7ed allow-list.
var Hosts = []string{"addic7ed.com"}

// Options configures the adapter.
type Options struct {
	BaseURL  string
	Username string
	Password string
	// UseBrowser enables the headless login fallback when search hits a login wall.
	UseBrowser   bool
	SearchTTL    time.Duration
	AllowedHosts []string
	TempDir      string
}

// Item is one search row.
type Item struct {
	ID          string `json:"id"`
	Lang        string `json:"lang"`
	Release     string `json:"release"`
	DownloadURL string `json:"download_url"`
}

type Provider struct {
	baseURL  string
	hosts    []string
	client   client.Client
	launcher browser.Launcher
	searches *cache.Store[[]Item]
	opts     Options
	logger   zerolog.Logger

	loginMu sync.Mutex
}

// New creates the adapter. launcher and searchCache may be nil.
func New(c client.Client, launcher browser.Launcher, searchCache cache.Cache, opts Options) *Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.SearchTTL <= 0 {
		opts.SearchTTL = defaultSearchTTL
	}
	hosts := opts.AllowedHosts
	if len(hosts) == 0 {
		hosts = Hosts
	}
	p := &Provider{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		hosts:    hosts,
		client:   c,
		launcher: launcher,
		opts:     opts,
		logger:   config.GetLogger().With().Str("provider", string(models.SourceAddic7ed)).Logger(),
	}
	if searchCache != nil {
		p.searches = cache.NewStore[[]Item](searchCache, opts.SearchTTL)
	}
	return p
}

func (p *Provider) Source() models.Source { return models.SourceAddic7ed }

// IsLoginWall reports whether a page asks for credentials instead of showing content.
func IsLoginWall(html string) bool {
	lc := strings.ToLower(html)
	return strings.Contains(lc, "login") &&
		(strings.Contains(lc, "username") || strings.Contains(lc, "password") || strings.Contains(lc, "login area"))
}

// QueryVariants lists the queries tried in order: the full query, then one
// trailing word dropped per step down to the first word.
func QueryVariants(query string) []string {
	words := strings.Fields(query)
	if len(words) == 0 {
		return nil
	}
	variants := make([]string, 0, len(words))
	for k := len(words); k > 0; k-- {
		variants = append(variants, strings.Join(words[:k], " "))
	}
	return variants
}

// Search returns rows for query, retrying with shorter variants while nothing
// is found. Results, including empty ones, are cached per lowercased query.
func (p *Provider) Search(ctx context.Context, query string) ([]Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &apperrors.ErrInvalidInput{Field: "query", Reason: "missing query"}
	}
	key := strings.ToLower(query)
	if p.searches != nil {
		if items, ok := p.searches.Get(key); ok {
			return items, nil
		}
	}

	var items []Item
	for i, q := range QueryVariants(query) {
		if i > 0 {
			p.logger.Debug().Str("query", q).Msg("No results, retrying with a shorter query")
		}
		found, err := p.fetch(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			items = found
			break
		}
	}

	if p.searches != nil {
		p.searches.Set(key, items)
	}
	return items, nil
}

// SearchRaw maps rows onto provisional descriptors.
func (p *Provider) SearchRaw(ctx context.Context, query string) ([]models.RawSubtitle, error) {
	items, err := p.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	raws := make([]models.RawSubtitle, 0, len(items))
	for _, item := range items {
		raws = append(raws, models.RawSubtitle{
			ID:           item.ID,
			DownloadPage: item.DownloadURL,
			ExternalURL:  item.DownloadURL,
			Language:     item.Lang,
			Release:      item.Release,
			Uploader:     string(models.SourceAddic7ed),
		})
	}
	return raws, nil
}

// fetch runs one search. A login wall falls back to the browser when enabled.
func (p *Provider) fetch(ctx context.Context, query string) ([]Item, error) {
	target := p.baseURL + "/search.php?search=" + url.QueryEscape(query)
	html, err := p.page(ctx, target)
	if err != nil {
		return nil, err
	}
	if !IsLoginWall(html) {
		return p.parseSearch(html)
	}

	p.logger.Warn().Str("url", target).Msg("Search hit a login wall")
	if !p.opts.UseBrowser || p.launcher == nil {
		return nil, &apperrors.ErrUpstreamBlocked{Provider: string(models.SourceAddic7ed), URL: target}
	}
	html, err = p.browserSearch(ctx, target)
	if err != nil {
		return nil, err
	}
	if IsLoginWall(html) {
		return nil, &apperrors.ErrUpstreamBlocked{Provider: string(models.SourceAddic7ed), URL: target}
	}
	return p.parseSearch(html)
}

func (p *Provider) page(ctx context.Context, target string) (string, error) {
	resp, err := p.client.Get(ctx, target, client.WithReferer(p.baseURL+"/"))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := client.CheckStatus(string(models.SourceAddic7ed), resp); err != nil {
		return "", err
	}
	body, err := parser.NewUTF8ReaderFor(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", &apperrors.ErrParseMismatch{Provider: string(models.SourceAddic7ed), URL: target, Detail: err.Error()}
	}
	data, err := io.ReadAll(io.LimitReader(body, maxPageSize))
	if err != nil {
		return "", &apperrors.ErrNetworkUnavailable{Provider: string(models.SourceAddic7ed), Err: err}
	}
	return string(data), nil
}

// browserSearch logs in through a real browser when credentials are set and
// returns the rendered search page.
func (p *Provider) browserSearch(ctx context.Context, target string) (string, error) {
	dir, err := os.MkdirTemp(p.opts.TempDir, "addic7ed-")
	if err != nil {
		return "", &apperrors.ErrDownloadFailed{Provider: string(models.SourceAddic7ed), URL: target, Err: err}
	}
	defer os.RemoveAll(dir)

	session, err := p.launcher.NewSession(ctx, dir)
	if err != nil {
		if errors.Is(err, browser.ErrDisabled) {
			return "", &apperrors.ErrUpstreamBlocked{Provider: string(models.SourceAddic7ed), URL: target}
		}
		return "", &apperrors.ErrNetworkUnavailable{Provider: string(models.SourceAddic7ed), Err: err}
	}
	defer session.Close()

	if p.opts.Username != "" && p.opts.Password != "" {
		steps := []func() error{
			func() error { return session.Navigate(ctx, p.baseURL+"/dologin.php") },
			func() error { return session.Type(ctx, "input[name='username']", p.opts.Username) },
			func() error { return session.Type(ctx, "input[name='password']", p.opts.Password) },
			func() error { return session.Click(ctx, "input[type='submit']") },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				p.logger.Warn().Err(err).Msg("Browser login failed")
				return "", &apperrors.ErrUpstreamBlocked{Provider: string(models.SourceAddic7ed), URL: p.baseURL + "/dologin.php"}
			}
		}
		p.logger.Info().Msg("Browser login complete")
	}

	if err := session.Navigate(ctx, target); err != nil {
		return "", &apperrors.ErrNetworkUnavailable{Provider: string(models.SourceAddic7ed), Err: err}
	}
	return session.HTML(ctx)
}

func (p *Provider) parseSearch(html string) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &apperrors.ErrParseMismatch{Provider: string(models.SourceAddic7ed), URL: p.baseURL + "/search.php", Detail: err.Error()}
	}
	var items []Item
	doc.Find("tr.even, tr.odd").Each(func(i int, row *goquery.Selection) {
		cols := row.Find("td")
		if cols.Length() < 5 {
			return
		}
		href, ok := row.Find("a[href*='subtitle.php']").Attr("href")
		if !ok || href == "" {
			return
		}
		release := parser.CleanText(cols.Eq(1).Text())
		if release == "" {
			release = defaultRelease
		}
		items = append(items, Item{
			ID:          subtitleID(href, i),
			Lang:        language.Normalize(cols.Eq(3).Text()),
			Release:     release,
			DownloadURL: client.Absolute(p.baseURL+"/", href),
		})
	})
	return items, nil
}

// subtitleID uses the page's id parameter, falling back to the row index.
func subtitleID(href string, index int) string {
	if u, err := url.Parse(href); err == nil {
		if id := u.Query().Get("id"); id != "" {
			return id
		}
	}
	return strconv.Itoa(index)
}
