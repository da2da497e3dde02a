// Package podnapisi scrapes podnapisi.net. Search needs a forum session, which
// is established transparently with the configured credentials.
package podnapisi

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/cache"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/config"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/parser"
	"github.com/Belphemur/Sublynk/internal/providers"
)

const (
	DefaultBaseURL   = "https://www.podnapisi.net"
	defaultSearchTTL = 5 * time.Minute
	// Anything shorter is an error page or a challenge, never a result list.
	minSearchBody  = 500
	maxSearchBody  = 4 << 20
	sessionPrefix  = "phpbb3_"
	loginPath      = "/forum/ucp.php?mode=login"
	searchPath     = "/en/subtitles/search/"
	defaultArchive = "subtitle.zip"
)

// Hosts is the Podnapisi allow-list.
var Hosts = []string{"podnapisi.net"}

// Options configures the adapter.
type Options struct {
	BaseURL   string
	Username  string
	Password  string
	SearchTTL time.Duration
	// AllowedHosts overrides Hosts, for tests.
	AllowedHosts []string
}

// Item is one parsed search row.
type Item struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Lang        string `json:"lang"`
	Release     string `json:"release"`
	Author      string `json:"author,omitempty"`
	PostedAt    string `json:"postedAt,omitempty"`
	DownloadURL string `json:"download_url"`
}

// SearchResult is the search payload.
type SearchResult struct {
	Subtitles []Item `json:"subtitles"`
	Cached    bool   `json:"cached"`
}

type Provider struct {
	baseURL  string
	hosts    []string
	client   client.Client
	searches *cache.Store[[]Item]
	limiter  *providers.Limiter
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time

	loginMu sync.Mutex
}

// New creates the adapter. searchCache may be nil to disable result caching.
func New(c client.Client, searchCache cache.Cache, opts Options) *Provider {
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
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		hosts:   hosts,
		client:  c,
		limiter: providers.NewLimiter(providers.DetailFetchLimit),
		opts:    opts,
		logger:  config.GetLogger().With().Str("provider", string(models.SourcePodnapisi)).Logger(),
		now:     time.Now,
	}
	if searchCache != nil {
		p.searches = cache.NewStore[[]Item](searchCache, opts.SearchTTL)
	}
	return p
}

func (p *Provider) Source() models.Source { return models.SourcePodnapisi }

func (p *Provider) url(ref string) string {
	return client.Absolute(p.baseURL+"/", ref)
}

func (p *Provider) loggedIn() bool {
	for _, c := range p.client.Cookies(p.baseURL + "/") {
		if strings.HasPrefix(c.Name, sessionPrefix) {
			return true
		}
	}
	return false
}

// Login signs in to the forum. Without force an existing session is reused.
func (p *Provider) Login(ctx context.Context, force bool) error {
	p.loginMu.Lock()
	defer p.loginMu.Unlock()

	if force {
		p.client.ResetCookies()
	} else if p.loggedIn() {
		return nil
	}
	if p.opts.Username == "" || p.opts.Password == "" {
		return &apperrors.ErrInvalidInput{Field: "credentials", Reason: "Podnapisi username and password are required"}
	}

	loginURL := p.url(loginPath)
	doc, err := p.client.Document(ctx, loginURL)
	if err != nil {
		return err
	}
	creationTime, _ := doc.Find(`input[name="creation_time"]`).Attr("value")
	formToken, _ := doc.Find(`input[name="form_token"]`).Attr("value")
	redirect, _ := doc.Find(`input[name="redirect"]`).Attr("value")
	if creationTime == "" || formToken == "" {
		p.logger.Warn().Str("url", loginURL).Msg("Login form tokens not found")
		return &apperrors.ErrParseMismatch{Provider: string(models.SourcePodnapisi), URL: loginURL, Detail: "missing form tokens"}
	}
	if redirect == "" {
		redirect = "index.php"
	}

	form := url.Values{}
	form.Set("username", p.opts.Username)
	form.Set("password", p.opts.Password)
	form.Set("autologin", "on")
	form.Set("login", "Login")
	form.Set("creation_time", creationTime)
	form.Set("form_token", formToken)
	form.Set("redirect", redirect)

	resp, err := p.client.PostForm(ctx, loginURL, form, client.WithReferer(loginURL), client.WithoutRedirects())
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if !p.loggedIn() {
		p.logger.Warn().Int("status", resp.StatusCode).Msg("Login returned no session cookie")
		return &apperrors.ErrUpstreamBlocked{Provider: string(models.SourcePodnapisi), URL: loginURL}
	}
	p.logger.Info().Msg("Logged in to Podnapisi")
	return nil
}

// Search logs in when needed and parses the search page. Results are cached
// per lowercased query.
func (p *Provider) Search(ctx context.Context, query string) (*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &apperrors.ErrInvalidInput{Field: "query", Reason: "missing query"}
	}
	key := "search:" + strings.ToLower(query)
	if p.searches != nil {
		if items, ok := p.searches.Get(key); ok {
			return &SearchResult{Subtitles: items, Cached: true}, nil
		}
	}

	if err := p.Login(ctx, false); err != nil {
		return nil, err
	}

	target := p.url(searchPath) + "?keywords=" + url.QueryEscape(query)
	resp, err := p.client.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := client.CheckStatus(string(models.SourcePodnapisi), resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBody))
	if err != nil {
		return nil, &apperrors.ErrNetworkUnavailable{Provider: string(models.SourcePodnapisi), Err: err}
	}
	if len(body) < minSearchBody {
		p.logger.Warn().Int("bytes", len(body)).Str("url", target).Msg("Search page too small")
		return nil, &apperrors.ErrParseMismatch{Provider: string(models.SourcePodnapisi), URL: target, Detail: "empty or truncated page"}
	}
	doc, err := client.ParseDocument(string(models.SourcePodnapisi), target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	items := p.parseResults(doc)
	p.logger.Debug().Str("query", query).Int("results", len(items)).Msg("Podnapisi search")
	if p.searches != nil {
		p.searches.Set(key, items)
	}
	return &SearchResult{Subtitles: items}, nil
}

// SearchRaw maps search rows onto provisional descriptors.
func (p *Provider) SearchRaw(ctx context.Context, query string) ([]models.RawSubtitle, error) {
	res, err := p.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	raws := make([]models.RawSubtitle, 0, len(res.Subtitles))
	for _, item := range res.Subtitles {
		raws = append(raws, models.RawSubtitle{
			ID:           localID(item),
			DownloadPage: item.DownloadURL,
			ExternalURL:  item.DownloadURL,
			Language:     item.Lang,
			Release:      item.Release,
			Uploader:     item.Author,
			UploadedAt:   item.PostedAt,
			FileName:     item.Release + ".zip",
		})
	}
	return raws, nil
}

// localID prefers the subtitle hash at the end of the page URL over the row index.
func localID(item Item) string {
	if u, err := url.Parse(item.DownloadURL); err == nil {
		base := path.Base(strings.TrimSuffix(u.Path, "/"))
		if base != "" && base != "." && base != "/" && base != "download" && !strings.Contains(base, ".") {
			return base
		}
	}
	return item.ID
}

// parseResults handles the three page shapes the site serves: forum search
// posts, the legacy list and the subtitle table.
func (p *Provider) parseResults(doc *goquery.Document) []Item {
	now := p.now()
	var items []Item

	if posts := doc.Find("div.search.post"); posts.Length() > 0 {
		posts.Each(func(i int, el *goquery.Selection) {
			link := el.Find("h3 a").First()
			title := parser.CleanText(link.Text())
			href, _ := link.Attr("href")
			if title == "" || href == "" {
				return
			}
			if !strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "http") {
				href = "/forum/" + strings.TrimPrefix(href, "./")
			}
			release, _, _ := strings.Cut(title, " - ")
			items = append(items, Item{
				ID:          "f-" + strconv.Itoa(i),
				Title:       title,
				Lang:        "EN",
				Release:     firstNonEmpty(strings.TrimSpace(release), title),
				Author:      parser.CleanText(el.Find("dt.author a.username").Text()),
				PostedAt:    postedAt(el.Find("dd.search-result-date").Text(), now),
				DownloadURL: p.url(href),
			})
		})
		return items
	}

	if rows := doc.Find("ul.list li"); rows.Length() > 0 {
		rows.Each(func(i int, el *goquery.Selection) {
			link := el.Find("a[href*='/en/subtitles/']").First()
			title := parser.CleanText(link.Text())
			href, _ := link.Attr("href")
			if title == "" || href == "" {
				return
			}
			lang, _ := el.Find(".flag").Attr("title")
			items = append(items, Item{
				ID:          "s-" + strconv.Itoa(i),
				Title:       title,
				Lang:        firstNonEmpty(lang, "EN"),
				Release:     firstNonEmpty(parser.CleanText(el.Find(".release").Text()), title),
				PostedAt:    postedAt(el.Find(".posted-date").Text(), now),
				DownloadURL: p.url(href),
			})
		})
		return items
	}

	doc.Find("tr.subtitle-entry").Each(func(i int, el *goquery.Selection) {
		link := el.Find("a[href*='/en/subtitles/']").First()
		href, _ := link.Attr("href")
		if href == "" {
			return
		}
		release := parser.CleanText(el.Find(".release").First().Text())
		title := firstNonEmpty(parser.CleanText(link.Text()), release, "Unknown Title")
		langTitle, _ := el.Find("td.language abbr").Attr("title")
		dated, _ := el.Find("td span[data-title]").Attr("data-title")
		items = append(items, Item{
			ID:          "t-" + strconv.Itoa(i),
			Title:       title,
			Lang:        firstNonEmpty(parser.CleanText(el.Find("abbr.language span").Text()), langTitle, "EN"),
			Release:     firstNonEmpty(release, title),
			Author:      parser.CleanText(el.Find("td a[href*='contributors']").Text()),
			PostedAt:    postedAt(dated, now),
			DownloadURL: p.url(href),
		})
	})
	return items
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Mon Jan 02, 2006 3:04 pm",
	"Jan 2, 2006",
	"2 Jan 2006",
	"02.01.2006",
}

// postedAt turns the site's dates into RFC 3339. Relative phrases and
// "today"/"yesterday" are resolved against now; unknown text is kept as is.
func postedAt(raw string, now time.Time) string {
	raw = parser.CleanText(raw)
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "today"):
		return now.UTC().Format(time.RFC3339)
	case strings.Contains(lower, "yesterday"):
		return now.AddDate(0, 0, -1).UTC().Format(time.RFC3339)
	}
	if iso := parser.RelativeToISO(raw, now); iso != raw {
		return iso
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return raw
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
