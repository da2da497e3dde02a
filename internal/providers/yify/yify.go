// Package yify searches yifysubtitles for movie subtitles. The site only
// exposes movies through an autocomplete box, so search either drives a
// browser through it or, without a browser, reads the plain search page.
package yify

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/agnivade/levenshtein"
	"github.com/rs/zerolog"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/browser"
	"github.com/Belphemur/Sublynk/internal/cache"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/config"
	"github.com/Belphemur/Sublynk/internal/language"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/parser"
	"github.com/Belphemur/Sublynk/internal/providers"
)

const (
	DefaultBaseURL   = "https://yifysubtitles.ch"
	defaultSearchTTL = 5 * time.Minute
	maxPageSize      = 4 << 20

	// MaxResults caps how many English rows are resolved per search.
	MaxResults = 5

	searchInput       = "input#qSearch"
	suggestionItem    = ".tt-suggestion"
	subtitleRows      = ".table-responsive tbody tr[data-id]"
	suggestionRetries = 5
	suggestionWait    = 3 * time.Second
)

// Hosts is the YIFY allow-list.
var Hosts = []string{"yifysubtitles.ch", "yifysubtitles.org", "yts-subs.com"}

var trailingIDRe = regexp.MustCompile(`-(\d+)(?:\.zip)?$`)

// Options configures the adapter.
type Options struct {
	BaseURL string
	// UseBrowser searches through the autocomplete box instead of the search page.
	UseBrowser   bool
	SearchTTL    time.Duration
	AllowedHosts []string
}

// Item is one English subtitle of the matched movie.
type Item struct {
	Lang        string `json:"lang"`
	Rating      string `json:"rating"`
	DetailURL   string `json:"detailUrl"`
	DownloadURL string `json:"download_url"`
}

// SearchResult is the response of a YIFY search. Query is replaced by the
// title that was actually matched.
type SearchResult struct {
	Query        string `json:"query"`
	MatchedTitle string `json:"matchedTitle"`
	Subtitles    []Item `json:"subtitles"`
}

// Suggestion is one autocomplete entry.
type Suggestion struct {
	Title string
	URL   string
	// index is the position among the rendered suggestion elements.
	index int
}

type Provider struct {
	baseURL  string
	hosts    []string
	client   client.Client
	launcher browser.Launcher
	searches *cache.Store[SearchResult]
	limiter  *providers.Limiter
	opts     Options
	logger   zerolog.Logger
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
		limiter:  providers.NewLimiter(providers.DetailFetchLimit),
		opts:     opts,
		logger:   config.GetLogger().With().Str("provider", string(models.SourceYIFY)).Logger(),
	}
	if searchCache != nil {
		p.searches = cache.NewStore[SearchResult](searchCache, opts.SearchTTL)
	}
	return p
}

func (p *Provider) Source() models.Source { return models.SourceYIFY }

// BestSuggestion picks the entry equal to query ignoring case, else the one
// with the smallest edit distance. Ties keep the earlier entry.
func BestSuggestion(query string, suggestions []Suggestion) (Suggestion, bool) {
	if len(suggestions) == 0 {
		return Suggestion{}, false
	}
	q := strings.ToLower(strings.TrimSpace(query))
	for _, s := range suggestions {
		if strings.ToLower(s.Title) == q {
			return s, true
		}
	}
	best, bestScore := suggestions[0], -1
	for _, s := range suggestions {
		score := levenshtein.ComputeDistance(q, strings.ToLower(s.Title))
		if bestScore < 0 || score < bestScore {
			best, bestScore = s, score
		}
	}
	return best, true
}

// Search finds the movie matching query and returns up to MaxResults English
// subtitles with their archive links. Rows whose detail page carries no
// archive are skipped.
func (p *Provider) Search(ctx context.Context, query string) (*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &apperrors.ErrInvalidInput{Field: "query", Reason: "missing query"}
	}
	key := strings.ToLower(query)
	if p.searches != nil {
		if res, ok := p.searches.Get(key); ok {
			return &res, nil
		}
	}

	var (
		html    string
		matched string
		err     error
	)
	if p.opts.UseBrowser && p.launcher != nil {
		html, matched, err = p.browserMoviePage(ctx, query)
	} else {
		html, matched, err = p.httpMoviePage(ctx, query)
	}
	if err != nil {
		return nil, err
	}

	rows, err := p.parseMovie(html)
	if err != nil {
		return nil, err
	}
	english := rows[:0]
	for _, r := range rows {
		if language.IsEnglish(r.Lang) {
			english = append(english, r)
		}
	}
	if len(english) > MaxResults {
		english = english[:MaxResults]
	}

	res := SearchResult{Query: matched, MatchedTitle: matched, Subtitles: p.withArchives(ctx, english)}
	if p.searches != nil {
		p.searches.Set(key, res)
	}
	return &res, nil
}

// SearchRaw maps subtitles onto provisional descriptors.
func (p *Provider) SearchRaw(ctx context.Context, query string) ([]models.RawSubtitle, error) {
	res, err := p.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	raws := make([]models.RawSubtitle, 0, len(res.Subtitles))
	for _, item := range res.Subtitles {
		raws = append(raws, models.RawSubtitle{
			ID:           localID(item.DetailURL),
			FileName:     path.Base(item.DownloadURL),
			DownloadPage: item.DownloadURL,
			ExternalURL:  item.DetailURL,
			Language:     item.Lang,
			Release:      res.MatchedTitle,
			Uploader:     string(models.SourceYIFY),
		})
	}
	return raws, nil
}

// withArchives fetches the detail pages of items, at most
// providers.DetailFetchLimit at a time, and keeps those with an archive link.
func (p *Provider) withArchives(ctx context.Context, items []Item) []Item {
	found := make([]string, len(items))
	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := p.limiter.Do(ctx, func() error {
				link, err := p.archiveLink(ctx, items[i].DetailURL)
				found[i] = link
				return err
			})
			if err != nil {
				p.logger.Warn().Err(err).Str("url", items[i].DetailURL).Msg("No archive on detail page")
			}
		}(i)
	}
	wg.Wait()

	out := make([]Item, 0, len(items))
	for i, item := range items {
		if found[i] == "" {
			continue
		}
		item.DownloadURL = found[i]
		out = append(out, item)
	}
	return out
}

// archiveLink reads the .zip link of a subtitle detail page.
func (p *Provider) archiveLink(ctx context.Context, detailURL string) (string, error) {
	if _, err := client.CheckURL(string(models.SourceYIFY), detailURL, p.hosts); err != nil {
		return "", err
	}
	html, err := p.page(ctx, detailURL)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", &apperrors.ErrParseMismatch{Provider: string(models.SourceYIFY), URL: detailURL, Detail: err.Error()}
	}
	for _, sel := range []string{"a.download-subtitle", `a[href$=".zip"]`} {
		if href, ok := doc.Find(sel).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
			link := client.Absolute(detailURL, href)
			if _, err := client.CheckURL(string(models.SourceYIFY), link, p.hosts); err != nil {
				return "", err
			}
			return link, nil
		}
	}
	return "", &apperrors.ErrResourceMissing{Provider: string(models.SourceYIFY), URL: detailURL}
}

func (p *Provider) page(ctx context.Context, target string) (string, error) {
	resp, err := p.client.Get(ctx, target, client.WithReferer(p.baseURL+"/"))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := client.CheckStatus(string(models.SourceYIFY), resp); err != nil {
		return "", err
	}
	body, err := parser.NewUTF8ReaderFor(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", &apperrors.ErrParseMismatch{Provider: string(models.SourceYIFY), URL: target, Detail: err.Error()}
	}
	data, err := io.ReadAll(io.LimitReader(body, maxPageSize))
	if err != nil {
		return "", &apperrors.ErrNetworkUnavailable{Provider: string(models.SourceYIFY), Err: err}
	}
	return string(data), nil
}

// httpMoviePage reads the site's search page, picks the best movie and
// fetches its page.
func (p *Provider) httpMoviePage(ctx context.Context, query string) (string, string, error) {
	searchURL := p.baseURL + "/search?q=" + url.QueryEscape(query)
	html, err := p.page(ctx, searchURL)
	if err != nil {
		return "", "", err
	}
	suggestions, err := p.parseSuggestions(html)
	if err != nil {
		return "", "", err
	}
	chosen, ok := BestSuggestion(query, suggestions)
	if !ok || chosen.URL == "" {
		return "", "", &apperrors.ErrNoSubtitles{Query: query, Source: string(models.SourceYIFY)}
	}
	p.logger.Debug().Str("query", query).Str("matched", chosen.Title).Msg("Picked movie")
	if _, err := client.CheckURL(string(models.SourceYIFY), chosen.URL, p.hosts); err != nil {
		return "", "", err
	}
	html, err = p.page(ctx, chosen.URL)
	if err != nil {
		return "", "", err
	}
	return html, chosen.Title, nil
}

// browserMoviePage types query into the autocomplete box, nudging the input
// when no suggestions render, then opens the best suggestion.
func (p *Provider) browserMoviePage(ctx context.Context, query string) (string, string, error) {
	source := string(models.SourceYIFY)
	dir, cleanup, err := providers.WorkDir("", "yify")
	if err != nil {
		return "", "", &apperrors.ErrDownloadFailed{Provider: source, URL: p.baseURL, Err: err}
	}
	defer cleanup()

	session, err := p.launcher.NewSession(ctx, dir)
	if err != nil {
		if errors.Is(err, browser.ErrDisabled) {
			return p.httpMoviePage(ctx, query)
		}
		return "", "", &apperrors.ErrNetworkUnavailable{Provider: source, Err: err}
	}
	defer session.Close()

	if err := session.Navigate(ctx, p.baseURL+"/"); err != nil {
		return "", "", &apperrors.ErrNetworkUnavailable{Provider: source, Err: err}
	}
	if err := session.WaitFor(ctx, searchInput); err != nil {
		return "", "", &apperrors.ErrParseMismatch{Provider: source, URL: p.baseURL, Detail: "search input not found"}
	}
	if err := session.Type(ctx, searchInput, query); err != nil {
		return "", "", &apperrors.ErrDownloadFailed{Provider: source, URL: p.baseURL, Err: err}
	}

	visible := false
	for attempt := 1; attempt <= suggestionRetries; attempt++ {
		waitCtx, cancel := context.WithTimeout(ctx, suggestionWait)
		err := session.WaitFor(waitCtx, suggestionItem)
		cancel()
		if err == nil {
			visible = true
			break
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		p.logger.Debug().Int("attempt", attempt).Msg("Suggestions not rendered, nudging input")
		_ = session.Type(ctx, searchInput, query+" ")
		_ = session.Type(ctx, searchInput, query)
	}
	if !visible {
		p.logger.Warn().Str("query", query).Msg("Autocomplete suggestions did not appear")
		return "", "", &apperrors.ErrParseMismatch{Provider: source, URL: p.baseURL, Detail: "autocomplete suggestions did not appear"}
	}

	html, err := session.HTML(ctx)
	if err != nil {
		return "", "", &apperrors.ErrNetworkUnavailable{Provider: source, Err: err}
	}
	suggestions, err := p.parseSuggestions(html)
	if err != nil {
		return "", "", err
	}
	chosen, ok := BestSuggestion(query, suggestions)
	if !ok {
		return "", "", &apperrors.ErrNoSubtitles{Query: query, Source: source}
	}
	p.logger.Debug().Str("query", query).Str("matched", chosen.Title).Msg("Picked suggestion")

	if chosen.URL != "" {
		if _, err := client.CheckURL(source, chosen.URL, p.hosts); err != nil {
			return "", "", err
		}
		err = session.Navigate(ctx, chosen.URL)
	} else {
		err = session.Click(ctx, suggestionSelector(chosen.index))
	}
	if err != nil {
		return "", "", &apperrors.ErrNetworkUnavailable{Provider: source, Err: err}
	}
	if err := session.WaitFor(ctx, subtitleRows); err != nil {
		return "", "", &apperrors.ErrParseMismatch{Provider: source, URL: chosen.URL, Detail: "subtitle table did not load"}
	}
	html, err = session.HTML(ctx)
	if err != nil {
		return "", "", &apperrors.ErrNetworkUnavailable{Provider: source, Err: err}
	}
	return html, chosen.Title, nil
}

func suggestionSelector(index int) string {
	return suggestionItem + ":nth-of-type(" + strconv.Itoa(index+1) + ")"
}

// parseSuggestions reads autocomplete entries, or the movie list of the plain
// search page.
func (p *Provider) parseSuggestions(html string) ([]Suggestion, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &apperrors.ErrParseMismatch{Provider: string(models.SourceYIFY), URL: p.baseURL, Detail: err.Error()}
	}
	var out []Suggestion
	doc.Find(suggestionItem).Each(func(i int, s *goquery.Selection) {
		title := parser.CleanText(s.Text())
		if title == "" {
			return
		}
		href, ok := s.Attr("href")
		if !ok {
			href, _ = s.Find("a[href]").First().Attr("href")
		}
		if href == "" {
			href, _ = s.Attr("data-href")
		}
		link := ""
		if href = strings.TrimSpace(href); href != "" {
			link = client.Absolute(p.baseURL+"/", href)
		}
		out = append(out, Suggestion{Title: title, URL: link, index: i})
	})
	if len(out) > 0 {
		return out, nil
	}
	doc.Find(`a[href^="/movie-imdb/"]`).Each(func(i int, s *goquery.Selection) {
		title := parser.CleanText(s.Find(".media-heading").Text())
		if title == "" {
			title = parser.CleanText(s.Text())
		}
		href, _ := s.Attr("href")
		if title == "" || href == "" {
			return
		}
		out = append(out, Suggestion{Title: title, URL: client.Absolute(p.baseURL+"/", href), index: i})
	})
	return out, nil
}

// parseMovie reads the subtitle table of a movie page.
func (p *Provider) parseMovie(html string) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &apperrors.ErrParseMismatch{Provider: string(models.SourceYIFY), URL: p.baseURL, Detail: err.Error()}
	}
	rows := doc.Find(subtitleRows)
	if rows.Length() == 0 && doc.Find(".table-responsive").Length() == 0 {
		p.logger.Warn().Int("links", doc.Find("a[href]").Length()).Msg("Movie page has no subtitle table")
		return nil, &apperrors.ErrParseMismatch{Provider: string(models.SourceYIFY), URL: p.baseURL, Detail: "subtitle table not found"}
	}
	var items []Item
	rows.Each(func(_ int, row *goquery.Selection) {
		href, ok := row.Find(`a[href^="/subtitles/"]`).First().Attr("href")
		if !ok || href == "" {
			return
		}
		items = append(items, Item{
			Lang:      parser.CleanText(row.Find(".sub-lang").Text()),
			Rating:    parser.CleanText(row.Find(".rating-cell .label").Text()),
			DetailURL: client.Absolute(p.baseURL+"/", href),
		})
	})
	return items, nil
}

// localID is the numeric suffix of a subtitle slug, or the slug itself.
func localID(rawURL string) string {
	slug := path.Base(strings.TrimRight(rawURL, "/"))
	if m := trailingIDRe.FindStringSubmatch(slug); m != nil {
		return m[1]
	}
	return slug
}
