// Package bsplayer scrapes the bsplayer-subtitles.com listing and proxies its
// files.
package bsplayer

import (
	"context"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/config"
	"github.com/Belphemur/Sublynk/internal/language"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/parser"
	"github.com/Belphemur/Sublynk/internal/providers"
)

const (
	DefaultBaseURL = "https://bsplayer-subtitles.com"
	defaultRelease = "BSPlayer Release"
)

// Hosts is the BSPlayer allow-list.
var Hosts = []string{"bsplayer-subtitles.com"}

var linkIDRe = regexp.MustCompile(`(\d+)(?:[^/\d]*)$`)

// Options configures the adapter.
type Options struct {
	BaseURL      string
	AllowedHosts []string
}

// Item is one listing entry.
type Item struct {
	ID          string `json:"id"`
	Release     string `json:"release"`
	Lang        string `json:"lang"`
	DownloadURL string `json:"download_url"`
}

type Provider struct {
	baseURL string
	hosts   []string
	client  client.Client
	logger  zerolog.Logger
}

func New(c client.Client, opts Options) *Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	hosts := opts.AllowedHosts
	if len(hosts) == 0 {
		hosts = Hosts
	}
	return &Provider{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		hosts:   hosts,
		client:  c,
		logger:  config.GetLogger().With().Str("provider", string(models.SourceBSPlayer)).Logger(),
	}
}

func (p *Provider) Source() models.Source { return models.SourceBSPlayer }

// Search reads the .subtitle-box entries of the search page.
func (p *Provider) Search(ctx context.Context, query string) ([]Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &apperrors.ErrInvalidInput{Field: "query", Reason: "missing query"}
	}
	doc, err := p.client.Document(ctx, p.baseURL+"/search?q="+url.QueryEscape(query))
	if err != nil {
		return nil, err
	}

	var items []Item
	doc.Find(".subtitle-box").Each(func(i int, box *goquery.Selection) {
		href, ok := box.Find("a[href]").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		release := parser.CleanText(box.Find(".title").Text())
		if release == "" {
			release = defaultRelease
		}
		link := client.Absolute(p.baseURL+"/", href)
		items = append(items, Item{
			ID:          itemID(link, i),
			Release:     release,
			Lang:        language.Normalize(box.Find(".language").Text()),
			DownloadURL: link,
		})
	})
	p.logger.Debug().Str("query", query).Int("results", len(items)).Msg("Search complete")
	return items, nil
}

// SearchRaw maps entries onto provisional descriptors.
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
			Uploader:     string(models.SourceBSPlayer),
		})
	}
	return raws, nil
}

// Download proxies the file at req.URL.
func (p *Provider) Download(ctx context.Context, req models.DownloadRequest) (*models.DownloadResult, error) {
	source := string(models.SourceBSPlayer)
	if strings.TrimSpace(req.URL) == "" {
		return nil, &apperrors.ErrInvalidInput{Field: "url", Reason: "missing url"}
	}
	fileURL := client.Absolute(p.baseURL+"/", strings.TrimSpace(req.URL))
	if _, err := client.CheckURL(source, fileURL, p.hosts); err != nil {
		return nil, err
	}
	resp, err := p.client.Get(ctx, fileURL, client.WithReferer(p.baseURL+"/"))
	if err != nil {
		return nil, err
	}
	res, err := providers.StreamResponse(source, resp, "subtitle.srt")
	if err != nil {
		return nil, err
	}
	if resp.Header.Get("Content-Disposition") == "" {
		if name := strings.TrimSpace(req.FileName); name != "" {
			res.Filename = name
		}
	}
	if res.ContentType == "" {
		res.ContentType = "application/octet-stream"
	}
	res.Hops = []string{fileURL}
	return res, nil
}

// itemID is the trailing number of the link, or the entry index.
func itemID(link string, index int) string {
	u, err := url.Parse(link)
	if err == nil {
		if id := u.Query().Get("id"); id != "" {
			return id
		}
		if m := linkIDRe.FindStringSubmatch(path.Base(u.Path)); m != nil {
			return m[1]
		}
	}
	return strconv.Itoa(index)
}
