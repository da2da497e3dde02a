// Package subdb queries the SubDB plain-text API.
package subdb

import (
	"bufio"
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/config"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/providers"
)

const (
	DefaultBaseURL = "https://api.thesubdb.com"
	// UserAgent is the client string the API requires.
	UserAgent = "SubDB/1.0 (Sublynk/1.0; https://github.com/Belphemur/Sublynk)"
	maxLines  = 200
)

// Hosts is the SubDB allow-list.
var Hosts = []string{"thesubdb.com"}

// Options configures the adapter.
type Options struct {
	BaseURL      string
	AllowedHosts []string
}

// Item is one search hit. The API answers with bare hashes, which double as
// release names.
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
		logger:  config.GetLogger().With().Str("provider", string(models.SourceSubDB)).Logger(),
	}
}

func (p *Provider) Source() models.Source { return models.SourceSubDB }

// DownloadURL is the API link for one hash.
func (p *Provider) DownloadURL(hash string) string {
	return p.baseURL + "/?action=download&hash=" + url.QueryEscape(hash) + "&language=en"
}

// Search returns one item per non-empty line of the API answer. A 404 means
// no match and yields no items.
func (p *Provider) Search(ctx context.Context, query string) ([]Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &apperrors.ErrInvalidInput{Field: "query", Reason: "missing query"}
	}
	resp, err := p.client.Get(ctx, p.baseURL+"/?action=search&query="+url.QueryEscape(query), client.WithHeader("User-Agent", UserAgent))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := client.CheckStatus(string(models.SourceSubDB), resp); err != nil {
		if errors.Is(err, &apperrors.ErrResourceMissing{}) {
			return nil, nil
		}
		return nil, err
	}

	var items []Item
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() && len(items) < maxLines {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		items = append(items, Item{
			ID:          line,
			Release:     line,
			Lang:        "EN",
			DownloadURL: p.DownloadURL(line),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, &apperrors.ErrNetworkUnavailable{Provider: string(models.SourceSubDB), Err: err}
	}
	return items, nil
}

// SearchRaw maps hits onto provisional descriptors.
func (p *Provider) SearchRaw(ctx context.Context, query string) ([]models.RawSubtitle, error) {
	items, err := p.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	raws := make([]models.RawSubtitle, 0, len(items))
	for _, item := range items {
		raws = append(raws, models.RawSubtitle{
			ID:           item.ID,
			FileID:       item.DownloadURL,
			FileName:     item.ID + ".srt",
			ExternalURL:  item.DownloadURL,
			DownloadPage: item.DownloadURL,
			Language:     item.Lang,
			Release:      item.Release,
			Uploader:     string(models.SourceSubDB),
		})
	}
	return raws, nil
}

// Download proxies the file at req.URL, or the file of the hash req.URL names.
func (p *Provider) Download(ctx context.Context, req models.DownloadRequest) (*models.DownloadResult, error) {
	source := string(models.SourceSubDB)
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return nil, &apperrors.ErrInvalidInput{Field: "url", Reason: "missing url"}
	}
	fileURL := raw
	if !strings.Contains(raw, "://") {
		fileURL = p.DownloadURL(raw)
	}
	u, err := client.CheckURL(source, fileURL, p.hosts)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Get(ctx, fileURL, client.WithHeader("User-Agent", UserAgent))
	if err != nil {
		return nil, err
	}

	fallback := "subtitle.srt"
	if hash := u.Query().Get("hash"); hash != "" {
		fallback = hash + ".srt"
	}
	res, err := providers.StreamResponse(source, resp, fallback)
	if err != nil {
		return nil, err
	}
	if resp.Header.Get("Content-Disposition") == "" {
		if name := strings.TrimSpace(req.FileName); name != "" {
			res.Filename = name
		}
	}
	res.ContentType = "application/octet-stream"
	res.Hops = []string{fileURL}
	return res, nil
}
