package tvsubtitles

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/parser"
)

const (
	feedLatest         = "latest"
	feedMostDownloaded = "most-downloaded"
	defaultFeedLimit   = 20
	fallbackExtras     = 5
)

// ErrNoFeedData is returned by Fallback when neither the site nor the store
// has anything to serve.
var ErrNoFeedData = errors.New("no data available from any source")

var flagRe = regexp.MustCompile(`(?i)flags/(.*?)\.gif`)

// Ratings holds the thumbs-down and thumbs-up counters of a feed entry.
type Ratings struct {
	Red   int `json:"red"`
	Green int `json:"green"`
}

// FeedItem is one entry of a homepage box. URL points at the download page.
type FeedItem struct {
	Title      string   `json:"title"`
	Release    string   `json:"release"`
	Lang       string   `json:"lang"`
	URL        string   `json:"url"`
	UploadedAt string   `json:"uploaded_at,omitempty"`
	Downloads  int      `json:"downloads"`
	Ratings    *Ratings `json:"ratings,omitempty"`
}

// LatestPage is a page of the "latest subtitles" box.
type LatestPage struct {
	Page    int        `json:"page"`
	Limit   int        `json:"limit"`
	Total   int        `json:"total"`
	Results []FeedItem `json:"results"`
}

// FallbackFeed is the combined homepage feed. FallbackUsed is set when the
// live site could not be read and stored data was served instead.
type FallbackFeed struct {
	Data         []FeedItem `json:"data"`
	Sources      []string   `json:"sources"`
	FallbackUsed bool       `json:"fallbackUsed"`
}

func (p *Provider) homepageBox(ctx context.Context, title string) (*goquery.Selection, error) {
	doc, err := p.client.Document(ctx, p.baseURL+"/")
	if err != nil {
		return nil, err
	}
	box := doc.Find(".smallbox").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(s.Find(".smallboxtitle").Text()), title)
	})
	if box.Length() == 0 {
		p.logger.Warn().Str("box", title).Int("boxes", doc.Find(".smallbox").Length()).Msg("Homepage box not found")
		return nil, &apperrors.ErrParseMismatch{Provider: string(models.SourceTVSubtitles), URL: p.baseURL + "/", Detail: title + " box not found"}
	}
	return box, nil
}

func (p *Provider) feedItem(el *goquery.Selection, withDetails bool) (FeedItem, bool) {
	block := el.Find(".mainsubsitemall")
	anchor := block.Find("a").First()
	href, _ := anchor.Attr("href")
	title := strings.TrimSpace(anchor.Find(".mainsubsitemname").Text())
	if href == "" || title == "" {
		return FeedItem{}, false
	}

	lang := "unknown"
	if style, ok := block.Attr("style"); ok {
		if m := flagRe.FindStringSubmatch(style); m != nil {
			lang = m[1]
		}
	}

	item := FeedItem{
		Title:     title,
		Release:   strings.TrimSpace(anchor.Find(".mainsubsitemrelease").Text()),
		Lang:      lang,
		URL:       strings.Replace(p.url(href), "/subtitle-", "/download-", 1),
		Downloads: parser.ParseCount(anchor.Find(".mainsubsitemcounter").Text()),
	}
	if withDetails {
		spans := anchor.Find("span")
		item.UploadedAt = parser.RelativeToISO(anchor.Find(".mainsubsitemdate").Text(), p.now())
		item.Ratings = &Ratings{
			Red:   parser.ParseCount(spans.Eq(0).Text()),
			Green: parser.ParseCount(spans.Eq(1).Text()),
		}
	}
	return item, true
}

// Latest returns one page of the homepage "latest subtitles" box. page is
// 1-based; limit defaults to 20.
func (p *Provider) Latest(ctx context.Context, page, limit int) (*LatestPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultFeedLimit
	}
	box, err := p.homepageBox(ctx, "latest")
	if err != nil {
		return nil, err
	}
	rows := box.Find(".smallboxitemlong")
	total := rows.Length()

	res := &LatestPage{Page: page, Limit: limit, Total: total, Results: []FeedItem{}}
	offset := (page - 1) * limit
	if offset >= total {
		return res, nil
	}
	rows.Slice(offset, min(offset+limit, total)).Each(func(_ int, s *goquery.Selection) {
		if item, ok := p.feedItem(s, true); ok {
			res.Results = append(res.Results, item)
		}
	})
	return res, nil
}

// MostDownloaded returns the homepage "most downloaded" box.
func (p *Provider) MostDownloaded(ctx context.Context) ([]FeedItem, error) {
	box, err := p.homepageBox(ctx, "most downloaded")
	if err != nil {
		return nil, err
	}
	items := []FeedItem{}
	box.Find(".smallboxitemlong").Each(func(_ int, s *goquery.Selection) {
		if item, ok := p.feedItem(s, false); ok {
			items = append(items, item)
		}
	})
	return items, nil
}

// Fallback combines the latest box with up to five most-downloaded entries not
// already present, storing each list as last-known-good. When neither list can
// be fetched the stored latest list is served, then the stored most-downloaded
// one.
func (p *Provider) Fallback(ctx context.Context) (*FallbackFeed, error) {
	feed := &FallbackFeed{Data: []FeedItem{}, Sources: []string{}}

	latest, err := p.Latest(ctx, 1, defaultFeedLimit)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Latest feed unavailable")
	} else if len(latest.Results) > 0 {
		feed.Sources = append(feed.Sources, feedLatest)
		feed.Data = append(feed.Data, latest.Results...)
		p.storeFeed(feedLatest, latest.Results)
	}

	downloaded, err := p.MostDownloaded(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Most downloaded feed unavailable")
	} else if len(downloaded) > 0 {
		feed.Sources = append(feed.Sources, feedMostDownloaded)
		seen := make(map[string]bool, len(feed.Data))
		for _, item := range feed.Data {
			seen[item.URL] = true
		}
		var extra []FeedItem
		for _, item := range downloaded {
			if !seen[item.URL] {
				extra = append(extra, item)
			}
		}
		if len(feed.Data) > 0 && len(extra) > fallbackExtras {
			extra = extra[:fallbackExtras]
		}
		feed.Data = append(feed.Data, extra...)
		p.storeFeed(feedMostDownloaded, downloaded)
	}

	if len(feed.Data) > 0 {
		return feed, nil
	}
	if p.feeds == nil {
		return nil, ErrNoFeedData
	}

	for _, name := range []string{feedLatest, feedMostDownloaded} {
		if stored, ok := p.feeds.Get(name); ok && len(stored) > 0 {
			p.logger.Info().Str("feed", name).Int("items", len(stored)).Msg("Serving stored feed")
			return &FallbackFeed{Data: stored, Sources: []string{"cache:" + name}, FallbackUsed: true}, nil
		}
	}
	return nil, ErrNoFeedData
}

func (p *Provider) storeFeed(name string, items []FeedItem) {
	if p.feeds != nil {
		p.feeds.Set(name, items)
	}
}
