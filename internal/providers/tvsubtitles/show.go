package tvsubtitles

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/models"
)

var (
	seasonTextRe  = regexp.MustCompile(`(?i)season\s*(\d+)`)
	seasonURLRe   = regexp.MustCompile(`tvshow-\d+-(\d+)`)
	episodeCodeRe = regexp.MustCompile(`(?i)(\d+)x(\d+)`)
)

// Episode is one row of a season page.
type Episode struct {
	Episode   int      `json:"episode"`
	Title     string   `json:"title"`
	Subtitles []string `json:"subtitles"`
}

// Season groups the episodes of one season.
type Season struct {
	Season   int       `json:"season"`
	Episodes []Episode `json:"episodes"`
}

// ShowInfo describes a show page.
type ShowInfo struct {
	Title string `json:"title"`
	// Season is the season the page shows.
	Season  int      `json:"season"`
	Seasons []Season `json:"seasons"`
}

// ShowInfo scrapes a tvshow-<id>-<season>.html page: the show title, the
// season on display and every episode with its subtitle page links.
func (p *Provider) ShowInfo(ctx context.Context, showURL string) (*ShowInfo, error) {
	source := string(models.SourceTVSubtitles)
	if _, err := client.CheckURL(source, showURL, p.hosts); err != nil {
		return nil, err
	}
	doc, err := p.client.Document(ctx, showURL)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(doc.Find(".left_articles h2").First().Text())
	if title == "" {
		return nil, &apperrors.ErrNotFound{Resource: "show title"}
	}

	info := &ShowInfo{Title: title, Season: pageSeason(doc, showURL)}

	bySeason := make(map[int][]Episode)
	doc.Find("table#table5 tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return
		}
		m := episodeCodeRe.FindStringSubmatch(strings.TrimSpace(cells.Eq(0).Text()))
		if m == nil {
			return
		}
		season, _ := strconv.Atoi(m[1])
		number, _ := strconv.Atoi(m[2])

		links := []string{}
		cells.Eq(3).Find("a[href^='subtitle-']").Each(func(_ int, a *goquery.Selection) {
			if href, ok := a.Attr("href"); ok && href != "" {
				links = append(links, p.url(href))
			}
		})
		bySeason[season] = append(bySeason[season], Episode{
			Episode:   number,
			Title:     strings.TrimSpace(cells.Eq(1).Find("a").Text()),
			Subtitles: links,
		})
	})

	info.Seasons = make([]Season, 0, len(bySeason))
	for n, episodes := range bySeason {
		sort.SliceStable(episodes, func(i, j int) bool { return episodes[i].Episode < episodes[j].Episode })
		info.Seasons = append(info.Seasons, Season{Season: n, Episodes: episodes})
	}
	sort.Slice(info.Seasons, func(i, j int) bool { return info.Seasons[i].Season < info.Seasons[j].Season })
	return info, nil
}

func pageSeason(doc *goquery.Document, showURL string) int {
	desc := strings.TrimSpace(doc.Find("p.description font").First().Text())
	if m := seasonTextRe.FindStringSubmatch(desc); m != nil && strings.HasPrefix(strings.ToLower(desc), "season") {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	if m := seasonURLRe.FindStringSubmatch(showURL); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	return 1
}
