package testutil

import (
	"archive/zip"
	"bytes"
	"fmt"
	"sort"
	"strings"
	"testing"
)

// Page wraps body in a minimal HTML document.
func Page(body string) string {
	return "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"></head><body>\n" + body + "\n</body></html>"
}

// ZipBytes builds an in-memory ZIP archive. Entries are written in name order.
func ZipBytes(t testing.TB, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range names {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := f.Write([]byte(files[name])); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// SRT returns a one-cue subtitle file.
func SRT(text string) string {
	return "1\n00:00:01,000 --> 00:00:02,000\n" + text + "\n"
}

// TVShowLink is one anchor of the TVSubtitles show list.
type TVShowLink struct {
	Title string
	Href  string // "tvshow-12-1.html" or "subtitle-99.html"
}

// TVSubtitlesShowList renders tvshows.html.
func TVSubtitlesShowList(links []TVShowLink) string {
	var sb strings.Builder
	sb.WriteString(`<table id="table5">`)
	for _, l := range links {
		fmt.Fprintf(&sb, `<tr><td><a href="%s"><b>%s</b></a></td><td>2008-2013</td></tr>`, l.Href, l.Title)
	}
	sb.WriteString(`</table>`)
	return Page(sb.String())
}

// TVSubtitlesSeasonIndex renders tvshow-<id>-1.html with links to seasons
// 1..seasons.
func TVSubtitlesSeasonIndex(showID, seasons int) string {
	var sb strings.Builder
	sb.WriteString(`<div class="left_articles"><h2>Show</h2><p class="description">Seasons: `)
	for s := 1; s <= seasons; s++ {
		fmt.Fprintf(&sb, `<a href="tvshow-%d-%d.html">%d</a> `, showID, s, s)
	}
	fmt.Fprintf(&sb, `<a href="tvshow-%d-0.html">All</a>`, showID)
	sb.WriteString(`</p></div>`)
	return Page(sb.String())
}

// TVEpisode is one row of a TVSubtitles season table.
type TVEpisode struct {
	Code      string // "2x08"
	Title     string
	Subtitles []string // subtitle-<id>.html hrefs
}

// TVSubtitlesShowPage renders a season page with its episode table.
func TVSubtitlesShowPage(title, seasonLabel string, episodes []TVEpisode) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<div class="left_articles"><h2>%s</h2><p class="description"><font>%s</font></p>`, title, seasonLabel)
	sb.WriteString(`<table id="table5"><tr><td>Episode</td><td>Name</td><td>Downloads</td></tr>`)
	for _, ep := range episodes {
		fmt.Fprintf(&sb, `<tr><td>%s</td><td><a href="episode-1.html">%s</a></td><td>100</td><td>`, ep.Code, ep.Title)
		for _, s := range ep.Subtitles {
			fmt.Fprintf(&sb, `<a href="%s"><img src="images/flags/en.gif"></a>`, s)
		}
		sb.WriteString(`</td></tr>`)
	}
	sb.WriteString(`</table></div>`)
	return Page(sb.String())
}

// TVFeedItem is one entry of a homepage box.
type TVFeedItem struct {
	Href      string // "/subtitle-123.html"
	Name      string
	Release   string
	Date      string
	Downloads int
	Lang      string
	Red       int
	Green     int
}

// TVSubtitlesHomepage renders the homepage boxes keyed by box title.
func TVSubtitlesHomepage(boxes map[string][]TVFeedItem) string {
	titles := make([]string, 0, len(boxes))
	for t := range boxes {
		titles = append(titles, t)
	}
	sort.Strings(titles)

	var sb strings.Builder
	for _, title := range titles {
		fmt.Fprintf(&sb, `<div class="smallbox"><div class="smallboxtitle">%s</div>`, title)
		for _, it := range boxes[title] {
			fmt.Fprintf(&sb, `<div class="smallboxitemlong"><div class="mainsubsitemall" style="background: url('images/flags/%s.gif') no-repeat;">`, it.Lang)
			fmt.Fprintf(&sb, `<a href="%s"><span>%d</span> <span>%d</span> <div class="mainsubsitemname">%s</div><div class="mainsubsitemrelease">%s</div><div class="mainsubsitemdate">%s</div><div class="mainsubsitemcounter">%d</div></a>`,
				it.Href, it.Red, it.Green, it.Name, it.Release, it.Date, it.Downloads)
			sb.WriteString(`</div></div>`)
		}
		sb.WriteString(`</div>`)
	}
	return Page(sb.String())
}

// TVSubtitlesSubtitlePage renders subtitle-<id>.html with the given download hrefs.
func TVSubtitlesSubtitlePage(downloadHrefs ...string) string {
	var sb strings.Builder
	for _, h := range downloadHrefs {
		fmt.Fprintf(&sb, `<a href="%s"><h3>Download</h3></a>`, h)
	}
	return Page(sb.String())
}
