package testutil

import (
	"fmt"
	"strings"
)

// YIFYMovie is one entry of the plain search page.
type YIFYMovie struct {
	Title string
	Href  string
}

// YIFYSearchPage renders /search?q= results.
func YIFYSearchPage(movies []YIFYMovie) string {
	var sb strings.Builder
	sb.WriteString(`<ul class="media-list">`)
	for _, m := range movies {
		fmt.Fprintf(&sb, `<li class="media"><a href="%s"><div class="media-body"><h3 class="media-heading">%s</h3><span>2010</span></div></a></li>`, m.Href, m.Title)
	}
	sb.WriteString(`</ul>`)
	return Page(sb.String())
}

// YIFYHomepage renders the homepage with the autocomplete box and the given
// rendered suggestions. Suggestions carry no links, like the live widget.
func YIFYHomepage(suggestions ...string) string {
	var sb strings.Builder
	sb.WriteString(`<form><input id="qSearch" type="text"><div class="tt-menu"><div class="tt-dataset">`)
	for _, s := range suggestions {
		fmt.Fprintf(&sb, `<div class="tt-suggestion tt-selectable">%s</div>`, s)
	}
	sb.WriteString(`</div></div></form>`)
	return Page(sb.String())
}

// YIFYRow is one row of a movie's subtitle table.
type YIFYRow struct {
	ID     int
	Lang   string
	Rating string
	Href   string
}

// YIFYMoviePage renders a movie page with its subtitle table.
func YIFYMoviePage(rows []YIFYRow) string {
	var sb strings.Builder
	sb.WriteString(`<div class="table-responsive"><table class="table other-subs"><thead><tr><th>Rating</th><th>Language</th><th>Release</th></tr></thead><tbody>`)
	for _, r := range rows {
		fmt.Fprintf(&sb, `<tr data-id="%d"><td class="rating-cell"><span class="label">%s</span></td><td class="flag-cell"><span class="sub-lang">%s</span></td><td><a href="%s">subtitle</a></td></tr>`,
			r.ID, r.Rating, r.Lang, r.Href)
	}
	sb.WriteString(`</tbody></table></div>`)
	return Page(sb.String())
}

// YIFYDetailPage renders a subtitle detail page. An empty href renders no
// download button.
func YIFYDetailPage(href string) string {
	if href == "" {
		return Page(`<div class="subtitle-page"><p>Subtitle</p></div>`)
	}
	return Page(`<div class="subtitle-page"><a class="btn-icon download-subtitle" href="` + href + `">DOWNLOAD SUBTITLE</a></div>`)
}
