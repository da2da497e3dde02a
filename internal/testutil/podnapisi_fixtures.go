package testutil

import (
	"fmt"
	"strings"
)

// PodnapisiLoginPage renders the phpBB login form with its anti-CSRF fields.
func PodnapisiLoginPage(formToken string) string {
	return Page(fmt.Sprintf(`<form id="login" method="post" action="./ucp.php?mode=login">
<input type="text" name="username"><input type="password" name="password">
<input type="hidden" name="creation_time" value="1700000000">
<input type="hidden" name="form_token" value="%s">
<input type="hidden" name="redirect" value="./index.php">
<input type="submit" name="login" value="Login"></form>`, formToken))
}

// PodnapisiRow is one row of the subtitle table.
type PodnapisiRow struct {
	Href    string
	Title   string
	Release string
	Lang    string
	Author  string
	Date    string
}

// PodnapisiTable renders the current search results table. The page is padded
// so it never trips the short-body check.
func PodnapisiTable(rows []PodnapisiRow) string {
	var sb strings.Builder
	sb.WriteString(`<table class="table"><tbody>`)
	for _, r := range rows {
		fmt.Fprintf(&sb, `<tr class="subtitle-entry" data-href="%s">`, r.Href)
		fmt.Fprintf(&sb, `<td><a href="%s">%s</a><span class="release">%s</span></td>`, r.Href, r.Title, r.Release)
		fmt.Fprintf(&sb, `<td class="language"><abbr class="language" title="%s"><span>%s</span></abbr></td>`, r.Lang, r.Lang)
		fmt.Fprintf(&sb, `<td><a href="/en/contributors/%s">%s</a></td>`, r.Author, r.Author)
		fmt.Fprintf(&sb, `<td><span data-title="%s">%s</span></td></tr>`, r.Date, r.Date)
	}
	sb.WriteString(`</tbody></table>`)
	return Page(sb.String() + padding())
}

// PodnapisiPost is one forum search hit.
type PodnapisiPost struct {
	Href   string
	Title  string
	Author string
	Date   string
}

// PodnapisiForum renders forum-style search results.
func PodnapisiForum(posts []PodnapisiPost) string {
	var sb strings.Builder
	for _, p := range posts {
		fmt.Fprintf(&sb, `<div class="search post"><h3><a href="%s">%s</a></h3>`, p.Href, p.Title)
		fmt.Fprintf(&sb, `<dl><dt class="author">by <a class="username" href="#">%s</a></dt>`, p.Author)
		fmt.Fprintf(&sb, `<dd class="search-result-date">%s</dd></dl></div>`, p.Date)
	}
	return Page(sb.String() + padding())
}

// PodnapisiDetailPage renders a subtitle page offering either a download form
// (formAction set) or a plain download link.
func PodnapisiDetailPage(formAction, link string) string {
	switch {
	case formAction != "":
		return Page(fmt.Sprintf(`<form class="download-form" method="post" action="%s">
<input type="hidden" name="container" value="zip"><select name="encoding"></select>
<button type="submit">Download</button></form>`, formAction))
	case link != "":
		return Page(fmt.Sprintf(`<a class="btn" href="%s">Download</a>`, link))
	default:
		return Page(`<a href="/en/">Home</a><a href="/en/subtitles/search/">Search</a>`)
	}
}

func padding() string {
	return "<!--" + strings.Repeat(" padding ", 80) + "-->"
}
