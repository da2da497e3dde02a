package testutil

import (
	"fmt"
	"strings"
)

// Addic7edRow is one search result row.
type Addic7edRow struct {
	Href    string
	Release string
	Lang    string
}

// Addic7edSearchPage renders search.php results.
func Addic7edSearchPage(rows []Addic7edRow) string {
	var sb strings.Builder
	sb.WriteString(`<table class="tabel">`)
	for i, r := range rows {
		class := "even"
		if i%2 == 1 {
			class = "odd"
		}
		fmt.Fprintf(&sb, `<tr class="%s"><td>%d</td><td>%s</td><td>1</td><td>%s</td><td><a href="%s">view</a></td></tr>`,
			class, i+1, r.Release, r.Lang, r.Href)
	}
	sb.WriteString(`</table>`)
	return Page(sb.String())
}

// Addic7edLoginWall renders the page served to anonymous visitors.
func Addic7edLoginWall() string {
	return Page(`<h2>Login area</h2><form action="dologin.php" method="post">
<input name="username"><input name="password" type="password"><input type="submit" value="Login"></form>`)
}

// Addic7edSubtitlePage renders a subtitle page with a single download anchor.
func Addic7edSubtitlePage(anchor string) string {
	return Page(`<div id="container">` + anchor + `</div>`)
}
