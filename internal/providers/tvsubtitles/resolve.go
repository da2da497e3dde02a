package tvsubtitles

import (
	"context"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/models"
)

// downloadPageRe matches pages that already are download pages:
// download-<id>.html, download-<id>-<season>-<lang>.html and similar.
var downloadPageRe = regexp.MustCompile(`(?i)/?download-\d+(?:-\d+)?-?[a-z]{0,3}\.html$`)

// IsDownloadPage reports whether rawURL needs no resolution.
func IsDownloadPage(rawURL string) bool {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	return downloadPageRe.MatchString(rawURL)
}

func (p *Provider) absolute(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if strings.HasPrefix(rawURL, "//") {
		return "https:" + rawURL
	}
	return p.url(rawURL)
}

// Resolve turns a subtitle page into its download page. Every hop is checked
// against the TVSubtitles allow-list; a HEAD redirect leaving it is rejected.
func (p *Provider) Resolve(ctx context.Context, rawURL string, debug bool) (*models.Target, error) {
	start := time.Now()
	source := string(models.SourceTVSubtitles)
	if strings.TrimSpace(rawURL) == "" {
		return nil, &apperrors.ErrInvalidInput{Field: "url", Reason: "missing subtitle URL"}
	}

	pageURL := p.absolute(rawURL)
	if _, err := client.CheckURL(source, pageURL, p.hosts); err != nil {
		return nil, err
	}

	if IsDownloadPage(pageURL) {
		return &models.Target{DownloadURL: pageURL, Provider: ProviderName}, nil
	}

	resp, err := p.client.Get(ctx, pageURL, client.WithoutRedirects(), client.WithReferer(p.baseURL))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc := resp.Header.Get("Location")
		p.logger.Warn().Str("url", pageURL).Str("location", loc).Msg("Subtitle page redirected unexpectedly")
		return nil, &apperrors.ErrUpstreamBlocked{Provider: source, URL: pageURL}
	}
	if err := client.CheckStatus(source, resp); err != nil {
		return nil, err
	}
	doc, err := client.ParseDocument(source, pageURL, resp.Body)
	if err != nil {
		return nil, err
	}

	anchors := doc.Find(`a[href^="download-"]`)
	if anchors.Length() == 0 {
		fuzzy := doc.Find(`a[href*="download"]`)
		p.logger.Warn().
			Str("url", pageURL).
			Int("fuzzy_candidates", fuzzy.Length()).
			Strs("sample", sampleHrefs(fuzzy, 3)).
			Msg("No download anchor on subtitle page")
		return nil, &apperrors.ErrResourceMissing{Provider: source, URL: pageURL, Candidates: sampleHrefs(fuzzy, 3)}
	}

	href, _ := anchors.First().Attr("href")
	downloadURL := p.absolute(href)
	if _, err := client.CheckURL(source, downloadURL, p.hosts); err != nil {
		return nil, err
	}

	target := &models.Target{URL: downloadURL, DownloadURL: downloadURL, Provider: ProviderName}

	dbg := map[string]any{"step": "resolved-download"}
	head, err := p.client.Head(ctx, downloadURL, client.WithoutRedirects(), client.WithReferer(pageURL))
	if err != nil {
		// HEAD is advisory; some pages reject it outright.
		p.logger.Debug().Err(err).Str("url", downloadURL).Msg("HEAD check failed")
		dbg["headError"] = err.Error()
	} else {
		io.Copy(io.Discard, head.Body)
		head.Body.Close()
		dbg["headStatus"] = head.StatusCode
		if head.StatusCode >= 300 && head.StatusCode < 400 {
			loc := p.absolute(head.Header.Get("Location"))
			dbg["redirectLocation"] = loc
			u, err := client.CheckURL(source, loc, p.hosts)
			if err != nil {
				p.logger.Warn().Str("url", downloadURL).Str("location", loc).Msg("Download page redirects off the allow-list")
				return nil, err
			}
			dbg["redirectHost"] = u.Hostname()
			target.Hops = []string{downloadURL, loc}
		}
	}

	if debug {
		dbg["tookMs"] = time.Since(start).Milliseconds()
		target.Debug = dbg
	}
	return target, nil
}

func sampleHrefs(sel *goquery.Selection, n int) []string {
	var out []string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if href, ok := s.Attr("href"); ok && href != "" {
			out = append(out, href)
		}
		return len(out) < n
	})
	return out
}

// subtitlePage maps a download page back to its subtitle page, which is
// where the browser has to click.
func subtitlePage(rawURL string) string {
	return strings.Replace(rawURL, "/download-", "/subtitle-", 1)
}
