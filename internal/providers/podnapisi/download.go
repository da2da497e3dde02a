package podnapisi

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/providers"
)

var (
	directDownloadRe = regexp.MustCompile(`/subtitles/.+/download/?$`)
	downloadSuffixRe = regexp.MustCompile(`/download/?$`)
	illegalNameRe    = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)
	spaceRunRe       = regexp.MustCompile(`\s+`)
)

// Resolve walks a forum thread, search page or subtitle page to the URL that
// serves the archive. A subtitle page may expose a download form instead of a
// link; FormDownload then tells the caller to POST.
func (p *Provider) Resolve(ctx context.Context, rawURL string, debug bool) (*models.Target, error) {
	started := time.Now()
	u, err := client.CheckURL(string(models.SourcePodnapisi), rawURL, p.hosts)
	if err != nil {
		return nil, err
	}
	working := u.String()
	target := &models.Target{URL: working, Provider: string(models.SourcePodnapisi)}

	switch {
	case directDownloadRe.MatchString(u.Path):
	case strings.Contains(u.Path, "viewtopic.php"):
		next, err := p.firstLink(ctx, working, `a[href*="/subtitles/"]`, "href")
		if err != nil {
			return nil, err
		}
		working = next
		target.Hops = append(target.Hops, next)
	case strings.Contains(u.Path, "/subtitles/search"):
		next, err := p.firstLink(ctx, working, "tr.subtitle-entry", "data-href")
		if err != nil {
			return nil, err
		}
		working = next
		target.Hops = append(target.Hops, next)
	}

	final := working
	if !downloadSuffixRe.MatchString(strings.SplitN(working, "?", 2)[0]) {
		final, target.FormDownload, err = p.detailDownload(ctx, working)
		if err != nil {
			return nil, err
		}
	}
	if _, err := client.CheckURL(string(models.SourcePodnapisi), final, p.hosts); err != nil {
		return nil, err
	}

	target.DownloadURL = final
	if debug {
		target.Debug = map[string]any{
			"workingUrl": working,
			"tookMs":     time.Since(started).Milliseconds(),
		}
	}
	return target, nil
}

// firstLink fetches pageURL and returns the first attr of selector, made
// absolute and checked against the allow-list.
func (p *Provider) firstLink(ctx context.Context, pageURL, selector, attr string) (string, error) {
	var doc *goquery.Document
	err := p.limiter.Do(ctx, func() error {
		var err error
		doc, err = p.client.Document(ctx, pageURL)
		return err
	})
	if err != nil {
		return "", err
	}
	var candidates []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			candidates = append(candidates, v)
		}
	})
	if len(candidates) == 0 {
		p.logger.Warn().Str("url", pageURL).Str("selector", selector).Msg("No subtitle link on page")
		return "", &apperrors.ErrResourceMissing{Provider: string(models.SourcePodnapisi), URL: pageURL}
	}
	next := client.Absolute(pageURL, candidates[0])
	if _, err := client.CheckURL(string(models.SourcePodnapisi), next, p.hosts); err != nil {
		return "", err
	}
	return next, nil
}

// detailDownload scrapes a subtitle page for its download form or link.
func (p *Provider) detailDownload(ctx context.Context, pageURL string) (string, bool, error) {
	var doc *goquery.Document
	err := p.limiter.Do(ctx, func() error {
		var err error
		doc, err = p.client.Document(ctx, pageURL, client.WithReferer(pageURL))
		return err
	})
	if err != nil {
		return "", false, err
	}

	if form := doc.Find("form.download-form").First(); form.Length() > 0 {
		action, _ := form.Attr("action")
		return client.Absolute(pageURL, action), true, nil
	}
	if href, ok := doc.Find(`a[href*="/download"]`).First().Attr("href"); ok && href != "" {
		return client.Absolute(pageURL, href), false, nil
	}

	var candidates []string
	doc.Find("a[href]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		candidates = append(candidates, href)
		return len(candidates) < 10
	})
	p.logger.Warn().
		Str("url", pageURL).
		Int("candidates", doc.Find("a[href]").Length()).
		Strs("sample", candidates).
		Msg("No download link on subtitle page")
	return "", false, &apperrors.ErrResourceMissing{Provider: string(models.SourcePodnapisi), URL: pageURL, Candidates: candidates}
}

// Download resolves req.URL and fetches the archive, submitting the page's
// download form when there is one.
func (p *Provider) Download(ctx context.Context, req models.DownloadRequest) (*models.DownloadResult, error) {
	target, err := p.Resolve(ctx, req.URL, false)
	if err != nil {
		return nil, err
	}
	referer := client.WithReferer(target.URL)
	accept := client.WithHeader("Accept", "*/*")

	var res *models.DownloadResult
	err = p.limiter.Do(ctx, func() error {
		var resp *http.Response
		var err error
		if target.FormDownload {
			form := url.Values{}
			form.Set("container", "none")
			form.Set("encoding", "")
			resp, err = p.client.PostForm(ctx, target.DownloadURL, form, referer, accept)
		} else {
			resp, err = p.client.Get(ctx, target.DownloadURL, referer, accept)
		}
		if err != nil {
			return err
		}
		res, err = providers.StreamResponse(string(models.SourcePodnapisi), resp, fallbackName(target.DownloadURL))
		if err == nil && providers.DispositionFilename(resp.Header.Get("Content-Disposition")) == "" {
			if name := SanitizeFilename(req.FileName); name != "" {
				res.Filename = name
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if res.ContentType == "" || strings.HasPrefix(res.ContentType, "text/html") {
		res.ContentType = "application/zip"
	}
	res.Hops = append(target.Hops, target.DownloadURL)
	return res, nil
}

// fallbackName is the URL basename, or subtitle.zip.
func fallbackName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		base := path.Base(u.Path)
		if base != "" && base != "." && base != "/" && base != "download" {
			return base
		}
	}
	return defaultArchive
}

// SanitizeFilename replaces characters illegal in filenames, collapses
// whitespace and drops trailing dots.
func SanitizeFilename(name string) string {
	name = illegalNameRe.ReplaceAllString(name, "-")
	name = strings.TrimSpace(spaceRunRe.ReplaceAllString(name, " "))
	return strings.TrimRight(name, ".")
}
