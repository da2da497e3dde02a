package addic7ed

import (
	"context"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/providers"
)

var extensionRe = regexp.MustCompile(`(?i)\.[a-z0-9]{2,5}$`)

// downloadSelectors are tried in order on a subtitle page.
var downloadSelectors = []string{
	"a.buttonDownload",
	"a[href*='.srt']",
	"a[href*='/updated/']",
	"a[href*='/original/']",
	"a:contains('Download')",
}

// login posts the site's login form on the plain HTTP client so the session
// cookie lands in its jar.
func (p *Provider) login(ctx context.Context) error {
	p.loginMu.Lock()
	defer p.loginMu.Unlock()
	if p.opts.Username == "" || p.opts.Password == "" {
		return &apperrors.ErrUpstreamBlocked{Provider: string(models.SourceAddic7ed), URL: p.baseURL + "/dologin.php"}
	}
	form := url.Values{}
	form.Set("username", p.opts.Username)
	form.Set("password", p.opts.Password)
	form.Set("remember", "1")
	form.Set("login", "Login")
	loginURL := p.baseURL + "/dologin.php"
	resp, err := p.client.PostForm(ctx, loginURL, form, client.WithReferer(loginURL))
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	p.logger.Info().Int("status", resp.StatusCode).Msg("Submitted Addic7ed login")
	return nil
}

// Resolve finds the file link on a subtitle page, logging in once when the
// page is a login wall.
func (p *Provider) Resolve(ctx context.Context, rawURL string, debug bool) (*models.Target, error) {
	started := time.Now()
	pageURL := client.Absolute(p.baseURL+"/", rawURL)
	if _, err := client.CheckURL(string(models.SourceAddic7ed), pageURL, p.hosts); err != nil {
		return nil, err
	}

	html, err := p.page(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	loggedIn := false
	if IsLoginWall(html) {
		if err := p.login(ctx); err != nil {
			return nil, err
		}
		loggedIn = true
		if html, err = p.page(ctx, pageURL); err != nil {
			return nil, err
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &apperrors.ErrParseMismatch{Provider: string(models.SourceAddic7ed), URL: pageURL, Detail: err.Error()}
	}
	link := ""
	for _, sel := range downloadSelectors {
		if href, ok := doc.Find(sel).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
			link = client.Absolute(pageURL, href)
			break
		}
	}
	if link == "" {
		if IsLoginWall(html) {
			return nil, &apperrors.ErrUpstreamBlocked{Provider: string(models.SourceAddic7ed), URL: pageURL}
		}
		var sample []string
		doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			sample = append(sample, href)
			return len(sample) < 10
		})
		p.logger.Warn().Str("url", pageURL).Int("candidates", doc.Find("a[href]").Length()).Strs("sample", sample).Msg("No download link on subtitle page")
		return nil, &apperrors.ErrResourceMissing{Provider: string(models.SourceAddic7ed), URL: pageURL, Candidates: sample}
	}
	if _, err := client.CheckURL(string(models.SourceAddic7ed), link, p.hosts); err != nil {
		return nil, err
	}

	target := &models.Target{URL: pageURL, DownloadURL: link, Provider: string(models.SourceAddic7ed)}
	if debug {
		target.Debug = map[string]any{"loggedIn": loggedIn, "tookMs": time.Since(started).Milliseconds()}
	}
	return target, nil
}

// Download resolves the page and streams the file. The Content-Disposition
// name wins over the requested one; an extension is inferred when missing.
func (p *Provider) Download(ctx context.Context, req models.DownloadRequest) (*models.DownloadResult, error) {
	target, err := p.Resolve(ctx, req.URL, false)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Get(ctx, target.DownloadURL, client.WithReferer(target.URL))
	if err != nil {
		return nil, err
	}
	res, err := providers.StreamResponse(string(models.SourceAddic7ed), resp, "subtitle.srt")
	if err != nil {
		return nil, err
	}

	name := providers.DispositionFilename(resp.Header.Get("Content-Disposition"))
	if name == "" {
		name = strings.TrimSpace(req.FileName)
	}
	if name == "" {
		name = res.Filename
	}
	res.Filename = withExtension(name, res.ContentType)
	if res.ContentType == "" {
		res.ContentType = "application/x-subrip"
	}
	res.Hops = []string{target.DownloadURL}
	return res, nil
}

// withExtension appends .zip for zip content types and .srt otherwise, unless
// name already has an extension.
func withExtension(name, contentType string) string {
	if extensionRe.MatchString(name) {
		return name
	}
	if strings.Contains(strings.ToLower(contentType), "zip") {
		return name + ".zip"
	}
	return name + ".srt"
}
