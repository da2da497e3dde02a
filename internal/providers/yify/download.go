package yify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/browser"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/providers"
)

const downloadButton = "a.btn-icon.download-subtitle"

// Resolve turns a subtitle detail page into its archive link. Archive URLs
// are returned unchanged.
func (p *Provider) Resolve(ctx context.Context, rawURL string, debug bool) (*models.Target, error) {
	started := time.Now()
	pageURL := client.Absolute(p.baseURL+"/", strings.TrimSpace(rawURL))
	if _, err := client.CheckURL(string(models.SourceYIFY), pageURL, p.hosts); err != nil {
		return nil, err
	}
	link := pageURL
	if !isArchiveURL(pageURL) {
		var err error
		if link, err = p.archiveLink(ctx, pageURL); err != nil {
			return nil, err
		}
	}
	target := &models.Target{URL: pageURL, DownloadURL: link, Provider: string(models.SourceYIFY)}
	if debug {
		target.Debug = map[string]any{"direct": link == pageURL, "tookMs": time.Since(started).Milliseconds()}
	}
	return target, nil
}

// Download streams the archive behind req.URL, which may be a detail page or
// the archive itself. When the direct fetch does not produce an archive, a
// browser clicks the download button on the detail page instead.
func (p *Provider) Download(ctx context.Context, req models.DownloadRequest) (*models.DownloadResult, error) {
	source := string(models.SourceYIFY)
	if strings.TrimSpace(req.URL) == "" {
		return nil, &apperrors.ErrInvalidInput{Field: "url", Reason: "missing file URL"}
	}
	target, err := p.Resolve(ctx, req.URL, false)
	if err != nil {
		return nil, err
	}

	res, err := p.direct(ctx, target.DownloadURL)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, &apperrors.ErrHostNotAllowed{}) {
		return nil, err
	}
	if p.launcher == nil {
		return nil, err
	}
	p.logger.Warn().Err(err).Str("url", target.DownloadURL).Msg("Direct download failed, retrying with browser")

	workDir, cleanup, werr := providers.WorkDir(req.WorkDir, "yify")
	if werr != nil {
		return nil, &apperrors.ErrDownloadFailed{Provider: source, URL: target.DownloadURL, Err: werr}
	}
	res, err = p.clickDownload(ctx, DetailPage(target.DownloadURL), workDir)
	if err != nil {
		cleanup()
		return nil, err
	}
	res.Body = providers.RemoveOnClose(res.Body, cleanup)
	return res, nil
}

func (p *Provider) direct(ctx context.Context, fileURL string) (*models.DownloadResult, error) {
	resp, err := p.client.Get(ctx, fileURL,
		client.WithReferer(p.baseURL+"/"),
		client.WithHeader("Accept", "application/zip,application/octet-stream;q=0.9,*/*;q=0.8"),
	)
	if err != nil {
		return nil, err
	}
	if err := client.CheckStatus(string(models.SourceYIFY), resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	if !providers.IsArchive(providers.Sniff(resp, 4)) {
		resp.Body.Close()
		return nil, &apperrors.ErrDownloadFailed{Provider: string(models.SourceYIFY), URL: fileURL, Err: errors.New("response is not an archive")}
	}
	res, err := providers.StreamResponse(string(models.SourceYIFY), resp, "subtitle.zip")
	if err != nil {
		return nil, err
	}
	if res.ContentType == "" || strings.HasPrefix(res.ContentType, "application/octet-stream") {
		res.ContentType = "application/zip"
	}
	res.Hops = []string{fileURL}
	if res.ResolvedURL != "" && res.ResolvedURL != fileURL {
		res.Hops = append(res.Hops, res.ResolvedURL)
	}
	return res, nil
}

func (p *Provider) clickDownload(ctx context.Context, pageURL, workDir string) (*models.DownloadResult, error) {
	source := string(models.SourceYIFY)
	session, err := p.launcher.NewSession(ctx, workDir)
	if err != nil {
		return nil, &apperrors.ErrDownloadFailed{Provider: source, URL: pageURL, Err: err}
	}
	defer session.Close()

	if err := session.Navigate(ctx, pageURL); err != nil {
		return nil, &apperrors.ErrNetworkUnavailable{Provider: source, Err: err}
	}
	if found, err := session.Exists(ctx, downloadButton); err != nil || !found {
		p.logger.Warn().Str("url", pageURL).Msg("Download button not found")
		return nil, &apperrors.ErrParseMismatch{Provider: source, URL: pageURL, Detail: "download button not found"}
	}
	if err := session.Click(ctx, downloadButton); err != nil {
		return nil, &apperrors.ErrDownloadFailed{Provider: source, URL: pageURL, Err: err}
	}

	file, err := session.DownloadedFile(ctx, ".zip")
	if err != nil {
		if errors.Is(err, browser.ErrNoDownload) {
			return nil, &apperrors.ErrResourceMissing{Provider: source, URL: pageURL}
		}
		return nil, &apperrors.ErrDownloadFailed{Provider: source, URL: pageURL, Err: err}
	}
	res, err := providers.OpenFile(file, "application/zip")
	if err != nil {
		return nil, &apperrors.ErrDownloadFailed{Provider: source, URL: pageURL, Err: err}
	}
	res.ResolvedURL = pageURL
	res.Hops = []string{pageURL}
	return res, nil
}

// DetailPage maps an archive URL (/subtitle/<slug>.zip) to its detail page
// (/subtitles/<slug>). Other URLs are returned unchanged.
func DetailPage(rawURL string) string {
	if !isArchiveURL(rawURL) {
		return rawURL
	}
	return strings.TrimSuffix(strings.Replace(rawURL, "/subtitle/", "/subtitles/", 1), ".zip")
}

func isArchiveURL(rawURL string) bool {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(strings.ToLower(u), ".zip")
}
