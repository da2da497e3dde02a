package tvsubtitles

import (
	"context"
	"errors"
	"strings"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/browser"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/providers"
)

var errNotArchive = errors.New("response is not an archive")

const (
	episodeSubtitleSelector = `a[href*="subtitle-"][href$="-en.html"]`
	englishDownloadSelector = `a[href*="download-"][href$="-en.html"]`
	anyDownloadSelector     = `a[href^="download-"]`
)

// Download fetches the season archive behind a download or subtitle page.
// Download pages that answer with an archive are streamed directly; anything
// else goes through the browser, which clicks the English download link and
// waits for a .zip to land in req.WorkDir. No archive after the polling
// window is ErrResourceMissing.
func (p *Provider) Download(ctx context.Context, req models.DownloadRequest) (*models.DownloadResult, error) {
	source := string(models.SourceTVSubtitles)
	if !strings.HasPrefix(strings.TrimSpace(req.URL), "http") {
		return nil, &apperrors.ErrInvalidInput{Field: "url", Reason: "invalid or missing URL"}
	}
	if _, err := client.CheckURL(source, req.URL, p.hosts); err != nil {
		return nil, err
	}

	if IsDownloadPage(req.URL) {
		res, err := p.direct(ctx, req.URL)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, &apperrors.ErrHostNotAllowed{}) {
			return nil, err
		}
		p.logger.Debug().Err(err).Str("url", req.URL).Msg("Direct download unavailable, using browser")
	}
	return p.viaBrowser(ctx, req)
}

func (p *Provider) direct(ctx context.Context, rawURL string) (*models.DownloadResult, error) {
	resp, err := p.client.Get(ctx, rawURL, client.WithReferer(p.baseURL+"/"))
	if err != nil {
		return nil, err
	}
	if err := client.CheckStatus(string(models.SourceTVSubtitles), resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	if !providers.IsArchive(providers.Sniff(resp, 4)) {
		resp.Body.Close()
		return nil, errNotArchive
	}
	res, err := providers.StreamResponse(string(models.SourceTVSubtitles), resp, "subtitle.zip")
	if err != nil {
		return nil, err
	}
	res.ContentType = "application/zip"
	res.Hops = []string{rawURL}
	if res.ResolvedURL != rawURL {
		res.Hops = append(res.Hops, res.ResolvedURL)
	}
	return res, nil
}

func (p *Provider) viaBrowser(ctx context.Context, req models.DownloadRequest) (*models.DownloadResult, error) {
	source := string(models.SourceTVSubtitles)
	if p.launcher == nil {
		return nil, &apperrors.ErrDownloadFailed{Provider: source, URL: req.URL, Err: browser.ErrDisabled}
	}

	workDir, cleanup, err := providers.WorkDir(req.WorkDir, "tvsubtitles")
	if err != nil {
		return nil, &apperrors.ErrDownloadFailed{Provider: source, URL: req.URL, Err: err}
	}

	res, err := p.clickDownload(ctx, subtitlePage(req.URL), workDir)
	if err != nil {
		cleanup()
		return nil, err
	}
	res.Body = providers.RemoveOnClose(res.Body, cleanup)
	return res, nil
}

func (p *Provider) clickDownload(ctx context.Context, pageURL, workDir string) (*models.DownloadResult, error) {
	source := string(models.SourceTVSubtitles)
	session, err := p.launcher.NewSession(ctx, workDir)
	if err != nil {
		return nil, &apperrors.ErrDownloadFailed{Provider: source, URL: pageURL, Err: err}
	}
	defer session.Close()

	// The homepage visit sets the cookies the download pages expect.
	if err := session.Navigate(ctx, p.baseURL+"/"); err != nil {
		p.logger.Debug().Err(err).Msg("Warmup navigation failed")
	}
	if err := session.Navigate(ctx, pageURL); err != nil {
		return nil, &apperrors.ErrNetworkUnavailable{Provider: source, Err: err}
	}

	if strings.Contains(pageURL, "/episode-") {
		found, err := session.Exists(ctx, episodeSubtitleSelector)
		if err != nil || !found {
			return nil, &apperrors.ErrResourceMissing{Provider: source, URL: pageURL}
		}
		if err := session.Click(ctx, episodeSubtitleSelector); err != nil {
			return nil, &apperrors.ErrDownloadFailed{Provider: source, URL: pageURL, Err: err}
		}
		if err := session.WaitFor(ctx, anyDownloadSelector); err != nil {
			return nil, &apperrors.ErrParseMismatch{Provider: source, URL: pageURL, Detail: "subtitle page did not load"}
		}
	}

	selector := englishDownloadSelector
	found, err := session.Exists(ctx, selector)
	if err == nil && !found {
		p.logger.Debug().Str("url", pageURL).Msg("English download link not found, trying generic")
		selector = anyDownloadSelector
		found, err = session.Exists(ctx, selector)
	}
	if err != nil || !found {
		p.logger.Warn().Str("url", pageURL).Msg("Download link not found on subtitle page")
		return nil, &apperrors.ErrParseMismatch{Provider: source, URL: pageURL, Detail: "download link not found"}
	}

	if err := session.Click(ctx, selector); err != nil {
		return nil, &apperrors.ErrDownloadFailed{Provider: source, URL: pageURL, Err: err}
	}

	file, err := session.DownloadedFile(ctx, ".zip")
	if err != nil {
		if errors.Is(err, browser.ErrNoDownload) {
			p.logger.Info().Str("url", pageURL).Msg("No archive appeared, marking as missing")
			return nil, &apperrors.ErrResourceMissing{Provider: source, URL: pageURL}
		}
		return nil, &apperrors.ErrDownloadFailed{Provider: source, URL: pageURL, Err: err}
	}

	res, err := providers.OpenFile(file, "application/zip")
	if err != nil {
		return nil, &apperrors.ErrDownloadFailed{Provider: source, URL: pageURL, Err: err}
	}
	res.ResolvedURL = pageURL
	return res, nil
}
