package browser

import (
	"context"
	"fmt"
	"net/http"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/Belphemur/Sublynk/internal/config"
)

// Chrome launches one headless Chrome process per session so each session can
// own its download directory.
type Chrome struct {
	opts   Options
	logger zerolog.Logger
}

func NewChrome(opts Options) *Chrome {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 60 * time.Second
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 40
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &Chrome{opts: opts, logger: config.GetLogger()}
}

func (c *Chrome) NewSession(ctx context.Context, downloadDir string) (Session, error) {
	if !c.opts.Enabled {
		return nil, ErrDisabled
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.NoSandbox,
	)
	if c.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(c.opts.UserAgent))
	}
	if c.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(c.opts.ExecPath))
	}

	// The browser outlives the request context of the first call, so it hangs off
	// Background and is torn down by Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		ctx:         tabCtx,
		cancel:      func() { tabCancel(); allocCancel() },
		downloadDir: downloadDir,
		opts:        c.opts,
		logger:      c.logger,
	}

	if err := s.run(ctx, cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
		WithDownloadPath(downloadDir).
		WithEventsEnabled(true)); err != nil {
		s.cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	c.logger.Debug().Str("download_dir", downloadDir).Msg("Browser session started")
	return s, nil
}

type chromeSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	downloadDir string
	opts        Options
	logger      zerolog.Logger
}

// run executes actions on the tab, bounded by the navigation timeout and by ctx.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, s.opts.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	s.logger.Debug().Str("url", url).Msg("Browser navigate")
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *chromeSession) WaitFor(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func (s *chromeSession) Exists(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node
	err := s.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	return len(nodes) > 0, err
}

func (s *chromeSession) Click(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (s *chromeSession) Type(ctx context.Context, selector, text string) error {
	return s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (s *chromeSession) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	var raw []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	cookies := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return cookies, nil
}

func (s *chromeSession) DownloadedFile(ctx context.Context, ext string) (string, error) {
	return WaitForFile(ctx, s.downloadDir, ext, s.opts.PollAttempts, s.opts.PollInterval)
}

func (s *chromeSession) Close() error {
	s.cancel()
	return nil
}
