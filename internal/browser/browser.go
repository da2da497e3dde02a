// Package browser abstracts the headless browser used by providers whose pages
// need JavaScript or a real click to produce a file.
package browser

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Belphemur/Sublynk/internal/config"
)

// ErrDisabled is returned by launchers when headless browsing is turned off.
var ErrDisabled = errors.New("headless browser disabled")

// Session is a single browser tab. Calls must not be interleaved: DOM state is
// tab-local and every action assumes the previous one finished.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// WaitFor blocks until an element matching selector is present.
	WaitFor(ctx context.Context, selector string) error
	// Exists reports whether selector currently matches anything, without waiting.
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	// Type clears the input matched by selector and types text into it.
	Type(ctx context.Context, selector, text string) error
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)
	// Cookies returns the cookies of the current page, for handing a browser login
	// over to a plain HTTP client.
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	// DownloadedFile polls the session's download directory until a completed
	// file with extension ext appears and returns its path.
	DownloadedFile(ctx context.Context, ext string) (string, error)
	Close() error
}

// Launcher opens sessions. downloadDir must be unique per caller; files the
// page downloads land there.
type Launcher interface {
	NewSession(ctx context.Context, downloadDir string) (Session, error)
}

// Options configures the chromedp launcher.
type Options struct {
	Enabled           bool
	ExecPath          string
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	PollAttempts      int
	PollInterval      time.Duration
}

// OptionsFromConfig reads the browser section of the service configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Enabled:           cfg.Browser.Enabled,
		ExecPath:          cfg.Browser.ExecPath,
		Headless:          cfg.Browser.Headless,
		UserAgent:         cfg.UserAgent,
		NavigationTimeout: config.ParseDuration("browser.navigation_timeout", cfg.Browser.NavigationTimeout, 60*time.Second),
		PollAttempts:      cfg.Browser.PollAttempts,
		PollInterval:      config.ParseDuration("browser.poll_interval", cfg.Browser.PollInterval, 500*time.Millisecond),
	}
}
