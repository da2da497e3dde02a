package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/config"
	"github.com/Belphemur/Sublynk/internal/parser"
)

const defaultTimeout = 15 * time.Second

// maxRedirects mirrors net/http's own limit.
const maxRedirects = 10

// Options configures a provider's HTTP client.
type Options struct {
	// Provider names the owning source in logs and errors.
	Provider  string
	Timeout   time.Duration
	Proxy     string
	UserAgent string
	// Retries is the number of extra attempts after a network-class failure.
	Retries int
	// AllowedHosts restricts where redirects may lead. Empty allows any host.
	AllowedHosts []string
	// Headers are sent on every request.
	Headers map[string]string
}

// OptionsFromConfig fills the shared settings from the service configuration.
func OptionsFromConfig(cfg *config.Config, provider string, allowedHosts ...string) Options {
	return Options{
		Provider:     provider,
		Timeout:      config.ParseDuration("client_timeout", cfg.ClientTimeout, defaultTimeout),
		Proxy:        cfg.ProxyConnectionString,
		UserAgent:    cfg.UserAgent,
		Retries:      cfg.RetryAttempts,
		AllowedHosts: allowedHosts,
	}
}

// RequestOption adjusts a single request.
type RequestOption func(*requestSettings)

type requestSettings struct {
	headers    map[string]string
	noRedirect bool
}

// WithHeader sets a header on the request.
func WithHeader(key, value string) RequestOption {
	return func(s *requestSettings) {
		if s.headers == nil {
			s.headers = make(map[string]string)
		}
		s.headers[key] = value
	}
}

// WithReferer sets the Referer header.
func WithReferer(ref string) RequestOption {
	return WithHeader("Referer", ref)
}

// WithoutRedirects returns the first response instead of following Location.
func WithoutRedirects() RequestOption {
	return func(s *requestSettings) { s.noRedirect = true }
}

// Client is the fetch layer shared by every provider adapter. Each provider owns
// one instance so cookies never leak between sites.
type Client interface {
	Get(ctx context.Context, rawURL string, opts ...RequestOption) (*http.Response, error)
	Head(ctx context.Context, rawURL string, opts ...RequestOption) (*http.Response, error)
	PostForm(ctx context.Context, rawURL string, form url.Values, opts ...RequestOption) (*http.Response, error)
	PostJSON(ctx context.Context, rawURL string, body any, opts ...RequestOption) (*http.Response, error)
	// Document fetches rawURL, requires a 2xx status and parses the body as HTML.
	Document(ctx context.Context, rawURL string, opts ...RequestOption) (*goquery.Document, error)
	// Cookies returns the cookies the jar would send to rawURL.
	Cookies(rawURL string) []*http.Cookie
	// ResetCookies drops every stored cookie.
	ResetCookies()
	Provider() string
}

type client struct {
	opts       Options
	httpClient *http.Client
	jar        *resettableJar
}

// resettableJar lets a provider discard its session without rebuilding the client.
type resettableJar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func newJar() *resettableJar {
	j := &resettableJar{}
	j.Reset()
	return j
}

func (j *resettableJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.jar.SetCookies(u, cookies)
}

func (j *resettableJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

func (j *resettableJar) Reset() {
	// cookiejar.New never returns an error.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	j.mu.Lock()
	j.jar = jar
	j.mu.Unlock()
}

type noRedirectKey struct{}

// New creates a client with a cookie jar, the compression transport and a
// network-error retry policy.
func New(opts Options) Client {
	logger := config.GetLogger()

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = config.GetUserAgent()
	}

	baseTransport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			logger.Warn().Err(err).Str("proxy", opts.Proxy).Msg("Invalid proxy URL, continuing without proxy")
		} else {
			baseTransport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	c := &client{opts: opts, jar: newJar()}
	c.httpClient = &http.Client{
		Timeout:       opts.Timeout,
		Jar:           c.jar,
		Transport:     newRetryTransport(newCompressionTransport(baseTransport), opts.Retries, logger, opts.Provider),
		CheckRedirect: c.checkRedirect,
	}
	return c
}

func (c *client) Provider() string { return c.opts.Provider }

func (c *client) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > 0 && via[0].Context().Value(noRedirectKey{}) != nil {
		return http.ErrUseLastResponse
	}
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if !HostAllowed(req.URL.Hostname(), c.opts.AllowedHosts) {
		return &apperrors.ErrHostNotAllowed{Provider: c.opts.Provider, Host: req.URL.Hostname()}
	}
	return nil
}

func (c *client) do(ctx context.Context, method, rawURL string, body io.Reader, contentType string, opts []RequestOption) (*http.Response, error) {
	var settings requestSettings
	for _, o := range opts {
		o(&settings)
	}
	if settings.noRedirect {
		ctx = context.WithValue(ctx, noRedirectKey{}, true)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, &apperrors.ErrInvalidInput{Field: "url", Reason: err.Error()}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.opts.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range settings.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(c.opts.Provider, rawURL, err)
	}
	return resp, nil
}

func (c *client) Get(ctx context.Context, rawURL string, opts ...RequestOption) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, "", opts)
}

func (c *client) Head(ctx context.Context, rawURL string, opts ...RequestOption) (*http.Response, error) {
	return c.do(ctx, http.MethodHead, rawURL, nil, "", opts)
}

func (c *client) PostForm(ctx context.Context, rawURL string, form url.Values, opts ...RequestOption) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", opts)
}

func (c *client) PostJSON(ctx context.Context, rawURL string, body any, opts ...RequestOption) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, rawURL, bytes.NewReader(payload), "application/json", opts)
}

func (c *client) Document(ctx context.Context, rawURL string, opts ...RequestOption) (*goquery.Document, error) {
	resp, err := c.Get(ctx, rawURL, opts...)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := CheckStatus(c.opts.Provider, resp); err != nil {
		return nil, err
	}
	return ParseDocument(c.opts.Provider, rawURL, resp.Body)
}

func (c *client) Cookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return c.jar.Cookies(u)
}

func (c *client) ResetCookies() {
	c.jar.Reset()
}

// ParseDocument converts body to UTF-8 and loads it into goquery. Read failures
// surface as network errors, markup goquery cannot load as ErrParseMismatch.
func ParseDocument(provider, rawURL string, body io.Reader) (*goquery.Document, error) {
	utf8Body, err := parser.NewUTF8Reader(body)
	if err != nil {
		return nil, &apperrors.ErrParseMismatch{Provider: provider, URL: rawURL, Detail: err.Error()}
	}
	doc, err := goquery.NewDocumentFromReader(utf8Body)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) {
			return nil, &apperrors.ErrNetworkUnavailable{Provider: provider, Err: err}
		}
		return nil, &apperrors.ErrParseMismatch{Provider: provider, URL: rawURL, Detail: err.Error()}
	}
	return doc, nil
}
