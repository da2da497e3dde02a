// Package download streams provider files to HTTP clients. Every request walks
// PENDING → RESOLVING → FETCHING_FILE → STREAMING → DONE, or ends in FAILED,
// and runs in its own working directory.
package download

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/config"
	"github.com/Belphemur/Sublynk/internal/metrics"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/providers"
	"github.com/Belphemur/Sublynk/internal/services"
)

// State is a step of a download request.
type State string

const (
	StatePending      State = "PENDING"
	StateResolving    State = "RESOLVING"
	StateFetchingFile State = "FETCHING_FILE"
	StateStreaming    State = "STREAMING"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
)

// Response headers.
const (
	HeaderSubtitleStatus = "X-Subtitle-Status"
	HeaderRequestID      = "X-Debug-Request-Id"
	HeaderResolvedURL    = "X-Resolved-Zip-Url"
	HeaderRedirectHops   = "X-Redirect-Hops"
	HeaderElapsedMs      = "X-Elapsed-Ms"
)

// Options configures a Proxy.
type Options struct {
	// TempDir is where per-request working directories are created.
	TempDir string
	// OnTransition observes every state change.
	OnTransition func(requestID string, from, to State)
}

// ErrorBody is the JSON body of a failed download.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status"`
}

// Proxy serves downloads for every registered provider.
type Proxy struct {
	registry  *providers.Registry
	extractor services.SubtitleExtractor
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
}

func New(registry *providers.Registry, extractor services.SubtitleExtractor, opts Options) *Proxy {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if extractor == nil {
		extractor = services.NewSubtitleExtractor()
	}
	return &Proxy{
		registry:  registry,
		extractor: extractor,
		opts:      opts,
		logger:    config.GetLogger().With().Str("component", "download").Logger(),
		now:       time.Now,
	}
}

// run is the state of one request.
type run struct {
	id      string
	state   State
	started time.Time
	logger  zerolog.Logger
	notify  func(string, State, State)
	mu      sync.Mutex
}

func (r *run) to(next State) {
	r.mu.Lock()
	prev := r.state
	r.state = next
	r.mu.Unlock()
	r.logger.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("Download state")
	if r.notify != nil {
		r.notify(r.id, prev, next)
	}
}

// Serve downloads req through its provider and streams the file to w.
func (p *Proxy) Serve(w http.ResponseWriter, r *http.Request, req models.DownloadRequest) {
	provider, err := p.registry.Get(req.Source)
	if err != nil {
		p.fail(w, r, nil, string(req.Source), err)
		return
	}
	p.serve(w, r, provider, req)
}

// ServeWith runs the download through d instead of a registered provider.
func (p *Proxy) ServeWith(w http.ResponseWriter, r *http.Request, d providers.Downloader, req models.DownloadRequest) {
	p.serve(w, r, d, req)
}

func (p *Proxy) serve(w http.ResponseWriter, r *http.Request, d providers.Downloader, req models.DownloadRequest) {
	id := uuid.NewString()
	source := string(d.Source())
	state := &run{
		id:      id,
		state:   StatePending,
		started: p.now(),
		logger:  p.logger.With().Str("request_id", id).Str("provider", source).Logger(),
		notify:  p.opts.OnTransition,
	}
	if p.opts.OnTransition != nil {
		p.opts.OnTransition(id, "", StatePending)
	}
	req.RequestID = id
	if req.URL == "" {
		p.fail(w, r, state, source, &apperrors.ErrInvalidInput{Field: "url", Reason: "is required"})
		return
	}

	workDir := filepath.Join(p.opts.TempDir, "sublynk-"+id)
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		p.fail(w, r, state, source, &apperrors.ErrDownloadFailed{Provider: source, URL: req.URL, Err: err})
		return
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			state.logger.Warn().Err(err).Str("dir", workDir).Msg("Failed to remove download directory")
		}
	}()
	req.WorkDir = workDir

	state.logger.Info().Str("url", req.URL).Bool("extract", req.Extract).Int("episode", req.Episode).Msg("Download requested")

	result, err := p.fetch(r.Context(), state, d, req)
	if err != nil {
		p.fail(w, r, state, source, err)
		return
	}
	defer result.Body.Close()

	state.to(StateStreaming)
	filename := result.Filename
	if filename == "" {
		filename = req.FileName
	}
	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", ContentDisposition(filename))
	h.Set(HeaderSubtitleStatus, apperrors.SubtitleStatusOK)
	if req.Debug {
		setDebugHeaders(h, id, result, p.now().Sub(state.started))
	}
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, result.Body)
	if err != nil {
		state.to(StateFailed)
		metrics.SubtitleDownloadsTotal.WithLabelValues(source, apperrors.SubtitleStatusFailedServer).Inc()
		state.logger.Error().Err(err).Int64("bytes", written).Msg("Streaming interrupted")
		return
	}

	state.to(StateDone)
	metrics.SubtitleDownloadsTotal.WithLabelValues(source, apperrors.SubtitleStatusOK).Inc()
	state.logger.Info().
		Str("filename", filename).
		Int64("bytes", written).
		Int64("elapsed_ms", p.now().Sub(state.started).Milliseconds()).
		Msg("Download streamed")
}

// fetch runs the resolve and fetch steps, serving season-pack episodes from a
// remembered archive when possible.
func (p *Proxy) fetch(ctx context.Context, state *run, d providers.Downloader, req models.DownloadRequest) (*models.DownloadResult, error) {
	extract := req.Extract || req.Episode > 0
	key := string(d.Source()) + "::" + req.URL

	if extract {
		if res, ok, err := p.extractor.ExtractCached(key, req.Episode); ok {
			state.to(StateFetchingFile)
			return res, err
		}
	}

	// Providers resolve their own page chain inside Download.
	state.to(StateResolving)
	res, err := d.Download(ctx, req)
	if err != nil {
		return nil, err
	}
	state.to(StateFetchingFile)
	state.logger.Debug().Str("resolved", res.ResolvedURL).Strs("hops", res.Hops).Msg("Resolved download target")
	if !extract {
		return res, nil
	}
	return p.extractor.Extract(key, res, req.Episode)
}

func setDebugHeaders(h http.Header, id string, result *models.DownloadResult, elapsed time.Duration) {
	h.Set(HeaderRequestID, id)
	if result.ResolvedURL != "" {
		h.Set(HeaderResolvedURL, result.ResolvedURL)
	}
	hops := result.Hops
	if hops == nil {
		hops = []string{}
	}
	if encoded, err := json.Marshal(hops); err == nil {
		h.Set(HeaderRedirectHops, url.QueryEscape(string(encoded)))
	}
	h.Set(HeaderElapsedMs, strconv.FormatInt(elapsed.Milliseconds(), 10))
}

// fail writes the typed error response. Server-side failures go to Sentry.
func (p *Proxy) fail(w http.ResponseWriter, r *http.Request, state *run, source string, err error) {
	status := apperrors.SubtitleStatus(err)
	code := apperrors.HTTPStatus(err)
	logger := p.logger
	if state != nil {
		state.to(StateFailed)
		logger = state.logger
	}
	metrics.SubtitleDownloadsTotal.WithLabelValues(source, status).Inc()

	event := logger.Warn()
	if status == apperrors.SubtitleStatusFailedServer {
		event = logger.Error()
		capture(r, source, state, err)
	}
	event.Err(err).Int("code", code).Str("status", status).Msg("Download failed")

	WriteError(w, err)
}

// WriteError writes err as the JSON error body with its status code and
// X-Subtitle-Status header.
func WriteError(w http.ResponseWriter, err error) {
	status := apperrors.SubtitleStatus(err)
	body := ErrorBody{Error: errorLabel(err), Message: err.Error(), Status: status}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderSubtitleStatus, status)
	w.WriteHeader(apperrors.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(body)
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, &apperrors.ErrResourceMissing{}):
		return "Subtitle file not available"
	case errors.Is(err, &apperrors.ErrHostNotAllowed{}):
		return "Download host not allowed"
	case errors.Is(err, &apperrors.ErrInvalidInput{}):
		return "Invalid request"
	case errors.Is(err, &apperrors.ErrNotFound{}):
		return "Not found"
	case errors.Is(err, &apperrors.ErrNetworkUnavailable{}):
		return "Subtitle source unreachable"
	case errors.Is(err, &apperrors.ErrUpstreamBlocked{}):
		return "Subtitle source blocked the request"
	case errors.Is(err, &apperrors.ErrParseMismatch{}):
		return "Subtitle source page changed"
	default:
		return "Download failed"
	}
}

func capture(r *http.Request, source string, state *run, err error) {
	hub := sentry.GetHubFromContext(r.Context())
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("provider", source)
		if state != nil {
			scope.SetTag("request_id", state.id)
		}
		hub.CaptureException(err)
	})
}
