// Package api exposes the subtitle search, feed and download endpoints over
// HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/rs/zerolog"

	"github.com/Belphemur/Sublynk/internal/aggregator"
	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/config"
	"github.com/Belphemur/Sublynk/internal/download"
	"github.com/Belphemur/Sublynk/internal/metrics"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/normalize"
	"github.com/Belphemur/Sublynk/internal/providers"
	"github.com/Belphemur/Sublynk/internal/providers/addic7ed"
	"github.com/Belphemur/Sublynk/internal/providers/podnapisi"
	"github.com/Belphemur/Sublynk/internal/providers/tvsubtitles"
	"github.com/Belphemur/Sublynk/internal/providers/yify"
)

// Aggregator is the multi-source search used by the aggregate and feed routes.
type Aggregator interface {
	Aggregate(ctx context.Context, query string, opts aggregator.Options) ([]models.Subtitle, error)
	Stream(ctx context.Context, query string, opts aggregator.Options) <-chan models.StreamResult[models.Chunk]
	Latest(ctx context.Context) ([]models.Subtitle, error)
	TopRated(ctx context.Context) ([]models.Subtitle, error)
}

type OpenSubtitles interface {
	providers.Downloader
	Search(ctx context.Context, query, language string, limit int) ([]models.RawSubtitle, error)
}

type TVSubtitles interface {
	providers.Downloader
	providers.Resolver
	Search(ctx context.Context, query string) (*tvsubtitles.SearchResult, error)
	ShowInfo(ctx context.Context, showURL string) (*tvsubtitles.ShowInfo, error)
	Latest(ctx context.Context, page, limit int) (*tvsubtitles.LatestPage, error)
	MostDownloaded(ctx context.Context) ([]tvsubtitles.FeedItem, error)
	Fallback(ctx context.Context) (*tvsubtitles.FallbackFeed, error)
}

type Podnapisi interface {
	providers.Downloader
	providers.Resolver
	Search(ctx context.Context, query string) (*podnapisi.SearchResult, error)
	Login(ctx context.Context, force bool) error
}

type Addic7ed interface {
	providers.Downloader
	Search(ctx context.Context, query string) ([]addic7ed.Item, error)
}

type YIFY interface {
	providers.Downloader
	Search(ctx context.Context, query string) (*yify.SearchResult, error)
}

// Deps holds what the handlers are built from. A nil provider leaves its
// routes unregistered.
type Deps struct {
	Aggregator    Aggregator
	Proxy         *download.Proxy
	Normalizer    *normalize.Normalizer
	Removed       *normalize.RemovedIDs
	OpenSubtitles OpenSubtitles
	// External serves absolute file URLs passed as an OpenSubtitles fileId.
	External    providers.Downloader
	TVSubtitles TVSubtitles
	Podnapisi   Podnapisi
	Addic7ed    Addic7ed
	YIFY        YIFY
}

// Server routes API requests to the handlers.
type Server struct {
	deps   Deps
	mux    *http.ServeMux
	logger zerolog.Logger
}

func New(deps Deps) *Server {
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.New(deps.Removed)
	}
	s := &Server{
		deps:   deps,
		mux:    http.NewServeMux(),
		logger: config.GetLogger().With().Str("component", "api").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	if s.deps.OpenSubtitles != nil {
		s.mux.HandleFunc("GET /api/subtitles/search", s.searchSubtitles)
		s.mux.HandleFunc("GET /api/subtitles/download", s.downloadSubtitle)
	}
	if s.deps.Removed != nil {
		s.mux.HandleFunc("POST /api/subtitles/removed", s.registerRemoved)
	}
	if s.deps.Aggregator != nil {
		s.mux.HandleFunc("GET /api/subtitles/aggregate", s.aggregate)
		s.mux.HandleFunc("GET /api/subtitles/aggregate/stream", s.aggregateStream)
		s.mux.HandleFunc("GET /api/subtitles/latest", s.feed(s.deps.Aggregator.Latest))
		s.mux.HandleFunc("GET /api/subtitles/top-rated", s.feed(s.deps.Aggregator.TopRated))
	}
	s.mux.HandleFunc("GET /api/download/{provider}", s.downloadAny)

	if s.deps.TVSubtitles != nil {
		s.mux.HandleFunc("GET /api/tvsubtitles/search", s.tvSearch)
		s.mux.HandleFunc("GET /api/tvsubtitles/resolve", s.tvResolve)
		s.mux.HandleFunc("GET /api/tvsubtitles/download", s.tvDownload)
		s.mux.HandleFunc("GET /api/tvsubtitles/show-info", s.tvShowInfo)
		s.mux.HandleFunc("GET /api/tvsubtitles/latest", s.tvLatest)
		s.mux.HandleFunc("GET /api/tvsubtitles/most-downloaded", s.tvMostDownloaded)
		s.mux.HandleFunc("GET /api/tvsubtitles/fallback", s.tvFallback)
	}
	if s.deps.Podnapisi != nil {
		s.mux.HandleFunc("GET /api/podnapisi/search", s.podnapisiSearch)
		s.mux.HandleFunc("GET /api/podnapisi/download", s.podnapisiDownload)
		s.mux.HandleFunc("POST /api/podnapisi/login", s.podnapisiLogin)
	}
	if s.deps.Addic7ed != nil {
		s.mux.HandleFunc("GET /api/addic7ed/search", s.addic7edSearch)
		s.mux.HandleFunc("GET /api/addic7ed/download", s.addic7edDownload)
	}
	if s.deps.YIFY != nil {
		s.mux.HandleFunc("GET /api/yify/search", s.yifySearch)
		s.mux.HandleFunc("GET /api/yify/download", s.yifyDownload)
	}
}

// Handler returns the routes wrapped in panic recovery, Sentry reporting,
// metrics and access logging.
func (s *Server) Handler() http.Handler {
	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	return s.logRequests(s.recoverPanics(sentryHandler.Handle(s.mux)))
}

// NewHTTPServer creates the API HTTP server.
func NewHTTPServer(address string, port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", address, port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		// Sentry hands the mux a copy of r, so r.Pattern is never set here.
		_, route := s.mux.Handler(r)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()

		event := s.logger.Info()
		if rec.status >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Int64("bytes", rec.bytes).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP request")
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("Handler panicked")
				writeError(w, fmt.Errorf("internal error: %v", v))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP serves the bare routes without middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func notFound(resource, id string) error {
	return apperrors.NewNotFoundError(resource, id)
}
