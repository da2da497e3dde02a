package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Belphemur/Sublynk/internal/aggregator"
	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/normalize"
)

const maxRemovedBody = 1 << 20

type searchResponse struct {
	Success bool              `json:"success"`
	Data    []models.Subtitle `json:"data"`
}

// searchSubtitles is the OpenSubtitles-backed search, normalized and with
// unusable records hidden.
func (s *Server) searchSubtitles(w http.ResponseWriter, r *http.Request) {
	query, err := requiredParam(r, "query")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	language := strings.TrimSpace(r.URL.Query().Get("language"))

	raws, err := s.deps.OpenSubtitles.Search(r.Context(), query, language, limit)
	if err != nil {
		s.logger.Warn().Err(err).Str("query", query).Msg("OpenSubtitles search failed")
		writeError(w, err)
		return
	}
	records := s.deps.Normalizer.NormalizeAll(raws, models.SourceOpenSubtitles)
	records = normalize.Filter(records, !boolParam(r, "showUnusable"))
	writeJSON(w, http.StatusOK, searchResponse{Success: true, Data: records})
}

// downloadSubtitle serves an OpenSubtitles file id. Absolute URLs handed out
// instead of an id are proxied when their host is allow-listed.
func (s *Server) downloadSubtitle(w http.ResponseWriter, r *http.Request) {
	req, err := downloadRequest(r, models.SourceOpenSubtitles, "fileId", "fileName")
	if err != nil {
		writeError(w, err)
		return
	}
	if u, perr := url.Parse(req.URL); perr == nil && u.IsAbs() {
		if s.deps.External == nil {
			writeError(w, &apperrors.ErrHostNotAllowed{Provider: string(models.SourceOpenSubtitles), Host: u.Host})
			return
		}
		s.deps.Proxy.ServeWith(w, r, s.deps.External, req)
		return
	}
	s.deps.Proxy.ServeWith(w, r, s.deps.OpenSubtitles, req)
}

// downloadAny serves a download through whichever registered provider the
// path names.
func (s *Server) downloadAny(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("provider")
	source, ok := models.ParseSource(name)
	if !ok {
		writeError(w, notFound("provider", name))
		return
	}
	req, err := downloadRequest(r, source, "url", "filename")
	if err != nil {
		writeError(w, err)
		return
	}
	s.deps.Proxy.Serve(w, r, req)
}

type removedRequest struct {
	IDs []string `json:"ids"`
}

type removedResponse struct {
	Added int `json:"added"`
	Total int `json:"total"`
}

func (s *Server) registerRemoved(w http.ResponseWriter, r *http.Request) {
	var body removedRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRemovedBody)).Decode(&body); err != nil {
		writeError(w, &apperrors.ErrInvalidInput{Field: "body", Reason: "expected {\"ids\": [...]}"})
		return
	}
	added := s.deps.Removed.Add(body.IDs...)
	s.logger.Info().Int("added", added).Int("total", s.deps.Removed.Len()).Msg("Registered removed subtitle ids")
	writeJSON(w, http.StatusOK, removedResponse{Added: added, Total: s.deps.Removed.Len()})
}

func aggregateOptions(r *http.Request) (aggregator.Options, error) {
	var opts aggregator.Options
	var err error
	if opts.Sources, err = sourcesParam(r, "sources"); err != nil {
		return opts, err
	}
	if opts.PerSourceLimit, err = intParam(r, "limit", 0); err != nil {
		return opts, err
	}
	if opts.ChunkSize, err = intParam(r, "chunk", 0); err != nil {
		return opts, err
	}
	opts.ShowUnusable = boolParam(r, "showUnusable")
	return opts, nil
}

func (s *Server) aggregate(w http.ResponseWriter, r *http.Request) {
	opts, err := aggregateOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	records, err := s.deps.Aggregator.Aggregate(r.Context(), query, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []models.Subtitle{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Success: true, Data: records})
}

type streamError struct {
	Error  string `json:"error"`
	Status string `json:"status"`
	// Offline is set when every source was unreachable.
	Offline bool `json:"offline,omitempty"`
}

// aggregateStream writes one JSON chunk per line as sources answer. A final
// error line is written when nothing usable was found.
func (s *Server) aggregateStream(w http.ResponseWriter, r *http.Request) {
	opts, err := aggregateOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("query"))

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)

	for res := range s.deps.Aggregator.Stream(r.Context(), query, opts) {
		var line any = res.Value
		if res.Err != nil {
			var none *apperrors.ErrNoSubtitles
			line = streamError{
				Error:   res.Err.Error(),
				Status:  apperrors.SubtitleStatus(res.Err),
				Offline: errors.As(res.Err, &none) && none.Offline,
			}
		}
		if err := enc.Encode(line); err != nil {
			s.logger.Debug().Err(err).Msg("Aggregate stream client went away")
			return
		}
		_ = rc.Flush()
	}
}

// feed serves one of the aggregated feeds as a bare array.
func (s *Server) feed(load func(context.Context) ([]models.Subtitle, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := load(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if records == nil {
			records = []models.Subtitle{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}
