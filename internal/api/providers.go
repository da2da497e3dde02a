package api

import (
	"net/http"

	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/providers/addic7ed"
)

const defaultFeedLimit = 20

func (s *Server) tvSearch(w http.ResponseWriter, r *http.Request) {
	query, err := requiredParam(r, "query")
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.deps.TVSubtitles.Search(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) tvResolve(w http.ResponseWriter, r *http.Request) {
	raw, err := requiredParam(r, "url")
	if err != nil {
		writeError(w, err)
		return
	}
	debug := boolParam(r, "debug")
	target, err := s.deps.TVSubtitles.Resolve(r.Context(), raw, debug)
	if err != nil {
		writeError(w, err)
		return
	}
	if debug && target.URL == "" {
		target.URL = raw
	}
	writeJSON(w, http.StatusOK, target)
}

func (s *Server) tvDownload(w http.ResponseWriter, r *http.Request) {
	req, err := downloadRequest(r, models.SourceTVSubtitles, "url", "filename")
	if err != nil {
		writeError(w, err)
		return
	}
	s.deps.Proxy.ServeWith(w, r, s.deps.TVSubtitles, req)
}

func (s *Server) tvShowInfo(w http.ResponseWriter, r *http.Request) {
	raw, err := requiredParam(r, "url")
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := s.deps.TVSubtitles.ShowInfo(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) tvLatest(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := intParam(r, "limit", defaultFeedLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.deps.TVSubtitles.Latest(r.Context(), max(page, 1), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) tvMostDownloaded(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.TVSubtitles.MostDownloaded(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

func (s *Server) tvFallback(w http.ResponseWriter, r *http.Request) {
	feed, err := s.deps.TVSubtitles.Fallback(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *Server) podnapisiSearch(w http.ResponseWriter, r *http.Request) {
	query, err := requiredParam(r, "query")
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.deps.Podnapisi.Search(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type podnapisiDebug struct {
	OK             bool     `json:"ok"`
	ResolvedZipURL string   `json:"resolvedZipUrl"`
	Hops           []string `json:"hops"`
	FormDownload   bool     `json:"formDownload"`
}

// podnapisiDownload streams the archive, or with debug set reports how the
// page resolved without fetching it.
func (s *Server) podnapisiDownload(w http.ResponseWriter, r *http.Request) {
	req, err := downloadRequest(r, models.SourcePodnapisi, "url", "filename")
	if err != nil {
		writeError(w, err)
		return
	}
	if !req.Debug {
		s.deps.Proxy.ServeWith(w, r, s.deps.Podnapisi, req)
		return
	}

	target, err := s.deps.Podnapisi.Resolve(r.Context(), req.URL, true)
	if err != nil {
		writeError(w, err)
		return
	}
	hops := target.Hops
	if hops == nil {
		hops = []string{}
	}
	writeJSON(w, http.StatusOK, podnapisiDebug{
		OK:             true,
		ResolvedZipURL: target.DownloadURL,
		Hops:           hops,
		FormDownload:   target.FormDownload,
	})
}

func (s *Server) podnapisiLogin(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Podnapisi.Login(r.Context(), true); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type addic7edResponse struct {
	Subtitles []addic7ed.Item `json:"subtitles"`
}

func (s *Server) addic7edSearch(w http.ResponseWriter, r *http.Request) {
	query, err := requiredParam(r, "query")
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := s.deps.Addic7ed.Search(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []addic7ed.Item{}
	}
	writeJSON(w, http.StatusOK, addic7edResponse{Subtitles: items})
}

func (s *Server) addic7edDownload(w http.ResponseWriter, r *http.Request) {
	req, err := downloadRequest(r, models.SourceAddic7ed, "url", "name")
	if err != nil {
		writeError(w, err)
		return
	}
	s.deps.Proxy.ServeWith(w, r, s.deps.Addic7ed, req)
}

func (s *Server) yifySearch(w http.ResponseWriter, r *http.Request) {
	query, err := requiredParam(r, "query")
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.deps.YIFY.Search(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) yifyDownload(w http.ResponseWriter, r *http.Request) {
	req, err := downloadRequest(r, models.SourceYIFY, "url", "filename")
	if err != nil {
		writeError(w, err)
		return
	}
	s.deps.Proxy.ServeWith(w, r, s.deps.YIFY, req)
}
