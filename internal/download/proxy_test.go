package download

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/providers"
	"github.com/Belphemur/Sublynk/internal/testutil"
)

// stubProvider serves a fixed body, or fails with err.
type stubProvider struct {
	source   models.Source
	body     []byte
	filename string
	err      error
	calls    atomic.Int32
	onFetch  func(req models.DownloadRequest)
}

func (s *stubProvider) Source() models.Source { return s.source }

func (s *stubProvider) SearchRaw(context.Context, string) ([]models.RawSubtitle, error) {
	return nil, nil
}

func (s *stubProvider) Download(_ context.Context, req models.DownloadRequest) (*models.DownloadResult, error) {
	s.calls.Add(1)
	if s.onFetch != nil {
		s.onFetch(req)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &models.DownloadResult{
		Filename:    s.filename,
		ContentType: "application/zip",
		Body:        io.NopCloser(strings.NewReader(string(s.body))),
		ResolvedURL: "https://www.tvsubtitles.net/files/pack.zip",
		Hops:        []string{"https://www.tvsubtitles.net/download-1-1-en.html", "https://www.tvsubtitles.net/files/pack.zip"},
	}, nil
}

type transitions struct {
	mu   sync.Mutex
	byID map[string][]State
}

func (t *transitions) record(id string, _, to State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byID == nil {
		t.byID = map[string][]State{}
	}
	t.byID[id] = append(t.byID[id], to)
}

func (t *transitions) only(tb testing.TB) []State {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.byID) != 1 {
		tb.Fatalf("Expected one request, got %d", len(t.byID))
	}
	for _, states := range t.byID {
		return states
	}
	return nil
}

func newTestProxy(t *testing.T, ps ...providers.Provider) (*Proxy, *transitions, string) {
	t.Helper()
	dir := t.TempDir()
	tr := &transitions{}
	return New(providers.NewRegistry(ps...), nil, Options{TempDir: dir, OnTransition: tr.record}), tr, dir
}

func serve(p *Proxy, req models.DownloadRequest) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/tvsubtitles/download", nil)
	p.Serve(rec, r, req)
	return rec
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestServe_StreamsFile(t *testing.T) {
	stub := &stubProvider{source: models.SourceTVSubtitles, body: []byte("PK-data"), filename: "Breaking Bad - 1x01.zip"}
	var workDir string
	stub.onFetch = func(req models.DownloadRequest) {
		workDir = req.WorkDir
		if _, err := os.Stat(req.WorkDir); err != nil {
			t.Errorf("Expected the work dir to exist during download: %v", err)
		}
		if req.RequestID == "" {
			t.Error("Expected a request id")
		}
	}
	p, tr, root := newTestProxy(t, stub)

	rec := serve(p, models.DownloadRequest{Source: models.SourceTVSubtitles, URL: "https://www.tvsubtitles.net/download-1-1-en.html"})

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(HeaderSubtitleStatus); got != "ok" {
		t.Errorf("Expected X-Subtitle-Status ok, got %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="Breaking Bad - 1x01.zip"` {
		t.Errorf("Unexpected Content-Disposition %q", got)
	}
	if rec.Body.String() != "PK-data" {
		t.Errorf("Unexpected body %q", rec.Body.String())
	}
	if rec.Header().Get(HeaderRequestID) != "" {
		t.Error("Expected no debug headers without debug")
	}
	want := []State{StatePending, StateResolving, StateFetchingFile, StateStreaming, StateDone}
	if got := tr.only(t); !equalStates(got, want) {
		t.Errorf("Expected states %v, got %v", want, got)
	}
	if !strings.HasPrefix(workDir, root) {
		t.Errorf("Expected the work dir under %s, got %s", root, workDir)
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Errorf("Expected the work dir to be removed, stat err = %v", err)
	}
}

func TestServe_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantStatus string
	}{
		{"missing", &apperrors.ErrResourceMissing{Provider: "TVSubtitles", URL: "x"}, http.StatusNotFound, "missing"},
		{"host", &apperrors.ErrHostNotAllowed{Provider: "TVSubtitles", Host: "evil.example"}, http.StatusBadRequest, "failed"},
		{"network", &apperrors.ErrNetworkUnavailable{Provider: "TVSubtitles", Err: errors.New("timeout")}, http.StatusServiceUnavailable, "failed-server"},
		{"blocked", &apperrors.ErrUpstreamBlocked{Provider: "TVSubtitles"}, http.StatusBadGateway, "failed-server"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubProvider{source: models.SourceTVSubtitles, err: tt.err}
			p, tr, _ := newTestProxy(t, stub)

			rec := serve(p, models.DownloadRequest{Source: models.SourceTVSubtitles, URL: "https://www.tvsubtitles.net/download-1.html"})
			if rec.Code != tt.wantCode {
				t.Errorf("Expected %d, got %d", tt.wantCode, rec.Code)
			}
			if got := rec.Header().Get(HeaderSubtitleStatus); got != tt.wantStatus {
				t.Errorf("Expected X-Subtitle-Status %s, got %s", tt.wantStatus, got)
			}
			var body ErrorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("Expected JSON body: %v", err)
			}
			if body.Status != tt.wantStatus || body.Error == "" {
				t.Errorf("Unexpected body %+v", body)
			}
			states := tr.only(t)
			if states[len(states)-1] != StateFailed {
				t.Errorf("Expected FAILED last, got %v", states)
			}
		})
	}
}

func TestServe_UnknownProviderAndMissingURL(t *testing.T) {
	p, _, _ := newTestProxy(t, &stubProvider{source: models.SourceYIFY})

	rec := serve(p, models.DownloadRequest{Source: models.SourcePodnapisi, URL: "https://www.podnapisi.net/x"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unregistered provider, got %d", rec.Code)
	}

	rec = serve(p, models.DownloadRequest{Source: models.SourceYIFY})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without a url, got %d", rec.Code)
	}
}

func TestServe_DebugHeaders(t *testing.T) {
	stub := &stubProvider{source: models.SourceTVSubtitles, body: []byte("PK"), filename: "pack.zip"}
	p, _, _ := newTestProxy(t, stub)

	rec := serve(p, models.DownloadRequest{Source: models.SourceTVSubtitles, URL: "https://www.tvsubtitles.net/download-1-1-en.html", Debug: true})
	h := rec.Header()
	if h.Get(HeaderRequestID) == "" {
		t.Error("Expected a request id header")
	}
	if h.Get(HeaderResolvedURL) != "https://www.tvsubtitles.net/files/pack.zip" {
		t.Errorf("Unexpected resolved url %q", h.Get(HeaderResolvedURL))
	}
	if h.Get(HeaderElapsedMs) == "" {
		t.Error("Expected an elapsed header")
	}
	raw, err := url.QueryUnescape(h.Get(HeaderRedirectHops))
	if err != nil {
		t.Fatalf("Hops header not URL-encoded: %v", err)
	}
	var hops []string
	if err := json.Unmarshal([]byte(raw), &hops); err != nil || len(hops) != 2 {
		t.Errorf("Expected 2 hops, got %q (%v)", raw, err)
	}
}

func TestServe_ExtractsEpisodeAndReusesArchive(t *testing.T) {
	pack := testutil.ZipBytes(t, map[string]string{
		"Show.S02E01.srt": testutil.SRT("first"),
		"Show.S02E02.srt": testutil.SRT("second"),
	})
	stub := &stubProvider{source: models.SourceTVSubtitles, body: pack, filename: "pack.zip"}
	p, _, _ := newTestProxy(t, stub)
	req := models.DownloadRequest{Source: models.SourceTVSubtitles, URL: "https://www.tvsubtitles.net/download-9-2-en.html", Episode: 2}

	rec := serve(p, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "Show.S02E02.srt") {
		t.Errorf("Expected the episode filename, got %q", rec.Header().Get("Content-Disposition"))
	}
	if !strings.Contains(rec.Body.String(), "second") {
		t.Errorf("Unexpected body %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-subrip" {
		t.Errorf("Expected application/x-subrip, got %s", ct)
	}

	req.Episode = 1
	rec = serve(p, req)
	if !strings.Contains(rec.Body.String(), "first") {
		t.Errorf("Unexpected body %q", rec.Body.String())
	}
	if n := stub.calls.Load(); n != 1 {
		t.Errorf("Expected the archive to be downloaded once, got %d", n)
	}
}

func TestServe_ConcurrentRequestsUseDistinctWorkDirs(t *testing.T) {
	var mu sync.Mutex
	dirs := map[string]bool{}
	release := make(chan struct{})
	var entered sync.WaitGroup
	entered.Add(2)

	stub := &stubProvider{source: models.SourceTVSubtitles, body: []byte("PK"), filename: "ep.zip"}
	stub.onFetch = func(req models.DownloadRequest) {
		if err := os.WriteFile(filepath.Join(req.WorkDir, "ep.zip"), []byte("PK"), 0o600); err != nil {
			t.Errorf("write: %v", err)
		}
		mu.Lock()
		dirs[req.WorkDir] = true
		mu.Unlock()
		entered.Done()
		<-release
		if _, err := os.Stat(filepath.Join(req.WorkDir, "ep.zip")); err != nil {
			t.Errorf("Expected the in-flight file to survive: %v", err)
		}
	}
	p, _, _ := newTestProxy(t, stub)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serve(p, models.DownloadRequest{Source: models.SourceTVSubtitles, URL: "https://www.tvsubtitles.net/download-5-1-en.html"})
		}()
	}
	entered.Wait()
	close(release)
	wg.Wait()

	if len(dirs) != 2 {
		t.Errorf("Expected 2 distinct work dirs, got %v", dirs)
	}
	for dir := range dirs {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Errorf("Expected %s removed", dir)
		}
	}
}

func TestExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone.srt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-subrip")
		_, _ = io.WriteString(w, testutil.SRT("hello"))
	}))
	defer srv.Close()

	c := client.New(client.Options{Provider: "OpenSubtitles"})
	allowed := NewExternal(c, models.SourceOpenSubtitles, []string{"127.0.0.1"})

	res, err := allowed.Download(context.Background(), models.DownloadRequest{URL: srv.URL + "/files/movie.srt", FileName: "Movie.srt"})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer res.Body.Close()
	if res.Filename != "Movie.srt" {
		t.Errorf("Expected the caller filename, got %s", res.Filename)
	}

	if _, err := allowed.Download(context.Background(), models.DownloadRequest{URL: srv.URL + "/gone.srt"}); !errors.Is(err, &apperrors.ErrResourceMissing{}) {
		t.Errorf("Expected ErrResourceMissing, got %v", err)
	}
	if _, err := allowed.Download(context.Background(), models.DownloadRequest{URL: "https://evil.example/x.srt"}); !errors.Is(err, &apperrors.ErrHostNotAllowed{}) {
		t.Errorf("Expected ErrHostNotAllowed, got %v", err)
	}
	if _, err := allowed.Download(context.Background(), models.DownloadRequest{URL: "ftp://127.0.0.1/x.srt"}); !errors.Is(err, &apperrors.ErrInvalidInput{}) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}

	closed := NewExternal(c, models.SourceOpenSubtitles, nil)
	if _, err := closed.Download(context.Background(), models.DownloadRequest{URL: srv.URL + "/files/movie.srt"}); !errors.Is(err, &apperrors.ErrHostNotAllowed{}) {
		t.Errorf("Expected an empty allow-list to refuse, got %v", err)
	}
}
