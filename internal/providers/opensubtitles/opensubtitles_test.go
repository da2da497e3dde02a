package opensubtitles

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/cache"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/normalize"
)

const searchBody = `{
  "total_count": 3,
  "data": [
    {
      "id": "9001",
      "attributes": {
        "subtitle_id": "9001",
        "language": "en",
        "download_count": 1200,
        "release": "Inception.2010.1080p.BluRay",
        "upload_date": "2020-01-02T03:04:05Z",
        "uploader": {"name": "subber"},
        "feature_details": {"title": "Inception"},
        "files": [
          {"file_id": 11, "file_name": "Inception.nfo"},
          {"file_id": 12, "file_name": "Inception.2010.srt"}
        ]
      }
    },
    {
      "id": "9002",
      "attributes": {
        "language": "en",
        "release": "Inception.2010.720p",
        "description": "Content was removed by the uploader",
        "files": [{"file_id": 21, "file_name": "Inception.720p.srt"}]
      }
    },
    {
      "id": "9003",
      "attributes": {
        "language": "en",
        "feature_details": {"title": "Inception"},
        "files": [{"file_id": 31}]
      }
    }
  ]
}`

type fakeAPI struct {
	logins   atomic.Int32
	searches atomic.Int32
	files    atomic.Int32
	// rejectFirst answers the first authenticated call with this status.
	rejectFirst int
	lastQuery   atomic.Value
}

func (f *fakeAPI) handler(srvURL func() string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Api-Key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "user" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := f.logins.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"token":"tok-`+string(rune('0'+n))+`","expires_in":3600}`)
	})
	authorized := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		if f.rejectFirst != 0 && r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(f.rejectFirst)
			return false
		}
		return true
	}
	mux.HandleFunc("/api/v1/subtitles", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		f.searches.Add(1)
		f.lastQuery.Store(r.URL.Query().Get("query"))
		_, _ = io.WriteString(w, searchBody)
	})
	mux.HandleFunc("/api/v1/download", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		if r.URL.Query().Get("file_id") == "404" {
			_, _ = io.WriteString(w, `{"message":"not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"link":"`+srvURL()+`/files/`+r.URL.Query().Get("file_id")+`.srt"}`)
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		f.files.Add(1)
		w.Header().Set("Content-Type", "application/x-subrip")
		_, _ = io.WriteString(w, "1\n00:00:01,000 --> 00:00:02,000\nHello\n")
	})
	return mux
}

func newTestProvider(t *testing.T, api *fakeAPI) (*Provider, *httptest.Server) {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(api.handler(func() string { return srv.URL }))
	t.Cleanup(srv.Close)

	c := client.New(client.Options{Provider: string(models.SourceOpenSubtitles), Timeout: 5 * time.Second})
	files, err := cache.New("memory", cache.ProviderConfig{Size: 10, TTL: time.Hour})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	t.Cleanup(func() { _ = files.Close() })
	return New(c, files, Options{
		BaseURL:      srv.URL + "/api/v1",
		APIKey:       "key",
		Username:     "user",
		Password:     "pass",
		AllowedHosts: []string{"127.0.0.1"},
	}), srv
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Inception.2010.1080p.BluRay", "Inception"},
		{"The_Matrix (1999) [YTS]", "The Matrix"},
		{"breaking-bad", "breaking bad"},
		{"  Dune   Part Two 2024 ", "Dune Part Two"},
		{"2012", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeTitle(tt.input); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestSearch_DecodesAndDropsRemoved(t *testing.T) {
	api := &fakeAPI{}
	p, _ := newTestProvider(t, api)

	raws, err := p.Search(context.Background(), "Inception.2010.1080p", "", 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if q, _ := api.lastQuery.Load().(string); q != "Inception" {
		t.Errorf("Expected normalized query Inception, got %q", q)
	}
	if len(raws) != 3 {
		t.Fatalf("Expected 3 raw records, got %d", len(raws))
	}

	first := raws[0]
	if first.FileID != "12" || first.FileName != "Inception.2010.srt" {
		t.Errorf("Expected the .srt file to be picked, got %s %s", first.FileID, first.FileName)
	}
	if first.Uploader != "subber" || first.DownloadCount != 1200 {
		t.Errorf("Unexpected metadata: %+v", first)
	}
	if raws[2].FileName != "Inception.srt" {
		t.Errorf("Expected fallback name Inception.srt, got %s", raws[2].FileName)
	}

	records := normalize.New(nil).NormalizeAll(raws, models.SourceOpenSubtitles)
	if len(records) != 2 {
		t.Fatalf("Expected removed record to be dropped, got %d records", len(records))
	}
	for _, r := range records {
		if r.ID == "OS-9002" {
			t.Error("Expected OS-9002 to be excluded")
		}
	}
	if records[0].ExternalURL != normalize.OpenSubtitlesViewURL+"9001" {
		t.Errorf("Unexpected external url %s", records[0].ExternalURL)
	}
}

func TestSearch_ReusesToken(t *testing.T) {
	api := &fakeAPI{}
	p, _ := newTestProvider(t, api)

	for i := 0; i < 3; i++ {
		if _, err := p.SearchRaw(context.Background(), "Inception"); err != nil {
			t.Fatalf("Search %d failed: %v", i, err)
		}
	}
	if got := api.logins.Load(); got != 1 {
		t.Errorf("Expected 1 login, got %d", got)
	}
}

func TestSearch_RefreshesNearExpiry(t *testing.T) {
	api := &fakeAPI{}
	p, _ := newTestProvider(t, api)
	now := time.Now()
	p.now = func() time.Time { return now }

	if _, err := p.SearchRaw(context.Background(), "Inception"); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	now = now.Add(time.Hour - 10*time.Second)
	if _, err := p.SearchRaw(context.Background(), "Inception"); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if got := api.logins.Load(); got != 2 {
		t.Errorf("Expected a second login inside the expiry window, got %d", got)
	}
}

func TestSearch_ReloginOnRejectedToken(t *testing.T) {
	for _, status := range []int{statusTooManyTokens, http.StatusUnauthorized} {
		api := &fakeAPI{rejectFirst: status}
		p, _ := newTestProvider(t, api)

		if _, err := p.SearchRaw(context.Background(), "Inception"); err != nil {
			t.Fatalf("status %d: Search failed: %v", status, err)
		}
		if got := api.logins.Load(); got != 2 {
			t.Errorf("status %d: expected 2 logins, got %d", status, got)
		}
		if got := api.searches.Load(); got != 1 {
			t.Errorf("status %d: expected 1 successful search, got %d", status, got)
		}
	}
}

func TestSearch_LoginRejected(t *testing.T) {
	api := &fakeAPI{}
	p, _ := newTestProvider(t, api)
	p.opts.Username = "someone-else"

	_, err := p.SearchRaw(context.Background(), "Inception")
	if !errors.Is(err, &apperrors.ErrUpstreamBlocked{}) {
		t.Fatalf("Expected ErrUpstreamBlocked, got %v", err)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	p, _ := newTestProvider(t, &fakeAPI{})
	_, err := p.Search(context.Background(), "  ", "en", 5)
	if !errors.Is(err, &apperrors.ErrInvalidInput{}) {
		t.Fatalf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestDownload_SignedLinkAndCache(t *testing.T) {
	api := &fakeAPI{}
	p, _ := newTestProvider(t, api)

	for i := 0; i < 2; i++ {
		res, err := p.Download(context.Background(), models.DownloadRequest{URL: "12", FileName: "Inception"})
		if err != nil {
			t.Fatalf("Download %d failed: %v", i, err)
		}
		body, _ := io.ReadAll(res.Body)
		_ = res.Body.Close()
		if res.Filename != "Inception.srt" {
			t.Errorf("Expected Inception.srt, got %s", res.Filename)
		}
		if len(body) == 0 {
			t.Error("Expected a subtitle body")
		}
	}
	if got := api.files.Load(); got != 1 {
		t.Errorf("Expected the file to be fetched once, got %d", got)
	}
}

func TestDownload_DefaultName(t *testing.T) {
	p, _ := newTestProvider(t, &fakeAPI{})
	res, err := p.Download(context.Background(), models.DownloadRequest{URL: "31"})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer res.Body.Close()
	if res.Filename != "subtitle-31.srt" {
		t.Errorf("Expected subtitle-31.srt, got %s", res.Filename)
	}
}

func TestDownload_Errors(t *testing.T) {
	p, _ := newTestProvider(t, &fakeAPI{})

	_, err := p.Download(context.Background(), models.DownloadRequest{URL: "abc"})
	if !errors.Is(err, &apperrors.ErrInvalidInput{}) {
		t.Errorf("Expected ErrInvalidInput for non-numeric id, got %v", err)
	}

	_, err = p.Download(context.Background(), models.DownloadRequest{URL: "404"})
	if !errors.Is(err, &apperrors.ErrResourceMissing{}) {
		t.Errorf("Expected ErrResourceMissing without a link, got %v", err)
	}

	p.opts.AllowedHosts = []string{"opensubtitles.com"}
	_, err = p.Download(context.Background(), models.DownloadRequest{URL: "55"})
	if !errors.Is(err, &apperrors.ErrHostNotAllowed{}) {
		t.Errorf("Expected ErrHostNotAllowed for a foreign link, got %v", err)
	}
}
