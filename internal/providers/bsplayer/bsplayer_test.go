package bsplayer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/normalize"
	"github.com/Belphemur/Sublynk/internal/testutil"
)

const listing = `
<div class="subtitle-box"><a href="/subtitles/inception-2010-48211.html">Inception</a><span class="title">Inception.2010.1080p.BluRay</span><span class="language">English</span></div>
<div class="subtitle-box"><a href="https://bsplayer-subtitles.com/download?id=77">Get</a><span class="title"> </span><span class="language">Spanish</span></div>
<div class="subtitle-box"><span class="title">No link</span></div>
<div class="subtitle-box"><a href="/latest">Latest</a></div>
`

func newTestServer(t *testing.T) (*Provider, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "none" {
			_, _ = io.WriteString(w, testutil.Page("<p>No results</p>"))
			return
		}
		_, _ = io.WriteString(w, testutil.Page(listing))
	})
	mux.HandleFunc("/files/inception.srt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-subrip")
		_, _ = io.WriteString(w, testutil.SRT("Dream"))
	})
	mux.HandleFunc("/files/named", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="Inception.EN.srt"`)
		_, _ = io.WriteString(w, testutil.SRT("Dream"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := client.New(client.Options{Provider: string(models.SourceBSPlayer), Timeout: 5 * time.Second})
	return New(c, Options{BaseURL: srv.URL, AllowedHosts: []string{"127.0.0.1"}}), srv
}

func TestSearch(t *testing.T) {
	p, srv := newTestServer(t)

	items, err := p.Search(context.Background(), "Inception")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got %d: %+v", len(items), items)
	}

	tests := []struct {
		id, release, lang, url string
	}{
		{"48211", "Inception.2010.1080p.BluRay", "EN", srv.URL + "/subtitles/inception-2010-48211.html"},
		{"77", defaultRelease, "ES", "https://bsplayer-subtitles.com/download?id=77"},
		{"3", defaultRelease, "EN", srv.URL + "/latest"},
	}
	for i, tt := range tests {
		got := items[i]
		if got.ID != tt.id || got.Release != tt.release || got.Lang != tt.lang || got.DownloadURL != tt.url {
			t.Errorf("Item %d: expected %+v, got %+v", i, tt, got)
		}
	}

	none, err := p.Search(context.Background(), "none")
	if err != nil || len(none) != 0 {
		t.Errorf("Expected no items, got %v (%v)", none, err)
	}
}

func TestSearchRaw_Normalizes(t *testing.T) {
	p, _ := newTestServer(t)
	raws, err := p.SearchRaw(context.Background(), "Inception")
	if err != nil {
		t.Fatalf("SearchRaw failed: %v", err)
	}
	records := normalize.New(nil).NormalizeAll(raws, models.SourceBSPlayer)
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	if records[0].ID != "BSP-48211" || records[0].FileName != "Inception.2010.1080p.BluRay.srt" {
		t.Errorf("Unexpected record %+v", records[0])
	}
}

func TestDownload(t *testing.T) {
	p, srv := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		req      models.DownloadRequest
		filename string
		ctype    string
	}{
		{"url basename", models.DownloadRequest{URL: srv.URL + "/files/inception.srt"}, "inception.srt", "application/x-subrip"},
		{"requested name without disposition", models.DownloadRequest{URL: "/files/inception.srt", FileName: "Mine.srt"}, "Mine.srt", "application/x-subrip"},
		{"disposition wins", models.DownloadRequest{URL: srv.URL + "/files/named", FileName: "Mine.srt"}, "Inception.EN.srt", "text/plain; charset=utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.Download(ctx, tt.req)
			if err != nil {
				t.Fatalf("Download failed: %v", err)
			}
			defer res.Body.Close()
			if res.Filename != tt.filename {
				t.Errorf("Expected filename %q, got %q", tt.filename, res.Filename)
			}
			if res.ContentType != tt.ctype {
				t.Errorf("Expected content type %q, got %q", tt.ctype, res.ContentType)
			}
		})
	}
}

func TestDownload_Errors(t *testing.T) {
	p, srv := newTestServer(t)
	ctx := context.Background()

	if _, err := p.Download(ctx, models.DownloadRequest{}); !errors.Is(err, &apperrors.ErrInvalidInput{}) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
	if _, err := p.Download(ctx, models.DownloadRequest{URL: "https://evil.example/a.srt"}); !errors.Is(err, &apperrors.ErrHostNotAllowed{}) {
		t.Errorf("Expected ErrHostNotAllowed, got %v", err)
	}
	if _, err := p.Download(ctx, models.DownloadRequest{URL: srv.URL + "/files/gone.srt"}); !errors.Is(err, &apperrors.ErrResourceMissing{}) {
		t.Errorf("Expected ErrResourceMissing, got %v", err)
	}
}
