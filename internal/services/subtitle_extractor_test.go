package services

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/testutil"
)

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func resultOf(content []byte) (*models.DownloadResult, *trackingBody) {
	body := &trackingBody{Reader: bytes.NewReader(content)}
	return &models.DownloadResult{
		Filename:    "pack.zip",
		ContentType: "application/zip",
		Body:        body,
		ResolvedURL: "https://www.tvsubtitles.net/files/pack.zip",
		Hops:        []string{"https://www.tvsubtitles.net/download-1.html"},
	}, body
}

func readAll(t *testing.T, r *models.DownloadResult) string {
	t.Helper()
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

func seasonPack(t *testing.T) []byte {
	return testutil.ZipBytes(t, map[string]string{
		"Show.S01/readme.nfo":           "release notes",
		"Show.S01/Show.S01E01.720p.srt": testutil.SRT("one"),
		"Show.S01/Show.S01E02.720p.srt": testutil.SRT("two"),
		"Show.S01/Show.S01E10.720p.srt": testutil.SRT("ten"),
		"Show.1x03.ass":                 "[Script Info]",
	})
}

func TestExtract_Episode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		episode  int
		wantFile string
		wantType string
	}{
		{"SxxEyy", 2, "Show.S01E02.720p.srt", "application/x-subrip"},
		{"two digit", 10, "Show.S01E10.720p.srt", "application/x-subrip"},
		{"NxMM", 3, "Show.1x03.ass", "application/x-ass"},
		{"no match uses first subtitle", 7, "Show.1x03.ass", "application/x-ass"},
		{"episode zero", 0, "Show.1x03.ass", "application/x-ass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := NewSubtitleExtractor()
			res, body := resultOf(seasonPack(t))

			got, err := e.Extract("", res, tt.episode)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got.Filename != tt.wantFile {
				t.Errorf("Expected %s, got %s", tt.wantFile, got.Filename)
			}
			if got.ContentType != tt.wantType {
				t.Errorf("Expected content type %s, got %s", tt.wantType, got.ContentType)
			}
			if got.ResolvedURL != res.ResolvedURL || len(got.Hops) != 1 {
				t.Errorf("Expected resolution details to carry over, got %q %v", got.ResolvedURL, got.Hops)
			}
			if !body.closed {
				t.Error("Expected the archive body to be closed")
			}
			readAll(t, got)
		})
	}
}

func TestExtract_EpisodeBoundary(t *testing.T) {
	t.Parallel()
	pack := testutil.ZipBytes(t, map[string]string{
		"a/Show.S01E010.srt": testutil.SRT("wrong"),
		"b/Show.S01E01.srt":  testutil.SRT("right"),
	})
	res, _ := resultOf(pack)
	got, err := NewSubtitleExtractor().Extract("", res, 1)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Filename != "Show.S01E01.srt" {
		t.Errorf("Expected Show.S01E01.srt, got %s", got.Filename)
	}
	if body := readAll(t, got); !strings.Contains(body, "right") {
		t.Errorf("Unexpected content %q", body)
	}
}

func TestExtract_NotAnArchive(t *testing.T) {
	t.Parallel()
	srt := testutil.SRT("plain")
	body := &trackingBody{Reader: strings.NewReader(srt)}
	res := &models.DownloadResult{Filename: "movie.srt", ContentType: "application/x-subrip", Body: body}

	got, err := NewSubtitleExtractor().Extract("", res, 0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Filename != "movie.srt" {
		t.Errorf("Expected filename kept, got %s", got.Filename)
	}
	if content := readAll(t, got); content != srt {
		t.Errorf("Expected the full body, got %q", content)
	}
	if !body.closed {
		t.Error("Expected closing the result to close the original body")
	}
}

func TestExtract_NoSubtitleFiles(t *testing.T) {
	t.Parallel()
	pack := testutil.ZipBytes(t, map[string]string{"readme.txt.nfo": "x", "cover.jpg": "y"})
	res, _ := resultOf(pack)

	_, err := NewSubtitleExtractor().Extract("", res, 0)
	var missing *apperrors.ErrResourceMissing
	if !errors.As(err, &missing) {
		t.Fatalf("Expected ErrResourceMissing, got %v", err)
	}
	if len(missing.Candidates) != 2 {
		t.Errorf("Expected 2 candidates, got %v", missing.Candidates)
	}
}

func TestExtract_CorruptArchives(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content []byte
	}{
		{"zip", append([]byte("PK\x03\x04"), bytes.Repeat([]byte{0}, 32)...)},
		{"rar", append([]byte("Rar!\x1a\x07\x00"), bytes.Repeat([]byte{0xff}, 32)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, _ := resultOf(tt.content)
			_, err := NewSubtitleExtractor().Extract("", res, 0)
			if !errors.Is(err, &apperrors.ErrParseMismatch{}) {
				t.Errorf("Expected ErrParseMismatch, got %v", err)
			}
		})
	}
}

func TestExtractCached(t *testing.T) {
	t.Parallel()
	e := NewSubtitleExtractor()
	if _, ok, _ := e.ExtractCached("TVSubtitles::pack", 1); ok {
		t.Fatal("Expected a miss before any download")
	}

	res, _ := resultOf(seasonPack(t))
	first, err := e.Extract("TVSubtitles::pack", res, 1)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	readAll(t, first)

	got, ok, err := e.ExtractCached("TVSubtitles::pack", 2)
	if err != nil || !ok {
		t.Fatalf("Expected cached extraction, got ok=%v err=%v", ok, err)
	}
	if got.Filename != "Show.S01E02.720p.srt" {
		t.Errorf("Expected episode 2 from the cached pack, got %s", got.Filename)
	}
}

func TestExtractCached_UnmatchedEpisodeFallsBack(t *testing.T) {
	t.Parallel()
	e := NewSubtitleExtractor()
	res, _ := resultOf(seasonPack(t))
	first, err := e.Extract("Podnapisi::pack", res, 0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	readAll(t, first)

	got, ok, err := e.ExtractCached("Podnapisi::pack", 42)
	if err != nil || !ok {
		t.Fatalf("Expected cached extraction, got ok=%v err=%v", ok, err)
	}
	if got.Filename != "Show.1x03.ass" {
		t.Errorf("Expected the first subtitle, got %s", got.Filename)
	}
	readAll(t, got)
}

func TestGetContentTypeFromFilename(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"a.SRT": "application/x-subrip",
		"a.ssa": "application/x-ass",
		"a.vtt": "text/vtt",
		"a.sub": "application/x-sub",
		"a.rar": "application/vnd.rar",
		"a.bin": "application/octet-stream",
		"noext": "application/octet-stream",
	}
	for name, want := range tests {
		if got := getContentTypeFromFilename(name); got != want {
			t.Errorf("getContentTypeFromFilename(%q) = %q, want %q", name, got, want)
		}
	}
}
