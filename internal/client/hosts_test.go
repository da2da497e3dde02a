package client

import (
	"errors"
	"testing"

	"github.com/Belphemur/Sublynk/internal/apperrors"
)

func TestHostAllowed(t *testing.T) {
	t.Parallel()
	allowed := []string{"tvsubtitles.net"}
	tests := []struct {
		host string
		want bool
	}{
		{"tvsubtitles.net", true},
		{"www.tvsubtitles.net", true},
		{"WWW.TVSUBTITLES.NET", true},
		{"eviltvsubtitles.net", false},
		{"tvsubtitles.net.evil.example", false},
		{"cdn.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			t.Parallel()
			if got := HostAllowed(tt.host, allowed); got != tt.want {
				t.Errorf("HostAllowed(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
	if !HostAllowed("anything.example", nil) {
		t.Error("Expected empty allow-list to accept any host")
	}
}

func TestCheckURL(t *testing.T) {
	t.Parallel()
	allowed := []string{"www.podnapisi.net", "podnapisi.net"}

	if _, err := CheckURL("Podnapisi", "https://www.podnapisi.net/subtitles/en-dune/AbCd", allowed); err != nil {
		t.Errorf("Expected allowed URL to pass, got %v", err)
	}
	if _, err := CheckURL("Podnapisi", "https://files.example.org/a.zip", allowed); !errors.Is(err, &apperrors.ErrHostNotAllowed{}) {
		t.Errorf("Expected ErrHostNotAllowed, got %v", err)
	}
	if _, err := CheckURL("Podnapisi", "ftp://www.podnapisi.net/a.zip", allowed); !errors.Is(err, &apperrors.ErrInvalidInput{}) {
		t.Errorf("Expected ErrInvalidInput for ftp scheme, got %v", err)
	}
	if _, err := CheckURL("Podnapisi", "/subtitles/x", allowed); !errors.Is(err, &apperrors.ErrInvalidInput{}) {
		t.Errorf("Expected ErrInvalidInput for relative URL, got %v", err)
	}
}

func TestAbsolute(t *testing.T) {
	t.Parallel()
	base := "https://www.tvsubtitles.net/tvshow-8.html"
	tests := []struct {
		ref  string
		want string
	}{
		{"download-123-1-en.html", "https://www.tvsubtitles.net/download-123-1-en.html"},
		{"/files/x.zip", "https://www.tvsubtitles.net/files/x.zip"},
		{"//cdn.tvsubtitles.net/x.zip", "https://cdn.tvsubtitles.net/x.zip"},
		{"https://www.tvsubtitles.net/a", "https://www.tvsubtitles.net/a"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Absolute(base, tt.ref); got != tt.want {
			t.Errorf("Absolute(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}
