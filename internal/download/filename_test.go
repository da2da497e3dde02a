package download

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Inception.2010.srt", "Inception.2010.srt"},
		{"illegal characters", `Who: "Doctor"? <S01>|E01*.srt`, "Who Doctor S01 E01 .srt"},
		{"path separators", "../../etc/passwd", "etc passwd"},
		{"whitespace runs", "  The   Office \t 1x01.srt ", "The Office 1x01.srt"},
		{"control characters", "a\x00b\x1fc.srt", "a b c.srt"},
		{"empty", "", DefaultFilename},
		{"only junk", `<>:"|?*`, DefaultFilename},
		{"unicode kept", "Amélie.srt", "Amélie.srt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SanitizeFilename(tt.in); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename_CapsLengthKeepingExtension(t *testing.T) {
	t.Parallel()
	got := SanitizeFilename(strings.Repeat("é", 400) + ".srt")
	if n := utf8.RuneCountInString(got); n != MaxFilenameLength {
		t.Errorf("Expected %d runes, got %d", MaxFilenameLength, n)
	}
	if !strings.HasSuffix(got, ".srt") {
		t.Errorf("Expected the extension kept, got %q", got[len(got)-8:])
	}
}

func TestContentDisposition(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ascii", "Dark 1x01.srt", `attachment; filename="Dark 1x01.srt"`},
		{"accents folded", "Amélie.srt", `attachment; filename="Amelie.srt"; filename*=UTF-8''Am%C3%A9lie.srt`},
		{"non latin", "Тест.srt", `attachment; filename="____.srt"; filename*=UTF-8''%D0%A2%D0%B5%D1%81%D1%82.srt`},
		{"sanitized first", `a"b.srt`, `attachment; filename="a b.srt"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ContentDisposition(tt.in); got != tt.want {
				t.Errorf("ContentDisposition(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
