package download

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxFilenameLength caps sanitized names, extension included.
const MaxFilenameLength = 150

// DefaultFilename is used when nothing usable is left after sanitizing.
const DefaultFilename = "subtitle"

var (
	illegalRe    = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\x7f]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// SanitizeFilename strips filesystem-illegal characters, collapses whitespace
// and caps the length while keeping the extension.
func SanitizeFilename(name string) string {
	name = illegalRe.ReplaceAllString(name, " ")
	name = strings.TrimSpace(whitespaceRe.ReplaceAllString(name, " "))
	name = strings.Trim(name, ". ")
	if name == "" {
		return DefaultFilename
	}
	if utf8.RuneCountInString(name) <= MaxFilenameLength {
		return name
	}

	ext := filepath.Ext(name)
	if utf8.RuneCountInString(ext) > 10 {
		ext = ""
	}
	stem := []rune(strings.TrimSuffix(name, ext))
	keep := MaxFilenameLength - utf8.RuneCountInString(ext)
	return strings.TrimSpace(string(stem[:keep])) + ext
}

// ASCIIFilename folds accents away and replaces whatever is still outside
// printable ASCII, for the plain filename parameter.
func ASCIIFilename(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	var sb strings.Builder
	for _, r := range folded {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			sb.WriteByte('_')
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// ContentDisposition builds an attachment header carrying both the ASCII
// filename and the RFC 5987 UTF-8 form.
func ContentDisposition(name string) string {
	name = SanitizeFilename(name)
	header := `attachment; filename="` + ASCIIFilename(name) + `"`
	if ASCIIFilename(name) != name {
		header += "; filename*=UTF-8''" + encodeExtValue(name)
	}
	return header
}

// encodeExtValue percent-encodes everything outside the RFC 5987 attr-char set.
func encodeExtValue(s string) string {
	const hex = "0123456789ABCDEF"
	var sb strings.Builder
	for _, b := range []byte(s) {
		if isAttrChar(b) {
			sb.WriteByte(b)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hex[b>>4])
		sb.WriteByte(hex[b&0x0f])
	}
	return sb.String()
}

func isAttrChar(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", b) >= 0
}
