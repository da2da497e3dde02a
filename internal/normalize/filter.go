package normalize

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/Belphemur/Sublynk/internal/models"
)

// TVSubtitlesHosts are the only hosts a TVSubtitles page link may point to.
var TVSubtitlesHosts = []string{"www.tvsubtitles.net", "tvsubtitles.net"}

var openSubtitlesBarePage = regexp.MustCompile(`/subtitles/\d+$`)

// IsDownloadable reports whether the record carries a file reference.
func IsDownloadable(s models.Subtitle) bool {
	return strings.TrimSpace(s.FileID) != ""
}

// IsValidExternal reports whether the record's page link can be shown to the
// user: an absolute http(s) URL that is not one of OpenSubtitles' removed or
// bare-id pages. TVSubtitles links must also stay on TVSubtitles hosts.
func IsValidExternal(s models.Subtitle) bool {
	raw := strings.TrimSpace(s.ExternalURL)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())

	if s.Source == models.SourceTVSubtitles {
		for _, h := range TVSubtitlesHosts {
			if host == h {
				return true
			}
		}
		return false
	}

	if strings.Contains(host, "opensubtitles.") {
		p := strings.ToLower(u.Path)
		if strings.Contains(p, "/removed") || strings.Contains(p, "content-was-removed") || openSubtitlesBarePage.MatchString(p) {
			return false
		}
	}
	return true
}

// IsUsable reports whether a record can be offered at all.
func IsUsable(s models.Subtitle) bool {
	return IsDownloadable(s) || IsValidExternal(s)
}

// Tag returns a copy of s whose status reflects usability: unusable records
// become "unusable", page-only records "external-only". Records already carrying
// a non-offerable status keep it.
func Tag(s models.Subtitle) models.Subtitle {
	if !s.Status.Offerable() && s.Status != "" {
		return s
	}
	switch {
	case !IsUsable(s):
		return s.WithStatus(models.StatusUnusable)
	case !IsDownloadable(s):
		return s.WithStatus(models.StatusExternalOnly)
	case s.Status == "":
		return s.WithStatus(models.StatusOK)
	default:
		return s
	}
}

// Filter tags every record. With hideUnusable set, records that cannot be
// offered are left out; otherwise they are returned tagged.
func Filter(records []models.Subtitle, hideUnusable bool) []models.Subtitle {
	out := make([]models.Subtitle, 0, len(records))
	for _, r := range records {
		tagged := Tag(r)
		if hideUnusable && !tagged.Status.Offerable() {
			continue
		}
		out = append(out, tagged)
	}
	return out
}
