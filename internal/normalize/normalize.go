// Package normalize turns provider descriptors into canonical subtitle records
// and decides which records can be offered for download.
package normalize

import (
	"path"
	"strings"

	"github.com/Belphemur/Sublynk/internal/language"
	"github.com/Belphemur/Sublynk/internal/models"
)

// OpenSubtitlesViewURL is the canonical page for an OpenSubtitles record.
const OpenSubtitlesViewURL = "https://www.opensubtitles.com/en/subtitles/"

var subtitleExts = []string{".srt", ".vtt", ".ass", ".ssa", ".sub", ".txt"}

var archiveExts = []string{".zip", ".rar"}

var removedPhrases = []string{
	"content was removed",
	"content removed",
	"deleted subtitle",
	"removed subtitle",
}

// Normalizer maps RawSubtitle values onto models.Subtitle.
type Normalizer struct {
	removed *RemovedIDs
}

// New creates a Normalizer. removed may be nil.
func New(removed *RemovedIDs) *Normalizer {
	return &Normalizer{removed: removed}
}

// Normalize builds the canonical record for raw, or reports false when the
// record must be dropped: no identifier, an explicit removed/disabled status,
// OpenSubtitles removed-content markers, or nothing to download or view.
// raw is never modified.
func (n *Normalizer) Normalize(raw models.RawSubtitle, source models.Source) (models.Subtitle, bool) {
	localID := firstNonEmpty(raw.ID, raw.SubtitleID, raw.AttributesID)
	if localID == "" {
		return models.Subtitle{}, false
	}

	switch models.Status(strings.ToLower(strings.TrimSpace(raw.Status))) {
	case models.StatusRemoved, models.StatusDisabled:
		return models.Subtitle{}, false
	}

	if source == models.SourceOpenSubtitles && n.looksRemoved(localID, raw) {
		return models.Subtitle{}, false
	}

	fileID, fileName := primaryFile(raw)
	status := models.StatusOK
	switch {
	case fileID != "":
	case source == models.SourceOpenSubtitles:
		return models.Subtitle{}, false
	case source == models.SourceTVSubtitles && raw.DownloadPage != "":
		fileID = raw.DownloadPage
	case raw.ExternalURL != "" && raw.DownloadPage != "":
		fileID = raw.DownloadPage
	case raw.ExternalURL != "":
		status = models.StatusExternalOnly
	default:
		return models.Subtitle{}, false
	}

	release := CleanRelease(raw.Release)
	if release == "" {
		release = string(source) + " Release"
	}

	uploader := strings.TrimSpace(raw.Uploader)
	if uploader == "" {
		uploader = string(source)
	}

	if fileName == "" {
		fileName = firstNonEmpty(raw.FileName, baseName(raw.DownloadPage), release, "subtitle-"+localID)
	}

	return models.Subtitle{
		ID:          recordID(source, localID),
		Source:      source,
		FileID:      fileID,
		FileName:    EnsureExtension(fileName, defaultExtension(source)),
		Status:      status,
		ExternalURL: externalURL(source, localID, raw),
		DownloadURL: raw.DownloadPage,
		Attributes: models.Attributes{
			Language:      language.Normalize(raw.Language),
			Release:       release,
			Uploader:      models.Uploader{Name: uploader},
			DownloadCount: raw.DownloadCount,
			UploadedAt:    strings.TrimSpace(raw.UploadedAt),
		},
	}, true
}

// NormalizeAll normalizes a batch, keeping input order and skipping dropped records.
func (n *Normalizer) NormalizeAll(raws []models.RawSubtitle, source models.Source) []models.Subtitle {
	out := make([]models.Subtitle, 0, len(raws))
	for _, raw := range raws {
		if s, ok := n.Normalize(raw, source); ok {
			out = append(out, s)
		}
	}
	return out
}

func (n *Normalizer) looksRemoved(localID string, raw models.RawSubtitle) bool {
	if raw.Removed || n.removed.Contains(localID) {
		return true
	}
	for _, note := range raw.Notes {
		note = strings.ToLower(note)
		for _, phrase := range removedPhrases {
			if strings.Contains(note, phrase) {
				return true
			}
		}
	}
	return false
}

func primaryFile(raw models.RawSubtitle) (string, string) {
	if id := strings.TrimSpace(raw.FileID); id != "" {
		return id, strings.TrimSpace(raw.FileName)
	}
	for _, f := range raw.Files {
		if id := strings.TrimSpace(f.FileID); id != "" {
			return id, strings.TrimSpace(f.FileName)
		}
	}
	return "", ""
}

func externalURL(source models.Source, localID string, raw models.RawSubtitle) string {
	if source == models.SourceOpenSubtitles {
		return OpenSubtitlesViewURL + localID
	}
	return firstNonEmpty(raw.ExternalURL, raw.DownloadPage)
}

func recordID(source models.Source, localID string) string {
	prefix := source.Tag() + "-"
	if strings.HasPrefix(localID, prefix) {
		return localID
	}
	return prefix + localID
}

// Sources that hand out archives default to .zip, the rest to .srt.
func defaultExtension(source models.Source) string {
	switch source {
	case models.SourceTVSubtitles, models.SourcePodnapisi, models.SourceYIFY:
		return ".zip"
	default:
		return ".srt"
	}
}

// EnsureExtension appends ext unless name already ends in a subtitle or archive extension.
func EnsureExtension(name, ext string) string {
	lower := strings.ToLower(name)
	for _, e := range subtitleExts {
		if strings.HasSuffix(lower, e) {
			return name
		}
	}
	for _, e := range archiveExts {
		if strings.HasSuffix(lower, e) {
			return name
		}
	}
	return name + ext
}

// HasSubtitleExtension reports whether name ends in a plain subtitle extension.
func HasSubtitleExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, e := range subtitleExts {
		if strings.HasSuffix(lower, e) {
			return true
		}
	}
	return false
}

// CleanRelease collapses whitespace in a release name.
func CleanRelease(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func baseName(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	b := path.Base(rawURL)
	if b == "." || b == "/" || !strings.Contains(b, ".") {
		return ""
	}
	ext := strings.ToLower(path.Ext(b))
	for _, e := range append(subtitleExts, archiveExts...) {
		if ext == e {
			return b
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
