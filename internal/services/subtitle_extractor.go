package services

import (
	"github.com/Belphemur/Sublynk/internal/models"
)

// SubtitleExtractor unpacks subtitle files from downloaded ZIP and RAR archives
type SubtitleExtractor interface {
	// Extract reads the archive in result and returns the subtitle entry for
	// episode (0 picks the first subtitle file). Results that are not archives
	// are returned with their body intact. key, when set, remembers the archive
	// so later episode requests for the same pack skip the download.
	Extract(key string, result *models.DownloadResult, episode int) (*models.DownloadResult, error)

	// ExtractCached serves a request from a remembered archive.
	ExtractCached(key string, episode int) (*models.DownloadResult, bool, error)
}
