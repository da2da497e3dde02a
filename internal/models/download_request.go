package models

import "io"

// DownloadRequest describes one download proxied through a provider
type DownloadRequest struct {
	Source    Source
	URL       string // provider page or file URL
	FileName  string // caller-suggested filename, optional
	Debug     bool
	Extract   bool // unpack the subtitle from a ZIP/RAR archive
	Episode   int  // episode to pick from a season pack (0 = first subtitle file)
	RequestID string
	// WorkDir is a directory owned by this request alone. Providers that drive a
	// browser download into it; the caller removes it once the body is streamed.
	WorkDir string
}

// DownloadResult is the streamed file produced by a provider download.
// Body must be closed by the caller.
type DownloadResult struct {
	Filename    string
	ContentType string
	Body        io.ReadCloser
	ResolvedURL string
	Hops        []string
}

// Target is the outcome of resolving a provider page into a downloadable URL.
type Target struct {
	URL          string         `json:"url,omitempty"`
	DownloadURL  string         `json:"downloadUrl"`
	Provider     string         `json:"provider"`
	Hops         []string       `json:"hops,omitempty"`
	FormDownload bool           `json:"formDownload,omitempty"`
	Debug        map[string]any `json:"debug,omitempty"`
}
