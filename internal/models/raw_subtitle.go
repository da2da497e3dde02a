package models

// RawFile is one file entry of a provider record.
type RawFile struct {
	FileID   string
	FileName string
}

// RawSubtitle is the provisional descriptor emitted by a provider adapter before
// normalization. Fields mirror the different shapes providers return; any of the
// id fields may be empty.
type RawSubtitle struct {
	ID           string
	SubtitleID   string
	AttributesID string

	FileID   string
	FileName string
	Files    []RawFile

	Status  string
	Removed bool
	// Notes collects free text (description, comment, tags) used by the removed-content heuristics.
	Notes []string

	// DownloadPage is a provider page the download proxy can resolve into a file.
	DownloadPage string
	ExternalURL  string

	Language      string
	Release       string
	Uploader      string
	DownloadCount int
	UploadedAt    string
}
