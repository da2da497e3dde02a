package models

import "encoding/json"

// Status tags a canonical record with its availability.
type Status string

const (
	StatusOK           Status = "ok"
	StatusExternalOnly Status = "external-only"
	StatusUnusable     Status = "unusable"
	StatusMissing      Status = "missing"
	StatusRemoved      Status = "removed"
	StatusDisabled     Status = "disabled"
)

// Offerable reports whether a record with this status may be presented to the user.
func (s Status) Offerable() bool {
	return s == StatusOK || s == StatusExternalOnly
}

// Uploader is the person or site that published a subtitle
type Uploader struct {
	Name string `json:"name"`
}

// Attributes holds the display metadata of a canonical record
type Attributes struct {
	Language      string   `json:"language"`
	Release       string   `json:"release"`
	Uploader      Uploader `json:"uploader"`
	DownloadCount int      `json:"download_count"`
	UploadedAt    string   `json:"uploaded_at"` // ISO timestamp, relative-time text or empty
	Note          string   `json:"note,omitempty"`
}

// Subtitle is the canonical record exchanged between all components.
// Records are values: operations that change a field return a modified copy.
type Subtitle struct {
	ID          string     `json:"id"`
	Source      Source     `json:"source"`
	FileID      string     `json:"file_id"`
	FileName    string     `json:"file_name"`
	Status      Status     `json:"status"`
	ExternalURL string     `json:"external_url"`
	DownloadURL string     `json:"download_url,omitempty"` // provider page the download proxy resolves
	Attributes  Attributes `json:"attributes"`
}

// WithStatus returns a copy of s carrying the given status.
func (s Subtitle) WithStatus(status Status) Subtitle {
	s.Status = status
	return s
}

type subtitleJSON struct {
	ID          string    `json:"id"`
	Source      Source    `json:"source"`
	FileID      *string   `json:"file_id"`
	FileName    string    `json:"file_name"`
	Status      Status    `json:"status"`
	ExternalURL *string   `json:"external_url"`
	DownloadURL string    `json:"download_url,omitempty"`
	Attributes  attrsJSON `json:"attributes"`
}

type attrsJSON struct {
	Language      string   `json:"language"`
	Release       string   `json:"release"`
	Uploader      Uploader `json:"uploader"`
	DownloadCount int      `json:"download_count"`
	UploadedAt    *string  `json:"uploaded_at"`
	Note          string   `json:"note,omitempty"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// MarshalJSON encodes empty file_id, external_url and uploaded_at as null.
func (s Subtitle) MarshalJSON() ([]byte, error) {
	return json.Marshal(subtitleJSON{
		ID:          s.ID,
		Source:      s.Source,
		FileID:      nullable(s.FileID),
		FileName:    s.FileName,
		Status:      s.Status,
		ExternalURL: nullable(s.ExternalURL),
		DownloadURL: s.DownloadURL,
		Attributes: attrsJSON{
			Language:      s.Attributes.Language,
			Release:       s.Attributes.Release,
			Uploader:      s.Attributes.Uploader,
			DownloadCount: s.Attributes.DownloadCount,
			UploadedAt:    nullable(s.Attributes.UploadedAt),
			Note:          s.Attributes.Note,
		},
	})
}

// UnmarshalJSON is the inverse of MarshalJSON; it is used when records are read back from a cache.
func (s *Subtitle) UnmarshalJSON(data []byte) error {
	var raw subtitleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Subtitle{
		ID:          raw.ID,
		Source:      raw.Source,
		FileID:      deref(raw.FileID),
		FileName:    raw.FileName,
		Status:      raw.Status,
		ExternalURL: deref(raw.ExternalURL),
		DownloadURL: raw.DownloadURL,
		Attributes: Attributes{
			Language:      raw.Attributes.Language,
			Release:       raw.Attributes.Release,
			Uploader:      raw.Attributes.Uploader,
			DownloadCount: raw.Attributes.DownloadCount,
			UploadedAt:    deref(raw.Attributes.UploadedAt),
			Note:          raw.Attributes.Note,
		},
	}
	return nil
}

// DedupKey is the aggregation deduplication key: (source, language, release-or-id).
func (s Subtitle) DedupKey() string {
	release := s.Attributes.Release
	if release == "" {
		release = s.ID
	}
	return string(s.Source) + "::" + s.Attributes.Language + "::" + release
}

// Chunk is one incremental delivery of a source's results during aggregation.
// Done marks the last chunk for that source.
type Chunk struct {
	Source    Source     `json:"source"`
	Subtitles []Subtitle `json:"subtitles"`
	Done      bool       `json:"done"`
}
