package models

import "strings"

// Source identifies one external subtitle provider.
type Source string

const (
	SourceOpenSubtitles Source = "OpenSubtitles"
	SourceYIFY          Source = "YIFY"
	SourcePodnapisi     Source = "Podnapisi"
	SourceAddic7ed      Source = "Addic7ed"
	SourceTVSubtitles   Source = "TVSubtitles"
	SourceBSPlayer      Source = "BSPlayer"
	SourceSubDB         Source = "SubDB"
)

// AllSources lists every provider in a stable order.
var AllSources = []Source{
	SourceOpenSubtitles,
	SourceTVSubtitles,
	SourcePodnapisi,
	SourceYIFY,
	SourceAddic7ed,
	SourceBSPlayer,
	SourceSubDB,
}

// String returns the display name of the source
func (s Source) String() string {
	return string(s)
}

// Tag returns the short prefix used when building record ids ("{Tag}-{localId}").
func (s Source) Tag() string {
	switch s {
	case SourceOpenSubtitles:
		return "OS"
	case SourceYIFY:
		return "YIFY"
	case SourcePodnapisi:
		return "POD"
	case SourceAddic7ed:
		return "ADD"
	case SourceTVSubtitles:
		return "TVS"
	case SourceBSPlayer:
		return "BSP"
	case SourceSubDB:
		return "SUBDB"
	default:
		return strings.ToUpper(string(s))
	}
}

// Slug returns the lowercase name used in routes and metric labels.
func (s Source) Slug() string {
	return strings.ToLower(string(s))
}

// ParseSource converts a case-insensitive provider name to a Source.
// "yifysubtitles" and "yifky" are accepted as YIFY aliases.
func ParseSource(name string) (Source, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "opensubtitles":
		return SourceOpenSubtitles, true
	case "yify", "yifky", "yifysubtitles":
		return SourceYIFY, true
	case "podnapisi":
		return SourcePodnapisi, true
	case "addic7ed":
		return SourceAddic7ed, true
	case "tvsubtitles":
		return SourceTVSubtitles, true
	case "bsplayer":
		return SourceBSPlayer, true
	case "subdb":
		return SourceSubDB, true
	default:
		return "", false
	}
}
