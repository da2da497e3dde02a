package services

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/klauspost/compress/zip"
	"github.com/nwaples/rardecode/v2"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/config"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/normalize"
)

// MaxArchiveSize bounds how much of an archive is read into memory.
const MaxArchiveSize = 32 << 20

var (
	zipMagic = []byte("PK\x03\x04")
	rarMagic = []byte("Rar!\x1a\x07")
)

// archiveEntry is one file read out of an archive.
type archiveEntry struct {
	name    string
	content []byte
}

// DefaultSubtitleExtractor implements SubtitleExtractor with a small cache of
// recently opened archives.
type DefaultSubtitleExtractor struct {
	archives *lru.LRU[string, []byte]
}

// NewSubtitleExtractor creates an extractor remembering up to 100 archives for
// one hour.
func NewSubtitleExtractor() SubtitleExtractor {
	return &DefaultSubtitleExtractor{
		archives: lru.NewLRU[string, []byte](100, nil, time.Hour),
	}
}

func (d *DefaultSubtitleExtractor) Extract(key string, result *models.DownloadResult, episode int) (*models.DownloadResult, error) {
	logger := config.GetLogger()

	br := bufio.NewReader(result.Body)
	head, _ := br.Peek(len(rarMagic))
	if !isZip(head) && !isRar(head) {
		logger.Debug().
			Str("filename", result.Filename).
			Str("contentType", result.ContentType).
			Msg("Download is not an archive, returning as-is")
		out := *result
		out.Body = readCloser{Reader: br, Closer: result.Body}
		return &out, nil
	}
	defer result.Body.Close()

	content, err := io.ReadAll(io.LimitReader(br, MaxArchiveSize+1))
	if err != nil {
		return nil, &apperrors.ErrDownloadFailed{Provider: "archive", URL: result.ResolvedURL, Err: err}
	}
	if len(content) > MaxArchiveSize {
		return nil, &apperrors.ErrDownloadFailed{Provider: "archive", URL: result.ResolvedURL, Err: fmt.Errorf("archive larger than %d bytes", MaxArchiveSize)}
	}
	if key != "" {
		d.archives.Add(key, content)
	}

	extracted, err := d.extract(content, episode)
	if err != nil {
		return nil, err
	}
	extracted.ResolvedURL = result.ResolvedURL
	extracted.Hops = result.Hops
	return extracted, nil
}

func (d *DefaultSubtitleExtractor) ExtractCached(key string, episode int) (*models.DownloadResult, bool, error) {
	content, ok := d.archives.Get(key)
	if !ok {
		return nil, false, nil
	}
	logger := config.GetLogger()
	logger.Debug().Str("key", key).Int("episode", episode).Msg("Serving extraction from cached archive")
	out, err := d.extract(content, episode)
	return out, true, err
}

func (d *DefaultSubtitleExtractor) extract(content []byte, episode int) (*models.DownloadResult, error) {
	logger := config.GetLogger()

	var (
		entries []archiveEntry
		err     error
	)
	if isRar(content) {
		entries, err = readRar(content)
	} else {
		entries, err = readZip(content)
	}
	if err != nil {
		return nil, &apperrors.ErrParseMismatch{Provider: "archive", Detail: err.Error()}
	}

	entry, ok := pickEntry(entries, episode)
	if !ok {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.name
		}
		return nil, &apperrors.ErrResourceMissing{Provider: "archive", URL: "subtitle file", Candidates: names}
	}

	logger.Info().
		Str("filename", entry.name).
		Int("size", len(entry.content)).
		Int("episode", episode).
		Msg("Extracted subtitle from archive")

	return &models.DownloadResult{
		Filename:    entry.name,
		ContentType: getContentTypeFromFilename(entry.name),
		Body:        io.NopCloser(bytes.NewReader(entry.content)),
	}, nil
}

// episodePattern matches S03E01, 3x01 and E01, but not E010 when looking for E01.
func episodePattern(episode int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?i)(?:s\d+e%02d(?:\D|$)|\d+x%02d(?:\D|$)|(?:^|[^a-z])e%02d(?:\D|$))`, episode, episode, episode))
}

// pickEntry returns the subtitle file for episode. With an episode that no file
// matches, or with episode 0, the first subtitle file wins.
func pickEntry(entries []archiveEntry, episode int) (archiveEntry, bool) {
	var subtitles []archiveEntry
	for _, e := range entries {
		if normalize.HasSubtitleExtension(e.name) {
			subtitles = append(subtitles, e)
		}
	}
	if len(subtitles) == 0 {
		return archiveEntry{}, false
	}
	if episode > 0 {
		pattern := episodePattern(episode)
		for _, e := range subtitles {
			if pattern.MatchString(e.name) {
				return e, true
			}
		}
		logger := config.GetLogger()
		logger.Debug().Int("episode", episode).Int("files", len(subtitles)).Msg("No file matches the episode, using the first subtitle")
	}
	return subtitles[0], true
}

func readZip(content []byte) ([]archiveEntry, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	var entries []archiveEntry
	for _, file := range zr.File {
		if file.FileInfo().IsDir() {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", file.Name, err)
		}
		data, err := io.ReadAll(io.LimitReader(rc, MaxArchiveSize))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file.Name, err)
		}
		entries = append(entries, archiveEntry{name: filepath.Base(file.Name), content: data})
	}
	return entries, nil
}

func readRar(content []byte) ([]archiveEntry, error) {
	rr, err := rardecode.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open rar: %w", err)
	}
	var entries []archiveEntry
	for {
		header, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read rar header: %w", err)
		}
		if header.IsDir {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(rr, MaxArchiveSize))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", header.Name, err)
		}
		name := filepath.Base(strings.ReplaceAll(header.Name, `\`, "/"))
		entries = append(entries, archiveEntry{name: name, content: data})
	}
}

func isZip(head []byte) bool { return bytes.HasPrefix(head, zipMagic) }

func isRar(head []byte) bool { return bytes.HasPrefix(head, rarMagic) }

type readCloser struct {
	io.Reader
	io.Closer
}

// getContentTypeFromFilename derives MIME type from file extension
func getContentTypeFromFilename(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".srt":
		return "application/x-subrip"
	case ".ass", ".ssa":
		return "application/x-ass"
	case ".vtt":
		return "text/vtt"
	case ".sub":
		return "application/x-sub"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".zip":
		return "application/zip"
	case ".rar":
		return "application/vnd.rar"
	default:
		return "application/octet-stream"
	}
}
