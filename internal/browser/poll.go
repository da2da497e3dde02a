package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoDownload is returned when the polling window closes without a file.
var ErrNoDownload = errors.New("no downloaded file appeared")

// partialSuffixes mark files Chrome is still writing.
var partialSuffixes = []string{".crdownload", ".part", ".tmp"}

// WaitForFile polls dir up to attempts times, interval apart, for a regular file
// whose name ends in ext (case-insensitive, empty matches any). In-progress
// downloads are ignored. The newest match wins.
func WaitForFile(ctx context.Context, dir, ext string, attempts int, interval time.Duration) (string, error) {
	if attempts <= 0 {
		attempts = 1
	}
	ext = strings.ToLower(ext)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < attempts; i++ {
		if path, ok := findFile(dir, ext); ok {
			return path, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
	return "", ErrNoDownload
}

func findFile(dir, ext string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	type candidate struct {
		path string
		mod  time.Time
	}
	var found []candidate
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := strings.ToLower(e.Name())
		if isPartial(name) || (ext != "" && !strings.HasSuffix(name, ext)) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		found = append(found, candidate{path: filepath.Join(dir, e.Name()), mod: info.ModTime()})
	}
	if len(found) == 0 {
		return "", false
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod.After(found[j].mod) })
	return found[0].path, true
}

func isPartial(name string) bool {
	for _, s := range partialSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
