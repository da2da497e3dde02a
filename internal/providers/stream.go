package providers

import (
	"bufio"
	"bytes"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/models"
)

var zipMagic = []byte("PK\x03\x04")

var rarMagic = []byte("Rar!")

// StreamResponse turns a successful file response into a DownloadResult. The
// filename comes from Content-Disposition, then the final URL, then fallback.
// The response body is handed over to the result; on error it is closed.
func StreamResponse(provider string, resp *http.Response, fallback string) (*models.DownloadResult, error) {
	if err := client.CheckStatus(provider, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	resolved := ""
	if resp.Request != nil && resp.Request.URL != nil {
		resolved = resp.Request.URL.String()
	}
	return &models.DownloadResult{
		Filename:    ResponseFilename(resp, fallback),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
		ResolvedURL: resolved,
	}, nil
}

// ResponseFilename extracts a filename from the Content-Disposition header
// (filename*, quoted or bare filename), falling back to the basename of the
// request URL and finally to fallback.
func ResponseFilename(resp *http.Response, fallback string) string {
	if name := DispositionFilename(resp.Header.Get("Content-Disposition")); name != "" {
		return name
	}
	if resp.Request != nil && resp.Request.URL != nil {
		if name := urlBasename(resp.Request.URL); name != "" {
			return name
		}
	}
	return fallback
}

// DispositionFilename parses a Content-Disposition value. mime.ParseMediaType
// already decodes RFC 5987 filename* values; a lenient scan handles headers it
// rejects, such as unquoted names with spaces.
func DispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(header); err == nil {
		if name := strings.TrimSpace(params["filename"]); name != "" {
			return path.Base(name)
		}
	}
	for _, part := range strings.Split(header, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "filename*":
			if _, enc, ok := strings.Cut(value, "''"); ok {
				if decoded, err := url.PathUnescape(enc); err == nil && decoded != "" {
					return path.Base(decoded)
				}
			}
		case "filename":
			if v := strings.Trim(strings.TrimSpace(value), `"'`); v != "" {
				return path.Base(v)
			}
		}
	}
	return ""
}

func urlBasename(u *url.URL) string {
	b := path.Base(u.Path)
	if b == "." || b == "/" || !strings.Contains(b, ".") {
		return ""
	}
	if decoded, err := url.PathUnescape(b); err == nil {
		return decoded
	}
	return b
}

type peekedBody struct {
	io.Reader
	io.Closer
}

// Sniff returns up to n leading bytes of the response body without consuming
// them.
func Sniff(resp *http.Response, n int) []byte {
	br := bufio.NewReaderSize(resp.Body, max(n, 16))
	head, _ := br.Peek(n)
	resp.Body = peekedBody{Reader: br, Closer: resp.Body}
	return head
}

// IsArchive reports whether head starts with a ZIP or RAR signature.
func IsArchive(head []byte) bool {
	return bytes.HasPrefix(head, zipMagic) || bytes.HasPrefix(head, rarMagic)
}

// LooksLikeHTML reports whether head is the start of an HTML document.
func LooksLikeHTML(head []byte) bool {
	trimmed := bytes.ToLower(bytes.TrimSpace(head))
	return bytes.HasPrefix(trimmed, []byte("<!doctype html")) || bytes.HasPrefix(trimmed, []byte("<html"))
}

// OpenFile wraps a file produced by a browser download as a DownloadResult.
func OpenFile(filePath, contentType string) (*models.DownloadResult, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	return &models.DownloadResult{
		Filename:    filepath.Base(filePath),
		ContentType: contentType,
		Body:        f,
	}, nil
}

// WorkDir returns dir, or a fresh temporary directory named after prefix
// together with the function that removes it when the caller supplied none.
func WorkDir(dir, prefix string) (string, func(), error) {
	if dir != "" {
		return dir, func() {}, nil
	}
	tmp, err := os.MkdirTemp("", prefix+"-")
	if err != nil {
		return "", nil, err
	}
	return tmp, func() { os.RemoveAll(tmp) }, nil
}

// RemoveOnClose runs cleanup after body is closed.
func RemoveOnClose(body io.ReadCloser, cleanup func()) io.ReadCloser {
	return &removeOnClose{ReadCloser: body, cleanup: cleanup}
}

type removeOnClose struct {
	io.ReadCloser
	cleanup func()
}

func (r *removeOnClose) Close() error {
	err := r.ReadCloser.Close()
	r.cleanup()
	return err
}
