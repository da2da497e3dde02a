package client

import (
	"net/url"
	"strings"

	"github.com/Belphemur/Sublynk/internal/apperrors"
)

// HostAllowed reports whether host equals one of allowed or is a subdomain of it.
// An empty allow-list accepts everything.
func HostAllowed(host string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, a := range allowed {
		a = strings.ToLower(a)
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

// CheckURL parses rawURL and verifies it is an absolute http(s) URL whose host is
// allow-listed for provider.
func CheckURL(provider, rawURL string, allowed []string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, &apperrors.ErrInvalidInput{Field: "url", Reason: "must be an absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &apperrors.ErrInvalidInput{Field: "url", Reason: "scheme must be http or https"}
	}
	if !HostAllowed(u.Hostname(), allowed) {
		return nil, &apperrors.ErrHostNotAllowed{Provider: provider, Host: u.Hostname()}
	}
	return u, nil
}

// Absolute resolves ref against base. Protocol-relative ("//host/x"), rooted and
// bare relative references are all accepted; unparsable input is returned as-is.
func Absolute(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
