package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Belphemur/Sublynk/internal/apperrors"
)

// classify converts an error returned by http.Client.Do into the service error
// taxonomy. Host rejections raised while following redirects pass through untouched.
func classify(provider, rawURL string, err error) error {
	var hostErr *apperrors.ErrHostNotAllowed
	if errors.As(err, &hostErr) {
		return hostErr
	}
	if IsRetriable(err) {
		return &apperrors.ErrNetworkUnavailable{Provider: provider, Err: err}
	}
	return &apperrors.ErrDownloadFailed{Provider: provider, URL: rawURL, Err: err}
}

// CheckStatus returns an error for non-2xx responses. 404 and 410 map to
// ErrResourceMissing, everything else to ErrDownloadFailed carrying the code.
func CheckStatus(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	u := ""
	if resp.Request != nil && resp.Request.URL != nil {
		u = resp.Request.URL.String()
	}
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return &apperrors.ErrResourceMissing{Provider: provider, URL: u}
	default:
		return &apperrors.ErrDownloadFailed{
			Provider:   provider,
			URL:        u,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
}
