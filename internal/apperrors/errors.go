package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound represents an error when a requested resource is not found.
type ErrNotFound struct {
	Resource string
	ID       interface{}
}

// Error implements the error interface.
func (e *ErrNotFound) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("%s with ID %v not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is allows for error checking with errors.Is().
func (e *ErrNotFound) Is(target error) bool {
	_, ok := target.(*ErrNotFound)
	return ok
}

// NewNotFoundError creates a new ErrNotFound.
func NewNotFoundError(resource string, id interface{}) *ErrNotFound {
	return &ErrNotFound{
		Resource: resource,
		ID:       id,
	}
}

// ErrInvalidInput is returned when a caller supplied a missing or malformed parameter.
type ErrInvalidInput struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ErrInvalidInput) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is allows for error checking with errors.Is().
func (e *ErrInvalidInput) Is(target error) bool {
	_, ok := target.(*ErrInvalidInput)
	return ok
}

// ErrNetworkUnavailable covers DNS, connection and timeout class failures.
type ErrNetworkUnavailable struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ErrNetworkUnavailable) Error() string {
	return fmt.Sprintf("%s: network unavailable: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *ErrNetworkUnavailable) Unwrap() error { return e.Err }

// Is allows for error checking with errors.Is().
func (e *ErrNetworkUnavailable) Is(target error) bool {
	_, ok := target.(*ErrNetworkUnavailable)
	return ok
}

// ErrUpstreamBlocked is returned when a login wall or anti-bot challenge was detected.
type ErrUpstreamBlocked struct {
	Provider string
	URL      string
}

// Error implements the error interface.
func (e *ErrUpstreamBlocked) Error() string {
	return fmt.Sprintf("%s: upstream blocked at %s", e.Provider, e.URL)
}

// Is allows for error checking with errors.Is().
func (e *ErrUpstreamBlocked) Is(target error) bool {
	_, ok := target.(*ErrUpstreamBlocked)
	return ok
}

// ErrParseMismatch is returned when the expected page structure was not found.
type ErrParseMismatch struct {
	Provider string
	URL      string
	Detail   string
}

// Error implements the error interface.
func (e *ErrParseMismatch) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: unexpected page structure at %s: %s", e.Provider, e.URL, e.Detail)
	}
	return fmt.Sprintf("%s: unexpected page structure at %s", e.Provider, e.URL)
}

// Is allows for error checking with errors.Is().
func (e *ErrParseMismatch) Is(target error) bool {
	_, ok := target.(*ErrParseMismatch)
	return ok
}

// ErrResourceMissing is returned when a page exists but carries no downloadable artifact.
type ErrResourceMissing struct {
	Provider string
	URL      string
	// Candidates lists links that were considered, for diagnostics.
	Candidates []string
}

// Error implements the error interface.
func (e *ErrResourceMissing) Error() string {
	return fmt.Sprintf("%s: no downloadable file at %s", e.Provider, e.URL)
}

// Is allows for error checking with errors.Is().
func (e *ErrResourceMissing) Is(target error) bool {
	_, ok := target.(*ErrResourceMissing)
	return ok
}

// ErrHostNotAllowed is returned when a resolved URL leaves the provider's allow-listed domains.
type ErrHostNotAllowed struct {
	Provider string
	Host     string
}

// Error implements the error interface.
func (e *ErrHostNotAllowed) Error() string {
	return fmt.Sprintf("%s: host %q is not allowed", e.Provider, e.Host)
}

// Is allows for error checking with errors.Is().
func (e *ErrHostNotAllowed) Is(target error) bool {
	_, ok := target.(*ErrHostNotAllowed)
	return ok
}

// ErrDownloadFailed is a generic failure during the final fetch or stream.
type ErrDownloadFailed struct {
	Provider   string
	URL        string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *ErrDownloadFailed) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("%s: download of %s failed with status %d: %v", e.Provider, e.URL, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: download of %s failed: %v", e.Provider, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s: download of %s failed with status %d", e.Provider, e.URL, e.StatusCode)
	}
}

// Unwrap returns the underlying cause, if any.
func (e *ErrDownloadFailed) Unwrap() error { return e.Err }

// Is allows for error checking with errors.Is().
func (e *ErrDownloadFailed) Is(target error) bool {
	_, ok := target.(*ErrDownloadFailed)
	return ok
}

// ErrNoSubtitles is returned by the aggregator when no source produced a usable record.
type ErrNoSubtitles struct {
	Query   string
	Offline bool
	// Source is set when only a single source was queried.
	Source string
}

// Error implements the error interface.
func (e *ErrNoSubtitles) Error() string {
	switch {
	case e.Offline:
		return "network unavailable: all subtitle sources are unreachable"
	case e.Source != "":
		return fmt.Sprintf("no subtitles found on %s for %q", e.Source, e.Query)
	default:
		return fmt.Sprintf("no subtitles found for %q", e.Query)
	}
}

// Is allows for error checking with errors.Is().
func (e *ErrNoSubtitles) Is(target error) bool {
	_, ok := target.(*ErrNoSubtitles)
	return ok
}

// Subtitle status header values.
const (
	SubtitleStatusOK           = "ok"
	SubtitleStatusMissing      = "missing"
	SubtitleStatusFailed       = "failed"
	SubtitleStatusFailedServer = "failed-server"
)

// HTTPStatus maps an error onto the HTTP status code returned to API callers.
func HTTPStatus(err error) int {
	var dl *ErrDownloadFailed
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, &ErrInvalidInput{}), errors.Is(err, &ErrHostNotAllowed{}):
		return http.StatusBadRequest
	case errors.Is(err, &ErrResourceMissing{}), errors.Is(err, &ErrNotFound{}), errors.Is(err, &ErrNoSubtitles{}):
		return http.StatusNotFound
	case errors.Is(err, &ErrNetworkUnavailable{}):
		return http.StatusServiceUnavailable
	case errors.Is(err, &ErrUpstreamBlocked{}), errors.Is(err, &ErrParseMismatch{}):
		return http.StatusBadGateway
	case errors.As(err, &dl) && dl.StatusCode >= 400 && dl.StatusCode < 500:
		return dl.StatusCode
	case errors.As(err, &dl):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// SubtitleStatus maps an error onto the X-Subtitle-Status header value.
func SubtitleStatus(err error) string {
	switch {
	case err == nil:
		return SubtitleStatusOK
	case errors.Is(err, &ErrResourceMissing{}):
		return SubtitleStatusMissing
	case HTTPStatus(err) >= http.StatusInternalServerError:
		return SubtitleStatusFailedServer
	default:
		return SubtitleStatusFailed
	}
}
