// Package opensubtitles talks to the OpenSubtitles REST API: login with token
// reuse, subtitle search and signed-link downloads.
package opensubtitles

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/cache"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/config"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/normalize"
)

// DefaultBaseURL is the v1 REST API root.
const DefaultBaseURL = "https://api.opensubtitles.com/api/v1"

const (
	defaultTokenTTL = time.Hour
	tokenSkew       = 30 * time.Second
	// statusTooManyTokens is returned when the bearer token is stale or over quota.
	statusTooManyTokens = 437
	maxFileSize         = 10 << 20
)

// Hosts are the domains OpenSubtitles serves API responses and files from.
var Hosts = []string{"opensubtitles.com", "opensubtitles.org"}

var (
	separatorRe = regexp.MustCompile(`[._-]`)
	bracketRe   = regexp.MustCompile(`\(.*?\)|\[.*?\]`)
	yearTailRe  = regexp.MustCompile(`\d{4}.*$`)
	spacesRe    = regexp.MustCompile(`\s+`)
	numericRe   = regexp.MustCompile(`^\d+$`)
)

// Options configures the API client.
type Options struct {
	BaseURL  string
	APIKey   string
	Username string
	Password string
	// Limit caps results per search when the caller passes none.
	Limit int
	// AllowedHosts restricts where signed download links may point. Defaults to Hosts.
	AllowedHosts []string
}

// Provider is the OpenSubtitles adapter.
type Provider struct {
	client client.Client
	opts   Options
	files  cache.Cache
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// New creates the adapter. files caches downloaded file bodies by file id and
// may be nil.
func New(c client.Client, files cache.Cache, opts Options) *Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if len(opts.AllowedHosts) == 0 {
		opts.AllowedHosts = Hosts
	}
	return &Provider{
		client: c,
		opts:   opts,
		files:  files,
		logger: config.GetLogger().With().Str("provider", string(models.SourceOpenSubtitles)).Logger(),
		now:    time.Now,
	}
}

func (p *Provider) Source() models.Source { return models.SourceOpenSubtitles }

// NormalizeTitle turns a release-style query into a plain title: separators
// become spaces, bracketed text is dropped and everything from a four-digit
// year on is cut.
func NormalizeTitle(title string) string {
	t := separatorRe.ReplaceAllString(title, " ")
	t = bracketRe.ReplaceAllString(t, "")
	t = yearTailRe.ReplaceAllString(t, "")
	return strings.TrimSpace(spacesRe.ReplaceAllString(t, " "))
}

func (p *Provider) headers(token string) []client.RequestOption {
	opts := []client.RequestOption{
		client.WithHeader("Api-Key", p.opts.APIKey),
		client.WithHeader("Accept", "application/json"),
	}
	if token != "" {
		opts = append(opts, client.WithHeader("Authorization", "Bearer "+token))
	}
	return opts
}

// authenticate returns a bearer token, logging in when none is cached, the
// cached one is within 30 seconds of expiry, or force is set.
func (p *Provider) authenticate(ctx context.Context, force bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !force && p.token != "" && p.now().Before(p.expires.Add(-tokenSkew)) {
		return p.token, nil
	}

	body := map[string]string{"username": p.opts.Username, "password": p.opts.Password}
	resp, err := p.client.PostJSON(ctx, p.opts.BaseURL+"/login", body, p.headers("")...)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &apperrors.ErrNetworkUnavailable{Provider: string(models.SourceOpenSubtitles), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		p.logger.Warn().Int("status", resp.StatusCode).Msg("OpenSubtitles login rejected")
		return "", &apperrors.ErrUpstreamBlocked{Provider: string(models.SourceOpenSubtitles), URL: p.opts.BaseURL + "/login"}
	}

	token := gjson.GetBytes(data, "token").String()
	if token == "" {
		return "", &apperrors.ErrParseMismatch{Provider: string(models.SourceOpenSubtitles), URL: p.opts.BaseURL + "/login", Detail: "no token in login response"}
	}
	ttl := defaultTokenTTL
	if secs := gjson.GetBytes(data, "expires_in").Int(); secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	p.token = token
	p.expires = p.now().Add(ttl)
	p.logger.Info().Dur("ttl", ttl).Msg("Authenticated with OpenSubtitles")
	return token, nil
}

// call performs an authenticated GET, logging in again once when the API
// answers 401 or 437.
func (p *Provider) call(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	target := p.opts.BaseURL + endpoint + "?" + params.Encode()
	for attempt := 0; ; attempt++ {
		token, err := p.authenticate(ctx, attempt > 0)
		if err != nil {
			return nil, err
		}
		resp, err := p.client.Get(ctx, target, p.headers(token)...)
		if err != nil {
			return nil, err
		}
		if (resp.StatusCode == statusTooManyTokens || resp.StatusCode == http.StatusUnauthorized) && attempt == 0 {
			resp.Body.Close()
			p.logger.Warn().Int("status", resp.StatusCode).Msg("Token rejected, logging in again")
			continue
		}
		if err := client.CheckStatus(string(models.SourceOpenSubtitles), resp); err != nil {
			resp.Body.Close()
			return nil, err
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &apperrors.ErrNetworkUnavailable{Provider: string(models.SourceOpenSubtitles), Err: err}
		}
		return data, nil
	}
}

// Search queries /subtitles. language defaults to "en" and limit to the
// configured cap.
func (p *Provider) Search(ctx context.Context, query, language string, limit int) ([]models.RawSubtitle, error) {
	normalized := NormalizeTitle(query)
	if normalized == "" {
		normalized = strings.TrimSpace(query)
	}
	if normalized == "" {
		return nil, &apperrors.ErrInvalidInput{Field: "query", Reason: "must not be empty"}
	}
	if language == "" {
		language = "en"
	}
	if limit <= 0 {
		limit = p.opts.Limit
	}

	params := url.Values{}
	params.Set("query", normalized)
	params.Set("languages", language)
	params.Set("limit", strconv.Itoa(limit))
	data, err := p.call(ctx, "/subtitles", params)
	if err != nil {
		return nil, err
	}

	items := gjson.GetBytes(data, "data")
	if !items.IsArray() {
		return nil, &apperrors.ErrParseMismatch{Provider: string(models.SourceOpenSubtitles), URL: p.opts.BaseURL + "/subtitles", Detail: "missing data array"}
	}
	var raws []models.RawSubtitle
	items.ForEach(func(_, item gjson.Result) bool {
		raws = append(raws, decodeItem(item))
		return true
	})
	p.logger.Debug().Str("query", normalized).Int("results", len(raws)).Msg("OpenSubtitles search")
	return raws, nil
}

// SearchRaw searches English subtitles with the configured limit.
func (p *Provider) SearchRaw(ctx context.Context, query string) ([]models.RawSubtitle, error) {
	return p.Search(ctx, query, "en", 0)
}

// firstString returns the first non-empty value among paths.
func firstString(item gjson.Result, paths ...string) string {
	for _, path := range paths {
		if v := item.Get(path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func anyTrue(item gjson.Result, paths ...string) bool {
	for _, path := range paths {
		if item.Get(path).Bool() {
			return true
		}
	}
	return false
}

func decodeItem(item gjson.Result) models.RawSubtitle {
	attrs := item.Get("attributes")

	var files []models.RawFile
	for _, f := range firstArray(item, "attributes.files", "files") {
		files = append(files, models.RawFile{
			FileID:   firstString(f, "file_id", "id"),
			FileName: firstString(f, "file_name", "filename", "name"),
		})
	}
	best := bestFile(files)

	name := best.FileName
	if name == "" {
		name = firstString(attrs, "release", "feature_details.title")
	}
	if name == "" {
		name = "subtitle_" + item.Get("id").String()
	}

	var notes []string
	for _, path := range []string{"description", "comments", "attributes.description", "attributes.comments"} {
		if v := item.Get(path).String(); v != "" {
			notes = append(notes, v)
		}
	}
	for _, tag := range firstArray(item, "attributes.tags", "tags") {
		notes = append(notes, tag.String())
	}

	return models.RawSubtitle{
		ID:            item.Get("id").String(),
		SubtitleID:    item.Get("subtitle_id").String(),
		AttributesID:  firstString(attrs, "subtitle_id", "id"),
		FileID:        best.FileID,
		FileName:      ensureSubtitleExt(strings.TrimSpace(name)),
		Files:         files,
		Status:        firstString(item, "status", "attributes.status"),
		Removed:       anyTrue(item, "removed", "deleted", "attributes.removed", "attributes.deleted", "attributes.is_removed"),
		Notes:         notes,
		Language:      attrs.Get("language").String(),
		Release:       firstString(attrs, "release", "feature_details.title"),
		Uploader:      attrs.Get("uploader.name").String(),
		DownloadCount: int(attrs.Get("download_count").Int()),
		UploadedAt:    attrs.Get("upload_date").String(),
	}
}

func firstArray(item gjson.Result, paths ...string) []gjson.Result {
	for _, path := range paths {
		if v := item.Get(path); v.IsArray() {
			return v.Array()
		}
	}
	return nil
}

// bestFile prefers a file with a subtitle extension, then the first file
// carrying an id.
func bestFile(files []models.RawFile) models.RawFile {
	for _, f := range files {
		if f.FileID != "" && normalize.HasSubtitleExtension(f.FileName) {
			return f
		}
	}
	for _, f := range files {
		if f.FileID != "" {
			return f
		}
	}
	return models.RawFile{}
}

func ensureSubtitleExt(name string) string {
	if name == "" {
		return "subtitle.srt"
	}
	if normalize.HasSubtitleExtension(name) {
		return name
	}
	return name + ".srt"
}

// SignedLink exchanges a file id for a temporary download URL.
func (p *Provider) SignedLink(ctx context.Context, fileID string) (string, error) {
	params := url.Values{}
	params.Set("file_id", fileID)
	data, err := p.call(ctx, "/download", params)
	if err != nil {
		return "", err
	}
	link := gjson.GetBytes(data, "link").String()
	if link == "" {
		return "", &apperrors.ErrResourceMissing{Provider: string(models.SourceOpenSubtitles), URL: p.opts.BaseURL + "/download?" + params.Encode()}
	}
	return link, nil
}

// Download fetches the file behind a numeric file id. Bodies are cached by
// file id so repeated downloads skip the signed-link round trip.
func (p *Provider) Download(ctx context.Context, req models.DownloadRequest) (*models.DownloadResult, error) {
	fileID := strings.TrimSpace(req.URL)
	if !numericRe.MatchString(fileID) {
		return nil, &apperrors.ErrInvalidInput{Field: "fileId", Reason: "must be a numeric OpenSubtitles file id"}
	}
	name := ensureSubtitleExt(strings.TrimSpace(req.FileName))
	if strings.TrimSpace(req.FileName) == "" {
		name = fmt.Sprintf("subtitle-%s.srt", fileID)
	}

	if p.files != nil {
		if data, ok := p.files.Get(fileID); ok {
			p.logger.Debug().Str("file_id", fileID).Msg("Serving cached subtitle")
			return &models.DownloadResult{
				Filename:    name,
				ContentType: "application/x-subrip",
				Body:        io.NopCloser(bytes.NewReader(data)),
			}, nil
		}
	}

	link, err := p.SignedLink(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if _, err := client.CheckURL(string(models.SourceOpenSubtitles), link, p.opts.AllowedHosts); err != nil {
		return nil, err
	}

	resp, err := p.client.Get(ctx, link)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := client.CheckStatus(string(models.SourceOpenSubtitles), resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize+1))
	if err != nil {
		return nil, &apperrors.ErrDownloadFailed{Provider: string(models.SourceOpenSubtitles), URL: link, Err: err}
	}
	if len(data) > maxFileSize {
		return nil, &apperrors.ErrDownloadFailed{Provider: string(models.SourceOpenSubtitles), URL: link, Err: fmt.Errorf("file exceeds %d bytes", maxFileSize)}
	}
	if p.files != nil {
		p.files.Set(fileID, data)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/x-subrip"
	}
	return &models.DownloadResult{
		Filename:    name,
		ContentType: contentType,
		Body:        io.NopCloser(bytes.NewReader(data)),
		ResolvedURL: link,
		Hops:        []string{link},
	}, nil
}
