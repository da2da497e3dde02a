package download

import (
	"context"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/client"
	"github.com/Belphemur/Sublynk/internal/models"
	"github.com/Belphemur/Sublynk/internal/providers"
)

// External fetches absolute file URLs handed out in place of a file id, as
// long as they point at one of the allowed hosts.
type External struct {
	client client.Client
	source models.Source
	hosts  []string
}

// NewExternal creates a downloader reporting under source. With no hosts
// every URL is refused.
func NewExternal(c client.Client, source models.Source, hosts []string) *External {
	return &External{client: c, source: source, hosts: hosts}
}

func (e *External) Source() models.Source { return e.source }

func (e *External) Download(ctx context.Context, req models.DownloadRequest) (*models.DownloadResult, error) {
	provider := string(e.source)
	if len(e.hosts) == 0 {
		return nil, &apperrors.ErrHostNotAllowed{Provider: provider, Host: req.URL}
	}
	u, err := client.CheckURL(provider, req.URL, e.hosts)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Get(ctx, u.String())
	if err != nil {
		return nil, err
	}
	res, err := providers.StreamResponse(provider, resp, "subtitle.srt")
	if err != nil {
		return nil, err
	}
	if req.FileName != "" && providers.DispositionFilename(resp.Header.Get("Content-Disposition")) == "" {
		res.Filename = req.FileName
	}
	res.Hops = []string{u.String()}
	return res, nil
}
