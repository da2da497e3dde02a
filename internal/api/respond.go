package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/Belphemur/Sublynk/internal/apperrors"
	"github.com/Belphemur/Sublynk/internal/download"
	"github.com/Belphemur/Sublynk/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes the typed error body used by every route.
func writeError(w http.ResponseWriter, err error) {
	download.WriteError(w, err)
}

// requiredParam returns the trimmed query parameter or an ErrInvalidInput.
func requiredParam(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return "", &apperrors.ErrInvalidInput{Field: name, Reason: "is required"}
	}
	return v, nil
}

// boolParam accepts 1, true and yes.
func boolParam(r *http.Request, name string) bool {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get(name))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// intParam returns def when the parameter is absent and an ErrInvalidInput
// when it is not a non-negative integer.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &apperrors.ErrInvalidInput{Field: name, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

// sourcesParam parses a comma separated provider list.
func sourcesParam(r *http.Request, name string) ([]models.Source, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	var out []models.Source
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		src, ok := models.ParseSource(part)
		if !ok {
			return nil, &apperrors.ErrInvalidInput{Field: name, Reason: "unknown provider " + strings.TrimSpace(part)}
		}
		out = append(out, src)
	}
	return out, nil
}

// downloadRequest reads the parameters shared by every download route.
// nameParam is the route's filename parameter.
func downloadRequest(r *http.Request, source models.Source, urlParam, nameParam string) (models.DownloadRequest, error) {
	episode, err := intParam(r, "episode", 0)
	if err != nil {
		return models.DownloadRequest{}, err
	}
	req := models.DownloadRequest{
		Source:  source,
		URL:     strings.TrimSpace(r.URL.Query().Get(urlParam)),
		Debug:   boolParam(r, "debug"),
		Extract: boolParam(r, "extract"),
		Episode: episode,
	}
	if nameParam != "" {
		req.FileName = strings.TrimSpace(r.URL.Query().Get(nameParam))
	}
	if req.URL == "" {
		return req, &apperrors.ErrInvalidInput{Field: urlParam, Reason: "is required"}
	}
	return req, nil
}
