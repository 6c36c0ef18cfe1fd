package handlers

import (
	"encoding/base64"
	"net/http"
	"strings"

	"storybook/internal/descriptor"
	"storybook/internal/domain"
)

type analyzeRequest struct {
	ImagePath   string   `json:"imagePath"`
	ImageBase64 string   `json:"imageBase64"`
	MIME        string   `json:"mime"`
	Traits      []string `json:"traits"`
}

// AnalyzeImage returns the cached or freshly computed appearance descriptor
// for a character picture, given either a stored path or inline bytes.
func (a *App) AnalyzeImage(w http.ResponseWriter, r *http.Request) {
	if a.Descriptors == nil || (a.Config != nil && !a.Config.EnableImageAnalysis) {
		a.error(w, http.StatusBadRequest, "Image analysis disabled", "")
		return
	}
	var req analyzeRequest
	if !a.decode(w, r, &req) {
		return
	}

	var (
		entry domain.DescriptorEntry
		err   error
	)
	switch {
	case strings.TrimSpace(req.ImageBase64) != "":
		data, mime, derr := decodeInlineImage(req.ImageBase64, req.MIME)
		if derr != nil {
			a.error(w, http.StatusBadRequest, "Invalid request", derr.Error())
			return
		}
		entry, err = a.Descriptors.Analyze(r.Context(), data, mime, req.Traits)
	case strings.TrimSpace(req.ImagePath) != "":
		path, found := "", false
		if a.Resolver != nil {
			path, found = a.Resolver.Resolve(req.ImagePath)
		}
		if !found {
			a.error(w, http.StatusNotFound, "Image not found", "")
			return
		}
		entry, err = a.Descriptors.AnalyzeFile(r.Context(), path, req.Traits)
	default:
		a.error(w, http.StatusBadRequest, "Invalid request", "imagePath or imageBase64 is required")
		return
	}
	if err != nil {
		code := statusFor(err)
		msg := "Image analysis failed"
		switch code {
		case http.StatusRequestEntityTooLarge:
			msg = "Image too large"
		case http.StatusNotFound:
			msg = "Image not found"
		case http.StatusBadGateway:
			msg = domain.UserMessage(err)
		}
		a.log(r).Warn().Err(err).Msg("image analysis failed")
		a.error(w, code, msg, "")
		return
	}
	a.ok(w, http.StatusOK, entry)
}

// decodeInlineImage accepts raw base64 or a data URL.
func decodeInlineImage(raw, mime string) ([]byte, string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		header, payload, ok := strings.Cut(raw, ",")
		if !ok {
			return nil, "", invalid("malformed data URL")
		}
		if m := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64"); m != "" && mime == "" {
			mime = m
		}
		raw = payload
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, "", invalid("imageBase64 is not valid base64")
	}
	if mime == "" {
		mime = descriptor.MIMEFromPath("")
	}
	return data, mime, nil
}
