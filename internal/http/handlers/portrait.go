package handlers

import (
	"net/http"
	"strings"

	"storybook/internal/domain"
)

type portraitRequest struct {
	Character *domain.Character `json:"character"`
}

type portraitResponse struct {
	ImageURL  string           `json:"imageUrl"`
	LocalURL  string           `json:"localUrl,omitempty"`
	Character domain.Character `json:"character"`
}

// GeneratePortrait draws a cover portrait of the character with the
// text-only model.
func (a *App) GeneratePortrait(w http.ResponseWriter, r *http.Request) {
	var req portraitRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Character == nil || strings.TrimSpace(req.Character.Name) == "" {
		a.error(w, http.StatusBadRequest, "Character data is required", "")
		return
	}
	character := *req.Character
	character.Name = strings.TrimSpace(character.Name)
	if a.Portraits == nil {
		a.error(w, http.StatusBadGateway, domain.UserMessage(domain.ErrProviderUnavailable), "")
		return
	}

	res, err := a.Portraits.GeneratePortrait(r.Context(), character)
	if err != nil {
		a.log(r).Error().Err(err).Str("character", character.Name).Msg("portrait generation failed")
		a.error(w, statusFor(err), domain.UserMessage(err), "")
		return
	}
	a.ok(w, http.StatusOK, portraitResponse{ImageURL: res.URL, LocalURL: res.LocalURL, Character: character})
}
