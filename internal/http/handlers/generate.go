package handlers

import (
	"net/http"
	"strings"

	"storybook/internal/domain"
)

type generateRequest struct {
	Character        domain.Character `json:"character"`
	SceneDescription string           `json:"sceneDescription"`
	StoryTitle       string           `json:"storyTitle"`
	PageNumber       int              `json:"pageNumber"`
}

// GenerateSync renders one scene inside the request.
func (a *App) GenerateSync(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !a.decode(w, r, &req) {
		return
	}
	req.Character.Name = strings.TrimSpace(req.Character.Name)
	req.SceneDescription = strings.TrimSpace(req.SceneDescription)
	if req.Character.Name == "" || req.SceneDescription == "" {
		a.error(w, http.StatusBadRequest, "Invalid request", "character name and sceneDescription are required")
		return
	}
	if req.PageNumber <= 0 {
		req.PageNumber = 1
	}

	res, err := a.Illustrator.GenerateIllustration(r.Context(), req.Character, req.SceneDescription, req.StoryTitle, req.PageNumber)
	if err != nil {
		a.log(r).Error().Err(err).Int("page", req.PageNumber).Msg("synchronous illustration failed")
		a.error(w, statusFor(err), domain.UserMessage(err), "")
		return
	}
	a.ok(w, http.StatusOK, res.Illustration(req.SceneDescription, req.PageNumber))
}

func (a *App) ListGeneratedImages(w http.ResponseWriter, r *http.Request) {
	if a.Assets == nil {
		a.ok(w, http.StatusOK, []domain.StoredAsset{})
		return
	}
	items, err := a.Assets.List()
	if err != nil {
		a.error(w, http.StatusInternalServerError, "Failed to list generated images", err.Error())
		return
	}
	a.ok(w, http.StatusOK, items)
}
