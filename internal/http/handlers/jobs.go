package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"storybook/internal/domain"
	"storybook/pkg/zip"
)

// SubmitJob queues a story for background illustration and answers 202
// immediately.
func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	if !a.asyncEnabled(w) {
		return
	}
	var req domain.JobRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := validateJobRequest(&req); err != nil {
		a.error(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	job := a.Jobs.Enqueue(req)
	w.Header().Set("Location", "/api/illustrations/jobs/"+job.ID)
	a.ok(w, http.StatusAccepted, job)
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	if !a.asyncEnabled(w) {
		return
	}
	job, err := a.Jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "Job not found", "")
			return
		}
		a.error(w, http.StatusInternalServerError, "Failed to load job", err.Error())
		return
	}
	a.ok(w, http.StatusOK, job)
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	if !a.asyncEnabled(w) {
		return
	}
	limit := 0
	if a.Config != nil {
		limit = a.Config.JobListLimit
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.error(w, http.StatusBadRequest, "Invalid request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	a.ok(w, http.StatusOK, a.Jobs.List(limit))
}

// JobArchive zips every persisted illustration of a job.
func (a *App) JobArchive(w http.ResponseWriter, r *http.Request) {
	if !a.asyncEnabled(w) {
		return
	}
	id := chi.URLParam(r, "id")
	job, err := a.Jobs.Get(id)
	if err != nil {
		a.error(w, http.StatusNotFound, "Job not found", "")
		return
	}
	var assets []zip.Asset
	for _, res := range job.Results {
		if res.LocalURL == "" || a.Assets == nil {
			continue
		}
		data, name, err := a.Assets.ReadPublic(res.LocalURL)
		if err != nil {
			a.log(r).Warn().Err(err).Str("job_id", id).Str("url", res.LocalURL).Msg("archive: asset unavailable")
			continue
		}
		assets = append(assets, zip.Asset{
			Filename: fmt.Sprintf("page-%02d-%s", res.PageNumber, name),
			Data:     data,
			Modified: job.UpdatedAt,
		})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "No stored illustrations for job", "")
		return
	}
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "Failed to build archive", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=job-%s.zip", id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// asyncEnabled answers 400 on every job endpoint while the feature flag is off.
func (a *App) asyncEnabled(w http.ResponseWriter) bool {
	if a.Config != nil && !a.Config.AsyncIllustrations {
		a.error(w, http.StatusBadRequest, "Async illustrations disabled", "")
		return false
	}
	return true
}

func validateJobRequest(req *domain.JobRequest) error {
	req.Character.Name = strings.TrimSpace(req.Character.Name)
	if req.Character.Name == "" {
		return invalid("character name is required")
	}
	if len(req.Scenes) == 0 {
		return invalid("at least one scene is required")
	}
	for i := range req.Scenes {
		s := &req.Scenes[i]
		s.Description = strings.TrimSpace(s.Description)
		if s.Description == "" {
			return invalid("scene %d has no description", i+1)
		}
		if s.PageNumber <= 0 {
			s.PageNumber = i + 1
		}
	}
	return nil
}
