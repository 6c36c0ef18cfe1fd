package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/middleware"
	"storybook/internal/providers/image"
)

const maxJSONBody = 12 << 20

// JobQueue is the job manager as seen by the HTTP layer.
type JobQueue interface {
	Enqueue(req domain.JobRequest) domain.Job
	Get(id string) (domain.Job, error)
	List(limit int) []domain.Job
}

// Illustrator renders a single scene synchronously.
type Illustrator interface {
	GenerateIllustration(ctx context.Context, character domain.Character, scene, storyTitle string, page int) (*image.Result, error)
}

// AssetStore lists and reads persisted illustrations.
type AssetStore interface {
	List() ([]domain.StoredAsset, error)
	ReadPublic(publicURL string) ([]byte, string, error)
}

// DescriptorCache produces appearance descriptors for character pictures.
type DescriptorCache interface {
	Analyze(ctx context.Context, data []byte, mime string, traits []string) (domain.DescriptorEntry, error)
	AnalyzeFile(ctx context.Context, path string, traits []string) (domain.DescriptorEntry, error)
}

// PortraitGenerator draws a standalone character portrait.
type PortraitGenerator interface {
	GeneratePortrait(ctx context.Context, character domain.Character) (*image.Result, error)
}

// PathResolver maps an image locator to a local file.
type PathResolver interface {
	Resolve(locator string) (string, bool)
}

type App struct {
	Config      *infra.Config
	Jobs        JobQueue
	Illustrator Illustrator
	Portraits   PortraitGenerator
	Assets      AssetStore
	Descriptors DescriptorCache
	Resolver    PathResolver
	Logger      *infra.Logger
	Now         func() time.Time
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) ok(w http.ResponseWriter, code int, data any) {
	a.json(w, code, envelope{Success: true, Data: data})
}

func (a *App) error(w http.ResponseWriter, code int, msg, details string) {
	a.json(w, code, envelope{Success: false, Error: msg, Details: details})
}

func (a *App) log(r *http.Request) *infra.Logger {
	l := infra.LoggerOrDiscard(a.Logger).With().Str("request_id", middleware.RequestIDFromContext(r.Context())).Logger()
	return &l
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// decode reads a JSON body into dst. It reports false after writing the
// error response.
func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			a.error(w, http.StatusRequestEntityTooLarge, "Payload too large", "")
		case errors.Is(err, io.EOF):
			a.error(w, http.StatusBadRequest, "Invalid request", "empty body")
		default:
			a.error(w, http.StatusBadRequest, "Invalid request", err.Error())
		}
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP codes.
func statusFor(err error) int {
	var upstream *domain.UpstreamError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrAnalysisDisabled),
		errors.Is(err, domain.ErrAsyncDisabled):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &upstream), errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, fmt.Sprintf(format, args...))
}
