package httpapi

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"storybook/internal/http/handlers"
	"storybook/internal/infra"
	"storybook/internal/metrics"
	"storybook/internal/middleware"
)

// NewRouter mounts the API, the metrics endpoint and the static image
// directories.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(cfg.CORSAllowedOrigins),
	)

	limited := middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", app.Health)
		r.Get("/openapi.json", app.OpenAPIJSON)
		r.Get("/docs", app.OpenAPIDocs)

		r.Route("/illustrations", func(r chi.Router) {
			r.With(limited).Post("/jobs", app.SubmitJob)
			r.Get("/jobs", app.ListJobs)
			r.Get("/jobs/{id}", app.GetJob)
			r.Get("/jobs/{id}/archive", app.JobArchive)
			r.With(limited).Post("/generate", app.GenerateSync)
		})

		r.Get("/generated-images", app.ListGeneratedImages)
		r.Post("/images/analyze", app.AnalyzeImage)
		r.With(limited).Post("/images/generate-character-portrait", app.GeneratePortrait)
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	mountStatic(r, cfg.PublicImagePath(), cfg.GeneratedImageDir)
	mountStatic(r, cfg.PublicUploadsPath(), cfg.UploadsDir)

	return r
}

func mountStatic(r chi.Router, prefix, dir string) {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" || dir == "" {
		return
	}
	fs := http.StripPrefix(prefix+"/", http.FileServer(noListing{http.Dir(dir)}))
	r.Handle(prefix+"/*", fs)
}

// noListing hides directory indexes.
type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
