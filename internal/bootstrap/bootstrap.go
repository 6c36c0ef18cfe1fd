// Package bootstrap assembles the illustration pipeline from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"storybook/internal/descriptor"
	"storybook/internal/http/handlers"
	"storybook/internal/infra"
	"storybook/internal/jobs"
	"storybook/internal/providers/image"
	"storybook/internal/providers/openai"
	"storybook/internal/storage"
)

// Services holds the long-lived components shared by the API and the CLI.
type Services struct {
	Config       *infra.Config
	Store        *storage.FileStore
	Resolver     *image.ReferenceResolver
	Orchestrator *image.Orchestrator
	Portraits    *image.TextOnly
	Descriptors  *descriptor.Cache
	Jobs         *jobs.Manager
	logger       *infra.Logger
}

// Build wires the store, the three provider tiers, the descriptor cache and
// the job manager.
func Build(cfg *infra.Config, logger *infra.Logger) (*Services, error) {
	logger = infra.LoggerOrDiscard(logger)

	store, err := storage.NewFileStore(storage.Options{
		Dir:        cfg.GeneratedImageDir,
		PublicPath: cfg.PublicImagePath(),
		Format:     cfg.GeneratedFormat,
		Persist:    cfg.SaveGeneratedImages,
		Retention: storage.RetentionPolicy{
			MaxFiles: cfg.GeneratedMaxFiles,
			MaxBytes: cfg.RetentionMaxBytes(),
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: asset store: %w", err)
	}

	client := openai.NewClient(openai.Options{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		RequestTimeout: cfg.ImageEditTimeout(),
		Logger:         logger,
	})
	editHTTP := &http.Client{Timeout: cfg.ImageEditTimeout()}
	native := openai.NewEditor(openai.EditorOptions{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.OpenAIEditModel,
		HTTPClient: editHTTP,
		Logger:     logger,
	})
	azure := openai.NewEditor(openai.EditorOptions{
		APIKey: cfg.AzureAPIKey,
		Model:  cfg.AzureDeployment,
		Azure: &openai.AzureTarget{
			Endpoint:   cfg.AzureEndpoint,
			Deployment: cfg.AzureDeployment,
			APIVersion: cfg.AzureAPIVersion,
		},
		HTTPClient: editHTTP,
		Logger:     logger,
	})

	text := image.NewTextOnly(image.TextOnlyOptions{
		Client: client,
		Model:  cfg.OpenAIImageModel,
		Store:  store,
	})
	resolver := image.NewReferenceResolver(cfg.UploadsDir, cfg.GeneratedImageDir)
	orchestrator := image.NewOrchestrator(resolver, logger,
		image.NewReferenceEditor(image.ReferenceEditorOptions{
			Editor:     native,
			Enabled:    cfg.EnableNativeImage1 && cfg.OpenAIConfigured(),
			FilePrefix: "gptimg-native",
			Store:      store,
			Logger:     logger,
		}),
		image.NewReferenceEditor(image.ReferenceEditorOptions{
			Editor:     azure,
			Enabled:    cfg.EnableAzureImage1 && cfg.AzureConfigured(),
			FilePrefix: "gptimg-azure",
			Store:      store,
			Logger:     logger,
		}),
		text,
	)

	var descriptors *descriptor.Cache
	if cfg.EnableImageAnalysis {
		descriptors = descriptor.NewCache(descriptor.Options{
			Client:   client,
			Model:    cfg.ImageAnalysisModel,
			MaxBytes: cfg.ImageAnalysisMaxBytes,
			Logger:   logger,
		})
	}

	manager := jobs.NewManager(jobs.Options{
		Illustrator: orchestrator,
		Logger:      logger,
		MaxRetained: cfg.MaxRetainedJobs,
	})

	logger.Info().
		Strs("providers", orchestrator.Providers()).
		Bool("persist", store.Persisting()).
		Bool("analysis", descriptors != nil).
		Msg("illustration pipeline ready")

	return &Services{
		Config:       cfg,
		Store:        store,
		Resolver:     resolver,
		Orchestrator: orchestrator,
		Portraits:    text,
		Descriptors:  descriptors,
		Jobs:         manager,
		logger:       logger,
	}, nil
}

// App exposes the services to the HTTP handlers.
func (s *Services) App() *handlers.App {
	app := &handlers.App{
		Config:      s.Config,
		Jobs:        s.Jobs,
		Illustrator: s.Orchestrator,
		Portraits:   s.Portraits,
		Assets:      s.Store,
		Resolver:    s.Resolver,
		Logger:      s.logger,
	}
	// a typed nil would defeat the handler's nil check
	if s.Descriptors != nil {
		app.Descriptors = s.Descriptors
	}
	return app
}

// Shutdown waits for the job worker to go idle, then drains pruning.
func (s *Services) Shutdown(ctx context.Context) error {
	err := s.Jobs.Wait(ctx)
	s.Store.Close()
	return err
}
