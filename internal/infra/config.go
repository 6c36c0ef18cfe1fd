package infra

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config represents application configuration loaded from environment variables.
// It is built once at startup and shared read-only by every component.
type Config struct {
	AppEnv             string   `env:"APP_ENV" env-default:"development"`
	Port               string   `env:"PORT" env-default:"8080"`
	HTTPReadTimeoutS   int      `env:"HTTP_READ_TIMEOUT_SECONDS" env-default:"15"`
	HTTPWriteTimeoutS  int      `env:"HTTP_WRITE_TIMEOUT_SECONDS" env-default:"180"`
	HTTPIdleTimeoutS   int      `env:"HTTP_IDLE_TIMEOUT_SECONDS" env-default:"60"`
	RateLimitPerMin    int      `env:"RATE_LIMIT_PER_MINUTE" env-default:"30"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost:5173"`

	AsyncIllustrations bool `env:"ASYNC_ILLUSTRATIONS" env-default:"true"`
	JobListLimit       int  `env:"JOB_LIST_LIMIT" env-default:"50"`
	MaxRetainedJobs    int  `env:"MAX_RETAINED_JOBS" env-default:"0"`

	SaveGeneratedImages bool   `env:"SAVE_GENERATED_IMAGES" env-default:"false"`
	GeneratedImageDir   string `env:"GENERATED_IMAGE_DIR" env-default:"generated"`
	GeneratedFormat     string `env:"GENERATED_IMAGE_FORMAT" env-default:"png"`
	GeneratedMaxFiles   int    `env:"GENERATED_IMAGE_MAX_FILES" env-default:"0"`
	GeneratedMaxMB      int    `env:"GENERATED_IMAGE_MAX_MB" env-default:"0"`
	UploadsDir          string `env:"UPLOADS_DIR" env-default:"uploads"`

	EnableNativeImage1 bool   `env:"ENABLE_NATIVE_GPT_IMAGE1" env-default:"false"`
	EnableAzureImage1  bool   `env:"ENABLE_AZURE_GPT_IMAGE1" env-default:"true"`
	OpenAIAPIKey       string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL      string `env:"OPENAI_BASE_URL" env-default:"https://api.openai.com/v1"`
	OpenAIImageModel   string `env:"OPENAI_IMAGE_MODEL" env-default:"dall-e-3"`
	OpenAIEditModel    string `env:"OPENAI_EDIT_MODEL" env-default:"gpt-image-1"`
	AzureAPIKey        string `env:"AZURE_OPENAI_API_KEY"`
	AzureEndpoint      string `env:"AZURE_OPENAI_ENDPOINT"`
	AzureAPIVersion    string `env:"AZURE_OPENAI_API_VERSION" env-default:"2025-04-01-preview"`
	AzureDeployment    string `env:"AZURE_OPENAI_DEPLOYMENT_NAME" env-default:"gpt-image-1"`
	ImageEditTimeoutMS int    `env:"IMAGE_EDIT_TIMEOUT_MS" env-default:"120000"`

	EnableImageAnalysis   bool   `env:"ENABLE_IMAGE_ANALYSIS" env-default:"false"`
	ImageAnalysisMaxBytes int64  `env:"IMAGE_ANALYSIS_MAX_BYTES" env-default:"5000000"`
	ImageAnalysisModel    string `env:"IMAGE_ANALYSIS_MODEL" env-default:"gpt-4o"`
}

var supportedFormats = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"webp": {},
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.GeneratedFormat = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.GeneratedFormat), "."))
	if _, ok := supportedFormats[c.GeneratedFormat]; !ok {
		return fmt.Errorf("config: unsupported GENERATED_IMAGE_FORMAT %q", c.GeneratedFormat)
	}
	if c.GeneratedMaxFiles < 0 || c.GeneratedMaxMB < 0 {
		return fmt.Errorf("config: retention ceilings must not be negative")
	}
	if c.ImageAnalysisMaxBytes <= 0 {
		return fmt.Errorf("config: IMAGE_ANALYSIS_MAX_BYTES must be positive")
	}
	if c.MaxRetainedJobs < 0 {
		return fmt.Errorf("config: MAX_RETAINED_JOBS must not be negative")
	}
	if c.JobListLimit <= 0 {
		c.JobListLimit = 50
	}
	if strings.TrimSpace(c.GeneratedImageDir) == "" {
		c.GeneratedImageDir = "generated"
	}
	if strings.TrimSpace(c.UploadsDir) == "" {
		c.UploadsDir = "uploads"
	}
	c.OpenAIBaseURL = strings.TrimRight(c.OpenAIBaseURL, "/")
	c.AzureEndpoint = strings.TrimRight(c.AzureEndpoint, "/")
	return nil
}

// HTTPReadTimeout is the server read timeout.
func (c *Config) HTTPReadTimeout() time.Duration {
	return time.Duration(c.HTTPReadTimeoutS) * time.Second
}

// HTTPWriteTimeout is the server write timeout. Synchronous generation can
// take minutes, so keep it above the edit timeout.
func (c *Config) HTTPWriteTimeout() time.Duration {
	return time.Duration(c.HTTPWriteTimeoutS) * time.Second
}

func (c *Config) HTTPIdleTimeout() time.Duration {
	return time.Duration(c.HTTPIdleTimeoutS) * time.Second
}

func (c *Config) ImageEditTimeout() time.Duration {
	return time.Duration(c.ImageEditTimeoutMS) * time.Millisecond
}

// RetentionMaxBytes converts the megabyte ceiling to bytes; zero means unlimited.
func (c *Config) RetentionMaxBytes() int64 {
	return int64(c.GeneratedMaxMB) * 1024 * 1024
}

// PublicImagePath is the URL prefix generated assets are served under.
func (c *Config) PublicImagePath() string {
	return publicPath(c.GeneratedImageDir)
}

// PublicUploadsPath is the URL prefix reference uploads are served under.
func (c *Config) PublicUploadsPath() string {
	return publicPath(c.UploadsDir)
}

func publicPath(dir string) string {
	base := filepath.ToSlash(filepath.Clean(dir))
	base = strings.TrimLeft(base, "./")
	if base == "" {
		base = filepath.Base(dir)
	}
	return path.Join("/", base)
}

// OpenAIConfigured reports whether the public OpenAI API has credentials.
func (c *Config) OpenAIConfigured() bool {
	return strings.TrimSpace(c.OpenAIAPIKey) != ""
}

// AzureConfigured reports whether the managed Azure deployment is reachable.
func (c *Config) AzureConfigured() bool {
	return strings.TrimSpace(c.AzureAPIKey) != "" && strings.TrimSpace(c.AzureEndpoint) != ""
}
