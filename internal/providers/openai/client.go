package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/sashabaranov/go-openai"

	"storybook/internal/domain"
	"storybook/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("openai: api key is required")

// Options configures the public OpenAI API client.
type Options struct {
	APIKey         string
	BaseURL        string
	Organization   string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Logger         *infra.Logger
}

// Client performs text-to-image and vision calls through go-openai.
type Client struct {
	api    *openaigo.Client
	hasKey bool
	logger *infra.Logger
}

// Image is a single generated picture. Exactly one of URL and B64JSON is
// normally set.
type Image struct {
	URL           string
	B64JSON       string
	RevisedPrompt string
}

// Bytes decodes the inline payload.
func (i *Image) Bytes() ([]byte, error) {
	if i == nil || i.B64JSON == "" {
		return nil, errors.New("openai: image has no inline data")
	}
	return base64.StdEncoding.DecodeString(i.B64JSON)
}

// GenerateRequest captures the inputs for a text-only generation.
type GenerateRequest struct {
	Prompt  string
	Model   string
	Size    string
	Quality string
	Style   string
}

// DescribeRequest asks a vision model to describe one image.
type DescribeRequest struct {
	Model       string
	Prompt      string
	MIME        string
	Data        []byte
	Temperature float32
	MaxTokens   int
}

// NewClient constructs a client with defaults applied.
func NewClient(opts Options) *Client {
	key := strings.TrimSpace(opts.APIKey)
	cfg := openaigo.DefaultConfig(key)
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		cfg.BaseURL = base
	}
	cfg.OrgID = strings.TrimSpace(opts.Organization)
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	cfg.HTTPClient = httpClient
	return &Client{
		api:    openaigo.NewClientWithConfig(cfg),
		hasKey: key != "",
		logger: infra.LoggerOrDiscard(opts.Logger),
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c != nil && c.hasKey
}

// GenerateImage creates one image from a text prompt and returns its URL.
func (c *Client) GenerateImage(ctx context.Context, req GenerateRequest) (*Image, error) {
	if !c.HasCredentials() {
		return nil, fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, ErrMissingAPIKey)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("openai: prompt is required")
	}
	model := req.Model
	if model == "" {
		model = openaigo.CreateImageModelDallE3
	}
	request := openaigo.ImageRequest{
		Prompt:         prompt,
		Model:          model,
		N:              1,
		Size:           valueOr(req.Size, openaigo.CreateImageSize1024x1024),
		Quality:        valueOr(req.Quality, openaigo.CreateImageQualityStandard),
		Style:          valueOr(req.Style, openaigo.CreateImageStyleVivid),
		ResponseFormat: openaigo.CreateImageResponseFormatURL,
	}
	resp, err := c.api.CreateImage(ctx, request)
	if err != nil {
		return nil, Classify(model, err)
	}
	if len(resp.Data) == 0 || strings.TrimSpace(resp.Data[0].URL) == "" {
		return nil, malformed(model, "no image url returned")
	}
	c.logger.Debug().Str("model", model).Msg("openai: generated image")
	return &Image{URL: resp.Data[0].URL, RevisedPrompt: resp.Data[0].RevisedPrompt}, nil
}

// DescribeImage sends the image inline as a data URL and returns the
// model's text answer, trimmed.
func (c *Client) DescribeImage(ctx context.Context, req DescribeRequest) (string, error) {
	if !c.HasCredentials() {
		return "", fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, ErrMissingAPIKey)
	}
	if len(req.Data) == 0 {
		return "", errors.New("openai: image data is required")
	}
	mimeType := valueOr(req.MIME, "image/png")
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(req.Data)
	resp, err := c.api.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:       valueOr(req.Model, openaigo.GPT4o),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages: []openaigo.ChatCompletionMessage{{
			Role: openaigo.ChatMessageRoleUser,
			MultiContent: []openaigo.ChatMessagePart{
				{Type: openaigo.ChatMessagePartTypeText, Text: req.Prompt},
				{Type: openaigo.ChatMessagePartTypeImageURL, ImageURL: &openaigo.ChatMessageImageURL{URL: dataURL}},
			},
		}},
	})
	if err != nil {
		return "", Classify(req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", malformed(req.Model, "no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
