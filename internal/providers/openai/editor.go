package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	openaigo "github.com/sashabaranov/go-openai"

	"storybook/internal/domain"
	"storybook/internal/infra"
)

// AzureTarget routes edits to an Azure OpenAI deployment.
type AzureTarget struct {
	Endpoint   string
	Deployment string
	APIVersion string
}

// EditorOptions configures an Editor. When Azure is set, BaseURL and Model
// are ignored in favour of the deployment.
type EditorOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	Azure      *AzureTarget
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Editor calls the images/edits endpoint with a reference picture. The
// multipart body is built here because go-openai's CreateEditImage does not
// forward the model field that gpt-image-1 needs.
type Editor struct {
	name       string
	apiKey     string
	endpoint   string
	model      string
	azure      bool
	httpClient *http.Client
	logger     *infra.Logger
}

// EditRequest captures the inputs for an image edit.
type EditRequest struct {
	ImagePath string
	Prompt    string
	Size      string
}

// NewEditor constructs an Editor for OpenAI or Azure.
func NewEditor(opts EditorOptions) *Editor {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-image-1"
	}
	e := &Editor{
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      model,
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}
	if opts.Azure != nil {
		e.azure = true
		e.name = "azure-" + model
		deployment := strings.TrimSpace(opts.Azure.Deployment)
		if deployment == "" {
			deployment = model
		}
		version := strings.TrimSpace(opts.Azure.APIVersion)
		if version == "" {
			version = "2025-04-01-preview"
		}
		endpoint := strings.TrimRight(strings.TrimSpace(opts.Azure.Endpoint), "/")
		if endpoint != "" {
			e.endpoint = endpoint + "/openai/deployments/" + url.PathEscape(deployment) +
				"/images/edits?api-version=" + url.QueryEscape(version)
		}
		return e
	}
	e.name = "openai-" + model
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	e.endpoint = base + "/images/edits"
	return e
}

// Name identifies the backend and model, e.g. "azure-gpt-image-1".
func (e *Editor) Name() string {
	return e.name
}

// Model returns the configured model identifier.
func (e *Editor) Model() string {
	return e.model
}

// HasCredentials reports whether the editor can perform remote calls.
func (e *Editor) HasCredentials() bool {
	return e != nil && e.apiKey != "" && e.endpoint != ""
}

// Edit uploads the reference image with the prompt and returns the base64
// encoded result.
func (e *Editor) Edit(ctx context.Context, req EditRequest) (*Image, error) {
	if !e.HasCredentials() {
		return nil, fmt.Errorf("%w: %s: missing credentials", domain.ErrProviderUnavailable, e.name)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("openai: prompt is required")
	}
	body, contentType, err := e.buildForm(req.ImagePath, prompt, valueOr(req.Size, openaigo.CreateImageSize1024x1024))
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	if e.azure {
		httpReq.Header.Set(openaigo.AzureAPIKeyHeader, e.apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	start := time.Now()
	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, Classify(e.name, fmt.Errorf("openai: http request: %w", err))
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(e.name, fmt.Errorf("openai: read response: %w", err))
	}
	if resp.StatusCode >= 300 {
		return nil, Classify(e.name, decodeAPIError(resp, raw))
	}

	var decoded openaigo.ImageResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, malformed(e.name, "decode response: "+err.Error())
	}
	if len(decoded.Data) == 0 || decoded.Data[0].B64JSON == "" {
		return nil, malformed(e.name, "no image data returned")
	}
	e.logger.Debug().
		Str("provider", e.name).
		Dur("elapsed", time.Since(start)).
		Msg("openai: edited image")
	return &Image{B64JSON: decoded.Data[0].B64JSON, RevisedPrompt: decoded.Data[0].RevisedPrompt}, nil
}

func (e *Editor) buildForm(imagePath, prompt, size string) (io.Reader, string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrReferenceImageMissing, err)
	}
	defer f.Close()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	fields := [][2]string{{"prompt", prompt}, {"n", "1"}, {"size", size}}
	if !e.azure {
		fields = append([][2]string{{"model", e.model}}, fields...)
	}
	for _, kv := range fields {
		if err := w.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", fmt.Errorf("openai: write field %s: %w", kv[0], err)
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filepath.Base(imagePath)))
	header.Set("Content-Type", imageMIME(imagePath))
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("openai: create image part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("openai: copy image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("openai: close form: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

func decodeAPIError(resp *http.Response, raw []byte) error {
	var detail openaigo.ErrorResponse
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Error != nil {
		detail.Error.HTTPStatusCode = resp.StatusCode
		detail.Error.HTTPStatus = resp.Status
		return detail.Error
	}
	return &openaigo.RequestError{
		HTTPStatus:     resp.Status,
		HTTPStatusCode: resp.StatusCode,
		Err:            fmt.Errorf("openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
		Body:           raw,
	}
}

func imageMIME(path string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); strings.HasPrefix(t, "image/") {
		return t
	}
	return "image/png"
}
