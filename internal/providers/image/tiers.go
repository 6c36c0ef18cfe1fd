package image

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/providers/openai"
)

type imageEditor interface {
	Edit(ctx context.Context, req openai.EditRequest) (*openai.Image, error)
	HasCredentials() bool
	Name() string
	Model() string
}

type textImageGenerator interface {
	GenerateImage(ctx context.Context, req openai.GenerateRequest) (*openai.Image, error)
	HasCredentials() bool
}

// ReferenceEditor is a reference-conditioned tier: it redraws the uploaded
// character picture into the scene. The primary and the managed (Azure)
// tiers are both ReferenceEditors over different editors.
type ReferenceEditor struct {
	editor     imageEditor
	enabled    bool
	filePrefix string
	store      assetSaver
	now        func() time.Time
	logger     *infra.Logger
}

// ReferenceEditorOptions configures a ReferenceEditor.
type ReferenceEditorOptions struct {
	Editor  imageEditor
	Enabled bool
	// FilePrefix names persisted copies, e.g. "gptimg-native".
	FilePrefix string
	Store      assetSaver
	Clock      func() time.Time
	Logger     *infra.Logger
}

// NewReferenceEditor wires an edit-capable client into a provider tier.
func NewReferenceEditor(opts ReferenceEditorOptions) *ReferenceEditor {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	prefix := opts.FilePrefix
	if prefix == "" {
		prefix = "gptimg"
	}
	return &ReferenceEditor{
		editor:     opts.Editor,
		enabled:    opts.Enabled,
		filePrefix: prefix,
		store:      opts.Store,
		now:        now,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}
}

func (p *ReferenceEditor) Name() string {
	if p.editor == nil {
		return p.filePrefix
	}
	return p.editor.Name()
}

func (p *ReferenceEditor) Attempt(ctx context.Context, req Request) (*Result, error) {
	if !p.enabled || p.editor == nil || !p.editor.HasCredentials() {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, p.Name())
	}
	if req.Reference == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrReferenceImageMissing, p.Name())
	}
	img, err := p.editor.Edit(ctx, openai.EditRequest{
		ImagePath: req.Reference,
		Prompt:    BuildReferencePrompt(req.Character, req.Scene, req.StoryTitle, req.PageNumber),
	})
	if err != nil {
		return nil, err
	}
	result := &Result{
		Provider:            p.Name(),
		Model:               p.editor.Model(),
		CharacterReferenced: true,
		B64JSON:             img.B64JSON,
	}
	if p.store != nil && p.store.Persisting() {
		result.LocalURL = p.persist(ctx, img, req.PageNumber)
	}
	return result, nil
}

func (p *ReferenceEditor) persist(ctx context.Context, img *openai.Image, page int) string {
	data, err := img.Bytes()
	if err != nil {
		p.logger.Warn().Err(err).Str("provider", p.Name()).Msg("decode of edited image failed")
		return ""
	}
	saved, err := p.store.Save(ctx, data, assetBaseName(p.filePrefix, p.now(), page), "png")
	if err != nil {
		p.logger.Warn().Err(err).Str("provider", p.Name()).Msg("persist of edited image failed")
		return ""
	}
	return saved.PublicURL
}

// TextOnly is the terminal tier. It has no image input, so it describes the
// character in the prompt instead.
type TextOnly struct {
	client textImageGenerator
	model  string
	store  assetSaver
	now    func() time.Time
}

// TextOnlyOptions configures the terminal tier.
type TextOnlyOptions struct {
	Client textImageGenerator
	Model  string
	Store  assetSaver
	Clock  func() time.Time
}

func NewTextOnly(opts TextOnlyOptions) *TextOnly {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	model := opts.Model
	if model == "" {
		model = "dall-e-3"
	}
	return &TextOnly{client: opts.Client, model: model, store: opts.Store, now: now}
}

func (p *TextOnly) Name() string { return p.model }

func (p *TextOnly) Attempt(ctx context.Context, req Request) (*Result, error) {
	if p.client == nil || !p.client.HasCredentials() {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, p.model)
	}
	img, err := p.client.GenerateImage(ctx, openai.GenerateRequest{
		Prompt: BuildConsistentPrompt(req.Character, req.Scene, req.StoryTitle, req.PageNumber),
		Model:  p.model,
	})
	if err != nil {
		return nil, err
	}
	result := &Result{
		Provider:            p.model,
		Model:               p.model,
		CharacterReferenced: false,
		URL:                 img.URL,
	}
	if p.store != nil && p.store.Persisting() {
		// DownloadAndSave logs its own failures
		saved := p.store.DownloadAndSave(ctx, img.URL, assetBaseName("dalle", p.now(), req.PageNumber))
		result.LocalURL = saved.PublicURL
	}
	return result, nil
}

// portraitStyle keeps portraits softer than the vivid scene default.
const portraitStyle = "natural"

// GeneratePortrait renders a single character portrait with the text-only
// model. It never takes a reference picture.
func (p *TextOnly) GeneratePortrait(ctx context.Context, c domain.Character) (*Result, error) {
	if p.client == nil || !p.client.HasCredentials() {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, p.model)
	}
	img, err := p.client.GenerateImage(ctx, openai.GenerateRequest{
		Prompt:  BuildPortraitPrompt(c),
		Model:   p.model,
		Size:    "1024x1024",
		Quality: "standard",
		Style:   portraitStyle,
	})
	if err != nil {
		return nil, err
	}
	if img == nil || img.URL == "" {
		return nil, &domain.UpstreamError{Provider: p.model, Kind: domain.UpstreamMalformedResponse, Err: errors.New("no image URL returned")}
	}
	result := &Result{Provider: p.model, Model: p.model, URL: img.URL}
	if p.store != nil && p.store.Persisting() {
		saved := p.store.DownloadAndSave(ctx, img.URL, fmt.Sprintf("portrait-%d", p.now().UnixMilli()))
		result.LocalURL = saved.PublicURL
	}
	return result, nil
}

func assetBaseName(prefix string, at time.Time, page int) string {
	if page <= 0 {
		page = 1
	}
	return fmt.Sprintf("%s-%d-p%d", prefix, at.UnixMilli(), page)
}

var (
	_ Provider = (*ReferenceEditor)(nil)
	_ Provider = (*TextOnly)(nil)
)
