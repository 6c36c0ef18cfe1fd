package image

import (
	"context"

	"storybook/internal/domain"
	"storybook/internal/storage"
)

// Request is one scene to illustrate. Reference is the resolved local path
// of the character's reference picture, empty when none was found.
type Request struct {
	Character  domain.Character
	Scene      string
	StoryTitle string
	PageNumber int
	Reference  string
}

// Result is a generated illustration. URL or B64JSON is always set;
// LocalURL only when a copy was persisted.
type Result struct {
	Provider            string
	Model               string
	CharacterReferenced bool
	URL                 string
	B64JSON             string
	LocalURL            string
}

// Illustration converts the result into the job record shape.
func (r *Result) Illustration(scene string, page int) domain.Illustration {
	return domain.Illustration{
		PageNumber:          page,
		SceneDescription:    scene,
		Model:               r.Model,
		CharacterReferenced: r.CharacterReferenced,
		URL:                 r.URL,
		B64JSON:             r.B64JSON,
		LocalURL:            r.LocalURL,
	}
}

// Provider is one tier of the fallback chain. Attempt returns an error
// wrapping domain.ErrProviderUnavailable or domain.ErrReferenceImageMissing
// when its preconditions do not hold.
type Provider interface {
	Name() string
	Attempt(ctx context.Context, req Request) (*Result, error)
}

// assetSaver is the slice of the asset store the tiers use.
type assetSaver interface {
	Persisting() bool
	Save(ctx context.Context, data []byte, baseName, ext string) (storage.SavedAsset, error)
	DownloadAndSave(ctx context.Context, url, baseName string) storage.SavedAsset
}
