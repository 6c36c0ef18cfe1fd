package domain

import "time"

// StoredAsset describes a generated image kept in the asset directory.
type StoredAsset struct {
	Filename  string    `json:"filename"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// DescriptorEntry is the cached appearance summary for one image.
type DescriptorEntry struct {
	Hash       string  `json:"hash"`
	Descriptor string  `json:"descriptor"`
	Model      string  `json:"model"`
	Confidence float64 `json:"confidence"`
	Cached     bool    `json:"cached"`
}
