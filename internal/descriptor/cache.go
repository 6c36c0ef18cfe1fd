// Package descriptor derives a short appearance description from a
// character picture and caches it by the picture's content hash.
package descriptor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/metrics"
	"storybook/internal/providers/openai"
)

const (
	defaultModel      = "gpt-4o"
	defaultDescriptor = "Friendly child with neutral appearance."
	confidence        = 0.9
	temperature       = 0.4
	maxTokens         = 250
)

const instruction = "You assist in building consistent children's book character illustrations.\n" +
	"Return ONE compact paragraph describing ONLY visible physical attributes & style: hair (style/color), " +
	"eyes (if clearly visible), approximate age impression, notable accessories, expression/mood vibe, broad skin " +
	"tone wording, clothing style hints, palette hint. Do NOT guess unseen details. Avoid sensitive or private attributes."

type visionClient interface {
	DescribeImage(ctx context.Context, req openai.DescribeRequest) (string, error)
}

// Options configures a Cache.
type Options struct {
	Client   visionClient
	Model    string
	MaxBytes int64
	Logger   *infra.Logger
}

// Cache maps sha256(image bytes) to a descriptor. Entries are never
// replaced or evicted.
type Cache struct {
	client   visionClient
	model    string
	maxBytes int64
	logger   *infra.Logger

	mu      sync.RWMutex
	entries map[string]domain.DescriptorEntry
	group   singleflight.Group
}

func NewCache(opts Options) *Cache {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 5_000_000
	}
	return &Cache{
		client:   opts.Client,
		model:    model,
		maxBytes: maxBytes,
		logger:   infra.LoggerOrDiscard(opts.Logger),
		entries:  make(map[string]domain.DescriptorEntry),
	}
}

// Analyze returns the descriptor for data. Traits only shape a fresh
// analysis; a cached entry is returned as is.
func (c *Cache) Analyze(ctx context.Context, data []byte, mime string, traits []string) (domain.DescriptorEntry, error) {
	if int64(len(data)) > c.maxBytes {
		metrics.DescriptorLookups.WithLabelValues("rejected").Inc()
		return domain.DescriptorEntry{}, fmt.Errorf("%w: image is %d bytes, limit %d", domain.ErrPayloadTooLarge, len(data), c.maxBytes)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if entry, ok := c.lookup(hash); ok {
		metrics.DescriptorLookups.WithLabelValues("hit").Inc()
		return entry, nil
	}

	// the shared call outlives any one caller; the vision client's own
	// timeout bounds it
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(hash, func() (any, error) {
		if entry, ok := c.lookup(hash); ok {
			return entry, nil
		}
		return c.compute(detached, hash, data, mime, traits)
	})
	select {
	case <-ctx.Done():
		metrics.DescriptorLookups.WithLabelValues("error").Inc()
		return domain.DescriptorEntry{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			metrics.DescriptorLookups.WithLabelValues("error").Inc()
			return domain.DescriptorEntry{}, res.Err
		}
		metrics.DescriptorLookups.WithLabelValues("miss").Inc()
		return res.Val.(domain.DescriptorEntry), nil
	}
}

// AnalyzeFile checks the file size before reading it, then analyzes it.
func (c *Cache) AnalyzeFile(ctx context.Context, path string, traits []string) (domain.DescriptorEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.DescriptorEntry{}, fmt.Errorf("descriptor: %w: %v", domain.ErrNotFound, err)
	}
	if info.Size() > c.maxBytes {
		metrics.DescriptorLookups.WithLabelValues("rejected").Inc()
		return domain.DescriptorEntry{}, fmt.Errorf("%w: image is %d bytes, limit %d", domain.ErrPayloadTooLarge, info.Size(), c.maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.DescriptorEntry{}, fmt.Errorf("descriptor: read image: %w", err)
	}
	return c.Analyze(ctx, data, MIMEFromPath(path), traits)
}

// Len reports the number of cached descriptors.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(hash string) (domain.DescriptorEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[hash]
	c.mu.RUnlock()
	if ok {
		entry.Cached = true
	}
	return entry, ok
}

func (c *Cache) compute(ctx context.Context, hash string, data []byte, mime string, traits []string) (domain.DescriptorEntry, error) {
	if c.client == nil {
		return domain.DescriptorEntry{}, fmt.Errorf("%w: no vision client", domain.ErrProviderUnavailable)
	}
	prompt := instruction
	if known := joinTraits(traits); known != "" {
		prompt += "\nKnown personality traits: " + known + "."
	}
	text, err := c.client.DescribeImage(ctx, openai.DescribeRequest{
		Model:       c.model,
		Prompt:      prompt,
		MIME:        mime,
		Data:        data,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return domain.DescriptorEntry{}, fmt.Errorf("descriptor: describe image: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		text = defaultDescriptor
	}
	entry := domain.DescriptorEntry{
		Hash:       hash,
		Descriptor: strings.TrimSpace(text),
		Model:      c.model,
		Confidence: confidence,
	}
	c.mu.Lock()
	if existing, ok := c.entries[hash]; ok {
		entry = existing
	} else {
		c.entries[hash] = entry
	}
	c.mu.Unlock()
	c.logger.Debug().Str("hash", hash[:12]).Str("model", c.model).Msg("descriptor computed")
	return entry, nil
}

// MIMEFromPath picks the data URL type from a file extension.
func MIMEFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func joinTraits(traits []string) string {
	out := make([]string, 0, len(traits))
	for _, t := range traits {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, ", ")
}
