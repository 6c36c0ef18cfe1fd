package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/metrics"
)

const maxDownloadBytes = 50 << 20

// Options configures a FileStore.
type Options struct {
	// Dir is where generated images are written.
	Dir string
	// PublicPath is the URL prefix Dir is served under, e.g. "/generated".
	PublicPath string
	// Format is the extension used when a caller does not pick one.
	Format string
	// Persist enables DownloadAndSave and retention pruning.
	Persist    bool
	Retention  RetentionPolicy
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// FileStore persists generated images onto the local filesystem and keeps
// the directory within the configured retention ceilings.
type FileStore struct {
	dir        string
	publicPath string
	format     string
	persist    bool
	retention  RetentionPolicy
	httpClient *http.Client
	logger     *infra.Logger
	pruner     *pruneQueue
}

// SavedAsset is the outcome of a successful save. The zero value means
// nothing was stored.
type SavedAsset struct {
	LocalPath string
	PublicURL string
}

// Empty reports whether nothing was stored.
func (a SavedAsset) Empty() bool {
	return a.LocalPath == ""
}

// NewFileStore initializes a FileStore. The directory is created lazily on
// the first save so listing an unused store does not touch the disk.
func NewFileStore(opts Options) (*FileStore, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, errors.New("storage: dir is required")
	}
	format := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(opts.Format), "."))
	if format == "" {
		format = "png"
	}
	publicPath := strings.TrimSpace(opts.PublicPath)
	if publicPath == "" {
		publicPath = path.Join("/", filepath.ToSlash(filepath.Base(dir)))
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	s := &FileStore{
		dir:        dir,
		publicPath: strings.TrimRight(publicPath, "/"),
		format:     format,
		persist:    opts.Persist,
		retention:  opts.Retention,
		httpClient: client,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}
	s.pruner = newPruneQueue(s.pruneInBackground)
	return s, nil
}

// Dir returns the directory assets are written to.
func (s *FileStore) Dir() string {
	return s.dir
}

// PublicPath returns the URL prefix of stored assets.
func (s *FileStore) PublicPath() string {
	return s.publicPath
}

// Persisting reports whether generated output should be kept on disk.
func (s *FileStore) Persisting() bool {
	return s != nil && s.persist
}

// Save writes data as <sanitized baseName>.<ext> and returns its local path
// and public URL. Retention pruning is queued afterwards and never reported
// to the caller.
func (s *FileStore) Save(ctx context.Context, data []byte, baseName, ext string) (SavedAsset, error) {
	if err := ctx.Err(); err != nil {
		return SavedAsset{}, err
	}
	if len(data) == 0 {
		return SavedAsset{}, fmt.Errorf("%w: storage: empty payload", domain.ErrPersistence)
	}
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" {
		ext = s.format
	}
	filename := SanitizeBaseName(baseName) + "." + SanitizeBaseName(ext)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return SavedAsset{}, fmt.Errorf("%w: storage: ensure directory: %v", domain.ErrPersistence, err)
	}
	fullPath := filepath.Join(s.dir, filename)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return SavedAsset{}, fmt.Errorf("%w: storage: write file: %v", domain.ErrPersistence, err)
	}
	metrics.AssetsSaved.Inc()
	s.logger.Debug().Str("file", filename).Int("bytes", len(data)).Msg("generated image saved")

	if s.persist && s.retention.Enabled() {
		s.pruner.Trigger()
	}
	return SavedAsset{LocalPath: fullPath, PublicURL: s.publicURL(filename)}, nil
}

// DownloadAndSave fetches url and stores the body. Every failure is logged
// and yields the zero SavedAsset; the remote URL stays usable either way.
func (s *FileStore) DownloadAndSave(ctx context.Context, url, baseName string) SavedAsset {
	if !s.Persisting() || strings.TrimSpace(url) == "" {
		return SavedAsset{}
	}
	data, err := s.download(ctx, url)
	if err != nil {
		s.logger.Warn().Err(err).Str("base", baseName).Msg("download of generated image failed")
		return SavedAsset{}
	}
	saved, err := s.Save(ctx, data, baseName, "png")
	if err != nil {
		s.logger.Warn().Err(err).Str("base", baseName).Msg("persist of generated image failed")
		return SavedAsset{}
	}
	return saved
}

func (s *FileStore) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("storage: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("storage: download returned no data")
	}
	return data, nil
}

// List returns the stored images, newest first. A missing directory is an
// empty store.
func (s *FileStore) List() ([]domain.StoredAsset, error) {
	entries, err := listImages(s.dir)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].modTime.After(entries[j].modTime)
	})
	out := make([]domain.StoredAsset, 0, len(entries))
	for _, e := range entries {
		name := filepath.Base(e.path)
		out = append(out, domain.StoredAsset{
			Filename:  name,
			URL:       s.publicURL(name),
			Size:      e.size,
			CreatedAt: e.modTime,
		})
	}
	return out, nil
}

// ReadPublic loads the bytes behind a public URL produced by this store.
func (s *FileStore) ReadPublic(publicURL string) ([]byte, string, error) {
	name := strings.TrimPrefix(publicURL, s.publicPath+"/")
	if name == publicURL || name == "" || strings.ContainsAny(name, `/\`) {
		return nil, "", fmt.Errorf("%w: %s", domain.ErrNotFound, publicURL)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %s", domain.ErrNotFound, publicURL)
		}
		return nil, "", fmt.Errorf("storage: read %s: %w", name, err)
	}
	return data, name, nil
}

// WaitForPruning blocks until every queued prune has run.
func (s *FileStore) WaitForPruning() {
	s.pruner.Wait()
}

// Close stops the background pruner after draining queued work.
func (s *FileStore) Close() {
	s.pruner.Close()
}

func (s *FileStore) publicURL(filename string) string {
	return s.publicPath + "/" + filename
}
