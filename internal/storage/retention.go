package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"storybook/internal/metrics"
)

// RetentionPolicy bounds the asset directory. Zero ceilings are unlimited.
type RetentionPolicy struct {
	MaxFiles int
	MaxBytes int64
}

// Enabled reports whether at least one ceiling is set.
func (p RetentionPolicy) Enabled() bool {
	return p.MaxFiles > 0 || p.MaxBytes > 0
}

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".webp": {},
}

type fileEntry struct {
	path    string
	size    int64
	modTime time.Time
}

func listImages(dir string) ([]fileEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: read dir: %w", err)
	}
	out := make([]fileEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(de.Name()))]; !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		out = append(out, fileEntry{
			path:    filepath.Join(dir, de.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return out, nil
}

// selectForDeletion expects entries sorted oldest first. The count rule marks
// the oldest overflow; the size rule then walks the unmarked remainder from
// the oldest until the total fits.
func selectForDeletion(entries []fileEntry, p RetentionPolicy) []fileEntry {
	marked := make([]bool, len(entries))

	if p.MaxFiles > 0 && len(entries) > p.MaxFiles {
		for i := 0; i < len(entries)-p.MaxFiles; i++ {
			marked[i] = true
		}
	}

	if p.MaxBytes > 0 {
		var total int64
		for i, e := range entries {
			if !marked[i] {
				total += e.size
			}
		}
		for i := 0; i < len(entries) && total > p.MaxBytes; i++ {
			if marked[i] {
				continue
			}
			marked[i] = true
			total -= entries[i].size
		}
	}

	var out []fileEntry
	for i, e := range entries {
		if marked[i] {
			out = append(out, e)
		}
	}
	return out
}

// Prune applies the retention policy and returns how many files were removed.
// Individual delete failures are logged and skipped.
func (s *FileStore) Prune() (int, error) {
	if !s.persist || !s.retention.Enabled() {
		return 0, nil
	}
	entries, err := listImages(s.dir)
	if err != nil {
		return 0, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].path < entries[j].path
		}
		return entries[i].modTime.Before(entries[j].modTime)
	})

	removed := 0
	for _, e := range selectForDeletion(entries, s.retention) {
		if err := os.Remove(e.path); err != nil {
			s.logger.Warn().Err(err).Str("file", filepath.Base(e.path)).Msg("retention delete failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		metrics.AssetsPruned.Add(float64(removed))
		s.logger.Info().Int("removed", removed).Int("scanned", len(entries)).Msg("retention pruned generated images")
	}
	return removed, nil
}

func (s *FileStore) pruneInBackground() {
	if _, err := s.Prune(); err != nil {
		s.logger.Warn().Err(err).Msg("retention prune failed")
	}
}
