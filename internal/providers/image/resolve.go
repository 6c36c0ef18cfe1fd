package image

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ReferenceResolver maps a character's stored image locator to a local file.
// Only files inside UploadsDir or one of Roots are ever returned.
type ReferenceResolver struct {
	UploadsDir string
	WorkDir    string
	// Roots lists further directories a resolved file may live in, such as
	// the generated asset directory.
	Roots []string
}

// NewReferenceResolver resolves against uploadsDir and the process working
// directory, accepting files under uploadsDir and extraRoots.
func NewReferenceResolver(uploadsDir string, extraRoots ...string) *ReferenceResolver {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return &ReferenceResolver{UploadsDir: uploadsDir, WorkDir: wd, Roots: extraRoots}
}

// Resolve tries, in order: an absolute existing path, the basename of a
// remote URL inside the uploads dir, the locator's basename inside the
// uploads dir, and the locator relative to the working dir. The first
// existing regular file inside an allowed root wins.
func (r *ReferenceResolver) Resolve(locator string) (string, bool) {
	locator = strings.TrimSpace(locator)
	if r == nil || locator == "" {
		return "", false
	}

	if filepath.IsAbs(locator) && r.usable(locator) {
		return filepath.Clean(locator), true
	}

	if u, err := url.Parse(locator); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if name := path.Base(u.Path); name != "" && name != "/" && name != "." {
			if candidate := filepath.Join(r.UploadsDir, name); r.usable(candidate) {
				return candidate, true
			}
		}
		return "", false
	}

	if name := filepath.Base(filepath.FromSlash(locator)); name != "." && name != ".." && name != string(filepath.Separator) {
		if candidate := filepath.Join(r.UploadsDir, name); r.usable(candidate) {
			return candidate, true
		}
	}

	relative := strings.TrimLeft(filepath.FromSlash(locator), `/\`)
	if candidate := filepath.Join(r.WorkDir, relative); r.usable(candidate) {
		return candidate, true
	}
	return "", false
}

func (r *ReferenceResolver) usable(p string) bool {
	return isFile(p) && r.contained(p)
}

// contained reports whether p, after cleaning and symlink evaluation, lies
// under one of the allowed roots.
func (r *ReferenceResolver) contained(p string) bool {
	target, err := realPath(p)
	if err != nil {
		return false
	}
	roots := append([]string{r.UploadsDir}, r.Roots...)
	for _, root := range roots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		base, err := realPath(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(base, target)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel) {
			return true
		}
	}
	return false
}

func realPath(p string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
