package archive

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/quill/internal/errors"
)

// ValidateTarget checks a download path before anything is written:
// no ".." components, a .md extension, and neither the file nor its parent
// directory may be a symlink.
func ValidateTarget(path string) error {
	return validateTarget(path, ".md")
}

func validateTarget(path, ext string) error {
	if path == "" {
		return errors.NewInvalidRequest("path is required")
	}
	if containsTraversal(path) {
		return errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}
	cleaned := filepath.Clean(path)
	if !strings.EqualFold(filepath.Ext(cleaned), ext) {
		return errors.NewInvalidRequest("path must have " + ext + " extension")
	}

	if info, err := os.Lstat(filepath.Dir(cleaned)); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("parent directory must not be a symlink")
	}
	if info, err := os.Lstat(cleaned); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("path must not be a symlink")
	}
	return nil
}

func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}
