//go:build windows

package archive

import "os"

// openFileNoFollow opens path for writing. Windows has no O_NOFOLLOW;
// ValidateTarget has already rejected symlinked targets.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}
