package archive

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hpungsan/quill/internal/errors"
	"github.com/hpungsan/quill/internal/note"
)

// WriteOutput describes a file written by WriteNote or WriteAll.
type WriteOutput struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// WriteNote downloads one note into dir. The file holds the note's
// processed Markdown byte-for-byte and is named after its title.
func (a *Archive) WriteNote(ctx context.Context, id, dir string) (*WriteOutput, error) {
	n, err := a.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, note.Filename(n.Title))
	if err := WriteFile(path, []byte(n.ProcessedMarkdown)); err != nil {
		return nil, err
	}
	return &WriteOutput{Path: path, Count: 1}, nil
}

// WriteAll downloads every note into one dated document in dir.
func (a *Archive) WriteAll(ctx context.Context, dir string) (*WriteOutput, error) {
	notes, err := a.All(ctx)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, note.ExportFilename(time.Now()))
	if err := WriteFile(path, []byte(note.Combined(notes))); err != nil {
		return nil, err
	}
	return &WriteOutput{Path: path, Count: len(notes)}, nil
}

// WriteFile writes a Markdown download. See WriteTarget.
func WriteFile(path string, data []byte) error {
	return WriteTarget(path, ".md", data)
}

// WriteTarget writes data to path through a temp file and a rename, so an
// existing file survives a failed write. path must end in ext. Symlinked
// targets are refused.
func WriteTarget(path, ext string, data []byte) error {
	if err := validateTarget(path, ext); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create download directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		if errors.Is(err, errors.ErrInvalidRequest) {
			return err
		}
		return errors.NewInternal(fmt.Errorf("failed to create file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	// Close before rename (required on Windows).
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink swapped in since validation.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("path must not be a symlink")
	}

	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("destination already exists; overwriting is not supported on Windows")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize file: %w", err))
	}

	success = true
	return nil
}
