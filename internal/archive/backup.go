package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hpungsan/quill/internal/db"
	"github.com/hpungsan/quill/internal/errors"
	"github.com/hpungsan/quill/internal/note"
)

// BackupSchemaVersion is written in every backup header.
const BackupSchemaVersion = "1.0"

// BackupHeader is the first line of a JSONL backup.
type BackupHeader struct {
	QuillBackup   bool   `json:"_quill_backup"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
}

// RestoreMode controls ID collisions during Restore.
type RestoreMode string

const (
	RestoreModeError   RestoreMode = "error"   // abort on any problem, nothing written
	RestoreModeReplace RestoreMode = "replace" // overwrite the archived note
	RestoreModeRename  RestoreMode = "rename"  // keep both, the restored one gets a new ID
)

// RestoreOutput reports what Restore did.
type RestoreOutput struct {
	Restored int            `json:"restored"`
	Skipped  int            `json:"skipped"`
	Dropped  int            `json:"dropped"`
	Errors   []RestoreError `json:"errors"`
}

// RestoreError describes one backup line that was not restored.
type RestoreError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type backupRecord struct {
	line int
	note note.Note
}

// Backup writes every note into a timestamped JSONL file in dir: a header
// line, then one note per line, newest first.
func (a *Archive) Backup(ctx context.Context, dir string) (*WriteOutput, error) {
	notes, err := a.All(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(BackupHeader{QuillBackup: true, SchemaVersion: BackupSchemaVersion, ExportedAt: now.Unix()}); err != nil {
		return nil, errors.NewInternal(err)
	}
	for i := range notes {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("backup")
		}
		if err := enc.Encode(notes[i]); err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	path := filepath.Join(dir, fmt.Sprintf("quill_backup_%s.jsonl", now.Format("2006-01-02T150405")))
	if err := WriteTarget(path, ".jsonl", buf.Bytes()); err != nil {
		return nil, err
	}
	return &WriteOutput{Path: path, Count: len(notes)}, nil
}

// RestoreFile restores the backup at path.
func (a *Archive) RestoreFile(ctx context.Context, path string, mode RestoreMode) (*RestoreOutput, error) {
	if path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(path)
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open backup: %w", err))
	}
	defer file.Close()
	return a.Restore(ctx, file, mode)
}

// Restore merges the notes of a JSONL backup into the archive. The merged
// list is ordered by creation time, newest first, and capped; notes past the
// cap are counted as dropped.
func (a *Archive) Restore(ctx context.Context, r io.Reader, mode RestoreMode) (*RestoreOutput, error) {
	if mode == "" {
		mode = RestoreModeError
	}
	if mode != RestoreModeError && mode != RestoreModeReplace && mode != RestoreModeRename {
		return nil, errors.NewInvalidRequest("mode must be one of: error, replace, rename")
	}

	records, problems := parseBackup(r)
	out := &RestoreOutput{Errors: problems, Skipped: len(problems)}
	if mode == RestoreModeError && len(problems) > 0 {
		out.Skipped = 0
		return out, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var collision *RestoreOutput
	err := db.Update(ctx, a.db, func(q db.Querier) error {
		notes, err := load(ctx, q)
		if err != nil {
			return err
		}

		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return errors.NewCancelled("restore")
			}
			n := rec.note
			i := indexOf(notes, n.ID)
			switch {
			case i < 0:
				notes = append(notes, n)
			case mode == RestoreModeReplace:
				notes[i] = n
			case mode == RestoreModeRename:
				n.ID = note.NewID(n.CreatedAt)
				notes = append(notes, n)
			default:
				collision = &RestoreOutput{Errors: []RestoreError{{
					Line:    rec.line,
					ID:      n.ID,
					Code:    "ID_COLLISION",
					Message: fmt.Sprintf("note with id %q already exists", n.ID),
				}}}
				return nil
			}
			out.Restored++
		}

		sort.SliceStable(notes, func(i, j int) bool {
			return notes[i].CreatedAt.After(notes[j].CreatedAt)
		})
		if len(notes) > a.max {
			out.Dropped = len(notes) - a.max
			notes = notes[:a.max]
		}
		return db.SaveJSON(ctx, q, NotesKey, notes)
	})
	if err != nil {
		return nil, err
	}
	if collision != nil {
		return collision, nil
	}
	return out, nil
}

func parseBackup(r io.Reader) ([]backupRecord, []RestoreError) {
	var records []backupRecord
	problems := []RestoreError{}

	scanner := bufio.NewScanner(r)
	// Notes carry up to a few thousand characters of text twice over.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var header BackupHeader
		if err := json.Unmarshal(raw, &header); err == nil && header.QuillBackup {
			continue
		}

		var n note.Note
		if err := json.Unmarshal(raw, &n); err != nil {
			problems = append(problems, RestoreError{Line: line, Code: "PARSE_ERROR", Message: fmt.Sprintf("invalid JSON: %v", err)})
			continue
		}
		if n.ID == "" {
			problems = append(problems, RestoreError{Line: line, Code: "INVALID_RECORD", Message: "missing id field"})
			continue
		}
		records = append(records, backupRecord{line: line, note: n})
	}
	if err := scanner.Err(); err != nil {
		problems = append(problems, RestoreError{Line: line, Code: "READ_ERROR", Message: fmt.Sprintf("failed to read backup: %v", err)})
	}
	return records, problems
}
