// Package archive is the durable note list: one JSON array under a single
// key, newest first, capped.
package archive

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/hpungsan/quill/internal/db"
	"github.com/hpungsan/quill/internal/errors"
	"github.com/hpungsan/quill/internal/note"
)

// NotesKey is the storage key holding the archive.
const NotesKey = "notes"

// DefaultMaxNotes caps the archive when no limit is configured.
const DefaultMaxNotes = 100

// Archive reads and writes the persisted note list.
type Archive struct {
	db  *sql.DB
	max int

	// mu orders callers within this process; db.Update serializes writers
	// across processes sharing the store.
	mu sync.Mutex
}

// New creates an Archive over database, keeping at most max notes.
func New(database *sql.DB, max int) *Archive {
	if max <= 0 {
		max = DefaultMaxNotes
	}
	return &Archive{db: database, max: max}
}

// Max returns the cap.
func (a *Archive) Max() int { return a.max }

// All returns every note, newest first.
func (a *Archive) All(ctx context.Context) ([]note.Note, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return load(ctx, a.db)
}

// Save inserts n at the head, replacing any note with the same ID, and drops
// the oldest notes beyond the cap.
func (a *Archive) Save(ctx context.Context, n note.Note) error {
	if n.ID == "" {
		return errors.NewInvalidRequest("note id is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	return db.Update(ctx, a.db, func(q db.Querier) error {
		notes, err := load(ctx, q)
		if err != nil {
			return err
		}

		out := make([]note.Note, 0, len(notes)+1)
		out = append(out, n)
		for _, existing := range notes {
			if existing.ID != n.ID {
				out = append(out, existing)
			}
		}
		if len(out) > a.max {
			out = out[:a.max]
		}
		return db.SaveJSON(ctx, q, NotesKey, out)
	})
}

// Get returns the note with the given ID.
func (a *Archive) Get(ctx context.Context, id string) (*note.Note, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	notes, err := load(ctx, a.db)
	if err != nil {
		return nil, err
	}
	i := indexOf(notes, id)
	if i < 0 {
		return nil, errors.NewNotFound(id)
	}
	n := notes[i]
	return &n, nil
}

// Search returns the notes whose title, original text or source domain
// contains query, ignoring case. An empty query matches everything.
// Storage is never modified.
func (a *Archive) Search(ctx context.Context, query string) ([]note.Note, error) {
	notes, err := a.All(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(notes, query), nil
}

// Filter is the in-memory half of Search.
func Filter(notes []note.Note, query string) []note.Note {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return notes
	}
	out := []note.Note{}
	for _, n := range notes {
		if strings.Contains(strings.ToLower(n.Title), q) ||
			strings.Contains(strings.ToLower(n.OriginalText), q) ||
			strings.Contains(strings.ToLower(n.SourceDomain), q) {
			out = append(out, n)
		}
	}
	return out
}

// Delete removes the note with the given ID.
func (a *Archive) Delete(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return db.Update(ctx, a.db, func(q db.Querier) error {
		notes, err := load(ctx, q)
		if err != nil {
			return err
		}
		i := indexOf(notes, id)
		if i < 0 {
			return errors.NewNotFound(id)
		}
		notes = append(notes[:i], notes[i+1:]...)
		return db.SaveJSON(ctx, q, NotesKey, notes)
	})
}

// Clear removes every note and returns how many were removed.
func (a *Archive) Clear(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var cleared int
	err := db.Update(ctx, a.db, func(q db.Querier) error {
		notes, err := load(ctx, q)
		if err != nil {
			return err
		}
		cleared = len(notes)
		return db.Delete(ctx, q, NotesKey)
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

// Document returns the full Markdown document for one note.
func (a *Archive) Document(ctx context.Context, id string) (string, error) {
	n, err := a.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return note.Document(n), nil
}

func load(ctx context.Context, q db.Querier) ([]note.Note, error) {
	var notes []note.Note
	if _, err := db.LoadJSON(ctx, q, NotesKey, &notes); err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []note.Note{}
	}
	return notes, nil
}

func indexOf(notes []note.Note, id string) int {
	for i := range notes {
		if notes[i].ID == id {
			return i
		}
	}
	return -1
}
