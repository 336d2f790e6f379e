package server

import (
	"sync"

	"github.com/hpungsan/quill/internal/note"
)

// Recent is the bounded, newest-first window of notes used as prompt context.
type Recent struct {
	mu    sync.Mutex
	notes []note.Note
	limit int
}

// NewRecent creates a window holding at most limit notes.
func NewRecent(limit int) *Recent {
	if limit < 1 {
		limit = 1
	}
	return &Recent{limit: limit}
}

// Push prepends n, dropping the oldest note past the limit.
func (r *Recent) Push(n note.Note) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append([]note.Note{n}, r.notes...)
	if len(r.notes) > r.limit {
		r.notes = r.notes[:r.limit]
	}
}

// Snapshot returns a copy of the window, newest first.
func (r *Recent) Snapshot() []note.Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]note.Note, len(r.notes))
	copy(out, r.notes)
	return out
}

// Len returns the number of notes held.
func (r *Recent) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}
