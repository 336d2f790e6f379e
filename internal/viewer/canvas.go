// Package viewer is the live viewer: it follows the processing service's
// event stream and keeps a locally persisted canvas of recent notes.
package viewer

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"

	"github.com/hpungsan/quill/internal/archive"
	"github.com/hpungsan/quill/internal/db"
	"github.com/hpungsan/quill/internal/errors"
	"github.com/hpungsan/quill/internal/hub"
	"github.com/hpungsan/quill/internal/note"
)

// Storage keys in the viewer database.
const (
	NotesKey = "quill_canvas_notes"
	TopicKey = "quill_canvas_topic"
)

// Item kinds.
const (
	KindPlaceholder = "placeholder"
	KindNote        = "note"
	KindError       = "error"
)

// DefaultTitle heads DownloadAll when no topic is set.
const DefaultTitle = "Quill Notes"

// Item is one entry on the canvas.
type Item struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	Note         *note.Note `json:"note,omitempty"`
	SourceURL    string     `json:"sourceUrl,omitempty"`
	SourceDomain string     `json:"sourceDomain,omitempty"`
	TextPreview  string     `json:"textPreview,omitempty"`
	Error        string     `json:"error,omitempty"`
	Message      string     `json:"message,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// Title is the heading shown for the item.
func (it Item) Title() string {
	switch it.Kind {
	case KindNote:
		if it.Note != nil && it.Note.Title != "" {
			return it.Note.Title
		}
		return note.UntitledTitle
	case KindPlaceholder:
		return "Processing Text"
	}
	return "Processing Error"
}

// Markdown is the item's displayable content. For notes it is the
// processed Markdown exactly.
func (it Item) Markdown() string {
	switch it.Kind {
	case KindNote:
		if it.Note == nil {
			return ""
		}
		return it.Note.ProcessedMarkdown
	case KindPlaceholder:
		return fmt.Sprintf("# Processing Text\n\n**Source:** %s\n\n**Preview:**\n%s\n\n---\n\n*AI is analyzing and formatting your content...*",
			it.SourceURL, it.TextPreview)
	}
	return fmt.Sprintf("# Processing Error\n\n**Error:** %s\n\n**Message:** %s\n\n---\n\n*Please check the server logs and try again.*",
		it.Error, it.Message)
}

// Clipboard receives copied text. clipboard.WriteAll is the default.
type Clipboard func(text string) error

// Canvas is the viewer's persisted item list and topic.
type Canvas struct {
	db     *sql.DB
	maxAge time.Duration
	copy   Clipboard
	now    func() time.Time

	mu    sync.Mutex
	items []Item
	topic string
}

// OpenCanvas loads the canvas from database, discarding items older than
// maxAge. A zero maxAge keeps everything.
func OpenCanvas(ctx context.Context, database *sql.DB, maxAge time.Duration) (*Canvas, error) {
	return openCanvas(ctx, database, maxAge, time.Now)
}

func openCanvas(ctx context.Context, database *sql.DB, maxAge time.Duration, now func() time.Time) (*Canvas, error) {
	c := &Canvas{
		db:     database,
		maxAge: maxAge,
		copy:   clipboard.WriteAll,
		now:    now,
	}

	var stored []Item
	if _, err := db.LoadJSON(ctx, database, NotesKey, &stored); err != nil {
		return nil, err
	}
	c.items = c.fresh(stored)
	if len(c.items) != len(stored) {
		if err := c.persist(ctx); err != nil {
			return nil, err
		}
	}

	topic, _, err := db.Get(ctx, database, TopicKey)
	if err != nil {
		return nil, err
	}
	c.topic = topic
	return c, nil
}

// SetClipboard replaces the clipboard writer.
func (c *Canvas) SetClipboard(fn Clipboard) { c.copy = fn }

func (c *Canvas) fresh(items []Item) []Item {
	out := make([]Item, 0, len(items))
	cutoff := c.now().Add(-c.maxAge)
	for _, it := range items {
		if c.maxAge > 0 && it.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Items returns a copy of the canvas, oldest first.
func (c *Canvas) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Item(nil), c.items...)
}

// Notes returns the finished notes on the canvas, oldest first.
func (c *Canvas) Notes() []note.Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []note.Note
	for _, it := range c.items {
		if it.Kind == KindNote && it.Note != nil {
			out = append(out, *it.Note)
		}
	}
	return out
}

// Topic returns the current topic label.
func (c *Canvas) Topic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topic
}

// Apply folds a service event into the canvas and persists it. The returned
// item is the one appended, if any.
func (c *Canvas) Apply(ctx context.Context, ev hub.Event) (*Item, error) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}

	var item Item
	switch ev.Type {
	case hub.TypeProcessingStart:
		item = Item{
			Kind:         KindPlaceholder,
			SourceURL:    ev.SourceURL,
			SourceDomain: ev.SourceDomain,
			TextPreview:  ev.TextPreview,
			Message:      ev.Message,
		}
	case hub.TypeMarkdownReady:
		if ev.Note == nil {
			return nil, errors.NewInvalidRequest("markdown_ready without note")
		}
		item = Item{Kind: KindNote, Note: ev.Note, SourceURL: ev.Note.SourceURL, SourceDomain: ev.Note.SourceDomain}
	case hub.TypeProcessingError:
		item = Item{Kind: KindError, Error: ev.Error, Message: ev.Message}
	default:
		return nil, nil
	}
	item.ID = note.NewID(ts)
	item.Timestamp = ts

	c.mu.Lock()
	defer c.mu.Unlock()

	// Start from what is stored, not from memory: another process may have
	// cleared the canvas or changed the topic since the last event.
	err := db.Update(ctx, c.db, func(q db.Querier) error {
		var items []Item
		if _, err := db.LoadJSON(ctx, q, NotesKey, &items); err != nil {
			return err
		}
		topic, _, err := db.Get(ctx, q, TopicKey)
		if err != nil {
			return err
		}
		if item.Kind != KindPlaceholder {
			items = withoutPlaceholders(items)
		}
		items = append(items, item)
		if err := db.SaveJSON(ctx, q, NotesKey, items); err != nil {
			return err
		}
		c.items, c.topic = items, topic
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func withoutPlaceholders(items []Item) []Item {
	out := items[:0]
	for _, it := range items {
		if it.Kind != KindPlaceholder {
			out = append(out, it)
		}
	}
	return out
}

// SetTopic stores the topic label.
func (c *Canvas) SetTopic(ctx context.Context, topic string) error {
	topic = strings.TrimSpace(topic)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := db.Put(ctx, c.db, TopicKey, topic); err != nil {
		return err
	}
	c.topic = topic
	return nil
}

// Clear drops every item and the topic, in memory and in storage.
func (c *Canvas) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := db.Update(ctx, c.db, func(q db.Querier) error {
		if err := db.Delete(ctx, q, NotesKey); err != nil {
			return err
		}
		return db.Delete(ctx, q, TopicKey)
	})
	if err != nil {
		return err
	}
	c.items = nil
	c.topic = ""
	return nil
}

// CopyNote copies one note's Markdown to the clipboard.
func (c *Canvas) CopyNote(id string) error {
	n, err := c.find(id)
	if err != nil {
		return err
	}
	return c.copyText(n.ProcessedMarkdown)
}

// CopyAll copies every note's Markdown to the clipboard.
func (c *Canvas) CopyAll() (int, error) {
	notes := c.Notes()
	if len(notes) == 0 {
		return 0, errors.NewInvalidRequest("no notes to copy")
	}
	parts := make([]string, len(notes))
	for i, n := range notes {
		parts[i] = n.ProcessedMarkdown
	}
	return len(notes), c.copyText(strings.Join(parts, "\n\n---\n\n"))
}

func (c *Canvas) copyText(text string) error {
	if err := c.copy(text); err != nil {
		return errors.NewInternal(fmt.Errorf("write clipboard: %w", err))
	}
	return nil
}

// DownloadNote writes one note to dir, byte-for-byte its processed Markdown.
func (c *Canvas) DownloadNote(id, dir string) (string, error) {
	n, err := c.find(id)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, note.Filename(n.Title))
	if err := archive.WriteFile(path, []byte(n.ProcessedMarkdown)); err != nil {
		return "", err
	}
	return path, nil
}

// DownloadAll writes every note to dir as one document headed by the topic.
func (c *Canvas) DownloadAll(dir string) (string, int, error) {
	notes := c.Notes()
	if len(notes) == 0 {
		return "", 0, errors.NewInvalidRequest("no notes to download")
	}
	topic := c.Topic()
	name := note.ExportFilename(c.now())
	if topic != "" {
		name = note.Filename(topic)
	}
	path := filepath.Join(dir, name)
	if err := archive.WriteFile(path, []byte(AllDocument(topic, notes))); err != nil {
		return "", 0, err
	}
	return path, len(notes), nil
}

// AllDocument renders notes as one Markdown document under a topic heading.
func AllDocument(topic string, notes []note.Note) string {
	if topic == "" {
		topic = DefaultTitle
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", topic)
	for i, n := range notes {
		if i > 0 {
			sb.WriteString("\n\n---\n\n")
		}
		sb.WriteString(n.ProcessedMarkdown)
	}
	sb.WriteString("\n")
	return sb.String()
}

// find resolves id against the canvas item ID or the note ID.
func (c *Canvas) find(id string) (*note.Note, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range c.items {
		if it.Kind != KindNote || it.Note == nil {
			continue
		}
		if it.ID == id || it.Note.ID == id {
			n := *it.Note
			return &n, nil
		}
	}
	return nil, errors.NewNotFound(id)
}

// persist writes the items; callers hold mu.
func (c *Canvas) persist(ctx context.Context) error {
	items := c.items
	if items == nil {
		items = []Item{}
	}
	return db.SaveJSON(ctx, c.db, NotesKey, items)
}
