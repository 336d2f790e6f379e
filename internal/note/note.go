package note

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

// Content-type labels. Model-assigned labels outside this set are kept as given.
const (
	TypeCode     = "code"
	TypeArticle  = "article"
	TypeTutorial = "tutorial"
	TypeDoc      = "doc"
	TypeList     = "list"
	TypeNote     = "note"
	TypeRules    = "rules"
	TypeSummary  = "summary"
	TypeRaw      = "raw"
)

// Vocabulary is the label set offered to the model.
var Vocabulary = []string{TypeCode, TypeArticle, TypeTutorial, TypeDoc, TypeList, TypeNote, TypeRules, TypeSummary}

// UntitledTitle is used wherever a note has no usable title.
const UntitledTitle = "Untitled Note"

// CapturedSelection is what the capture agent hands to the relay.
type CapturedSelection struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	Domain       string `json:"domain"`
	Timestamp    string `json:"timestamp"`
	SelectedText string `json:"selectedText"`
}

// Request converts the selection to its wire form.
func (s CapturedSelection) Request() ProcessingRequest {
	return ProcessingRequest{
		Text:      s.SelectedText,
		URL:       s.URL,
		Title:     s.Title,
		Domain:    s.Domain,
		Timestamp: s.Timestamp,
	}
}

// ProcessingRequest is the body of POST /api/process-text.
type ProcessingRequest struct {
	Text      string `json:"text"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Domain    string `json:"domain"`
	Timestamp string `json:"timestamp"`
}

// Note is a processed, durable note.
type Note struct {
	ID                string    `json:"id"`
	OriginalText      string    `json:"originalText"`
	ProcessedMarkdown string    `json:"processedMarkdown"`
	Title             string    `json:"title"`
	ContentType       string    `json:"contentType"`
	SourceURL         string    `json:"sourceUrl"`
	SourceTitle       string    `json:"sourceTitle"`
	SourceDomain      string    `json:"sourceDomain"`
	CreatedAt         time.Time `json:"createdAt"`
	ProcessedAt       time.Time `json:"processedAt,omitzero"`
}

// Summary is a note without its bodies, for list views.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ContentType  string    `json:"contentType"`
	SourceDomain string    `json:"sourceDomain"`
	Preview      string    `json:"preview"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ToSummary strips the bodies, keeping a short preview of the original text.
func (n *Note) ToSummary() Summary {
	return Summary{
		ID:           n.ID,
		Title:        n.Title,
		ContentType:  n.ContentType,
		SourceDomain: n.SourceDomain,
		Preview:      Preview(n.OriginalText, 100),
		CreatedAt:    n.CreatedAt,
	}
}

// Body returns the Markdown body, falling back to the original text.
func (n *Note) Body() string {
	if n.ProcessedMarkdown != "" {
		return n.ProcessedMarkdown
	}
	return n.OriginalText
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a ULID. IDs from one process are strictly increasing.
func NewID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ParseTimestamp returns the capture time carried by a request, or fallback
// when ts is empty or unparseable.
func ParseTimestamp(ts string, fallback time.Time) time.Time {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t
		}
	}
	return fallback
}

// RawFallback builds the note a relay stores when the processing service
// could not be used.
func RawFallback(req ProcessingRequest, now time.Time) *Note {
	return &Note{
		ID:                NewID(now),
		OriginalText:      req.Text,
		ProcessedMarkdown: "# Raw Text\n\n" + req.Text,
		Title:             "Raw Text (Server Error)",
		ContentType:       TypeRaw,
		SourceURL:         req.URL,
		SourceTitle:       req.Title,
		SourceDomain:      req.Domain,
		CreatedAt:         ParseTimestamp(req.Timestamp, now),
	}
}

// Preview returns the first n runes of s followed by "...".
func Preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s + "..."
	}
	return string([]rune(s)[:n]) + "..."
}

// CountChars returns the character count as runes (not bytes).
func CountChars(text string) int {
	return utf8.RuneCountInString(text)
}
