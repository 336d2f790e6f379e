package hub

import (
	"time"

	"github.com/hpungsan/quill/internal/note"
)

// Event types pushed to live viewers.
const (
	TypeConnection      = "connection"
	TypeProcessingStart = "processing_start"
	TypeMarkdownReady   = "markdown_ready"
	TypeProcessingError = "processing_error"
)

// Event is one server-to-viewer message, discriminated by Type.
type Event struct {
	Type         string     `json:"type"`
	Message      string     `json:"message,omitempty"`
	SourceURL    string     `json:"sourceUrl,omitempty"`
	SourceDomain string     `json:"sourceDomain,omitempty"`
	TextPreview  string     `json:"textPreview,omitempty"`
	Note         *note.Note `json:"note,omitempty"`
	Error        string     `json:"error,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// Connection greets a newly connected viewer.
func Connection(now time.Time) Event {
	return Event{Type: TypeConnection, Message: "Connected to Quill server", Timestamp: now}
}

// ProcessingStart announces that a request is being processed.
func ProcessingStart(req note.ProcessingRequest, now time.Time) Event {
	return Event{
		Type:         TypeProcessingStart,
		Message:      "Processing new text...",
		SourceURL:    req.URL,
		SourceDomain: req.Domain,
		TextPreview:  note.Preview(req.Text, 100),
		Timestamp:    now,
	}
}

// MarkdownReady carries a finished note.
func MarkdownReady(n *note.Note, now time.Time) Event {
	return Event{Type: TypeMarkdownReady, Note: n, Message: "Text processed successfully!", Timestamp: now}
}

// ProcessingError reports a model failure.
func ProcessingError(err error, now time.Time) Event {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Event{Type: TypeProcessingError, Error: msg, Message: "AI processing failed", Timestamp: now}
}
