package note

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const dateLayout = "2006-01-02 15:04"

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Document renders the full Markdown view of a note: title, source metadata, body.
func Document(n *Note) string {
	title := n.Title
	if title == "" {
		title = UntitledTitle
	}
	source := n.SourceURL
	if source == "" {
		source = "Unknown"
	}
	contentType := n.ContentType
	if contentType == "" {
		contentType = "text"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "**Source:** %s  \n", source)
	fmt.Fprintf(&sb, "**Date:** %s  \n", formatDate(n.CreatedAt))
	fmt.Fprintf(&sb, "**Type:** %s\n\n", contentType)
	sb.WriteString("---\n\n")
	sb.WriteString(n.Body())
	sb.WriteString("\n")
	return sb.String()
}

// Combined renders every note as one export document.
func Combined(notes []Note) string {
	parts := make([]string, 0, len(notes))
	for i := range notes {
		parts = append(parts, Document(&notes[i])+"\n---\n")
	}
	return strings.Join(parts, "\n\n")
}

// Filename derives a download filename from a title.
func Filename(title string) string {
	if title == "" {
		title = "note"
	}
	return strings.ToLower(nonAlnum.ReplaceAllString(title, "_")) + ".md"
}

// ExportFilename names the export-all document for the given day.
func ExportFilename(t time.Time) string {
	return fmt.Sprintf("quill_notes_export_%s.md", t.Format("2006-01-02"))
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "Unknown date"
	}
	return t.Local().Format(dateLayout)
}
