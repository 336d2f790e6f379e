package viewer

import (
	"bytes"
	"fmt"
	"html/template"
	"io"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML converts Markdown to HTML.
func RenderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var snapshotTmpl = template.Must(template.New("snapshot").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Status: {{.Status}}</p>
{{range .Items}}<section class="{{.Kind}}">
{{.HTML}}
</section>
{{end}}</body>
</html>
`))

type snapshotItem struct {
	Kind string
	HTML template.HTML
}

// WriteSnapshot renders the canvas as a standalone HTML page.
func WriteSnapshot(w io.Writer, c *Canvas, status string) error {
	title := c.Topic()
	if title == "" {
		title = DefaultTitle
	}
	items := c.Items()
	rendered := make([]snapshotItem, 0, len(items))
	for _, it := range items {
		html, err := RenderHTML(it.Markdown())
		if err != nil {
			return fmt.Errorf("render %s: %w", it.ID, err)
		}
		rendered = append(rendered, snapshotItem{Kind: it.Kind, HTML: template.HTML(html)})
	}
	return snapshotTmpl.Execute(w, struct {
		Title  string
		Status string
		Items  []snapshotItem
	}{title, status, rendered})
}

// PrintItem writes an item for a terminal: a header line then its Markdown.
func PrintItem(w io.Writer, it Item) {
	switch it.Kind {
	case KindNote:
		fmt.Fprintf(w, "\n=== %s [%s] %s ===\n%s\n", it.Title(), it.ID, it.Timestamp.Local().Format("15:04:05"), it.Markdown())
	case KindPlaceholder:
		fmt.Fprintf(w, "\n... processing text from %s\n", it.SourceDomain)
	default:
		fmt.Fprintf(w, "\n!!! %s: %s\n", it.Message, it.Error)
	}
}
