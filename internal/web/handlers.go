package web

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/hpungsan/quill/internal/archive"
	"github.com/hpungsan/quill/internal/errors"
	"github.com/hpungsan/quill/internal/note"
)

// Handlers contains HTTP route handlers for the archive UI.
type Handlers struct {
	archive  *archive.Archive
	renderer *Renderer
	now      func() time.Time
}

// HandleList handles GET /notes, filtered by ?q=.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	all, err := h.archive.All(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	matched := archive.Filter(all, query)

	items := make([]note.Summary, len(matched))
	for i := range matched {
		items[i] = matched[i].ToSummary()
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"items": items,
			"total": len(all),
		})
		return
	}

	h.renderer.renderPage(w, r, "list", ListPageData{
		PageData: PageData{
			Title:   "Notes",
			Version: h.renderer.version,
			Nav:     "notes",
		},
		Items:    items,
		Total:    len(all),
		Query:    query,
		HasQuery: query != "",
		Max:      h.archive.Max(),
	})
}

// HandleDetail handles GET /notes/{id}.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	n, err := h.archive.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, n)
		return
	}

	title := n.Title
	if title == "" {
		title = note.UntitledTitle
	}
	h.renderer.renderPage(w, r, "detail", DetailPageData{
		PageData: PageData{
			Title:   title,
			Version: h.renderer.version,
			Nav:     "notes",
		},
		Note:         n,
		RenderedHTML: renderMarkdown(n.Body()),
	})
}

// HandleRaw handles GET /notes/{id}/raw with the full Markdown document.
func (h *Handlers) HandleRaw(w http.ResponseWriter, r *http.Request) {
	doc, err := h.archive.Document(r.Context(), r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	writeMarkdown(w, doc, "", false)
}

// HandleDownload handles GET /notes/{id}/download with the processed Markdown
// as a file named after the title.
func (h *Handlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
	n, err := h.archive.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	writeMarkdown(w, n.ProcessedMarkdown, note.Filename(n.Title), true)
}

// HandleExport handles GET /notes/export with every note in one document.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	notes, err := h.archive.All(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	writeMarkdown(w, note.Combined(notes), note.ExportFilename(h.now()), true)
}

// HandleDelete handles DELETE /notes/{id}?confirm=true and
// POST /notes/{id}/delete with a confirm=true form field.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if !confirmed(r) {
		h.renderer.renderError(w, r, errors.NewConfirmationRequired("delete"))
		return
	}

	id := r.PathValue("id")
	if err := h.archive.Delete(r.Context(), id); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/notes")
		w.WriteHeader(http.StatusOK)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
		return
	}
	http.Redirect(w, r, "/notes", http.StatusSeeOther)
}

// HandleClear handles POST /notes/clear.
func (h *Handlers) HandleClear(w http.ResponseWriter, r *http.Request) {
	if !confirmed(r) {
		h.renderer.renderError(w, r, errors.NewConfirmationRequired("clear"))
		return
	}

	cleared, err := h.archive.Clear(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<div class="clear-result">` + template.HTMLEscapeString(clearMessage(cleared)) + `</div>`))
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"cleared": cleared, "message": clearMessage(cleared)})
		return
	}
	http.Redirect(w, r, "/notes", http.StatusSeeOther)
}

// confirmed reports whether the request carries confirm=true, in the query
// or in a form body.
func confirmed(r *http.Request) bool {
	if r.URL.Query().Get("confirm") == "true" {
		return true
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	return r.PostFormValue("confirm") == "true"
}

func clearMessage(n int) string {
	if n == 1 {
		return "Cleared 1 note"
	}
	return fmt.Sprintf("Cleared %d notes", n)
}
