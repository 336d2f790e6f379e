package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/quill/internal/archive"
	"github.com/hpungsan/quill/internal/capture"
	"github.com/hpungsan/quill/internal/errors"
	"github.com/hpungsan/quill/internal/note"
	"github.com/hpungsan/quill/internal/relay"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	archive *archive.Archive
	relay   *relay.Relay
	capture capture.Config
	logger  *slog.Logger
}

// NewHandlers creates a new Handlers instance. rel may be nil, which makes
// note_capture fail with UNREACHABLE.
func NewHandlers(arch *archive.Archive, rel *relay.Relay, captureCfg capture.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{archive: arch, relay: rel, capture: captureCfg, logger: logger}
}

// CaptureRequest represents the arguments for note_capture.
type CaptureRequest struct {
	Text  string `json:"text"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// ListRequest represents the arguments for note_list.
type ListRequest struct {
	Limit int `json:"limit,omitempty"`
}

// SearchRequest represents the arguments for note_search.
type SearchRequest struct {
	Query string `json:"query"`
}

// FetchRequest represents the arguments for note_fetch.
type FetchRequest struct {
	ID     string `json:"id"`
	Format string `json:"format,omitempty"`
}

// DeleteRequest represents the arguments for note_delete.
type DeleteRequest struct {
	ID      string `json:"id"`
	Confirm bool   `json:"confirm"`
}

// ClearRequest represents the arguments for note_clear.
type ClearRequest struct {
	Confirm bool `json:"confirm"`
}

// CaptureOutput is the note_capture result.
type CaptureOutput struct {
	Note *note.Note `json:"note"`
	// Fallback is true when the service could not process the text and the
	// raw text was archived instead.
	Fallback bool `json:"fallback"`
}

// ListOutput is the note_list and note_search result.
type ListOutput struct {
	Items []note.Summary `json:"items"`
	Count int            `json:"count"`
	Total int            `json:"total"`
}

// HandleCapture handles the note_capture tool call.
func (h *Handlers) HandleCapture(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaptureRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if h.relay == nil {
		return errorResult(errors.NewUnreachable("processing service", nil)), nil
	}

	agent := capture.NewAgent(
		capture.StaticSource(input.Text),
		capture.ReadabilityPage{URL: input.URL, Title: input.Title},
		h.relay, nil, h.capture, h.logger,
	)
	sel, err := agent.Capture(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	n, err := h.relay.Receive(ctx, capture.Message{Type: capture.TypeTextCaptured, Data: *sel})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(CaptureOutput{Note: n, Fallback: n.ContentType == note.TypeRaw})
}

// HandleList handles the note_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Limit < 0 {
		return errorResult(errors.NewInvalidRequest("limit must not be negative")), nil
	}

	notes, err := h.archive.All(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	total := len(notes)
	if input.Limit > 0 && input.Limit < len(notes) {
		notes = notes[:input.Limit]
	}
	return successResult(summarize(notes, total))
}

// HandleSearch handles the note_search tool call.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	all, err := h.archive.All(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(summarize(archive.Filter(all, input.Query), len(all)))
}

// HandleFetch handles the note_fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ID == "" {
		return errorResult(errors.NewInvalidRequest("id is required")), nil
	}

	switch input.Format {
	case "", "json":
		n, err := h.archive.Get(ctx, input.ID)
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(n)
	case "markdown":
		doc, err := h.archive.Document(ctx, input.ID)
		if err != nil {
			return errorResult(err), nil
		}
		return mcp.NewToolResultText(doc), nil
	}
	return errorResult(errors.NewInvalidRequest(`format must be "json" or "markdown"`)), nil
}

// HandleDelete handles the note_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DeleteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ID == "" {
		return errorResult(errors.NewInvalidRequest("id is required")), nil
	}
	if !input.Confirm {
		return errorResult(errors.NewConfirmationRequired("delete")), nil
	}

	if err := h.archive.Delete(ctx, input.ID); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"deleted": true, "id": input.ID})
}

// HandleClear handles the note_clear tool call.
func (h *Handlers) HandleClear(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClearRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if !input.Confirm {
		return errorResult(errors.NewConfirmationRequired("clear")), nil
	}

	cleared, err := h.archive.Clear(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"cleared": cleared})
}

func summarize(notes []note.Note, total int) ListOutput {
	items := make([]note.Summary, len(notes))
	for i := range notes {
		items[i] = notes[i].ToSummary()
	}
	return ListOutput{Items: items, Count: len(items), Total: total}
}

// errorResult creates an MCP error result from an error.
func errorResult(err error) *mcp.CallToolResult {
	qErr := errors.As(err)
	errorObj := map[string]any{
		"code":    qErr.Code,
		"message": qErr.Message,
		"status":  qErr.Status,
	}
	// Internal details may carry paths or SQL.
	if qErr.Code != errors.ErrInternal && qErr.Details != nil {
		errorObj["details"] = qErr.Details
	}
	if qErr.Code == errors.ErrInternal {
		errorObj["message"] = "an internal error occurred"
	}

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
