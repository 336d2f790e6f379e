package mcp

import "github.com/mark3labs/mcp-go/mcp"

var captureToolDef = mcp.NewTool("note_capture",
	mcp.WithDescription("Capture text as a note: validate it, send it to the processing service for formatting, and archive the result. When the service is down the raw text is archived instead."),
	mcp.WithString("text", mcp.Required(), mcp.Description("The selected text to capture")),
	mcp.WithString("url", mcp.Description("Page the text came from")),
	mcp.WithString("title", mcp.Description("Page title; fetched from url when omitted")),
)

var listToolDef = mcp.NewTool("note_list",
	mcp.WithDescription("List archived notes, newest first, as summaries without bodies."),
	mcp.WithNumber("limit", mcp.Description("Maximum number of notes to return (default: all)")),
)

var searchToolDef = mcp.NewTool("note_search",
	mcp.WithDescription("Case-insensitive substring search over note titles, original text and source domains."),
	mcp.WithString("query", mcp.Required(), mcp.Description("Text to search for")),
)

var fetchToolDef = mcp.NewTool("note_fetch",
	mcp.WithDescription("Fetch one archived note by ID."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Note ID")),
	mcp.WithString("format", mcp.Description(`"json" (default) for the note record, "markdown" for the full Markdown document`)),
)

var deleteToolDef = mcp.NewTool("note_delete",
	mcp.WithDescription("Permanently delete one archived note. Requires confirm: true."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Note ID")),
	mcp.WithBoolean("confirm", mcp.Required(), mcp.Description("Must be true")),
)

var clearToolDef = mcp.NewTool("note_clear",
	mcp.WithDescription("Permanently delete every archived note. Requires confirm: true."),
	mcp.WithBoolean("confirm", mcp.Required(), mcp.Description("Must be true")),
)
