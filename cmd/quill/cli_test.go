package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/quill/internal/archive"
	"github.com/hpungsan/quill/internal/config"
	"github.com/hpungsan/quill/internal/db"
	"github.com/hpungsan/quill/internal/gemini"
	"github.com/hpungsan/quill/internal/hub"
	"github.com/hpungsan/quill/internal/mcp"
	"github.com/hpungsan/quill/internal/note"
	"github.com/hpungsan/quill/internal/processor"
	"github.com/hpungsan/quill/internal/server"
	"github.com/hpungsan/quill/internal/viewer"
)

type stubGenerator struct {
	reply string
}

func (g stubGenerator) Generate(context.Context, gemini.Request) (string, error) {
	return g.reply, nil
}

// newTestEnv returns an env rooted in a temp dir with stdin set to input.
func newTestEnv(t *testing.T, input string) *cliEnv {
	t.Helper()
	return &cliEnv{
		baseDir: t.TempDir(),
		cfg:     config.DefaultConfig(),
		stdin:   strings.NewReader(input),
	}
}

// run executes the CLI and returns stdout and stderr.
func run(t *testing.T, env *cliEnv, args ...string) (string, string, error) {
	t.Helper()
	app := newCLIApp(env)
	var stdout, stderr bytes.Buffer
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.Run(append([]string{"quill"}, args...))
	return stdout.String(), stderr.String(), err
}

// seedArchive stores notes oldest first, so the last one ends up on top.
func seedArchive(t *testing.T, env *cliEnv, notes ...note.Note) {
	t.Helper()
	database, err := db.Init(env.baseDir, db.ArchiveDB)
	require.NoError(t, err)
	defer database.Close()
	arch := archive.New(database, env.cfg.ArchiveMaxNotes)
	for _, n := range notes {
		require.NoError(t, arch.Save(context.Background(), n))
	}
}

func archivedNotes(t *testing.T, env *cliEnv) []note.Note {
	t.Helper()
	database, err := db.Init(env.baseDir, db.ArchiveDB)
	require.NoError(t, err)
	defer database.Close()
	notes, err := archive.New(database, env.cfg.ArchiveMaxNotes).All(context.Background())
	require.NoError(t, err)
	return notes
}

func sampleNotes() []note.Note {
	at := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	return []note.Note{
		{
			ID: "n1", Title: "Go Channels", ContentType: note.TypeCode,
			OriginalText: "ch := make(chan int)", ProcessedMarkdown: "# Go Channels\n\n```go\nch := make(chan int)\n```",
			SourceURL: "https://go.dev/tour", SourceDomain: "go.dev", CreatedAt: at,
		},
		{
			ID: "n2", Title: "Rust Ownership", ContentType: note.TypeArticle,
			OriginalText: "each value has an owner", ProcessedMarkdown: "# Rust Ownership\n\nEach value has an owner.",
			SourceURL: "https://doc.rust-lang.org/book", SourceDomain: "doc.rust-lang.org", CreatedAt: at.Add(time.Minute),
		},
	}
}

func startService(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	svc := server.New(config.DefaultConfig(), processor.New(stubGenerator{reply: reply}), nil)
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestCLINotesList(t *testing.T) {
	env := newTestEnv(t, "")
	seedArchive(t, env, sampleNotes()...)

	stdout, _, err := run(t, env, "notes", "list")
	require.NoError(t, err)

	var out mcp.ListOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, 2, out.Total)
	require.Len(t, out.Items, 2)
	assert.Equal(t, "n2", out.Items[0].ID)
	assert.Equal(t, "n1", out.Items[1].ID)

	stdout, _, err = run(t, env, "notes", "list", "--limit", "1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, 2, out.Total)

	_, _, err = run(t, env, "notes", "list", "--limit", "-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[INVALID_REQUEST]")
}

func TestCLINotesSearch(t *testing.T) {
	env := newTestEnv(t, "")
	seedArchive(t, env, sampleNotes()...)

	stdout, _, err := run(t, env, "notes", "search", "GO.DEV")
	require.NoError(t, err)

	var out mcp.ListOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "n1", out.Items[0].ID)
	assert.Equal(t, 2, out.Total)
}

func TestCLINotesView(t *testing.T) {
	env := newTestEnv(t, "")
	seedArchive(t, env, sampleNotes()...)

	stdout, _, err := run(t, env, "notes", "view", "n2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Each value has an owner.")

	stdout, _, err = run(t, env, "notes", "view", "--json", "n2")
	require.NoError(t, err)
	var n note.Note
	require.NoError(t, json.Unmarshal([]byte(stdout), &n))
	assert.Equal(t, "Rust Ownership", n.Title)

	_, _, err = run(t, env, "notes", "view", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[NOT_FOUND]")

	_, _, err = run(t, env, "notes", "view")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[INVALID_REQUEST]")
}

func TestCLINotesDownloadAndExport(t *testing.T) {
	env := newTestEnv(t, "")
	notes := sampleNotes()
	seedArchive(t, env, notes...)
	dir := t.TempDir()

	stdout, _, err := run(t, env, "notes", "download", "--dir", dir, "n1")
	require.NoError(t, err)
	var out archive.WriteOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, filepath.Join(dir, "go_channels.md"), out.Path)
	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, notes[0].ProcessedMarkdown, string(data))

	stdout, _, err = run(t, env, "notes", "export", "--dir", dir)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, 2, out.Count)
	data, err = os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Rust Ownership")
	assert.Contains(t, string(data), "Go Channels")
}

func TestCLINotesDownloadDefaultsToExportsDir(t *testing.T) {
	env := newTestEnv(t, "")
	seedArchive(t, env, sampleNotes()...)

	stdout, _, err := run(t, env, "notes", "download", "n2")
	require.NoError(t, err)
	var out archive.WriteOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, db.ExportsDir(env.baseDir), filepath.Dir(out.Path))
}

func TestCLINotesDelete(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		env := newTestEnv(t, "n\n")
		seedArchive(t, env, sampleNotes()...)

		_, stderr, err := run(t, env, "notes", "delete", "n1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "[CANCELLED]")
		assert.Contains(t, stderr, `Delete note "Go Channels"? [y/N]`)
		assert.Len(t, archivedNotes(t, env), 2)
	})

	t.Run("no answer", func(t *testing.T) {
		env := newTestEnv(t, "")
		seedArchive(t, env, sampleNotes()...)

		_, _, err := run(t, env, "notes", "delete", "n1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "[CONFIRMATION_REQUIRED]")
		assert.Len(t, archivedNotes(t, env), 2)
	})

	t.Run("confirmed", func(t *testing.T) {
		env := newTestEnv(t, "y\n")
		seedArchive(t, env, sampleNotes()...)

		stdout, _, err := run(t, env, "notes", "delete", "n1")
		require.NoError(t, err)
		assert.Contains(t, stdout, `"deleted": true`)
		notes := archivedNotes(t, env)
		require.Len(t, notes, 1)
		assert.Equal(t, "n2", notes[0].ID)
	})

	t.Run("not found", func(t *testing.T) {
		env := newTestEnv(t, "")
		_, _, err := run(t, env, "notes", "delete", "--yes", "missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "[NOT_FOUND]")
	})
}

func TestCLINotesClear(t *testing.T) {
	env := newTestEnv(t, "")
	seedArchive(t, env, sampleNotes()...)

	stdout, _, err := run(t, env, "notes", "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"cleared": 2`)
	assert.Empty(t, archivedNotes(t, env))
}

func TestCLICapture(t *testing.T) {
	srv := startService(t, `{"title":"Channel Basics","content_type":"code","markdown":"# Channel Basics\n\nUnbuffered channels block."}`)

	t.Run("text flag", func(t *testing.T) {
		env := newTestEnv(t, "")
		stdout, _, err := run(t, env, "capture",
			"--service", srv.URL,
			"--text", "unbuffered channels block until both sides are ready",
			"--url", "https://go.dev/tour/concurrency/2",
			"--title", "A Tour of Go",
		)
		require.NoError(t, err)
		assert.Contains(t, stdout, `Note processed: "Channel Basics"`)

		notes := archivedNotes(t, env)
		require.Len(t, notes, 1)
		assert.Equal(t, "Channel Basics", notes[0].Title)
		assert.Equal(t, "go.dev", notes[0].SourceDomain)
		assert.Equal(t, "A Tour of Go", notes[0].SourceTitle)
	})

	t.Run("piped stdin", func(t *testing.T) {
		env := newTestEnv(t, "  unbuffered channels block until both sides are ready\n")
		env.piped = true
		_, _, err := run(t, env, "capture", "--service", srv.URL)
		require.NoError(t, err)

		notes := archivedNotes(t, env)
		require.Len(t, notes, 1)
		assert.Equal(t, "unbuffered channels block until both sides are ready", notes[0].OriginalText)
	})

	t.Run("too short", func(t *testing.T) {
		env := newTestEnv(t, "")
		_, _, err := run(t, env, "capture", "--service", srv.URL, "--text", "tiny")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TEXT_TOO_SHORT")
		assert.Empty(t, archivedNotes(t, env))
	})
}

func TestCLICaptureServiceDown(t *testing.T) {
	srv := startService(t, "{}")
	url := srv.URL
	srv.Close()

	env := newTestEnv(t, "")
	stdout, _, err := run(t, env, "capture", "--service", url, "--text", "goroutines are lightweight threads")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Failed to process text. Check if the server is running at "+url+".")

	notes := archivedNotes(t, env)
	require.Len(t, notes, 1)
	assert.Equal(t, note.TypeRaw, notes[0].ContentType)
}

func seedCanvas(t *testing.T, env *cliEnv, events ...hub.Event) {
	t.Helper()
	database, err := db.Init(env.baseDir, db.ViewerDB)
	require.NoError(t, err)
	defer database.Close()
	canvas, err := viewer.OpenCanvas(context.Background(), database, env.cfg.ViewerMaxAge())
	require.NoError(t, err)
	for _, ev := range events {
		_, err := canvas.Apply(context.Background(), ev)
		require.NoError(t, err)
	}
}

func TestCLIViewer(t *testing.T) {
	env := newTestEnv(t, "")
	now := time.Now()
	seedCanvas(t, env,
		hub.MarkdownReady(&note.Note{ID: "v1", Title: "First", ProcessedMarkdown: "# First"}, now),
		hub.MarkdownReady(&note.Note{ID: "v2", Title: "Second", ProcessedMarkdown: "# Second"}, now),
	)

	stdout, _, err := run(t, env, "viewer", "topic", "Go", "study")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"topic": "Go study"`)

	stdout, _, err = run(t, env, "viewer", "list")
	require.NoError(t, err)
	var listed struct {
		Topic string        `json:"topic"`
		Items []viewer.Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &listed))
	assert.Equal(t, "Go study", listed.Topic)
	require.Len(t, listed.Items, 2)

	dir := t.TempDir()
	stdout, _, err = run(t, env, "viewer", "download", "--dir", dir)
	require.NoError(t, err)
	var out archive.WriteOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, filepath.Join(dir, "go_study.md"), out.Path)
	assert.Equal(t, 2, out.Count)
	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, "# Go study\n\n# First\n\n---\n\n# Second\n", string(data))

	stdout, _, err = run(t, env, "viewer", "snapshot")
	require.NoError(t, err)
	assert.Contains(t, stdout, "<h1>Go study</h1>")

	_, _, err = run(t, env, "viewer", "snapshot", filepath.Join(dir, "canvas.txt"))
	require.Error(t, err)

	stdout, _, err = run(t, env, "viewer", "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"cleared": 2`)

	stdout, _, err = run(t, env, "viewer", "list")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &listed))
	assert.Empty(t, listed.Items)
	assert.Empty(t, listed.Topic)
}

func TestCLIHealth(t *testing.T) {
	srv := startService(t, "{}")
	env := newTestEnv(t, "")

	stdout, _, err := run(t, env, "health", "--service", srv.URL)
	require.NoError(t, err)
	var h server.Health
	require.NoError(t, json.Unmarshal([]byte(stdout), &h))
	assert.Equal(t, "healthy", h.Status)

	down := startService(t, "{}")
	url := down.URL
	down.Close()
	_, _, err = run(t, env, "health", "--service", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[UNREACHABLE]")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, true, false).Debug("hidden")
	newLogger(&buf, true, false).Info("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	newLogger(&buf, false, true).Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}

func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"quill"}, false},
		{"serve command", []string{"quill", "serve"}, true},
		{"notes command", []string{"quill", "notes"}, true},
		{"viewer command", []string{"quill", "viewer"}, true},
		{"global flag first", []string{"quill", "--debug", "serve"}, true},
		{"help flag", []string{"quill", "--help"}, true},
		{"short version flag", []string{"quill", "-v"}, true},
		{"unknown arg defaults to MCP", []string{"quill", "--unknown"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			assert.Equal(t, tt.expected, isCLIMode())
		})
	}
}

func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"quill"}, false},
		{"help flag", []string{"quill", "--help"}, true},
		{"short help flag", []string{"quill", "-h"}, true},
		{"version flag", []string{"quill", "--version"}, true},
		{"help subcommand", []string{"quill", "help"}, true},
		{"capture is not help", []string{"quill", "capture"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			assert.Equal(t, tt.expected, isHelpOrVersion())
		})
	}
}

func TestQuillHome(t *testing.T) {
	t.Setenv("QUILL_HOME", "/tmp/quill-test-home")
	dir, err := quillHome()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/quill-test-home", dir)
}

func TestCLINotesBackupRestore(t *testing.T) {
	env := newTestEnv(t, "")
	seedArchive(t, env, sampleNotes()...)
	dir := t.TempDir()

	stdout, _, err := run(t, env, "notes", "backup", "--dir", dir)
	require.NoError(t, err)
	var backup archive.WriteOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &backup))
	assert.Equal(t, 2, backup.Count)

	_, _, err = run(t, env, "notes", "clear", "--yes")
	require.NoError(t, err)

	stdout, _, err = run(t, env, "notes", "restore", backup.Path)
	require.NoError(t, err)
	var restored archive.RestoreOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &restored))
	assert.Equal(t, 2, restored.Restored)
	assert.Len(t, archivedNotes(t, env), 2)

	stdout, _, err = run(t, env, "notes", "restore", "--mode", "rename", backup.Path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &restored))
	assert.Equal(t, 2, restored.Restored)
	assert.Len(t, archivedNotes(t, env), 4)

	_, _, err = run(t, env, "notes", "restore")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup path is required")
}
