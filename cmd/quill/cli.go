package main

import (
	"bufio"
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/quill/internal/archive"
	"github.com/hpungsan/quill/internal/capture"
	"github.com/hpungsan/quill/internal/config"
	"github.com/hpungsan/quill/internal/db"
	"github.com/hpungsan/quill/internal/errors"
	"github.com/hpungsan/quill/internal/gemini"
	"github.com/hpungsan/quill/internal/hub"
	"github.com/hpungsan/quill/internal/mcp"
	"github.com/hpungsan/quill/internal/note"
	"github.com/hpungsan/quill/internal/processor"
	"github.com/hpungsan/quill/internal/relay"
	"github.com/hpungsan/quill/internal/server"
	"github.com/hpungsan/quill/internal/viewer"
	"github.com/hpungsan/quill/internal/web"
)

// cliEnv carries what commands need beyond their flags. Databases are opened
// per command so help and version never touch ~/.quill.
type cliEnv struct {
	baseDir string
	cfg     *config.Config
	stdin   io.Reader
	piped   bool
	logger  *slog.Logger
}

func (e *cliEnv) open(name string) (*sql.DB, error) {
	database, err := db.Init(e.baseDir, name)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	db.ConfigurePool(database, e.cfg)
	return database, nil
}

func (e *cliEnv) openArchive() (*archive.Archive, func(), error) {
	database, err := e.open(db.ArchiveDB)
	if err != nil {
		return nil, nil, err
	}
	return archive.New(database, e.cfg.ArchiveMaxNotes), func() { database.Close() }, nil
}

func (e *cliEnv) openCanvas(c *cli.Context) (*viewer.Canvas, func(), error) {
	database, err := e.open(db.ViewerDB)
	if err != nil {
		return nil, nil, err
	}
	canvas, err := viewer.OpenCanvas(c.Context, database, e.cfg.ViewerMaxAge())
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return canvas, func() { database.Close() }, nil
}

func (e *cliEnv) captureConfig() capture.Config {
	return capture.Config{MinChars: e.cfg.CaptureMinChars, MaxChars: e.cfg.CaptureMaxChars}
}

func (e *cliEnv) newRelay(serviceURL string, store relay.Store, notifier relay.Notifier) *relay.Relay {
	client := relay.NewClient(serviceURL, e.cfg.RequestTimeout())
	return relay.New(client, store, notifier, e.logger)
}

func relayNotifier(w io.Writer, logger *slog.Logger) relay.Notifier {
	return relay.LogNotifier{W: w, Logger: logger}
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(env *cliEnv) *cli.App {
	app := &cli.App{
		Name:    "quill",
		Usage:   "Select text, get a formatted Markdown note",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "log-json", Usage: "Write logs as JSON lines"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
		},
		Before: func(c *cli.Context) error {
			env.logger = newLogger(c.App.ErrWriter, c.Bool("log-json"), c.Bool("debug"))
			slog.SetDefault(env.logger)
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(env),
			captureCmd(env),
			notesCmd(env),
			viewerCmd(env),
			uiCmd(env),
			mcpCmd(env),
			healthCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd runs the processing service.
func serveCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the processing service (HTTP API and viewer WebSocket)",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port to listen on (default from config)"},
			&cli.StringFlag{Name: "bind", Usage: "Address to bind (default from config)"},
		},
		Action: func(c *cli.Context) error {
			cfg := *env.cfg
			if c.IsSet("port") {
				cfg.Port = c.Int("port")
			}
			if c.IsSet("bind") {
				cfg.Bind = c.String("bind")
			}
			if !cfg.HasAPIKey() {
				env.logger.Warn("no Gemini API key configured; every note will fall back to raw text", "env", config.EnvAPIKey)
			}

			gen := gemini.NewClient(cfg.GeminiAPIKey,
				gemini.WithModel(cfg.GeminiModel),
				gemini.WithBaseURL(cfg.GeminiBaseURL),
				gemini.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout()}),
			)
			proc := processor.New(gen,
				processor.WithMaxOutputTokens(cfg.MaxOutputTokens),
				processor.WithContextNotes(cfg.ContextNotes),
				processor.WithLogger(env.logger),
			)
			srv := server.New(&cfg, proc, env.logger).HTTPServer()
			env.logger.Info("using model", "model", gen.Model())
			if err := web.Run(srv, "Quill service", env.logger); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// captureCmd runs one capture through the agent and relay.
func captureCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "Capture a selection (--text, piped stdin, or the clipboard) and archive the note",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "text", Usage: "Selected text"},
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "Page the text came from"},
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Page title (fetched from --url when omitted)"},
			&cli.StringFlag{Name: "service", Usage: "Processing service URL (default from config)"},
		},
		Action: func(c *cli.Context) error {
			var sel capture.SelectionSource
			switch {
			case c.IsSet("text"):
				sel = capture.StaticSource(c.String("text"))
			case env.piped:
				sel = capture.ReaderSource{R: env.stdin}
			default:
				sel = capture.ClipboardSource{}
			}

			arch, closeDB, err := env.openArchive()
			if err != nil {
				return outputError(err)
			}
			defer closeDB()

			rel := env.newRelay(serviceURL(c, env), arch, relayNotifier(c.App.Writer, env.logger))
			indicator := capture.NewTermIndicator(c.App.ErrWriter)
			defer indicator.Dismiss()

			page := capture.ReadabilityPage{URL: c.String("url"), Title: c.String("title")}
			agent := capture.NewAgent(sel, page, rel, indicator, env.captureConfig(), env.logger)

			resp, err := rel.Trigger(c.Context, relay.LocalAgent{Agent: agent})
			if err != nil {
				return outputError(err)
			}
			if !resp.Success {
				return cli.Exit(resp.Error, 1)
			}
			return nil
		},
	}
}

// notesCmd groups the archive commands.
func notesCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "notes",
		Usage: "Browse and manage the note archive",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List notes, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum number of notes (default: all)"},
				},
				Action: func(c *cli.Context) error {
					if c.Int("limit") < 0 {
						return outputError(errors.NewInvalidRequest("limit must not be negative"))
					}
					return withArchive(env, func(arch *archive.Archive) error {
						notes, err := arch.All(c.Context)
						if err != nil {
							return err
						}
						total := len(notes)
						if limit := c.Int("limit"); limit > 0 && limit < total {
							notes = notes[:limit]
						}
						return outputJSON(c, summaries(notes, total))
					})
				},
			},
			{
				Name:      "search",
				Usage:     "Case-insensitive search over titles, original text and domains",
				ArgsUsage: "<query>",
				Action: func(c *cli.Context) error {
					query := strings.Join(c.Args().Slice(), " ")
					return withArchive(env, func(arch *archive.Archive) error {
						all, err := arch.All(c.Context)
						if err != nil {
							return err
						}
						return outputJSON(c, summaries(archive.Filter(all, query), len(all)))
					})
				},
			},
			{
				Name:      "view",
				Usage:     "Print a note as a Markdown document",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print the full note record as JSON"},
				},
				Action: func(c *cli.Context) error {
					id, err := requireID(c)
					if err != nil {
						return err
					}
					return withArchive(env, func(arch *archive.Archive) error {
						if c.Bool("json") {
							n, err := arch.Get(c.Context, id)
							if err != nil {
								return err
							}
							return outputJSON(c, n)
						}
						doc, err := arch.Document(c.Context, id)
						if err != nil {
							return err
						}
						_, err = io.WriteString(c.App.Writer, doc)
						return err
					})
				},
			},
			{
				Name:      "download",
				Usage:     "Write a note's Markdown to a file named after its title",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{dirFlag()},
				Action: func(c *cli.Context) error {
					id, err := requireID(c)
					if err != nil {
						return err
					}
					return withArchive(env, func(arch *archive.Archive) error {
						out, err := arch.WriteNote(c.Context, id, downloadDir(c, env))
						if err != nil {
							return err
						}
						return outputJSON(c, out)
					})
				},
			},
			{
				Name:  "export",
				Usage: "Write every note into one Markdown file",
				Flags: []cli.Flag{dirFlag()},
				Action: func(c *cli.Context) error {
					return withArchive(env, func(arch *archive.Archive) error {
						out, err := arch.WriteAll(c.Context, downloadDir(c, env))
						if err != nil {
							return err
						}
						return outputJSON(c, out)
					})
				},
			},
			{
				Name:  "backup",
				Usage: "Write every note record into a JSONL backup",
				Flags: []cli.Flag{dirFlag()},
				Action: func(c *cli.Context) error {
					return withArchive(env, func(arch *archive.Archive) error {
						out, err := arch.Backup(c.Context, downloadDir(c, env))
						if err != nil {
							return err
						}
						return outputJSON(c, out)
					})
				},
			},
			{
				Name:      "restore",
				Usage:     "Merge a JSONL backup into the archive",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: string(archive.RestoreModeError), Usage: "Collision mode: error|replace|rename"},
				},
				Action: func(c *cli.Context) error {
					path, err := requireArg(c, "backup path")
					if err != nil {
						return err
					}
					return withArchive(env, func(arch *archive.Archive) error {
						out, err := arch.RestoreFile(c.Context, path, archive.RestoreMode(c.String("mode")))
						if err != nil {
							return err
						}
						return outputJSON(c, out)
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "Permanently delete a note",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{yesFlag()},
				Action: func(c *cli.Context) error {
					id, err := requireID(c)
					if err != nil {
						return err
					}
					return withArchive(env, func(arch *archive.Archive) error {
						n, err := arch.Get(c.Context, id)
						if err != nil {
							return err
						}
						if err := confirm(c, env, "delete", fmt.Sprintf("Delete note %q?", n.Title)); err != nil {
							return err
						}
						if err := arch.Delete(c.Context, id); err != nil {
							return err
						}
						return outputJSON(c, map[string]any{"deleted": true, "id": id})
					})
				},
			},
			{
				Name:  "clear",
				Usage: "Permanently delete every note",
				Flags: []cli.Flag{yesFlag()},
				Action: func(c *cli.Context) error {
					return withArchive(env, func(arch *archive.Archive) error {
						if err := confirm(c, env, "clear", "Delete all notes? This cannot be undone."); err != nil {
							return err
						}
						cleared, err := arch.Clear(c.Context)
						if err != nil {
							return err
						}
						return outputJSON(c, map[string]any{"cleared": cleared})
					})
				},
			},
		},
	}
}

// viewerCmd groups the live viewer commands.
func viewerCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "viewer",
		Usage: "Follow the service's live notes and manage the viewer canvas",
		Subcommands: []*cli.Command{
			{
				Name:  "watch",
				Usage: "Connect to the service and print notes as they arrive",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "service", Usage: "Processing service URL (default from config)"},
					&cli.StringFlag{Name: "snapshot", Usage: "Rewrite this HTML file after every event"},
				},
				Action: func(c *cli.Context) error {
					return withCanvas(c, env, func(canvas *viewer.Canvas) error {
						return watch(c, env, canvas)
					})
				},
			},
			{
				Name:  "list",
				Usage: "List the canvas items",
				Action: func(c *cli.Context) error {
					return withCanvas(c, env, func(canvas *viewer.Canvas) error {
						return outputJSON(c, map[string]any{"topic": canvas.Topic(), "items": canvas.Items()})
					})
				},
			},
			{
				Name:      "snapshot",
				Usage:     "Render the canvas as an HTML page (stdout when no path is given)",
				ArgsUsage: "[path]",
				Action: func(c *cli.Context) error {
					return withCanvas(c, env, func(canvas *viewer.Canvas) error {
						if c.NArg() == 0 {
							return viewer.WriteSnapshot(c.App.Writer, canvas, viewer.StatusDisconnected)
						}
						return writeSnapshot(c.Args().First(), canvas, viewer.StatusDisconnected)
					})
				},
			},
			{
				Name:      "copy",
				Usage:     "Copy one note, or every note, to the clipboard",
				ArgsUsage: "[id]",
				Action: func(c *cli.Context) error {
					return withCanvas(c, env, func(canvas *viewer.Canvas) error {
						if c.NArg() > 0 {
							if err := canvas.CopyNote(c.Args().First()); err != nil {
								return err
							}
							return outputJSON(c, map[string]any{"copied": 1})
						}
						count, err := canvas.CopyAll()
						if err != nil {
							return err
						}
						return outputJSON(c, map[string]any{"copied": count})
					})
				},
			},
			{
				Name:      "download",
				Usage:     "Write one note, or every note under the topic, to a Markdown file",
				ArgsUsage: "[id]",
				Flags:     []cli.Flag{dirFlag()},
				Action: func(c *cli.Context) error {
					return withCanvas(c, env, func(canvas *viewer.Canvas) error {
						dir := downloadDir(c, env)
						if c.NArg() > 0 {
							path, err := canvas.DownloadNote(c.Args().First(), dir)
							if err != nil {
								return err
							}
							return outputJSON(c, archive.WriteOutput{Path: path, Count: 1})
						}
						path, count, err := canvas.DownloadAll(dir)
						if err != nil {
							return err
						}
						return outputJSON(c, archive.WriteOutput{Path: path, Count: count})
					})
				},
			},
			{
				Name:      "topic",
				Usage:     "Show or set the canvas topic",
				ArgsUsage: "[topic]",
				Action: func(c *cli.Context) error {
					return withCanvas(c, env, func(canvas *viewer.Canvas) error {
						if c.NArg() > 0 {
							if err := canvas.SetTopic(c.Context, strings.Join(c.Args().Slice(), " ")); err != nil {
								return err
							}
						}
						return outputJSON(c, map[string]any{"topic": canvas.Topic()})
					})
				},
			},
			{
				Name:  "clear",
				Usage: "Remove every item and the topic from the canvas",
				Flags: []cli.Flag{yesFlag()},
				Action: func(c *cli.Context) error {
					return withCanvas(c, env, func(canvas *viewer.Canvas) error {
						if err := confirm(c, env, "clear", "Clear all notes from the viewer?"); err != nil {
							return err
						}
						count := len(canvas.Items())
						if err := canvas.Clear(c.Context); err != nil {
							return err
						}
						return outputJSON(c, map[string]any{"cleared": count})
					})
				},
			},
		},
	}
}

// watch follows the service until interrupted.
func watch(c *cli.Context, env *cliEnv, canvas *viewer.Canvas) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshot := c.String("snapshot")
	var client *viewer.Client
	client = viewer.NewClient(serviceURL(c, env), canvas,
		viewer.WithReconnectDelay(env.cfg.ReconnectDelay()),
		viewer.WithLogger(env.logger),
		viewer.WithHandler(func(ev hub.Event, item *viewer.Item) {
			if item != nil {
				viewer.PrintItem(c.App.Writer, *item)
			}
			if snapshot == "" {
				return
			}
			if err := writeSnapshot(snapshot, canvas, client.Status()); err != nil {
				env.logger.Warn("write snapshot", "path", snapshot, "error", err)
			}
		}),
	)

	for _, item := range canvas.Items() {
		viewer.PrintItem(c.App.Writer, item)
	}
	env.logger.Info("watching", "url", client.URL())
	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// writeSnapshot renders the canvas into path, which must end in .html.
func writeSnapshot(path string, canvas *viewer.Canvas, status string) error {
	var buf bytes.Buffer
	if err := viewer.WriteSnapshot(&buf, canvas, status); err != nil {
		return errors.NewInternal(err)
	}
	return archive.WriteTarget(path, ".html", buf.Bytes())
}

// uiCmd runs the archive browser.
func uiCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "ui",
		Usage: "Browse the note archive in a web browser",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port to listen on (default from config)"},
			&cli.StringFlag{Name: "bind", Usage: "Address to bind (default from config)"},
		},
		Action: func(c *cli.Context) error {
			port := env.cfg.UIPort
			if c.IsSet("port") {
				port = c.Int("port")
			}
			bind := env.cfg.Bind
			if c.IsSet("bind") {
				bind = c.String("bind")
			}

			arch, closeDB, err := env.openArchive()
			if err != nil {
				return outputError(err)
			}
			defer closeDB()

			srv, err := web.NewServer(arch, Version, bind, port, env.logger)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if err := web.Run(srv, "Quill UI", env.logger); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// mcpCmd serves the MCP tools over stdio.
func mcpCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the note tools over MCP stdio",
		Action: func(c *cli.Context) error {
			if err := runMCP(env); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// healthCmd queries the service's health endpoint.
func healthCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check the processing service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "service", Usage: "Processing service URL (default from config)"},
		},
		Action: func(c *cli.Context) error {
			client := relay.NewClient(serviceURL(c, env), env.cfg.RequestTimeout())
			h, err := client.Health(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, h)
		},
	}
}

// Helper functions

func withArchive(env *cliEnv, fn func(*archive.Archive) error) error {
	arch, closeDB, err := env.openArchive()
	if err != nil {
		return outputError(err)
	}
	defer closeDB()
	if err := fn(arch); err != nil {
		return outputError(err)
	}
	return nil
}

func withCanvas(c *cli.Context, env *cliEnv, fn func(*viewer.Canvas) error) error {
	canvas, closeDB, err := env.openCanvas(c)
	if err != nil {
		return outputError(err)
	}
	defer closeDB()
	if err := fn(canvas); err != nil {
		return outputError(err)
	}
	return nil
}

func dirFlag() cli.Flag {
	return &cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "Target directory (default ~/.quill/exports)"}
}

func yesFlag() cli.Flag {
	return &cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Skip the confirmation prompt"}
}

func downloadDir(c *cli.Context, env *cliEnv) string {
	if dir := c.String("dir"); dir != "" {
		return dir
	}
	return db.ExportsDir(env.baseDir)
}

func serviceURL(c *cli.Context, env *cliEnv) string {
	if u := c.String("service"); u != "" {
		return u
	}
	return env.cfg.ServiceURL
}

func requireID(c *cli.Context) (string, error) {
	return requireArg(c, "note id")
}

func requireArg(c *cli.Context, what string) (string, error) {
	if c.NArg() == 0 || strings.TrimSpace(c.Args().First()) == "" {
		return "", outputError(errors.NewInvalidRequest(what + " is required"))
	}
	return c.Args().First(), nil
}

// confirm asks on stderr and reads the answer from stdin unless --yes was
// given. Anything but y/yes cancels; no answer at all needs --yes.
func confirm(c *cli.Context, env *cliEnv, action, prompt string) error {
	if c.Bool("yes") {
		return nil
	}
	fmt.Fprintf(c.App.ErrWriter, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(env.stdin).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	if answer == "" && err != nil {
		return errors.NewConfirmationRequired(action)
	}
	if answer != "y" && answer != "yes" {
		return errors.NewCancelled(action)
	}
	return nil
}

func summaries(notes []note.Note, total int) mcp.ListOutput {
	items := make([]note.Summary, len(notes))
	for i := range notes {
		items[i] = notes[i].ToSummary()
	}
	return mcp.ListOutput{Items: items, Count: len(items), Total: total}
}

// outputJSON marshals result to the app's stdout as JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if exitErr, ok := err.(cli.ExitCoder); ok {
		return exitErr
	}
	if qErr, ok := err.(*errors.QuillError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", qErr.Code, qErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
