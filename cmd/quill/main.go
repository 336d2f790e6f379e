package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"

	"github.com/hpungsan/quill/internal/config"
	"github.com/hpungsan/quill/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"serve": true, "capture": true, "notes": true, "viewer": true,
	"ui": true, "mcp": true, "health": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	// Global flags come before the subcommand.
	if arg == "--log-json" || arg == "--debug" {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner(w io.Writer) {
	fmt.Fprintln(w, `
   ____        _ _ _
  / __ \__  __(_) | |
 / / / / / / / / / /
/ /_/ / /_/ / / / /
\___\_\__,_/_/_/_/

  Select text, get a formatted note

  Usage: quill <command> [options]
         quill --help

  MCP server mode requires piped input.`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner(os.Stdout)
		return
	}

	// Handle --help/--version before touching ~/.quill
	if isHelpOrVersion() {
		app := newCLIApp(&cliEnv{stdin: os.Stdin})
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	baseDir, err := quillHome()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	env := &cliEnv{
		baseDir: baseDir,
		cfg:     cfg,
		stdin:   os.Stdin,
		piped:   stdinHasData(),
	}

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(env)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'quill --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default). Stdout carries the protocol, so logs go to
	// stderr only.
	env.logger = newLogger(os.Stderr, false, false)
	if err := runMCP(env); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// quillHome returns $QUILL_HOME, or ~/.quill.
func quillHome() (string, error) {
	if dir := os.Getenv("QUILL_HOME"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".quill"), nil
}

// newLogger builds the process logger. Debug lowers the level; asJSON
// switches to machine-readable lines.
func newLogger(w io.Writer, asJSON, debug bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// runMCP serves the MCP tools over stdio against the archive.
func runMCP(env *cliEnv) error {
	if unknown := mcp.ValidateDisabledTools(env.cfg.DisabledTools); len(unknown) > 0 {
		env.logger.Warn("unknown tools in disabled_tools", "tools", unknown)
	}

	arch, closeDB, err := env.openArchive()
	if err != nil {
		return err
	}
	defer closeDB()

	rel := env.newRelay(env.cfg.ServiceURL, arch, relayNotifier(io.Discard, env.logger))
	h := mcp.NewHandlers(arch, rel, env.captureConfig(), env.logger)
	return mcp.Run(h, env.cfg, Version)
}
