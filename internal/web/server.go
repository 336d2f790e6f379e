// Package web serves the archive UI.
package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hpungsan/quill/internal/archive"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// NewHandler builds the routed archive UI.
func NewHandler(arch *archive.Archive, version string, logger *slog.Logger) (http.Handler, error) {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub-FS: %w", err)
	}

	h := &Handlers{
		archive:  arch,
		renderer: NewRenderer(templateSub, version, logger),
		now:      time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/notes", http.StatusFound)
	})
	mux.HandleFunc("GET /notes", h.HandleList)
	mux.HandleFunc("GET /notes/export", h.HandleExport)
	mux.HandleFunc("POST /notes/clear", h.HandleClear)
	mux.HandleFunc("GET /notes/{id}", h.HandleDetail)
	mux.HandleFunc("GET /notes/{id}/raw", h.HandleRaw)
	mux.HandleFunc("GET /notes/{id}/download", h.HandleDownload)
	mux.HandleFunc("DELETE /notes/{id}", h.HandleDelete)
	mux.HandleFunc("POST /notes/{id}/delete", h.HandleDelete)

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return securityHeaders(mux), nil
}

// NewServer creates the HTTP server for the archive UI.
func NewServer(arch *archive.Archive, version, bind string, port int, logger *slog.Logger) (*http.Server, error) {
	handler, err := NewHandler(arch, version, logger)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts srv and shuts it down gracefully on SIGINT/SIGTERM. name labels
// the log lines. Any registered shutdown hooks run during Shutdown.
func Run(srv *http.Server, name string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info(name+" running", "url", "http://"+srv.Addr)

	if strings.HasPrefix(srv.Addr, "0.0.0.0:") || strings.HasPrefix(srv.Addr, ":") || strings.Contains(srv.Addr, "::") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network", "addr", srv.Addr)
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting down", "server", name)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
