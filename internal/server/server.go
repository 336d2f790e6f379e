// Package server is the processing service: it accepts captured text over
// HTTP, formats it with the model and pushes lifecycle events to viewers.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hpungsan/quill/internal/config"
	"github.com/hpungsan/quill/internal/hub"
	"github.com/hpungsan/quill/internal/note"
	"github.com/hpungsan/quill/internal/processor"
)

const (
	maxBodyBytes = 10 << 20
	serverName   = "Quill Markdown Server"
)

// Formatter turns text into a processed result. *processor.Processor satisfies it.
type Formatter interface {
	Process(ctx context.Context, text string, recent []note.Note) processor.Result
}

// Server holds the service's shared state.
type Server struct {
	cfg    *config.Config
	format Formatter
	hub    *hub.Hub
	recent *Recent
	logger *slog.Logger
	now    func() time.Time
}

// New creates the processing service.
func New(cfg *config.Config, f Formatter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		format: f,
		hub:    hub.New(logger, checkOrigin(cfg.AllowedOrigins)),
		recent: NewRecent(cfg.RecentNotesLimit),
		logger: logger,
		now:    time.Now,
	}
}

// Hub returns the viewer hub.
func (s *Server) Hub() *hub.Hub { return s.hub }

// Recent returns the recent-context window.
func (s *Server) Recent() *Recent { return s.recent }

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/process-text", s.handleProcess)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /ws", s.hub)

	return recovery(s.logger, requestLog(s.logger, cors(s.cfg.AllowedOrigins, mux)))
}

// HTTPServer returns an http.Server bound to the configured address. Viewer
// sockets are closed on Shutdown.
func (s *Server) HTTPServer() *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.hub.Close)
	return srv
}

type processResponse struct {
	Success bool       `json:"success"`
	Note    *note.Note `json:"note,omitempty"`
	Message string     `json:"message,omitempty"`
	Warning string     `json:"warning,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req note.ProcessingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, processResponse{Error: "Request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, processResponse{Error: "Invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, processResponse{Error: "Text is required"})
		return
	}

	s.logger.Info("processing text", "chars", note.CountChars(req.Text), "domain", req.Domain)
	s.hub.Broadcast(hub.ProcessingStart(req, s.now()))

	res := s.format.Process(r.Context(), req.Text, s.recent.Snapshot())

	now := s.now()
	n := note.Note{
		ID:                note.NewID(now),
		OriginalText:      req.Text,
		ProcessedMarkdown: res.Markdown,
		Title:             res.Title,
		ContentType:       res.ContentType,
		SourceURL:         req.URL,
		SourceTitle:       req.Title,
		SourceDomain:      req.Domain,
		CreatedAt:         note.ParseTimestamp(req.Timestamp, now),
		ProcessedAt:       now,
	}
	s.recent.Push(n)

	if res.Tier == processor.TierRaw {
		s.hub.Broadcast(hub.ProcessingError(res.Err, s.now()))
		s.hub.Broadcast(hub.MarkdownReady(&n, s.now()))
		writeJSON(w, http.StatusOK, processResponse{
			Success: true,
			Note:    &n,
			Message: "Text captured (AI processing failed, using fallback)",
			Warning: fmt.Sprintf("AI processing failed: %v", res.Err),
		})
		return
	}

	s.logger.Info("note ready", "id", n.ID, "title", n.Title, "tier", res.Tier)
	s.hub.Broadcast(hub.MarkdownReady(&n, s.now()))
	writeJSON(w, http.StatusOK, processResponse{
		Success: true,
		Note:    &n,
		Message: "Text processed successfully",
	})
}

// Health is the GET /health body.
type Health struct {
	Status           string    `json:"status"`
	Timestamp        time.Time `json:"timestamp"`
	HasAPIKey        bool      `json:"hasApiKey"`
	ConnectedClients int       `json:"connectedClients"`
	RecentNotesCount int       `json:"recentNotesCount"`
	Server           string    `json:"server"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Health{
		Status:           "healthy",
		Timestamp:        s.now(),
		HasAPIKey:        s.cfg.HasAPIKey(),
		ConnectedClients: s.hub.Count(),
		RecentNotesCount: s.recent.Len(),
		Server:           serverName,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
