// Package relay forwards captured selections to the processing service,
// archives the result and notifies the user.
package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hpungsan/quill/internal/capture"
	"github.com/hpungsan/quill/internal/errors"
	"github.com/hpungsan/quill/internal/note"
)

// Notification texts.
const (
	msgAgentUnreachable = "Capture agent not loaded. Reload the page and try again."
)

// AgentConn reaches the capture agent for the active page.
type AgentConn interface {
	Send(ctx context.Context, cmd capture.Command) (capture.Response, error)
}

// LocalAgent is an in-process AgentConn.
type LocalAgent struct {
	Agent *capture.Agent
}

func (l LocalAgent) Send(ctx context.Context, cmd capture.Command) (capture.Response, error) {
	if l.Agent == nil {
		return capture.Response{}, errors.NewUnreachable("capture agent", nil)
	}
	return l.Agent.Handle(ctx, cmd), nil
}

// Store persists processed notes.
type Store interface {
	Save(ctx context.Context, n note.Note) error
}

// Notifier shows a user-visible notification.
type Notifier interface {
	Notify(message string)
}

// LogNotifier logs notifications and echoes them to W when set.
type LogNotifier struct {
	W      io.Writer
	Logger *slog.Logger
}

func (l LogNotifier) Notify(message string) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "message", message)
	if l.W != nil {
		fmt.Fprintln(l.W, message)
	}
}

// Relay is the background process between agent and service.
type Relay struct {
	client   *Client
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Relay.
func New(client *Client, store Store, notifier Notifier, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		client:   client,
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Trigger is the capture hotkey: it asks the agent on the active page to
// capture. An unreachable agent is reported, never retried.
func (r *Relay) Trigger(ctx context.Context, conn AgentConn) (capture.Response, error) {
	if conn == nil {
		r.notifier.Notify(msgAgentUnreachable)
		return capture.Response{}, errors.NewUnreachable("capture agent", nil)
	}
	resp, err := conn.Send(ctx, capture.Command{Action: capture.ActionCapture})
	if err != nil {
		r.logger.Warn("capture agent unreachable", "error", err)
		r.notifier.Notify(msgAgentUnreachable)
		return capture.Response{}, errors.NewUnreachable("capture agent", err)
	}
	return resp, nil
}

// Emit lets the relay receive agent messages directly.
func (r *Relay) Emit(ctx context.Context, msg capture.Message) error {
	_, err := r.Receive(ctx, msg)
	return err
}

// Receive handles an agent message. The returned note is always archived:
// the service's note on success, a raw fallback otherwise.
func (r *Relay) Receive(ctx context.Context, msg capture.Message) (*note.Note, error) {
	if msg.Type != capture.TypeTextCaptured {
		return nil, nil
	}
	req := msg.Data.Request()

	res, err := r.client.Process(ctx, req)
	if err != nil {
		r.logger.Warn("processing failed, storing raw text", "error", err, "service", r.client.BaseURL())
		fallback := note.RawFallback(req, r.now())
		if serr := r.store.Save(ctx, *fallback); serr != nil {
			return fallback, serr
		}
		r.notifier.Notify(fmt.Sprintf("Failed to process text. Check if the server is running at %s.", r.client.BaseURL()))
		return fallback, nil
	}

	if res.Warning != "" {
		r.logger.Warn("processed with fallback", "warning", res.Warning)
	}
	if err := r.store.Save(ctx, *res.Note); err != nil {
		return res.Note, err
	}
	r.notifier.Notify(fmt.Sprintf("Note processed: %q", res.Note.Title))
	return res.Note, nil
}
