// Package capture reads the user's selection, validates it and hands it to
// the relay.
package capture

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hpungsan/quill/internal/errors"
	"github.com/hpungsan/quill/internal/note"
)

// ActionCapture is the only command the agent understands.
const ActionCapture = "capture-text"

// TypeTextCaptured tags the message emitted on a successful capture.
const TypeTextCaptured = "TEXT_CAPTURED"

// Indicator durations.
const (
	RejectDuration     = 2 * time.Second
	ProcessingDuration = 3 * time.Second
)

// Command is a request from the relay.
type Command struct {
	Action string `json:"action"`
}

// Response answers a Command.
type Response struct {
	Success bool                    `json:"success"`
	Data    *note.CapturedSelection `json:"data,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

// Message is what the agent emits to the relay.
type Message struct {
	Type string                 `json:"type"`
	Data note.CapturedSelection `json:"data"`
}

// Emitter delivers agent messages to the relay.
type Emitter interface {
	Emit(ctx context.Context, msg Message) error
}

// Config bounds a valid selection, in runes.
type Config struct {
	MinChars int
	MaxChars int
}

// Agent captures selections.
type Agent struct {
	selection SelectionSource
	page      PageSource
	emitter   Emitter
	indicator Indicator
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewAgent creates an Agent. indicator and logger may be nil.
func NewAgent(sel SelectionSource, page PageSource, emitter Emitter, indicator Indicator, cfg Config, logger *slog.Logger) *Agent {
	if indicator == nil {
		indicator = nopIndicator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		selection: sel,
		page:      page,
		emitter:   emitter,
		indicator: indicator,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle runs cmd. Every outcome is shown on the indicator; only a valid
// selection is emitted.
func (a *Agent) Handle(ctx context.Context, cmd Command) Response {
	if cmd.Action != ActionCapture {
		return Response{Error: "unknown action: " + cmd.Action}
	}

	sel, err := a.Capture(ctx)
	if err != nil {
		a.indicator.Show(rejectMessage(err), RejectDuration)
		return Response{Error: err.Error()}
	}

	a.indicator.Show("Processing with AI...", ProcessingDuration)
	if err := a.emitter.Emit(ctx, Message{Type: TypeTextCaptured, Data: *sel}); err != nil {
		a.logger.Warn("emit capture", "error", err)
	}
	return Response{Success: true, Data: sel}
}

// Capture reads and validates the selection and assembles the page context.
func (a *Agent) Capture(ctx context.Context) (*note.CapturedSelection, error) {
	raw, err := a.selection.Selection(ctx)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	text, err := Validate(raw, a.cfg)
	if err != nil {
		return nil, err
	}

	page, err := a.page.Page(ctx)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	return &note.CapturedSelection{
		URL:          page.URL,
		Title:        page.Title,
		Domain:       page.Domain,
		Timestamp:    a.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		SelectedText: text,
	}, nil
}

// Validate trims raw and checks it against the length bounds.
func Validate(raw string, cfg Config) (string, error) {
	text := strings.TrimSpace(raw)
	n := note.CountChars(text)
	switch {
	case n == 0:
		return "", errors.NewNoSelection()
	case n < cfg.MinChars:
		return "", errors.NewTextTooShort(cfg.MinChars, n)
	case cfg.MaxChars > 0 && n > cfg.MaxChars:
		return "", errors.NewTextTooLong(cfg.MaxChars, n)
	}
	return text, nil
}

func rejectMessage(err error) string {
	switch {
	case errors.Is(err, errors.ErrNoSelection):
		return "No text selected! Please select some text first."
	case errors.Is(err, errors.ErrTextTooShort):
		return "Selected text too short! Please select more text."
	case errors.Is(err, errors.ErrTextTooLong):
		return "Selected text too long! Please select less text."
	}
	return "Error capturing text"
}
