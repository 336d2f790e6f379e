// Package processor turns captured text into a titled Markdown note with a
// hosted model, degrading to heuristics when the model fails.
package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/hpungsan/quill/internal/gemini"
	"github.com/hpungsan/quill/internal/note"
)

// Tier records which path produced a Result.
type Tier string

const (
	// TierStructured: the model replied with the expected JSON object.
	TierStructured Tier = "structured"
	// TierRecovered: the model replied, but not with parseable JSON.
	TierRecovered Tier = "recovered"
	// TierRaw: the model call failed; the body is built from the input.
	TierRaw Tier = "raw"
)

// Result is the outcome of processing one text.
type Result struct {
	Title       string
	Markdown    string
	ContentType string
	Tier        Tier
	// Err is the model error for TierRaw.
	Err error
}

// Generator produces a model reply. *gemini.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, req gemini.Request) (string, error)
}

// Processor formats captured text.
type Processor struct {
	gen             Generator
	maxOutputTokens int
	contextNotes    int
	logger          *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithMaxOutputTokens caps the model reply.
func WithMaxOutputTokens(n int) Option {
	return func(p *Processor) { p.maxOutputTokens = n }
}

// WithContextNotes sets how many recent notes are digested into the prompt.
func WithContextNotes(n int) Option {
	return func(p *Processor) { p.contextNotes = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Processor.
func New(gen Generator, opts ...Option) *Processor {
	p := &Processor{
		gen:             gen,
		maxOutputTokens: 8192,
		contextNotes:    3,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process formats text. recent is the newest-first context window.
// It never fails: model errors produce a TierRaw result.
func (p *Processor) Process(ctx context.Context, text string, recent []note.Note) Result {
	digest := ContextDigest(recent, p.contextNotes)
	reply, err := p.gen.Generate(ctx, gemini.Request{
		Prompt:            BuildPrompt(text, digest),
		SystemInstruction: Instructions,
		JSON:              true,
		MaxOutputTokens:   p.maxOutputTokens,
	})
	if err != nil {
		p.logger.Warn("model call failed", "error", err)
		return rawResult(text, err)
	}

	res, perr := ParseReply(reply, text)
	if perr != nil {
		p.logger.Warn("model reply is not JSON", "error", perr)
	}
	return res
}

type structuredReply struct {
	Title       string `json:"title"`
	ContentType string `json:"content_type"`
	Markdown    string `json:"markdown"`
}

// ParseReply interprets a model reply for the given input text. A reply that
// is not a JSON object yields a TierRecovered result along with the parse error.
func ParseReply(reply, text string) (Result, error) {
	cleaned := StripCodeFence(reply)

	var sr structuredReply
	if err := json.Unmarshal([]byte(cleaned), &sr); err != nil {
		return recoveredResult(cleaned, text), err
	}

	res := Result{
		Title:       strings.TrimSpace(sr.Title),
		Markdown:    sr.Markdown,
		ContentType: strings.ToLower(strings.TrimSpace(sr.ContentType)),
		Tier:        TierStructured,
	}
	if res.Title == "" {
		res.Title = ExtractTitle(text)
	}
	if strings.TrimSpace(res.Markdown) == "" {
		res.Markdown = text
	}
	if res.ContentType == "" {
		res.ContentType = note.TypeArticle
	}
	return res, nil
}

func recoveredResult(reply, text string) Result {
	title := ExtractTitle(text)
	markdown := reply
	switch {
	case LooksLikeCode(text):
		markdown = fenced(title, text)
	case strings.TrimSpace(markdown) == "":
		markdown = "# " + title + "\n\n" + text
	}
	return Result{
		Title:       title,
		Markdown:    markdown,
		ContentType: note.TypeArticle,
		Tier:        TierRecovered,
	}
}

func rawResult(text string, err error) Result {
	title := ExtractTitle(text)
	markdown := "# " + title + "\n\n" + text
	if LooksLikeCode(text) {
		markdown = fenced(title, text)
	}
	return Result{
		Title:       title,
		Markdown:    markdown,
		ContentType: note.TypeArticle,
		Tier:        TierRaw,
		Err:         err,
	}
}
