package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/go-shiori/go-readability"
)

// SelectionSource yields the user's current text selection.
type SelectionSource interface {
	Selection(ctx context.Context) (string, error)
}

// ClipboardSource reads the selection from the system clipboard.
type ClipboardSource struct{}

func (ClipboardSource) Selection(context.Context) (string, error) {
	text, err := clipboard.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return text, nil
}

// ReaderSource reads the whole selection from R (stdin, a file).
type ReaderSource struct {
	R io.Reader
}

func (s ReaderSource) Selection(context.Context) (string, error) {
	data, err := io.ReadAll(s.R)
	if err != nil {
		return "", fmt.Errorf("read selection: %w", err)
	}
	return string(data), nil
}

// StaticSource is a fixed selection.
type StaticSource string

func (s StaticSource) Selection(context.Context) (string, error) {
	return string(s), nil
}

// Page is the page a selection came from.
type Page struct {
	URL    string
	Title  string
	Domain string
}

// PageSource describes the active page.
type PageSource interface {
	Page(ctx context.Context) (Page, error)
}

// StaticPage is a page given up front. Domain is derived from URL when empty.
type StaticPage Page

func (p StaticPage) Page(context.Context) (Page, error) {
	page := Page(p)
	if page.Domain == "" {
		page.Domain = Hostname(page.URL)
	}
	return page, nil
}

// ReadabilityPage fills in a missing page title by fetching URL and running
// readability over it. A failed lookup leaves the title empty.
type ReadabilityPage struct {
	URL        string
	Title      string
	HTTPClient *http.Client
}

func (p ReadabilityPage) Page(ctx context.Context) (Page, error) {
	page := Page{URL: p.URL, Title: p.Title, Domain: Hostname(p.URL)}
	if page.Title != "" || page.URL == "" {
		return page, nil
	}
	if title, err := p.fetchTitle(ctx); err == nil {
		page.Title = title
	}
	return page, nil
}

func (p ReadabilityPage) fetchTitle(ctx context.Context) (string, error) {
	parsedURL, err := url.Parse(p.URL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("invalid URL: %s", p.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Quill/1.0)")

	hc := p.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("parse content: %w", err)
	}
	return strings.TrimSpace(article.Title), nil
}

// Hostname returns the host part of rawURL without port, or "" if unparseable.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
