package viewer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hpungsan/quill/internal/hub"
)

// Connection states reported by Client.Status.
const (
	StatusDisconnected = "Disconnected"
	StatusConnected    = "Connected"
	StatusProcessing   = "Processing..."
	StatusReady        = "Ready"
	StatusError        = "Error"
)

// DefaultReconnectDelay is the fixed wait between connection attempts.
const DefaultReconnectDelay = 3 * time.Second

// Handler is called after each event has been applied to the canvas. item
// is the appended item, nil for status-only events.
type Handler func(ev hub.Event, item *Item)

// Client follows the service's event stream.
type Client struct {
	url     string
	canvas  *Canvas
	delay   time.Duration
	dialer  *websocket.Dialer
	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	status string
}

// Option configures a Client.
type Option func(*Client)

// WithReconnectDelay sets the fixed reconnect delay.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.delay = d
		}
	}
}

// WithHandler sets the per-event callback.
func WithHandler(h Handler) Option {
	return func(c *Client) { c.handler = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a Client for the service at serviceURL (http or ws form).
func NewClient(serviceURL string, canvas *Canvas, opts ...Option) *Client {
	c := &Client{
		url:    WSURL(serviceURL),
		canvas: canvas,
		delay:  DefaultReconnectDelay,
		dialer: websocket.DefaultDialer,
		logger: slog.Default(),
		status: StatusDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WSURL maps a service base URL to its event stream URL.
func WSURL(serviceURL string) string {
	u := strings.TrimRight(serviceURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	case !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://"):
		u = "ws://" + u
	}
	if !strings.HasSuffix(u, "/ws") {
		u += "/ws"
	}
	return u
}

// URL returns the event stream URL.
func (c *Client) URL() string { return c.url }

// Status returns the current connection state.
func (c *Client) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setStatus(s string) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Run connects and follows the stream until ctx is cancelled. Dial failures
// and dropped connections are retried after the fixed delay, forever.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		c.setStatus(StatusDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("viewer disconnected, reconnecting", "error", err, "delay", c.delay)

		timer := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.setStatus(StatusConnected)
	c.logger.Info("viewer connected", "url", c.url)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		var ev hub.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		c.dispatch(ctx, ev)
	}
}

func (c *Client) dispatch(ctx context.Context, ev hub.Event) {
	switch ev.Type {
	case hub.TypeConnection:
		c.setStatus(StatusConnected)
	case hub.TypeProcessingStart:
		c.setStatus(StatusProcessing)
	case hub.TypeMarkdownReady:
		c.setStatus(StatusReady)
	case hub.TypeProcessingError:
		c.setStatus(StatusError)
	default:
		c.logger.Debug("ignoring event", "type", ev.Type)
		return
	}

	item, err := c.canvas.Apply(ctx, ev)
	if err != nil {
		c.logger.Warn("apply event", "type", ev.Type, "error", err)
		return
	}
	if c.handler != nil {
		c.handler(ev, item)
	}
}
