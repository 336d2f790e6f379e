package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/quill/internal/config"
	"github.com/hpungsan/quill/internal/gemini"
	"github.com/hpungsan/quill/internal/hub"
	"github.com/hpungsan/quill/internal/note"
	"github.com/hpungsan/quill/internal/processor"
)

type stubGenerator struct {
	reply string
	err   error
}

func (g stubGenerator) Generate(context.Context, gemini.Request) (string, error) {
	return g.reply, g.err
}

type panicFormatter struct{}

func (panicFormatter) Process(context.Context, string, []note.Note) processor.Result {
	panic("boom")
}

func newTestServer(t *testing.T, f Formatter) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.RecentNotesLimit = 2
	s := New(cfg, f, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Hub().Close()
		ts.Close()
	})
	return s, ts
}

func dialViewer(t *testing.T, s *Server, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ev := readEvent(t, conn)
	require.Equal(t, hub.TypeConnection, ev.Type)
	require.Eventually(t, func() bool { return s.Hub().Count() == 1 }, time.Second, 10*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) hub.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev hub.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func assertNoEvent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected no event, got err=%v", err)
}

func post(t *testing.T, ts *httptest.Server, body string) (*http.Response, processResponse) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/process-text", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out processResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestProcess_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{"text":`, "Invalid JSON body"},
		{"missing text", `{"url":"https://x.test"}`, "Text is required"},
		{"whitespace text", `{"text":"   \n\t"}`, "Text is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ts := newTestServer(t, processor.New(stubGenerator{reply: "{}"}))
			conn := dialViewer(t, s, ts)

			resp, out := post(t, ts, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.False(t, out.Success)
			assert.Equal(t, tt.want, out.Error)
			assertNoEvent(t, conn)
			assert.Equal(t, 0, s.Recent().Len())
		})
	}
}

func TestProcess_BodyTooLarge(t *testing.T) {
	_, ts := newTestServer(t, processor.New(stubGenerator{reply: "{}"}))

	big := `{"text":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	resp, err := http.Post(ts.URL+"/api/process-text", "application/json", bytes.NewReader([]byte(big)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestProcess_Success(t *testing.T) {
	gen := stubGenerator{reply: `{"title":"Setup Steps","content_type":"tutorial","markdown":"1. Install"}`}
	s, ts := newTestServer(t, processor.New(gen))
	conn := dialViewer(t, s, ts)

	resp, out := post(t, ts, `{"text":"Steps: 1. Install","url":"https://x.test/a","title":"A","domain":"x.test","timestamp":"2026-01-02T03:04:05Z"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)
	assert.Equal(t, "Text processed successfully", out.Message)
	assert.Empty(t, out.Warning)
	require.NotNil(t, out.Note)
	assert.Equal(t, "Setup Steps", out.Note.Title)
	assert.Equal(t, "tutorial", out.Note.ContentType)
	assert.Equal(t, "1. Install", out.Note.ProcessedMarkdown)
	assert.Equal(t, "Steps: 1. Install", out.Note.OriginalText)
	assert.Equal(t, "x.test", out.Note.SourceDomain)
	assert.Equal(t, 2026, out.Note.CreatedAt.Year())
	assert.False(t, out.Note.ProcessedAt.IsZero())
	assert.Len(t, out.Note.ID, 26)

	start := readEvent(t, conn)
	ready := readEvent(t, conn)
	assert.Equal(t, hub.TypeProcessingStart, start.Type)
	assert.Equal(t, "Steps: 1. Install...", start.TextPreview)
	assert.Equal(t, "https://x.test/a", start.SourceURL)
	assert.Equal(t, hub.TypeMarkdownReady, ready.Type)
	require.NotNil(t, ready.Note)
	assert.Equal(t, out.Note.ID, ready.Note.ID)
	assert.Equal(t, "Text processed successfully!", ready.Message)

	assert.Equal(t, 1, s.Recent().Len())
}

func TestProcess_ModelFailureFallsBack(t *testing.T) {
	s, ts := newTestServer(t, processor.New(stubGenerator{err: errors.New("credential missing")}))
	conn := dialViewer(t, s, ts)

	resp, out := post(t, ts, `{"text":"for i in range(3): print(i)"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)
	assert.Equal(t, "AI processing failed: credential missing", out.Warning)
	assert.Equal(t, "Text captured (AI processing failed, using fallback)", out.Message)
	require.NotNil(t, out.Note)
	assert.Equal(t, "# for i in range(3): print(i)\n\nfor i in range(3): print(i)", out.Note.ProcessedMarkdown)
	assert.Equal(t, note.TypeArticle, out.Note.ContentType)

	types := []string{readEvent(t, conn).Type, readEvent(t, conn).Type, readEvent(t, conn).Type}
	assert.Equal(t, []string{hub.TypeProcessingStart, hub.TypeProcessingError, hub.TypeMarkdownReady}, types)
}

func TestProcess_RecoveredReply(t *testing.T) {
	s, ts := newTestServer(t, processor.New(stubGenerator{reply: "## Not JSON\n\nbut fine"}))

	_, out := post(t, ts, `{"text":"some captured prose"}`)
	assert.True(t, out.Success)
	assert.Empty(t, out.Warning)
	require.NotNil(t, out.Note)
	assert.Equal(t, "## Not JSON\n\nbut fine", out.Note.ProcessedMarkdown)
	assert.Equal(t, 1, s.Recent().Len())
}

func TestProcess_RecentWindowCapped(t *testing.T) {
	s, ts := newTestServer(t, processor.New(stubGenerator{reply: `{"title":"t","markdown":"m"}`}))

	var ids []string
	for i := 0; i < 3; i++ {
		_, out := post(t, ts, `{"text":"capture number text"}`)
		ids = append(ids, out.Note.ID)
	}

	snap := s.Recent().Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, ids[2], snap[0].ID)
	assert.Equal(t, ids[1], snap[1].ID)
}

func TestHealth(t *testing.T) {
	s, ts := newTestServer(t, processor.New(stubGenerator{reply: "{}"}))
	dialViewer(t, s, ts)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var h Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "Quill Markdown Server", h.Server)
	assert.False(t, h.HasAPIKey)
	assert.Equal(t, 1, h.ConnectedClients)
	assert.Equal(t, 0, h.RecentNotesCount)
	assert.False(t, h.Timestamp.IsZero())
}

func TestCORS(t *testing.T) {
	_, ts := newTestServer(t, processor.New(stubGenerator{reply: "{}"}))

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"chrome-extension://abcdef", true},
		{"http://localhost:3000", true},
		{"https://evil.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/process-text", nil)
			require.NoError(t, err)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", "POST")

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, http.StatusNoContent, resp.StatusCode)
			if tt.allowed {
				assert.Equal(t, tt.origin, resp.Header.Get("Access-Control-Allow-Origin"))
				assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
			} else {
				assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	_, ts := newTestServer(t, processor.New(stubGenerator{reply: "{}"}))

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRecovery(t *testing.T) {
	_, ts := newTestServer(t, panicFormatter{})

	resp, out := post(t, ts, `{"text":"trigger the panic"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.False(t, out.Success)
	assert.Equal(t, "internal server error", out.Error)
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"http://localhost:3000", "chrome-extension://*"}
	assert.True(t, originAllowed("http://localhost:3000", allowed))
	assert.False(t, originAllowed("http://localhost:30001", allowed))
	assert.True(t, originAllowed("chrome-extension://id", allowed))
	assert.False(t, originAllowed("moz-extension://id", allowed))
}

func TestRecent(t *testing.T) {
	r := NewRecent(0)
	r.Push(note.Note{ID: "a"})
	r.Push(note.Note{ID: "b"})
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "b", snap[0].ID)

	snap[0].ID = "mutated"
	assert.Equal(t, "b", r.Snapshot()[0].ID)
}
