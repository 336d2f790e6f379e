package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/quill/internal/note"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	h := New(nil, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHub_ConnectionEvent(t *testing.T) {
	h, url := startHub(t)
	conn := dial(t, url)

	ev := readEvent(t, conn)
	assert.Equal(t, TypeConnection, ev.Type)
	assert.NotEmpty(t, ev.Message)
	assert.False(t, ev.Timestamp.IsZero())

	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHub_ConnectionPrecedesBroadcasts(t *testing.T) {
	h, url := startHub(t)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ev := ProcessingStart(note.ProcessingRequest{Text: "busy", URL: "https://go.dev"}, time.Now())
		for {
			select {
			case <-stop:
				return
			default:
				h.Broadcast(ev)
				time.Sleep(time.Millisecond)
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
	})

	for i := 0; i < 5; i++ {
		conn := dial(t, url)
		assert.Equal(t, TypeConnection, readEvent(t, conn).Type)
	}
}

func TestHub_BroadcastAllInOrder(t *testing.T) {
	h, url := startHub(t)
	a := dial(t, url)
	b := dial(t, url)
	readEvent(t, a)
	readEvent(t, b)
	require.Eventually(t, func() bool { return h.Count() == 2 }, time.Second, 10*time.Millisecond)

	now := time.Now()
	h.Broadcast(ProcessingStart(note.ProcessingRequest{Text: "hello", URL: "https://x.test", Domain: "x.test"}, now))
	h.Broadcast(MarkdownReady(&note.Note{ID: "n1", ProcessedMarkdown: "# hi"}, now))

	for _, conn := range []*websocket.Conn{a, b} {
		first := readEvent(t, conn)
		second := readEvent(t, conn)
		assert.Equal(t, TypeProcessingStart, first.Type)
		assert.Equal(t, "hello...", first.TextPreview)
		assert.Equal(t, "x.test", first.SourceDomain)
		assert.Equal(t, TypeMarkdownReady, second.Type)
		require.NotNil(t, second.Note)
		assert.Equal(t, "n1", second.Note.ID)
	}
}

func TestHub_DisconnectRemovesClient(t *testing.T) {
	h, url := startHub(t)
	a := dial(t, url)
	b := dial(t, url)
	readEvent(t, a)
	readEvent(t, b)
	require.Eventually(t, func() bool { return h.Count() == 2 }, time.Second, 10*time.Millisecond)

	a.Close()
	require.Eventually(t, func() bool { return h.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Broadcast(ProcessingError(errors.New("boom"), time.Now()))
	ev := readEvent(t, b)
	assert.Equal(t, TypeProcessingError, ev.Type)
	assert.Equal(t, "boom", ev.Error)
	assert.Equal(t, "AI processing failed", ev.Message)
}

func TestHub_BroadcastWithoutClients(t *testing.T) {
	h := New(nil, nil)
	h.Broadcast(Connection(time.Now()))
	assert.Equal(t, 0, h.Count())
}

func TestHub_RejectsOrigin(t *testing.T) {
	h := New(nil, func(*http.Request) bool { return false })
	srv := httptest.NewServer(h)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEventJSON(t *testing.T) {
	data, err := json.Marshal(MarkdownReady(&note.Note{ID: "x"}, time.Now()))
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, `"type":"markdown_ready"`)
	assert.Contains(t, s, `"note":{"id":"x"`)
	assert.NotContains(t, s, `"error"`)
}
