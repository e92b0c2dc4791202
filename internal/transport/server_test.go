package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler echoes frames back through the server and records lifecycle calls.
type echoHandler struct {
	srv *Server

	mu      sync.Mutex
	opened  []string
	closed  []string
	binary  [][]byte
	openErr error
}

func (h *echoHandler) OnOpen(_ context.Context, connID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openErr != nil {
		return h.openErr
	}
	h.opened = append(h.opened, connID)
	return nil
}

func (h *echoHandler) OnClose(_ context.Context, connID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, connID)
	return nil
}

func (h *echoHandler) OnText(_ context.Context, connID string, text string) {
	h.srv.SendText(connID, text)
}

func (h *echoHandler) OnBinary(_ context.Context, connID string, data []byte) {
	h.mu.Lock()
	h.binary = append(h.binary, data)
	h.mu.Unlock()
	h.srv.SendBinary(connID, data)
}

func (h *echoHandler) counts() (opened, closed, binary int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.opened), len(h.closed), len(h.binary)
}

func (h *echoHandler) firstOpened() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.opened) == 0 {
		return ""
	}
	return h.opened[0]
}

func newTestServer(t *testing.T, cfg Config) (*Server, *echoHandler, string) {
	t.Helper()
	srv := NewServer(cfg, nil)
	h := &echoHandler{srv: srv}
	ts := httptest.NewServer(srv.Handler(h))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		ts.Close()
	})
	return srv, h, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestServer_EchoFrames(t *testing.T) {
	srv, h, url := newTestServer(t, DefaultConfig())
	ws := dial(t, url)

	require.Eventually(t, func() bool { return srv.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("hello")))
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{0xa1, 0x01, 0x02}))
	mt, data, err = ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{0xa1, 0x01, 0x02}, data)

	opened, _, binary := h.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, binary)
}

func TestServer_ClientCloseRunsOnClose(t *testing.T) {
	srv, h, url := newTestServer(t, DefaultConfig())
	ws := dial(t, url)
	require.Eventually(t, func() bool { return srv.Len() == 1 }, time.Second, 5*time.Millisecond)

	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ws.Close()

	require.Eventually(t, func() bool {
		_, closed, _ := h.counts()
		return closed == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, srv.Len())
}

func TestServer_CloseByID(t *testing.T) {
	srv, h, url := newTestServer(t, DefaultConfig())
	ws := dial(t, url)
	require.Eventually(t, func() bool { return h.firstOpened() != "" }, time.Second, 5*time.Millisecond)

	id := h.firstOpened()
	require.NoError(t, srv.Close(id))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	require.Eventually(t, func() bool { return srv.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, srv.SendText(id, "late"), ErrConnectionNotFound)
	assert.ErrorIs(t, srv.Close("missing"), ErrConnectionNotFound)
}

func TestServer_RejectedOpen(t *testing.T) {
	srv, h, url := newTestServer(t, DefaultConfig())
	h.mu.Lock()
	h.openErr = assert.AnError
	h.mu.Unlock()
	ws := dial(t, url)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
	assert.Zero(t, srv.Len())
}

func TestServer_RateLimitDropsFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 2
	_, h, url := newTestServer(t, cfg)
	ws := dial(t, url)

	for i := range 5 {
		require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{byte(i)}))
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for range 2 {
		_, _, err := ws.ReadMessage()
		require.NoError(t, err)
	}

	ws.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err, "frames beyond the burst are dropped")

	_, _, binary := h.counts()
	assert.Equal(t, 2, binary)
}

func TestServer_Shutdown(t *testing.T) {
	srv, h, url := newTestServer(t, DefaultConfig())
	clients := []*websocket.Conn{dial(t, url), dial(t, url), dial(t, url)}
	require.Eventually(t, func() bool { return srv.Len() == 3 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	for _, ws := range clients {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := ws.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	}
	_, closed, _ := h.counts()
	assert.Equal(t, 3, closed)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, 503, resp.StatusCode)
	}
}
