package livereload

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/eddison/webadmin/internal/metrics"
)

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Clients() == n }, 2*time.Second, 10*time.Millisecond)
}

func readReload(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	assert.Equal(t, ReloadMessage, string(data))
}

func TestHubBroadcast(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := metrics.New()
	hub := NewHub(nil, zaptest.NewLogger(t), m)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, srv, nil)
	defer a.Close()
	b := dial(t, srv, nil)
	defer b.Close()
	waitClients(t, hub, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LiveReloadClient))

	hub.Broadcast()
	readReload(t, a)
	readReload(t, b)

	a.Close()
	waitClients(t, hub, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LiveReloadClient))

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LiveReloadClient))
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewHub([]string{"https://admin.example.com"}, zap.NewNop(), nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := dial(t, srv, http.Header{"Origin": {"https://admin.example.com"}})
	conn.Close()
}

func TestHubWildcardOrigin(t *testing.T) {
	hub := NewHub([]string{"*"}, zap.NewNop(), nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv, http.Header{"Origin": {"https://evil.example.com"}})
	defer conn.Close()
	waitClients(t, hub, 1)
}

func TestWatcherBroadcastsOnChange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "css"), 0755))

	hub := NewHub(nil, zap.NewNop(), nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	w, err := NewWatcher(dir, hub, zaptest.NewLogger(t))
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	conn := dial(t, srv, nil)
	defer conn.Close()
	waitClients(t, hub, 1)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "css", "style.css"), []byte("body{}"), 0644))
	readReload(t, conn)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestRelevantSkipsHiddenFiles(t *testing.T) {
	assert.False(t, relevant(fsnotify.Event{Name: "/srv/.style.css.swp", Op: fsnotify.Write}))
	assert.False(t, relevant(fsnotify.Event{Name: "/srv/css/style.css", Op: fsnotify.Chmod}))
	assert.True(t, relevant(fsnotify.Event{Name: "/srv/css/style.css", Op: fsnotify.Write}))
}
