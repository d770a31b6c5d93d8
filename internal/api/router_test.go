package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/eddison/webadmin/internal/audit"
	"github.com/eddison/webadmin/internal/config"
	"github.com/eddison/webadmin/internal/livereload"
	"github.com/eddison/webadmin/internal/metrics"
	"github.com/eddison/webadmin/internal/middleware"
)

var embedded = fstest.MapFS{
	"static/css/style.css": {Data: []byte("body { margin: 0; }\n")},
	"static/.hidden":       {Data: []byte("secret")},
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, http.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Default(t.TempDir())
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	s, err := NewServer(ctx, cfg, zaptest.NewLogger(t), metrics.New(), nil)
	require.NoError(t, err)
	s.SetEmbeddedFS(embedded)
	return s, s.Router()
}

func get(h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIndexServesShell(t *testing.T) {
	s, h := newTestServer(t, nil)

	for _, target := range []string{"/", "/index.html"} {
		rec := get(h, http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.NotEmpty(t, rec.Header().Get("ETag"))
		assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
		assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "https://cdnjs.cloudflare.com")
		assert.Equal(t, s.Page(), rec.Body.Bytes())

		rep, err := audit.Inspect(bytes.NewReader(rec.Body.Bytes()))
		require.NoError(t, err)
		assert.NoError(t, rep.Verify(audit.Options{RequireIconFont: true, SidebarHeading: "Agregue sus archivos"}))
	}
}

func TestIndexIsStable(t *testing.T) {
	_, h := newTestServer(t, nil)

	first := get(h, http.MethodGet, "/", nil)
	second := get(h, http.MethodGet, "/", nil)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	assert.Equal(t, first.Header().Get("ETag"), second.Header().Get("ETag"))
}

func TestIndexConditionalAndHead(t *testing.T) {
	_, h := newTestServer(t, nil)
	etag := get(h, http.MethodGet, "/", nil).Header().Get("ETag")

	rec := get(h, http.MethodGet, "/", http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	rec = get(h, http.MethodHead, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestIndexWithoutIconFont(t *testing.T) {
	_, h := newTestServer(t, func(c *config.Config) { c.IconFontURL = "" })

	rec := get(h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "cdnjs")
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "style-src 'self';")

	rep, err := audit.Inspect(rec.Body)
	require.NoError(t, err)
	assert.NoError(t, rep.Verify(audit.Options{SidebarHeading: "Agregue sus archivos"}))
}

func TestStaticFiles(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := get(h, http.MethodGet, "/css/style.css", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
	assert.Equal(t, "body { margin: 0; }\n", rec.Body.String())

	for _, target := range []string{"/missing.js", "/dashboard", "/css", "/css/", "/.hidden", "/../etc/passwd"} {
		assert.Equal(t, http.StatusNotFound, get(h, http.MethodGet, target, nil).Code, target)
	}
}

func TestStaticDirOverridesEmbedded(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "css"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "css", "style.css"), []byte("main { color: red; }"), 0644))

	_, h := newTestServer(t, func(c *config.Config) { c.StaticDir = dir })

	rec := get(h, http.MethodGet, "/css/style.css", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "main { color: red; }", rec.Body.String())
}

func TestStaticDirHidesDotSegments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "config"), []byte("[core]"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "css", ".secret"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "css", ".secret", "x.css"), []byte("a{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "css", "style.css"), []byte("b{}"), 0644))

	_, h := newTestServer(t, func(c *config.Config) { c.StaticDir = dir })

	assert.Equal(t, http.StatusOK, get(h, http.MethodGet, "/css/style.css", nil).Code)
	for _, target := range []string{"/.git/config", "/css/.secret/x.css", "/css/../.git/config"} {
		assert.Equal(t, http.StatusNotFound, get(h, http.MethodGet, target, nil).Code, target)
		assert.Equal(t, http.StatusNotFound, get(h, http.MethodHead, target, nil).Code, target)
	}
}

func TestScriptPolicyFollowsLiveReload(t *testing.T) {
	_, h := newTestServer(t, nil)
	csp := get(h, http.MethodGet, "/", nil).Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "script-src 'self';")
	assert.NotContains(t, csp, "unsafe-inline")

	_, h = newTestServer(t, func(c *config.Config) {
		c.StaticDir = t.TempDir()
		c.LiveReload = true
	})
	csp = get(h, http.MethodGet, "/", nil).Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "script-src 'self' 'unsafe-inline';")
}

func TestHealthAndMetrics(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := get(h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	get(h, http.MethodGet, "/", nil)
	rec = get(h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "webadmin_shell_renders_total 1")
	assert.Contains(t, body, `webadmin_http_requests_total{method="GET",route="/",status="200"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	_, h := newTestServer(t, func(c *config.Config) { c.Metrics = false })
	assert.Equal(t, http.StatusNotFound, get(h, http.MethodGet, "/metrics", nil).Code)
}

func TestRateLimit(t *testing.T) {
	_, h := newTestServer(t, func(c *config.Config) { c.RateLimitPerMin = 2 })

	assert.Equal(t, http.StatusOK, get(h, http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusOK, get(h, http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(h, http.MethodGet, "/", nil).Code)
}

func TestLiveReloadRoute(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	cfg := config.Default(t.TempDir())
	cfg.StaticDir = dir
	cfg.LiveReload = true
	require.NoError(t, cfg.Validate())

	hub := livereload.NewHub(nil, zap.NewNop(), nil)
	defer hub.Close()

	s, err := NewServer(ctx, cfg, zap.NewNop(), nil, hub)
	require.NoError(t, err)
	assert.Contains(t, string(s.Page()), `"`+config.LiveReloadPath+`"`)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + config.LiveReloadPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, livereload.ReloadMessage, string(data))
}
