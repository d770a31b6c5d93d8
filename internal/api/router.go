package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/eddison/webadmin/internal/config"
	"github.com/eddison/webadmin/internal/livereload"
	"github.com/eddison/webadmin/internal/metrics"
	"github.com/eddison/webadmin/internal/middleware"
)

type Server struct {
	cfg         *config.Config
	logger      *zap.Logger
	metrics     *metrics.Metrics
	page        *pageCache
	hub         *livereload.Hub
	rateLimiter *middleware.RateLimiter
	embeddedFS  fs.FS
}

// NewServer renders the dashboard shell once and keeps it for every request.
// Background work is tied to ctx. m and hub may be nil.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, hub *livereload.Hub) (*Server, error) {
	page, err := newPageCache(cfg.Document(), m)
	if err != nil {
		return nil, fmt.Errorf("render shell: %w", err)
	}

	return &Server{
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
		page:        page,
		hub:         hub,
		rateLimiter: middleware.NewRateLimiter(ctx, cfg.RateLimitPerMin, time.Minute, logger),
	}, nil
}

// SetEmbeddedFS sets the embedded filesystem for serving static files
func (s *Server) SetEmbeddedFS(fsys fs.FS) {
	s.embeddedFS = fsys
}

// Page returns the rendered shell.
func (s *Server) Page() []byte {
	return s.page.body
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.SecurityHeaders(s.cfg.IconFontURL, s.cfg.Document().LiveReload != ""))
	r.Use(middleware.Logger(s.logger))
	if s.metrics != nil {
		r.Use(middleware.Metrics(s.metrics))
	}
	r.Use(middleware.CORS(s.cfg.AllowedOrigins))
	r.Use(s.rateLimiter.Middleware)

	r.Get("/", s.page.ServeHTTP)
	r.Head("/", s.page.ServeHTTP)
	r.Get("/index.html", s.page.ServeHTTP)
	r.Head("/index.html", s.page.ServeHTTP)
	r.Get("/healthz", s.handleHealth)

	if s.metrics != nil && s.cfg.Metrics {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	if s.hub != nil {
		r.Get(config.LiveReloadPath, s.hub.ServeHTTP)
	}

	s.serveStaticFiles(r)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// serveStaticFiles serves the stylesheet and any other assets. There is no
// fallback page: unknown paths are 404.
func (s *Server) serveStaticFiles(r chi.Router) {
	staticDir := s.cfg.StaticDir

	// Check if static directory exists on disk
	useFilesystem := false
	if staticDir != "" {
		if info, err := os.Stat(staticDir); err == nil && info.IsDir() {
			useFilesystem = true
		} else {
			s.logger.Warn("static_dir not usable, falling back to embedded files", zap.String("static_dir", staticDir))
		}
	}

	if !useFilesystem && s.embeddedFS == nil {
		return
	}

	var staticFS fs.FS
	if useFilesystem {
		staticFS = os.DirFS(staticDir)
	} else {
		// Use embedded FS (files are under "static" subdirectory)
		subFS, err := fs.Sub(s.embeddedFS, "static")
		if err != nil {
			s.logger.Error("embedded static files unavailable", zap.Error(err))
			return
		}
		staticFS = subFS
	}
	fileServer := http.FileServer(http.FS(staticFS))

	handler := func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" || hasHiddenSegment(name) {
			http.NotFound(w, r)
			return
		}

		info, err := fs.Stat(staticFS, name)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	}
	r.Get("/*", handler)
	r.Head("/*", handler)
}

// hasHiddenSegment reports whether any element of a slash-separated path
// starts with a dot, such as .git/config or css/.cache/x.
func hasHiddenSegment(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
