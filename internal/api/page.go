package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/eddison/webadmin/internal/metrics"
	"github.com/eddison/webadmin/internal/shell"
)

// pageCache holds the shell rendered once at startup. The document never
// changes while the process runs, so every request gets the same bytes.
type pageCache struct {
	body    []byte
	etag    string
	modTime time.Time
}

func newPageCache(doc shell.Document, m *metrics.Metrics) (*pageCache, error) {
	body, err := doc.Bytes()
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.ShellRenders.Inc()
	}

	sum := sha256.Sum256(body)
	return &pageCache{
		body:    body,
		etag:    `"` + hex.EncodeToString(sum[:16]) + `"`,
		modTime: time.Now().UTC().Truncate(time.Second),
	}, nil
}

func (p *pageCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("ETag", p.etag)
	http.ServeContent(w, r, "index.html", p.modTime, bytes.NewReader(p.body))
}
