package web

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
)

//go:embed fallback.html
var fallbackIndex []byte

// Routes are the client-side routes that render the SPA.
var Routes = []string{
	"/",
	"/drivers",
	"/cars",
	"/users",
	"/jets",
	"/jet-bookings",
	"/jet-images",
	"/trips",
	"/payouts",
	"/notifications",
	"/support",
	"/settings",
	"/login",
}

// Handler serves the SPA shell and its static assets.
type Handler struct {
	root   http.FileSystem
	index  string // absolute path to index.html, or "" for the built-in page
	files  http.Handler
	routes map[string]bool
}

// New creates a Handler serving dir. An empty dir serves the built-in page.
func New(dir string) (*Handler, error) {
	h := &Handler{routes: make(map[string]bool, len(Routes))}
	for _, r := range Routes {
		h.routes[r] = true
	}
	if dir == "" {
		return h, nil
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("web: %w", err)
	}
	index := filepath.Join(abs, "index.html")
	if _, err := os.Stat(index); err != nil {
		return nil, fmt.Errorf("web: ui dir %q has no index.html: %w", dir, err)
	}
	h.root = http.Dir(abs)
	h.index = index
	h.files = http.FileServer(h.root)
	slog.Info("web: serving UI", "dir", abs)
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p := path.Clean("/" + r.URL.Path)
	if h.routes[p] {
		h.serveIndex(w, r)
		return
	}
	if h.exists(p) {
		h.files.ServeHTTP(w, r)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	if h.index == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(fallbackIndex) //nolint:errcheck
		return
	}
	http.ServeFile(w, r, h.index)
}

// exists reports whether p names a regular file under the UI directory.
func (h *Handler) exists(p string) bool {
	if h.root == nil {
		return false
	}
	f, err := h.root.Open(p)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Debug("web: open failed", "path", p, "err", err)
		}
		return false
	}
	defer f.Close()
	st, err := f.Stat()
	return err == nil && !st.IsDir()
}
