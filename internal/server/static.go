package server

import (
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// SPAHandler serves a frontend from a filesystem. Unknown extensionless
// paths get index.html so client-side routes survive a reload; unknown
// paths with an extension are 404.
type SPAHandler struct {
	fileServer http.Handler
	filesystem fs.FS
}

// NewSPAHandler serves fsys rooted at dir. fsys may be an os.DirFS for the
// descriptor's root or the embedded placeholder site. It fails when dir has
// no index.html.
func NewSPAHandler(fsys fs.FS, dir string) (*SPAHandler, error) {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create sub filesystem: %w", err)
	}
	if _, err := fs.Stat(sub, "index.html"); err != nil {
		return nil, fmt.Errorf("frontend root has no index.html: %w", err)
	}
	return &SPAHandler{
		fileServer: http.FileServer(http.FS(sub)),
		filesystem: sub,
	}, nil
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name == "" {
		h.serveIndex(w, r)
		return
	}

	if _, err := fs.Stat(h.filesystem, name); err == nil {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	// r.URL.Path is already decoded, so %2Ecss counts as an extension.
	if path.Ext(name) != "" {
		http.NotFound(w, r)
		return
	}

	h.serveIndex(w, r)
}

func (h *SPAHandler) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFileFS(w, r, h.filesystem, "index.html")
}
