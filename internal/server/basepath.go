package server

import (
	"net/http"
	"strings"
)

// NormalizeBasePath ensures the base path starts and ends with '/'.
func NormalizeBasePath(basePath string) string {
	if basePath == "" {
		return "/"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if !strings.HasSuffix(basePath, "/") {
		basePath = basePath + "/"
	}
	return basePath
}

// BasePathHandler serves the frontend under a public base path. Paths
// under the base are stripped before reaching the inner handler. The bare
// base and the site root redirect to the base; anything else outside it
// is 404.
type BasePathHandler struct {
	basePath string
	inner    http.Handler
}

// NewBasePathHandler wraps inner so it is served under basePath. If
// basePath is "/", inner is returned unchanged.
func NewBasePathHandler(basePath string, inner http.Handler) http.Handler {
	bp := NormalizeBasePath(basePath)
	if bp == "/" {
		return inner
	}
	return &BasePathHandler{
		basePath: bp,
		inner:    inner,
	}
}

func (h *BasePathHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, h.basePath) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/" + strings.TrimPrefix(r.URL.Path, h.basePath)
		r2.URL.RawPath = ""
		h.inner.ServeHTTP(w, r2)
		return
	}

	if r.URL.Path == "/" || r.URL.Path+"/" == h.basePath {
		target := h.basePath
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	http.Error(w, "not found: the server is configured with a public base URL of "+h.basePath, http.StatusNotFound)
}
