package plugin

import (
	"fmt"
	"net/http"
	"path"
	"strings"
)

// react serves index.html for client-side routes: navigation requests to
// extensionless paths are rewritten to "/".
type react struct{}

func newReact(options map[string]string) (Plugin, error) {
	if len(options) > 0 {
		return nil, fmt.Errorf("react plugin takes no options")
	}
	return react{}, nil
}

func (react) Name() string { return "react" }

func (react) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Dev-Framework", "react")
		if isNavigation(r) {
			r2 := r.Clone(r.Context())
			r2.URL.Path = "/"
			r2.URL.RawPath = ""
			next.ServeHTTP(w, r2)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isNavigation reports whether r is a browser page load for a client-side
// route rather than an asset request.
func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	if r.URL.Path == "/" || path.Ext(r.URL.Path) != "" {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// headers adds each option as a response header.
type headers struct {
	values map[string]string
}

func newHeaders(options map[string]string) (Plugin, error) {
	if len(options) == 0 {
		return nil, fmt.Errorf("headers plugin needs at least one header option")
	}
	values := make(map[string]string, len(options))
	for k, v := range options {
		if strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("headers plugin: empty header name")
		}
		values[http.CanonicalHeaderKey(k)] = v
	}
	return headers{values: values}, nil
}

func (headers) Name() string { return "headers" }

func (h headers) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range h.values {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// nocache disables browser caching of frontend responses.
type nocache struct{}

func newNoCache(map[string]string) (Plugin, error) { return nocache{}, nil }

func (nocache) Name() string { return "nocache" }

func (nocache) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
