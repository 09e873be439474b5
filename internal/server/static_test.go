package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func newTestHandler(t *testing.T) *SPAHandler {
	t.Helper()
	fsys := fstest.MapFS{
		"dist/index.html":           {Data: []byte("<html><body>SPA</body></html>")},
		"dist/assets/index-abc.js":  {Data: []byte("console.log('app')")},
		"dist/favicon.svg":          {Data: []byte("<svg/>")},
		"dist/nested/page/info.txt": {Data: []byte("info")},
	}
	h, err := NewSPAHandler(fsys, "dist")
	if err != nil {
		t.Fatalf("NewSPAHandler() error: %v", err)
	}
	return h
}

func TestSPAHandler(t *testing.T) {
	handler := newTestHandler(t)

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantBody string
	}{
		{"root serves index", "/", http.StatusOK, "SPA"},
		{"static file", "/favicon.svg", http.StatusOK, "<svg/>"},
		{"nested asset", "/assets/index-abc.js", http.StatusOK, "console.log"},
		{"client route falls back", "/dashboard/settings", http.StatusOK, "SPA"},
		{"deep client route falls back", "/users/42/edit", http.StatusOK, "SPA"},
		{"missing css is 404", "/missing.css", http.StatusNotFound, ""},
		{"missing chunk is 404", "/assets/missing-chunk.js", http.StatusNotFound, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))

			if rec.Code != tc.wantCode {
				t.Fatalf("expected status %d, got %d", tc.wantCode, rec.Code)
			}
			if tc.wantBody != "" && !strings.Contains(rec.Body.String(), tc.wantBody) {
				t.Errorf("expected body to contain %q, got %q", tc.wantBody, rec.Body.String())
			}
		})
	}
}

func TestSPAHandlerIndexNotCached(t *testing.T) {
	handler := newTestHandler(t)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/some/route", nil))

	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("expected Cache-Control no-cache on fallback, got %q", got)
	}
}

func TestNewSPAHandlerRequiresIndex(t *testing.T) {
	fsys := fstest.MapFS{"dist/app.js": {Data: []byte("x")}}
	if _, err := NewSPAHandler(fsys, "dist"); err == nil {
		t.Error("expected error when index.html is missing")
	}
}

func TestNewSPAHandlerFromDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("from disk"), 0o644); err != nil {
		t.Fatal(err)
	}

	handler, err := NewSPAHandler(os.DirFS(dir), ".")
	if err != nil {
		t.Fatalf("NewSPAHandler() error: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Body.String() != "from disk" {
		t.Errorf("expected index from disk, got %q", rec.Body.String())
	}
}
