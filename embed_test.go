package devproxy

import (
	"io/fs"
	"testing"
)

func TestWebFSContainsPlaceholder(t *testing.T) {
	for _, name := range []string{"web/dist/index.html", "web/dist/style.css"} {
		if _, err := fs.Stat(WebFS, name); err != nil {
			t.Errorf("expected %s in embedded FS, got error: %v", name, err)
		}
	}
}

func TestWebFSSubDirectoryAccessible(t *testing.T) {
	sub, err := fs.Sub(WebFS, "web/dist")
	if err != nil {
		t.Fatalf("failed to create sub filesystem: %v", err)
	}

	if _, err := fs.Stat(sub, "index.html"); err != nil {
		t.Fatalf("expected index.html in sub filesystem, got error: %v", err)
	}
}
