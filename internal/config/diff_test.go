package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDiffRules(t *testing.T) {
	oldCfg := &Descriptor{Server: ServerConfig{Proxy: map[string]ProxyRule{
		"/api":  {Target: "http://backend:8080", ChangeOrigin: true},
		"/auth": {Target: "http://auth:9000"},
		"/ws":   {Target: "http://backend:8080", WS: true},
	}}}
	newCfg := &Descriptor{Server: ServerConfig{Proxy: map[string]ProxyRule{
		"/api":     {Target: "http://backend:8080", ChangeOrigin: true},
		"/ws":      {Target: "http://backend:8080", WS: true, Headers: map[string]string{"X": "1"}},
		"/graphql": {Target: "http://gateway:4000"},
	}}}

	got := DiffRules(oldCfg, newCfg)
	want := RuleChanges{
		Added:   []string{"/graphql"},
		Removed: []string{"/auth"},
		Updated: []string{"/ws"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DiffRules() mismatch (-want +got):\n%s", diff)
	}
	if got.Empty() {
		t.Error("expected non-empty changes")
	}
}

func TestDiffRules_NilNewIsNoop(t *testing.T) {
	if changes := DiffRules(Default(), nil); !changes.Empty() {
		t.Errorf("expected no changes for failed reload, got %+v", changes)
	}
}

func TestDiffRules_NilOldAddsEverything(t *testing.T) {
	changes := DiffRules(nil, Default())
	if diff := cmp.Diff([]string{"/api"}, changes.Added); diff != "" {
		t.Errorf("Added mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffRules_Identical(t *testing.T) {
	if changes := DiffRules(Default(), Default()); !changes.Empty() {
		t.Errorf("expected no changes, got %+v", changes)
	}
}
