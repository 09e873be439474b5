package server

import (
	"net/http"
	"sync/atomic"
)

// Swappable is an http.Handler whose target can be replaced while serving.
// In-flight requests finish on the handler they started with.
type Swappable struct {
	current atomic.Pointer[http.Handler]
}

// NewSwappable returns a Swappable serving h.
func NewSwappable(h http.Handler) *Swappable {
	s := &Swappable{}
	s.Swap(h)
	return s
}

// Swap installs h for subsequent requests.
func (s *Swappable) Swap(h http.Handler) {
	s.current.Store(&h)
}

func (s *Swappable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.current.Load()).ServeHTTP(w, r)
}
