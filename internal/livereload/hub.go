// Package livereload pushes dev server events to connected browsers over
// a websocket.
package livereload

import (
	"context"
	"net/http"
	"sync"

	ws "nhooyr.io/websocket"
)

// Event types sent to clients.
const (
	EventConnected  = "connected"
	EventFullReload = "full-reload"
)

// Event is the JSON message sent to clients.
type Event struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// Hub accepts livereload websocket clients and broadcasts events to them.
type Hub struct {
	opts Options

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// NewHub creates an empty hub.
func NewHub(options ...Option) *Hub {
	return &Hub{
		opts:  applyOptions(options),
		conns: make(map[*conn]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects or the hub closes it. Cross-origin upgrades are refused.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := ws.Accept(w, r, nil)
	if err != nil {
		h.opts.Logger.Debug("livereload upgrade failed", "error", err)
		return
	}

	// The connection's lifetime is independent of the request once hijacked.
	ctx := c.CloseRead(context.Background())
	cn := wrapConn(ctx, c, h.opts)
	h.register(cn)
	defer h.unregister(cn)

	if err := cn.writeJSON(ctx, Event{Type: EventConnected}); err != nil {
		cn.forceClose()
		return
	}

	<-ctx.Done()
	cn.forceClose()
}

// Broadcast sends ev to every client. Clients that fail the write are
// dropped.
func (h *Hub) Broadcast(ctx context.Context, ev Event) {
	snapshot := h.snapshot()
	if len(snapshot) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, c := range snapshot {
		wg.Add(1)
		go func(c *conn) {
			defer wg.Done()
			if err := c.writeJSON(ctx, ev); err != nil {
				h.opts.Logger.Debug("livereload write failed, dropping client", "error", err)
				c.forceClose()
			}
		}(c)
	}
	wg.Wait()
	h.opts.Logger.Debug("livereload event sent", "type", ev.Type, "clients", len(snapshot))
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll sends a going-away close frame to every client, waiting until
// all are closed or ctx expires. http.Server.Shutdown does not track
// hijacked connections, so call this during shutdown.
func (h *Hub) CloseAll(ctx context.Context) {
	snapshot := h.snapshot()
	if len(snapshot) == 0 {
		return
	}

	h.opts.Logger.Info("closing livereload connections", "count", len(snapshot))

	var wg sync.WaitGroup
	for _, c := range snapshot {
		wg.Add(1)
		go func(c *conn) {
			defer wg.Done()
			_ = c.close(ctx, ws.StatusGoingAway, "server shutting down")
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.opts.Logger.Warn("shutdown timeout reached, some livereload connections may not have closed cleanly")
	}
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

func (h *Hub) snapshot() []*conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	return out
}
