package livereload

import (
	"context"
	"sync"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// conn is one browser connection with server-side ping keepalive.
// A read loop (CloseRead) must be active for pongs to be processed.
type conn struct {
	inner  *ws.Conn
	opts   Options
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

func wrapConn(ctx context.Context, c *ws.Conn, opts Options) *conn {
	ctx, cancel := context.WithCancel(ctx)
	cn := &conn{
		inner:  c,
		opts:   opts,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go cn.pingLoop(ctx)
	return cn
}

func (c *conn) writeJSON(ctx context.Context, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.inner, v)
}

// close sends a close frame, waiting for the ping loop at most until ctx
// expires. Only the first call has an effect.
func (c *conn) close(ctx context.Context, code ws.StatusCode, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	select {
	case <-c.done:
	case <-ctx.Done():
	}
	return c.inner.Close(code, reason)
}

// forceClose drops the connection without a close handshake.
func (c *conn) forceClose() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.inner.CloseNow()
}

func (c *conn) pingLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, c.opts.PongTimeout)
			err := c.inner.Ping(pingCtx)
			pingCancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.opts.Logger.Debug("livereload client missed pong, dropping", "error", err)
				c.inner.CloseNow()
				return
			}
		}
	}
}
