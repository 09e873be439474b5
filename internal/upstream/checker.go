package upstream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rathix/devproxy/internal/metrics"
)

// HTTPProber abstracts *http.Client for testability.
type HTTPProber interface {
	Do(req *http.Request) (*http.Response, error)
}

// StateReader provides read access to the upstream store.
type StateReader interface {
	All() []Upstream
}

// StateWriter provides write access to the upstream store.
type StateWriter interface {
	Update(prefix string, fn func(*Upstream))
}

// Checker periodically probes every proxy target. Any HTTP response means
// the target is reachable; only transport failures mark it unreachable,
// since a dev backend answering 404 on the probe path is still up.
type Checker struct {
	reader   StateReader
	writer   StateWriter
	client   HTTPProber
	interval time.Duration
	path     string
	logger   *slog.Logger
}

// NewChecker creates a new upstream checker. probePath is appended to each
// target; empty means "/". If logger is nil, a no-op logger is used.
func NewChecker(reader StateReader, writer StateWriter, client HTTPProber, interval time.Duration, probePath string, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if probePath == "" {
		probePath = "/"
	}
	return &Checker{
		reader:   reader,
		writer:   writer,
		client:   client,
		interval: interval,
		path:     probePath,
		logger:   logger,
	}
}

// Run performs an immediate check, then checks at the configured interval
// until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.CheckAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll probes every upstream once, concurrently.
func (c *Checker) CheckAll(ctx context.Context) {
	upstreams := c.reader.All()
	if len(upstreams) == 0 {
		return
	}

	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(len(upstreams))
	for _, u := range upstreams {
		go func(u Upstream) {
			defer wg.Done()
			result := c.probe(ctx, probeURL(u.Target, c.path))
			c.writer.Update(u.Prefix, func(up *Upstream) {
				// A reload may have retargeted the prefix mid-probe.
				if up.Target != u.Target {
					return
				}
				c.applyResult(up, result)
			})
		}(u)
	}
	wg.Wait()

	c.logger.Debug("upstream check cycle complete",
		"upstreams", len(upstreams),
		"durationMs", time.Since(start).Milliseconds(),
	)
}

const maxErrorLen = 256

type probeResult struct {
	status         Status
	httpCode       *int
	responseTimeMs int64
	err            *string
}

func probeURL(target, path string) string {
	return strings.TrimSuffix(target, "/") + "/" + strings.TrimPrefix(path, "/")
}

func (c *Checker) probe(ctx context.Context, url string) probeResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		msg := truncate(err.Error())
		return probeResult{status: StatusUnreachable, err: &msg}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	responseTimeMs := time.Since(start).Milliseconds()
	if err != nil {
		msg := truncate(err.Error())
		return probeResult{
			status:         StatusUnreachable,
			responseTimeMs: responseTimeMs,
			err:            &msg,
		}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	code := resp.StatusCode
	return probeResult{
		status:         StatusReachable,
		httpCode:       &code,
		responseTimeMs: responseTimeMs,
	}
}

// applyResult updates probe fields, preserving Kubernetes endpoint counts.
func (c *Checker) applyResult(u *Upstream, res probeResult) {
	previous := u.Status

	u.Status = res.status
	u.HTTPCode = res.httpCode
	u.ResponseTimeMs = &res.responseTimeMs
	u.LastError = res.err

	now := time.Now()
	u.LastChecked = &now
	metrics.SetUpstreamUp(u.Prefix, res.status == StatusReachable)

	if res.status != previous {
		u.LastStateChange = &now
		args := []any{
			"prefix", u.Prefix,
			"target", u.Target,
			"from", string(previous),
			"to", string(res.status),
		}
		if res.err != nil {
			args = append(args, "error", *res.err)
		}
		if res.status == StatusUnreachable {
			c.logger.Warn("upstream unreachable", args...)
		} else {
			c.logger.Info("upstream status changed", args...)
		}
	}
}

func truncate(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}
