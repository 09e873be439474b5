package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/rathix/devproxy/internal/metrics"
)

// Handler forwards requests matching a Table route and hands everything
// else to a fallback handler.
type Handler struct {
	table     *Table
	fallback  http.Handler
	logger    *slog.Logger
	transport http.RoundTripper
	proxies   map[string]*httputil.ReverseProxy
}

// Option configures a Handler.
type Option func(*Handler)

// WithTransport sets the round tripper used for upstream requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(h *Handler) {
		h.transport = rt
	}
}

// NewHandler builds a proxy handler. If fallback is nil, unmatched
// requests get 404. If logger is nil, a no-op logger is used.
func NewHandler(table *Table, fallback http.Handler, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if fallback == nil {
		fallback = http.NotFoundHandler()
	}
	h := &Handler{
		table:     table,
		fallback:  fallback,
		logger:    logger,
		transport: NewTransport(),
		proxies:   make(map[string]*httputil.ReverseProxy, table.Len()),
	}
	for _, opt := range opts {
		opt(h)
	}
	for _, route := range table.Routes() {
		h.proxies[route.Prefix] = h.newReverseProxy(route)
	}
	return h
}

// NewTransport returns the round tripper used for upstream requests. Callers
// that rebuild handlers on reload share one so idle connections are reused.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func (h *Handler) newReverseProxy(route Route) *httputil.ReverseProxy {
	headers := make(map[string]string, len(route.Rule.Headers))
	for k, v := range route.Rule.Headers {
		headers[http.CanonicalHeaderKey(k)] = v
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL = route.ForwardURL(pr.In.URL)
			pr.SetXForwarded()
			// An empty Host makes the client send the URL host.
			if route.Rule.ChangeOrigin {
				pr.Out.Host = ""
			} else {
				pr.Out.Host = pr.In.Host
			}
			for k, v := range headers {
				pr.Out.Header.Set(k, v)
			}
		},
		Transport: h.transport,
		ErrorLog:  slog.NewLogLogger(h.logger.Handler(), slog.LevelWarn),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.handleError(w, r, route, err)
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, ok := h.table.Match(r.URL.Path)
	if !ok {
		h.fallback.ServeHTTP(w, r)
		return
	}

	upgrade := isUpgrade(r)
	if upgrade && !route.Rule.WS {
		h.logger.Warn("websocket upgrade refused, ws disabled for rule",
			"prefix", route.Prefix,
			"path", r.URL.Path,
		)
		http.Error(w, "websocket proxying is disabled for "+route.Prefix, http.StatusBadRequest)
		return
	}

	// Upgraded connections live as long as the client keeps them open.
	if !upgrade {
		ctx, cancel := context.WithTimeout(r.Context(), route.Rule.TimeoutDuration())
		defer cancel()
		r = r.WithContext(ctx)
	}

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.proxies[route.Prefix].ServeHTTP(rec, r)
	duration := time.Since(start)
	// A successful upgrade hijacks the connection without WriteHeader.
	if upgrade && !rec.wroteHeader {
		rec.status = http.StatusSwitchingProtocols
	}

	metrics.ObserveProxyRequest(route.Prefix, rec.status, duration)
	h.logger.Debug("proxied request",
		"method", r.Method,
		"path", r.URL.Path,
		"prefix", route.Prefix,
		"target", route.ForwardURL(r.URL).String(),
		"status", rec.status,
		"durationMs", duration.Milliseconds(),
	)
}

// handleError maps upstream failures to gateway responses: 504 when the
// rule timeout expired, 502 otherwise.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, route Route, err error) {
	if errors.Is(r.Context().Err(), context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		h.logger.Debug("client went away before upstream responded", "prefix", route.Prefix, "path", r.URL.Path)
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	status := http.StatusBadGateway
	kind := "unreachable"
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(r.Context().Err(), context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
		kind = "timeout"
	}
	metrics.IncProxyError(route.Prefix, kind)

	h.logger.Warn("upstream request failed",
		"prefix", route.Prefix,
		"target", route.target.String(),
		"path", r.URL.Path,
		"kind", kind,
		"error", err,
	)
	http.Error(w, http.StatusText(status)+": "+route.target.Host+" "+kind, status)
}

func isUpgrade(r *http.Request) bool {
	if r.Header.Get("Upgrade") == "" {
		return false
	}
	for _, v := range r.Header.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return true
			}
		}
	}
	return false
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach Flush and Hijack on the
// underlying writer, which streaming and upgraded responses need.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
