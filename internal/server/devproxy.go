package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// NewDevProxyHandler creates a reverse proxy to an external frontend dev
// server. The inbound Host is kept so the frontend builds absolute URLs and
// HMR websocket addresses that point back at this server.
func NewDevProxyHandler(target string, logger *slog.Logger) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("frontend target %q must be an absolute URL", target)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("frontend dev server request failed",
				"target", u.String(),
				"path", r.URL.Path,
				"error", err,
			)
			http.Error(w, "Bad Gateway: frontend dev server unavailable", http.StatusBadGateway)
		},
	}, nil
}
