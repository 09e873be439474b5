// Package server assembles the dev server's HTTP handler from a config
// descriptor.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rathix/devproxy/internal/config"
	"github.com/rathix/devproxy/internal/metrics"
	"github.com/rathix/devproxy/internal/plugin"
	"github.com/rathix/devproxy/internal/proxy"
	"github.com/rathix/devproxy/internal/upstream"
)

// InternalPrefix is the path under which the dev server exposes its own
// endpoints. It takes precedence over proxy rules.
const InternalPrefix = "/__devproxy/"

// StatusSource provides the upstream states shown on the status endpoint.
type StatusSource interface {
	All() []upstream.Upstream
}

// Options carries the runtime dependencies of New.
type Options struct {
	Logger *slog.Logger
	// Registry resolves descriptor plugins. Defaults to plugin.DefaultRegistry.
	Registry *plugin.Registry
	// Upstreams feeds /__devproxy/status. May be nil.
	Upstreams StatusSource
	// Placeholder is served when neither server.frontend nor root is set.
	Placeholder fs.FS
	// Transport is shared by proxy handlers across reloads. May be nil.
	Transport http.RoundTripper
	// LiveReload serves /__devproxy/livereload when set.
	LiveReload http.Handler
	// ListenAddr is the address actually bound, reported on
	// /__devproxy/status. Defaults to the descriptor's host:port.
	ListenAddr string
	Version    string
	StartedAt  time.Time
}

// New builds the handler for d: internal endpoints first, then proxy rules
// by longest prefix, then the plugin-wrapped frontend under d.Base.
func New(d *config.Descriptor, opts Options) (http.Handler, error) {
	if d == nil {
		return nil, fmt.Errorf("descriptor is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	registry := opts.Registry
	if registry == nil {
		registry = plugin.DefaultRegistry()
	}

	frontend, err := newFrontend(d, opts.Placeholder, logger)
	if err != nil {
		return nil, err
	}

	plugins, err := registry.Build(d.Plugins)
	if err != nil {
		return nil, err
	}
	frontend = NewBasePathHandler(d.Base, plugin.Chain(plugins, RequestLogger(logger, frontend)))

	table, err := proxy.NewTable(d.Server.Proxy)
	if err != nil {
		return nil, err
	}
	var proxyOpts []proxy.Option
	if opts.Transport != nil {
		proxyOpts = append(proxyOpts, proxy.WithTransport(opts.Transport))
	}
	proxied := proxy.NewHandler(table, frontend, logger, proxyOpts...)

	internal := newInternalMux(d, opts)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, InternalPrefix) {
			internal.ServeHTTP(w, r)
			return
		}
		proxied.ServeHTTP(w, r)
	}), nil
}

func newFrontend(d *config.Descriptor, placeholder fs.FS, logger *slog.Logger) (http.Handler, error) {
	switch {
	case d.Server.Frontend != "":
		h, err := NewDevProxyHandler(d.Server.Frontend, logger)
		if err != nil {
			return nil, fmt.Errorf("server.frontend: %w", err)
		}
		return h, nil
	case d.Root != "":
		info, err := os.Stat(d.Root)
		if err != nil {
			return nil, fmt.Errorf("root: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("root: %s is not a directory", d.Root)
		}
		h, err := NewSPAHandler(os.DirFS(d.Root), ".")
		if err != nil {
			return nil, fmt.Errorf("root: %w", err)
		}
		return h, nil
	case placeholder != nil:
		return NewSPAHandler(placeholder, ".")
	default:
		return http.NotFoundHandler(), nil
	}
}

type statusResponse struct {
	Version       string              `json:"version"`
	StartedAt     time.Time           `json:"startedAt"`
	UptimeSeconds int64               `json:"uptimeSeconds"`
	ListenAddr    string              `json:"listenAddr"`
	Plugins       []string            `json:"plugins"`
	Upstreams     []upstream.Upstream `json:"upstreams"`
}

func newInternalMux(d *config.Descriptor, opts Options) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+InternalPrefix+"health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	listenAddr := opts.ListenAddr
	if listenAddr == "" {
		listenAddr = d.ListenAddr()
	}
	mux.HandleFunc("GET "+InternalPrefix+"status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Version:    opts.Version,
			StartedAt:  opts.StartedAt,
			ListenAddr: listenAddr,
			Plugins:    make([]string, 0, len(d.Plugins)),
			Upstreams:  []upstream.Upstream{},
		}
		if !opts.StartedAt.IsZero() {
			resp.UptimeSeconds = int64(time.Since(opts.StartedAt).Seconds())
		}
		for _, p := range d.Plugins {
			resp.Plugins = append(resp.Plugins, p.Name)
		}
		if opts.Upstreams != nil {
			resp.Upstreams = opts.Upstreams.All()
		}
		writeJSON(w, resp)
	})

	mux.HandleFunc("GET "+InternalPrefix+"config", func(w http.ResponseWriter, r *http.Request) {
		format := config.FormatJSON
		if q := r.URL.Query().Get("format"); q != "" {
			f, err := config.ParseFormat(q)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			format = f
		}
		data, err := config.Encode(d, format)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if format == config.FormatYAML {
			w.Header().Set("Content-Type", "application/yaml")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		w.Write(data)
	})

	mux.Handle("GET "+InternalPrefix+"metrics", metrics.Handler())

	if opts.LiveReload != nil {
		mux.Handle("GET "+InternalPrefix+"livereload", opts.LiveReload)
	}

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(v)
}
