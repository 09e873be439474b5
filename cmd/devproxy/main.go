package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	devproxy "github.com/rathix/devproxy"
	appconfig "github.com/rathix/devproxy/internal/config"
	"github.com/rathix/devproxy/internal/livereload"
	"github.com/rathix/devproxy/internal/metrics"
	"github.com/rathix/devproxy/internal/plugin"
	"github.com/rathix/devproxy/internal/proxy"
	"github.com/rathix/devproxy/internal/server"
	"github.com/rathix/devproxy/internal/upstream"
)

const defaultConfigFile = "devproxy.yaml"

// Version is injected at build time using ldflags.
var Version = "(unknown)"

// config holds the command-line configuration. The descriptor file carries
// everything else.
type config struct {
	ShowVersion bool
	ConfigFile  string
	// ListenAddr overrides the descriptor's host:port when set.
	ListenAddr  string
	LogFormat   string
	Kubeconfig  string
	PrintConfig string
	Proxies     []string
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.ShowVersion {
		fmt.Printf("devproxy version %s\n", Version)
		return
	}

	d, err := resolveDescriptor(cfg, os.Environ())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if cfg.PrintConfig != "" {
		if err := printConfig(os.Stdout, d, cfg.PrintConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, d); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig parses flags and environment variables with precedence: Flag > Env > Default.
func loadConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("devproxy", flag.ContinueOnError)

	cfg := config{}
	var proxies stringList
	fs.BoolVar(&cfg.ShowVersion, "version", false, "print version and exit")
	fs.StringVar(&cfg.ConfigFile, "config", getEnv("DEVPROXY_CONFIG", defaultConfigFile), "path to YAML or JSON config descriptor")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("LISTEN_ADDR", ""), "listen address (default: server.host:server.port from the descriptor)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "log format (json or text)")
	fs.StringVar(&cfg.Kubeconfig, "kubeconfig", getEnv("KUBECONFIG", defaultKubeconfig()), "path to kubeconfig file (empty: in-cluster)")
	fs.StringVar(&cfg.PrintConfig, "print-config", "", "print the resolved descriptor as json or yaml and exit")
	fs.Var(&proxies, "proxy", "add or replace a proxy rule as PREFIX=URL (repeatable)")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	cfg.Proxies = proxies

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return config{}, fmt.Errorf("unsupported log format %q: must be \"json\" or \"text\"", cfg.LogFormat)
	}
	if cfg.PrintConfig != "" {
		if _, err := appconfig.ParseFormat(cfg.PrintConfig); err != nil {
			return config{}, fmt.Errorf("invalid -print-config: %w", err)
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}

// defaultKubeconfig returns ~/.kube/config when it exists, else "" so the
// client falls back to in-cluster config.
func defaultKubeconfig() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".kube", "config")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func setupLogger(format string) *slog.Logger {
	return setupLoggerWithWriter(format, os.Stdout)
}

func setupLoggerWithWriter(format string, writer io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if getEnvBool("DEVPROXY_DEBUG", false) {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler)
}

// resolveDescriptor loads the descriptor file and applies environment and
// flag proxy overrides. Any invalid field fails the whole load.
func resolveDescriptor(cfg config, environ []string) (*appconfig.Descriptor, error) {
	d, errs := appconfig.Load(cfg.ConfigFile)
	if len(errs) == 0 {
		errs = applyOverrides(d, cfg.Proxies, environ)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid config %s:\n%w", cfg.ConfigFile, errors.Join(errs...))
	}
	return d, nil
}

// applyOverrides applies DEVPROXY_PROXY_* variables, then -proxy flags so a
// flag wins over the environment for the same prefix, and revalidates.
func applyOverrides(d *appconfig.Descriptor, flags, environ []string) []error {
	errs := appconfig.ApplyOverrides(d, appconfig.ProxyOverridesFromEnv(environ))
	errs = append(errs, appconfig.ApplyOverrides(d, flags)...)
	if len(errs) > 0 {
		return errs
	}
	return appconfig.Validate(d)
}

func printConfig(w io.Writer, d *appconfig.Descriptor, format string) error {
	f, err := appconfig.ParseFormat(format)
	if err != nil {
		return err
	}
	data, err := appconfig.Encode(d, f)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// run starts the server and its background workers and blocks until ctx is
// cancelled or the server fails.
func run(ctx context.Context, cfg config, d *appconfig.Descriptor) error {
	logger := setupLogger(cfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting devproxy", "version", Version, "config", cfg.ConfigFile)

	listenAddr := cfg.ListenAddr
	if listenAddr == "" {
		listenAddr = d.ListenAddr()
	}

	placeholder, err := fs.Sub(devproxy.WebFS, "web/dist")
	if err != nil {
		return fmt.Errorf("failed to open embedded placeholder site: %w", err)
	}

	store := upstream.NewStore()
	store.Sync(d.Server.Proxy)

	transport := proxy.NewTransport()
	defer transport.CloseIdleConnections()

	hub := livereload.NewHub(livereload.WithLogger(logger))

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	opts := server.Options{
		Logger:      logger,
		Registry:    plugin.DefaultRegistry(),
		Upstreams:   store,
		Placeholder: placeholder,
		Transport:   transport,
		LiveReload:  hub,
		ListenAddr:  ln.Addr().String(),
		Version:     Version,
		StartedAt:   time.Now(),
	}
	h, err := server.New(d, opts)
	if err != nil {
		ln.Close()
		return fmt.Errorf("failed to build server: %w", err)
	}
	handler := server.NewSwappable(h)

	g, gctx := errgroup.WithContext(ctx)

	var endpoints *upstream.EndpointWatcher
	if d.Server.Kubernetes != nil {
		endpoints = startEndpointWatcher(gctx, g, cfg.Kubeconfig, d, store, logger)
	}

	r := &reloader{
		flags:     cfg.Proxies,
		environ:   os.Environ(),
		opts:      opts,
		handler:   handler,
		store:     store,
		endpoints: endpoints,
		hub:       hub,
		current:   d,
		fixedAddr: cfg.ListenAddr != "",
		logger:    logger,
	}
	configWatcher := appconfig.NewWatcher(cfg.ConfigFile, r.apply, logger)
	g.Go(func() error {
		if err := configWatcher.Run(gctx); err != nil && gctx.Err() == nil {
			slog.Warn("config watcher stopped with error, hot reload disabled", "error", err)
		}
		return nil
	})

	// Dev backends commonly use self-signed certificates.
	probeClient := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		},
	}
	checker := upstream.NewChecker(store, store, probeClient, d.Server.Health.IntervalDuration(), d.Server.Health.Path, logger)
	g.Go(func() error {
		checker.Run(gctx)
		return nil
	})

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	g.Go(func() error {
		slog.Info("Listening (HTTP)",
			"addr", ln.Addr().String(),
			"proxyRules", strings.Join(d.Prefixes(), ","),
			"plugins", len(d.Plugins),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hub.CloseAll(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		slog.Info("Server stopped")
		return nil
	})

	return g.Wait()
}

// startEndpointWatcher starts the EndpointSlice watcher when a cluster is
// reachable. It returns nil when Kubernetes is unavailable.
func startEndpointWatcher(ctx context.Context, g *errgroup.Group, kubeconfig string, d *appconfig.Descriptor, store *upstream.Store, logger *slog.Logger) *upstream.EndpointWatcher {
	clientset, err := upstream.BuildClientset(kubeconfig)
	if err != nil {
		slog.Warn("endpoint watcher disabled: failed to create Kubernetes client", "error", err)
		return nil
	}

	w := upstream.NewEndpointWatcher(ctx, clientset, d.Server.Kubernetes.Namespace, store, logger)
	g.Go(func() error {
		w.Run(ctx)
		return nil
	})

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if !w.WaitForSync(waitCtx) {
		slog.Warn("timed out waiting for EndpointSlice sync", "namespace", d.Server.Kubernetes.Namespace)
	}
	w.SetRules(d.Server.Proxy)
	return w
}

// reloader applies descriptor reloads. A reload that fails to parse,
// validate or build keeps the last good descriptor serving.
type reloader struct {
	flags     []string
	environ   []string
	opts      server.Options
	handler   *server.Swappable
	store     *upstream.Store
	endpoints *upstream.EndpointWatcher
	hub       *livereload.Hub
	current   *appconfig.Descriptor
	fixedAddr bool
	logger    *slog.Logger
}

func (r *reloader) apply(d *appconfig.Descriptor, errs []error) {
	if len(errs) == 0 {
		errs = applyOverrides(d, r.flags, r.environ)
	}
	if len(errs) > 0 {
		metrics.IncConfigReload(false)
		for _, e := range errs {
			r.logger.Error("Config reload rejected, keeping last good config", "error", e)
		}
		return
	}

	h, err := server.New(d, r.opts)
	if err != nil {
		metrics.IncConfigReload(false)
		r.logger.Error("Config reload rejected, keeping last good config", "error", err)
		return
	}

	changes := appconfig.DiffRules(r.current, d)
	r.handler.Swap(h)
	for _, prefix := range r.store.Sync(d.Server.Proxy) {
		metrics.DeleteUpstream(prefix)
	}
	if r.endpoints != nil {
		r.endpoints.SetRules(d.Server.Proxy)
	}

	if !r.fixedAddr && d.ListenAddr() != r.current.ListenAddr() {
		r.logger.Warn("listen address changed, restart to apply", "current", r.current.ListenAddr(), "configured", d.ListenAddr())
	}
	if d.Server.Health != r.current.Server.Health {
		r.logger.Warn("health settings changed, restart to apply")
	}
	if !sameKubernetes(d.Server.Kubernetes, r.current.Server.Kubernetes) {
		r.logger.Warn("kubernetes settings changed, restart to apply")
	}

	r.current = d
	metrics.IncConfigReload(true)
	if r.hub != nil {
		r.hub.Broadcast(context.Background(), livereload.Event{Type: livereload.EventFullReload, Reason: "config"})
	}
	if changes.Empty() {
		r.logger.Info("Config reloaded", "rules", len(d.Server.Proxy))
		return
	}
	r.logger.Info("Config reloaded",
		"rules", len(d.Server.Proxy),
		"added", changes.Added,
		"removed", changes.Removed,
		"updated", changes.Updated,
	)
}

func sameKubernetes(a, b *appconfig.KubernetesConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
