package config

import (
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultHost and DefaultPort match the usual frontend dev server address.
	DefaultHost = "localhost"
	DefaultPort = 5173

	// DefaultProxyTimeout applies to proxy rules without an explicit timeout.
	DefaultProxyTimeout = 60 * time.Second

	// DefaultHealthInterval is used when health.interval is unset.
	DefaultHealthInterval = 30 * time.Second
)

// Default returns the built-in descriptor: the react plugin and a single
// /api rule forwarding to the backend container. The backend host name only
// resolves inside the compose network the dev server runs in.
//
// Every call returns a fresh value; callers may mutate it freely.
func Default() *Descriptor {
	return &Descriptor{
		Plugins: []PluginSpec{
			{Name: "react"},
		},
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
			Proxy: map[string]ProxyRule{
				"/api": {
					Target:       "http://backend:8080",
					ChangeOrigin: true,
				},
			},
		},
	}
}

// ListenAddr returns host:port for the server section, filling defaults.
func (d *Descriptor) ListenAddr() string {
	host := d.Server.Host
	port := d.Server.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Prefixes returns the proxy prefixes in sorted order.
func (d *Descriptor) Prefixes() []string {
	prefixes := make([]string, 0, len(d.Server.Proxy))
	for p := range d.Server.Proxy {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	return prefixes
}

// Clone returns a deep copy of d.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	out := *d
	if d.Plugins != nil {
		out.Plugins = make([]PluginSpec, len(d.Plugins))
		for i, p := range d.Plugins {
			out.Plugins[i] = PluginSpec{Name: p.Name, Options: cloneStrings(p.Options)}
		}
	}
	if d.Server.Proxy != nil {
		out.Server.Proxy = make(map[string]ProxyRule, len(d.Server.Proxy))
		for prefix, rule := range d.Server.Proxy {
			rule.Headers = cloneStrings(rule.Headers)
			out.Server.Proxy[prefix] = rule
		}
	}
	if d.Server.Kubernetes != nil {
		k := *d.Server.Kubernetes
		out.Server.Kubernetes = &k
	}
	return &out
}

// TimeoutDuration returns the rule timeout, or DefaultProxyTimeout when unset.
// Validate rejects unparsable values, so errors here fall back to the default.
func (r ProxyRule) TimeoutDuration() time.Duration {
	if strings.TrimSpace(r.Timeout) == "" {
		return DefaultProxyTimeout
	}
	d, err := time.ParseDuration(r.Timeout)
	if err != nil || d <= 0 {
		return DefaultProxyTimeout
	}
	return d
}

// IntervalDuration returns the probe interval, or DefaultHealthInterval when unset.
func (h HealthConfig) IntervalDuration() time.Duration {
	if strings.TrimSpace(h.Interval) == "" {
		return DefaultHealthInterval
	}
	d, err := time.ParseDuration(h.Interval)
	if err != nil || d < time.Second {
		return DefaultHealthInterval
	}
	return d
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
