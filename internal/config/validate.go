package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks every invariant of d and returns one error per invalid
// field. Field paths follow the descriptor layout, e.g.
// server.proxy["/api"].target.
func Validate(d *Descriptor) []error {
	if d == nil {
		return []error{fmt.Errorf("config: descriptor is nil")}
	}

	var errs []error

	seenPlugins := make(map[string]struct{}, len(d.Plugins))
	for i, p := range d.Plugins {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("plugins[%d].name: required field missing", i))
			continue
		}
		if _, dup := seenPlugins[name]; dup {
			errs = append(errs, fmt.Errorf("plugins[%d].name: duplicate plugin %q", i, name))
			continue
		}
		seenPlugins[name] = struct{}{}
	}

	if d.Base != "" && !strings.HasPrefix(d.Base, "/") {
		errs = append(errs, fmt.Errorf("base: must start with '/', got %q", d.Base))
	}

	if d.Server.Port < 0 || d.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: must be between 0 and 65535, got %d", d.Server.Port))
	}

	if d.Server.Frontend != "" {
		if err := validateTarget(d.Server.Frontend); err != nil {
			errs = append(errs, fmt.Errorf("server.frontend: %w", err))
		}
	}

	if iv := strings.TrimSpace(d.Server.Health.Interval); iv != "" {
		interval, err := time.ParseDuration(iv)
		if err != nil {
			errs = append(errs, fmt.Errorf("server.health.interval: invalid duration %q", iv))
		} else if interval < time.Second {
			errs = append(errs, fmt.Errorf("server.health.interval: must be at least 1s, got %q", iv))
		}
	}
	if hp := d.Server.Health.Path; hp != "" && !strings.HasPrefix(hp, "/") {
		errs = append(errs, fmt.Errorf("server.health.path: must start with '/', got %q", hp))
	}

	if k := d.Server.Kubernetes; k != nil && strings.TrimSpace(k.Namespace) == "" {
		errs = append(errs, fmt.Errorf("server.kubernetes.namespace: required field missing"))
	}

	// Prefixes differing only by a trailing slash route the same requests.
	normalized := make(map[string]string, len(d.Server.Proxy))
	for _, prefix := range d.Prefixes() {
		rule := d.Server.Proxy[prefix]
		field := fmt.Sprintf("server.proxy[%q]", prefix)

		if !strings.HasPrefix(prefix, "/") {
			errs = append(errs, fmt.Errorf("%s: prefix must start with '/'", field))
		} else if prefix != "/" {
			key := strings.TrimSuffix(prefix, "/")
			if other, dup := normalized[key]; dup {
				errs = append(errs, fmt.Errorf("%s: duplicate prefix, conflicts with %q", field, other))
			} else {
				normalized[key] = prefix
			}
		}

		if strings.TrimSpace(rule.Target) == "" {
			errs = append(errs, fmt.Errorf("%s.target: required field missing", field))
		} else if err := validateTarget(rule.Target); err != nil {
			errs = append(errs, fmt.Errorf("%s.target: %w", field, err))
		}

		if t := strings.TrimSpace(rule.Timeout); t != "" {
			timeout, err := time.ParseDuration(t)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s.timeout: invalid duration %q", field, t))
			} else if timeout <= 0 {
				errs = append(errs, fmt.Errorf("%s.timeout: must be positive, got %q", field, t))
			}
		}

		for name := range rule.Headers {
			if strings.TrimSpace(name) == "" {
				errs = append(errs, fmt.Errorf("%s.headers: empty header name", field))
			}
		}
	}

	return errs
}

// validateTarget requires an absolute http(s) URL with a host and no
// query or fragment.
func validateTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("URL %q must not contain a query or fragment", raw)
	}
	return nil
}
