package config

import (
	"fmt"
	"sort"
	"strings"
)

// EnvProxyPrefix marks environment variables carrying proxy overrides, e.g.
// DEVPROXY_PROXY_API=/api=http://localhost:8080.
const EnvProxyPrefix = "DEVPROXY_PROXY_"

// ProxyOverridesFromEnv extracts PREFIX=URL override entries from an
// environment listing in os.Environ format. Entries are returned sorted by
// variable name so application order is stable.
func ProxyOverridesFromEnv(environ []string) []string {
	type entry struct{ key, value string }
	var entries []entry
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvProxyPrefix) {
			continue
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		entries = append(entries, entry{key, value})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.value)
	}
	return out
}

// ApplyOverrides adds or replaces proxy rules from PREFIX=URL entries.
// Replacing keeps the existing rule's settings and swaps only the target;
// new rules get changeOrigin enabled. Invalid entries are skipped and
// reported.
func ApplyOverrides(d *Descriptor, overrides []string) []error {
	var errs []error
	for i, o := range overrides {
		prefix, target, ok := strings.Cut(o, "=")
		prefix = strings.TrimSpace(prefix)
		target = strings.TrimSpace(target)
		if !ok || prefix == "" || target == "" {
			errs = append(errs, fmt.Errorf("proxy override[%d]: expected PREFIX=URL, got %q", i, o))
			continue
		}
		if !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		if err := validateTarget(target); err != nil {
			errs = append(errs, fmt.Errorf("proxy override[%d]: %w", i, err))
			continue
		}

		if d.Server.Proxy == nil {
			d.Server.Proxy = make(map[string]ProxyRule)
		}
		rule, exists := d.Server.Proxy[prefix]
		if !exists {
			rule.ChangeOrigin = true
		}
		rule.Target = target
		d.Server.Proxy[prefix] = rule
	}
	return errs
}
