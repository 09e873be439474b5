// Package proxy forwards dev server requests to backend services by path
// prefix.
package proxy

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rathix/devproxy/internal/config"
)

// Route is a compiled proxy rule.
type Route struct {
	Prefix string
	Rule   config.ProxyRule
	target *url.URL
}

// Target returns a copy of the parsed target URL.
func (r Route) Target() *url.URL {
	u := *r.target
	return &u
}

// ForwardURL maps an incoming request URL onto the route's target. The
// full request path is kept unless the rule strips its prefix; the target's
// own path, if any, is prepended. Percent-encoding and the query are
// preserved.
func (r Route) ForwardURL(in *url.URL) *url.URL {
	reqPath, reqRaw := in.Path, in.EscapedPath()
	if r.Rule.StripPrefix {
		reqPath = withLeadingSlash(strings.TrimPrefix(reqPath, r.Prefix))
		if rest, ok := strings.CutPrefix(reqRaw, r.Prefix); ok {
			reqRaw = withLeadingSlash(rest)
		} else {
			// The prefix itself was sent encoded.
			reqRaw = (&url.URL{Path: reqPath}).EscapedPath()
		}
	}

	out := &url.URL{
		Scheme:   r.target.Scheme,
		Host:     r.target.Host,
		Path:     joinPath(r.target.Path, reqPath),
		RawQuery: in.RawQuery,
	}
	// EscapedPath ignores RawPath unless it is a valid encoding of Path.
	if raw := joinPath(r.target.EscapedPath(), reqRaw); raw != out.Path {
		out.RawPath = raw
	}
	return out
}

// OutboundHost returns the Host header for the forwarded request: the
// target host when the rule changes origin, otherwise the inbound host.
func (r Route) OutboundHost(inbound string) string {
	if r.Rule.ChangeOrigin {
		return r.target.Host
	}
	return inbound
}

func withLeadingSlash(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(p, "/")
}

// Table selects routes by longest matching path prefix.
type Table struct {
	routes []Route
}

// NewTable compiles rules. Targets must already be valid; a target that
// fails to parse is reported with its prefix.
func NewTable(rules map[string]config.ProxyRule) (*Table, error) {
	routes := make([]Route, 0, len(rules))
	for prefix, rule := range rules {
		u, err := url.Parse(rule.Target)
		if err != nil {
			return nil, fmt.Errorf("proxy rule %q: invalid target: %w", prefix, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("proxy rule %q: target %q must be an absolute URL", prefix, rule.Target)
		}
		routes = append(routes, Route{Prefix: prefix, Rule: rule, target: u})
	}

	sort.Slice(routes, func(i, j int) bool {
		if len(routes[i].Prefix) != len(routes[j].Prefix) {
			return len(routes[i].Prefix) > len(routes[j].Prefix)
		}
		return routes[i].Prefix < routes[j].Prefix
	})
	return &Table{routes: routes}, nil
}

// Match returns the route with the longest prefix of path.
func (t *Table) Match(path string) (Route, bool) {
	for _, r := range t.routes {
		if strings.HasPrefix(path, r.Prefix) {
			return r, true
		}
	}
	return Route{}, false
}

// Routes returns the compiled routes, longest prefix first.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(t.routes)
}
