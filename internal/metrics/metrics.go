// Package metrics holds the dev server's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ProxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devproxy_proxy_requests_total",
		Help: "Total number of proxied requests by rule prefix and response code",
	}, []string{"prefix", "code"})

	ProxyErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devproxy_proxy_errors_total",
		Help: "Total number of proxied requests that failed upstream, by kind",
	}, []string{"prefix", "kind"})

	ProxyRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "devproxy_proxy_request_duration_seconds",
		Help:    "Duration of proxied requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"prefix"})

	ConfigReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devproxy_config_reloads_total",
		Help: "Total number of config reload attempts by result",
	}, []string{"result"})

	UpstreamUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "devproxy_upstream_up",
		Help: "Whether the last probe of a proxy target got an HTTP response (1) or not (0)",
	}, []string{"prefix"})
)

// ObserveProxyRequest records a completed proxied request.
func ObserveProxyRequest(prefix string, code int, d time.Duration) {
	ProxyRequestsTotal.WithLabelValues(prefix, strconv.Itoa(code)).Inc()
	ProxyRequestDuration.WithLabelValues(prefix).Observe(d.Seconds())
}

// IncProxyError records an upstream failure. kind is "unreachable" or "timeout".
func IncProxyError(prefix, kind string) {
	if kind == "" {
		kind = "unknown"
	}
	ProxyErrorsTotal.WithLabelValues(prefix, kind).Inc()
}

// IncConfigReload records a reload attempt; ok is false when the new
// descriptor was rejected.
func IncConfigReload(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	ConfigReloadsTotal.WithLabelValues(result).Inc()
}

// SetUpstreamUp records the probe result for a rule prefix.
func SetUpstreamUp(prefix string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	UpstreamUp.WithLabelValues(prefix).Set(v)
}

// DeleteUpstream drops the gauge for a prefix removed by a reload.
func DeleteUpstream(prefix string) {
	UpstreamUp.DeleteLabelValues(prefix)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
