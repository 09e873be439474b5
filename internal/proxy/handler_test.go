package proxy

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rathix/devproxy/internal/config"
)

func startLocalHTTPServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping network-bound test: cannot bind loopback socket: %v", err)
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener = ln
	srv.Start()
	return srv
}

// seenRequest is what the fake backend reports back about the forwarded request.
type seenRequest struct {
	Path          string `json:"path"`
	RequestURI    string `json:"requestURI"`
	Query         string `json:"query"`
	Host          string `json:"host"`
	ForwardedFor  string `json:"forwardedFor"`
	ForwardedHost string `json:"forwardedHost"`
	DevUser       string `json:"devUser"`
}

func newEchoBackend(t *testing.T) *httptest.Server {
	t.Helper()
	return startLocalHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(seenRequest{
			Path:          r.URL.Path,
			RequestURI:    r.RequestURI,
			Query:         r.URL.RawQuery,
			Host:          r.Host,
			ForwardedFor:  r.Header.Get("X-Forwarded-For"),
			ForwardedHost: r.Header.Get("X-Forwarded-Host"),
			DevUser:       r.Header.Get("X-Dev-User"),
		})
	}))
}

func newTestHandler(t *testing.T, rules map[string]config.ProxyRule, fallback http.Handler) *Handler {
	t.Helper()
	table, err := NewTable(rules)
	require.NoError(t, err)
	transport := &http.Transport{}
	t.Cleanup(transport.CloseIdleConnections)
	return NewHandler(table, fallback, nil, WithTransport(transport))
}

func decodeSeen(t *testing.T, rec *httptest.ResponseRecorder) seenRequest {
	t.Helper()
	var seen seenRequest
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&seen))
	return seen
}

func TestHandler_ForwardsFullPathWithChangeOrigin(t *testing.T) {
	backend := newEchoBackend(t)
	defer backend.Close()
	backendHost := strings.TrimPrefix(backend.URL, "http://")

	h := newTestHandler(t, map[string]config.ProxyRule{
		"/api": {Target: backend.URL, ChangeOrigin: true},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "http://localhost:5173/api/users?page=2", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	seen := decodeSeen(t, rec)
	assert.Equal(t, "/api/users", seen.Path)
	assert.Equal(t, "page=2", seen.Query)
	assert.Equal(t, backendHost, seen.Host)
	assert.Equal(t, "localhost:5173", seen.ForwardedHost)
	assert.NotEmpty(t, seen.ForwardedFor)
}

func TestHandler_PreservesEncodedPath(t *testing.T) {
	backend := newEchoBackend(t)
	defer backend.Close()

	h := newTestHandler(t, map[string]config.ProxyRule{
		"/api": {Target: backend.URL, ChangeOrigin: true},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "http://localhost:5173/api/files/a%2Fb?x=1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/api/files/a%2Fb?x=1", decodeSeen(t, rec).RequestURI)
}

func TestHandler_KeepsInboundHostWithoutChangeOrigin(t *testing.T) {
	backend := newEchoBackend(t)
	defer backend.Close()

	h := newTestHandler(t, map[string]config.ProxyRule{
		"/api": {Target: backend.URL},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "http://localhost:5173/api/users", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "localhost:5173", decodeSeen(t, rec).Host)
}

func TestHandler_StripPrefixAndHeaders(t *testing.T) {
	backend := newEchoBackend(t)
	defer backend.Close()

	h := newTestHandler(t, map[string]config.ProxyRule{
		"/api": {
			Target:      backend.URL,
			StripPrefix: true,
			Headers:     map[string]string{"x-dev-user": "alice"},
		},
	}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	seen := decodeSeen(t, rec)
	assert.Equal(t, "/users", seen.Path)
	assert.Equal(t, "alice", seen.DevUser)
}

func TestHandler_UnmatchedGoesToFallback(t *testing.T) {
	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("frontend:" + r.URL.Path))
	})
	h := newTestHandler(t, config.Default().Server.Proxy, fallback)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "frontend:/health", rec.Body.String())
}

func TestHandler_NilFallbackIs404(t *testing.T) {
	h := newTestHandler(t, config.Default().Server.Proxy, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_UpstreamUnreachableIsBadGateway(t *testing.T) {
	// Grab a free port and close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping network-bound test: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	h := newTestHandler(t, map[string]config.ProxyRule{
		"/api": {Target: "http://" + addr, ChangeOrigin: true},
	}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "unreachable")
}

func TestHandler_UpstreamTimeoutIsGatewayTimeout(t *testing.T) {
	backend := startLocalHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer backend.Close()

	h := newTestHandler(t, map[string]config.ProxyRule{
		"/api": {Target: backend.URL, Timeout: "50ms"},
	}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/slow", nil))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestHandler_WebsocketRefusedWhenDisabled(t *testing.T) {
	h := newTestHandler(t, config.Default().Server.Proxy, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/socket", nil)
	req.Header.Set("Connection", "keep-alive, Upgrade")
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_PostBodyForwarded(t *testing.T) {
	backend := startLocalHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		w.Write(body)
	}))
	defer backend.Close()

	h := newTestHandler(t, map[string]config.ProxyRule{"/api": {Target: backend.URL, ChangeOrigin: true}}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"name":"ada"}`)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"name":"ada"}`, rec.Body.String())
}

func TestIsUpgrade(t *testing.T) {
	tests := []struct {
		connection string
		upgrade    string
		want       bool
	}{
		{"Upgrade", "websocket", true},
		{"keep-alive, upgrade", "websocket", true},
		{"keep-alive", "websocket", false},
		{"Upgrade", "", false},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.connection != "" {
			req.Header.Set("Connection", tc.connection)
		}
		if tc.upgrade != "" {
			req.Header.Set("Upgrade", tc.upgrade)
		}
		assert.Equal(t, tc.want, isUpgrade(req), "Connection=%q Upgrade=%q", tc.connection, tc.upgrade)
	}
}

func TestHandler_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	backend := newEchoBackend(t)
	transport := &http.Transport{}
	table, err := NewTable(map[string]config.ProxyRule{"/api": {Target: backend.URL}})
	require.NoError(t, err)
	h := NewHandler(table, nil, nil, WithTransport(transport))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	transport.CloseIdleConnections()
	backend.Close()
}
