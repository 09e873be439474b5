package upstream

import (
	"context"
	"testing"
	"time"

	discoveryv1 "k8s.io/api/discovery/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/rathix/devproxy/internal/config"
)

func boolPtr(b bool) *bool {
	return &b
}

func newTestEndpointSlice(name, namespace, serviceName string, readyCount, notReadyCount int) *discoveryv1.EndpointSlice {
	var endpoints []discoveryv1.Endpoint
	for range readyCount {
		endpoints = append(endpoints, discoveryv1.Endpoint{
			Conditions: discoveryv1.EndpointConditions{Ready: boolPtr(true)},
		})
	}
	for range notReadyCount {
		endpoints = append(endpoints, discoveryv1.Endpoint{
			Conditions: discoveryv1.EndpointConditions{Ready: boolPtr(false)},
		})
	}

	return &discoveryv1.EndpointSlice{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels: map[string]string{
				serviceNameLabel: serviceName,
			},
		},
		AddressType: discoveryv1.AddressTypeIPv4,
		Endpoints:   endpoints,
	}
}

func waitForEndpoints(t *testing.T, store *Store, prefix string, wantReady, wantTotal int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		u, ok := store.Get(prefix)
		if ok && u.ReadyEndpoints != nil && *u.ReadyEndpoints == wantReady && *u.TotalEndpoints == wantTotal {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	u, _ := store.Get(prefix)
	t.Fatalf("timed out waiting for %s endpoints %d/%d, got %+v", prefix, wantReady, wantTotal, u)
}

func TestAggregateEndpointReadiness(t *testing.T) {
	tests := []struct {
		name      string
		slices    []*discoveryv1.EndpointSlice
		wantReady int
		wantTotal int
	}{
		{name: "no slices"},
		{
			name:      "mixed readiness",
			slices:    []*discoveryv1.EndpointSlice{newTestEndpointSlice("es-1", "dev", "backend", 2, 1)},
			wantReady: 2,
			wantTotal: 3,
		},
		{
			name: "multiple slices",
			slices: []*discoveryv1.EndpointSlice{
				newTestEndpointSlice("es-1", "dev", "backend", 1, 0),
				newTestEndpointSlice("es-2", "dev", "backend", 0, 2),
			},
			wantReady: 1,
			wantTotal: 3,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ready, total := aggregateEndpointReadiness(tc.slices)
			if ready != tc.wantReady || total != tc.wantTotal {
				t.Errorf("got %d/%d, want %d/%d", ready, total, tc.wantReady, tc.wantTotal)
			}
		})
	}
}

func TestServiceNameForTarget(t *testing.T) {
	tests := []struct {
		target string
		want   string
		ok     bool
	}{
		{"http://backend:8080", "backend", true},
		{"http://backend.dev.svc.cluster.local:8080", "backend", true},
		{"http://127.0.0.1:8080", "", false},
		{"http://[::1]:8080", "", false},
		{"http://localhost:8080", "", false},
		{"::not a url", "", false},
	}
	for _, tc := range tests {
		got, ok := ServiceNameForTarget(tc.target)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ServiceNameForTarget(%q) = %q, %v; want %q, %v", tc.target, got, ok, tc.want, tc.ok)
		}
	}
}

func TestEndpointWatcher_TracksReadiness(t *testing.T) {
	clientset := fake.NewSimpleClientset(newTestEndpointSlice("backend-abc", "dev", "backend", 1, 1))
	store := NewStore()
	rules := config.Default().Server.Proxy
	store.Sync(rules)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewEndpointWatcher(ctx, clientset, "dev", store, nil)
	go w.Run(ctx)

	syncCtx, syncCancel := context.WithTimeout(ctx, 3*time.Second)
	defer syncCancel()
	if !w.WaitForSync(syncCtx) {
		t.Fatal("informer did not sync")
	}

	w.SetRules(rules)
	if w.ServiceCount() != 1 {
		t.Errorf("ServiceCount() = %d, want 1", w.ServiceCount())
	}
	waitForEndpoints(t, store, "/api", 1, 2)

	// A new slice for the same service is aggregated.
	_, err := clientset.DiscoveryV1().EndpointSlices("dev").Create(ctx,
		newTestEndpointSlice("backend-def", "dev", "backend", 2, 0), metav1.CreateOptions{})
	if err != nil {
		t.Fatalf("create EndpointSlice: %v", err)
	}
	waitForEndpoints(t, store, "/api", 3, 4)
}

func TestEndpointWatcher_SyncsBeforeRun(t *testing.T) {
	clientset := fake.NewSimpleClientset(newTestEndpointSlice("backend-abc", "dev", "backend", 2, 1))
	store := NewStore()
	rules := config.Default().Server.Proxy
	store.Sync(rules)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewEndpointWatcher(ctx, clientset, "dev", store, nil)

	syncCtx, syncCancel := context.WithTimeout(ctx, 3*time.Second)
	defer syncCancel()
	if !w.WaitForSync(syncCtx) {
		t.Fatal("informer did not sync without Run")
	}

	// The cache is populated, so SetRules records counts immediately.
	w.SetRules(rules)
	u, ok := store.Get("/api")
	if !ok || u.ReadyEndpoints == nil || *u.ReadyEndpoints != 2 || *u.TotalEndpoints != 3 {
		t.Errorf("expected 2/3 endpoints right after SetRules, got %+v", u)
	}
}

func TestEndpointWatcher_IgnoresOtherServicesAndNamespaces(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		newTestEndpointSlice("frontend-abc", "dev", "frontend", 3, 0),
		newTestEndpointSlice("backend-prod", "prod", "backend", 5, 0),
	)
	store := NewStore()
	rules := config.Default().Server.Proxy
	store.Sync(rules)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewEndpointWatcher(ctx, clientset, "dev", store, nil)
	go w.Run(ctx)

	syncCtx, syncCancel := context.WithTimeout(ctx, 3*time.Second)
	defer syncCancel()
	if !w.WaitForSync(syncCtx) {
		t.Fatal("informer did not sync")
	}
	w.SetRules(rules)

	waitForEndpoints(t, store, "/api", 0, 0)
}

func TestEndpointWatcher_SetRulesSkipsIPTargets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewEndpointWatcher(ctx, fake.NewSimpleClientset(), "dev", NewStore(), nil)
	w.SetRules(map[string]config.ProxyRule{
		"/api": {Target: "http://127.0.0.1:8080"},
		"/ws":  {Target: "http://sockets:9000"},
	})
	if w.ServiceCount() != 1 {
		t.Errorf("ServiceCount() = %d, want 1", w.ServiceCount())
	}
}
