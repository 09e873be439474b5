package upstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"

	discoveryv1 "k8s.io/api/discovery/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/rathix/devproxy/internal/config"
)

const serviceNameLabel = "kubernetes.io/service-name"

// BuildClientset creates a Kubernetes clientset from a kubeconfig path.
// If kubeconfigPath is empty, in-cluster config is used.
func BuildClientset(kubeconfigPath string) (kubernetes.Interface, error) {
	restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build kubeconfig: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return clientset, nil
}

// EndpointStateUpdater is the consumer-defined interface for recording
// endpoint readiness on an upstream.
type EndpointStateUpdater interface {
	Update(prefix string, fn func(*Upstream))
}

// EndpointWatcher tracks EndpointSlice readiness for proxy targets that
// name Kubernetes services, e.g. http://backend:8080 -> service "backend".
type EndpointWatcher struct {
	namespace string
	updater   EndpointStateUpdater
	logger    *slog.Logger

	factory  informers.SharedInformerFactory
	informer cache.SharedIndexInformer

	mu sync.RWMutex
	// serviceToPrefixes maps a service name to the rule prefixes targeting it.
	serviceToPrefixes map[string]map[string]struct{}
}

// NewEndpointWatcher creates a watcher scoped to namespace and starts its
// informer, which stops when ctx is cancelled. If logger is nil, a no-op
// logger is used.
func NewEndpointWatcher(ctx context.Context, clientset kubernetes.Interface, namespace string, updater EndpointStateUpdater, logger *slog.Logger) *EndpointWatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	factory := informers.NewSharedInformerFactoryWithOptions(clientset, 0, informers.WithNamespace(namespace))
	informer := factory.Discovery().V1().EndpointSlices().Informer()

	e := &EndpointWatcher{
		namespace:         namespace,
		updater:           updater,
		logger:            logger,
		factory:           factory,
		informer:          informer,
		serviceToPrefixes: make(map[string]map[string]struct{}),
	}

	informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    e.onAdd,
		UpdateFunc: e.onUpdate,
		DeleteFunc: e.onDelete,
	})

	factory.Start(ctx.Done())

	return e
}

// Run blocks until ctx is cancelled, then waits for the informer to stop.
func (e *EndpointWatcher) Run(ctx context.Context) {
	e.logger.Info("watching EndpointSlices", "namespace", e.namespace)
	<-ctx.Done()
	e.factory.Shutdown()
}

// WaitForSync waits for the informer cache to sync.
func (e *EndpointWatcher) WaitForSync(ctx context.Context) bool {
	syncStatus := e.factory.WaitForCacheSync(ctx.Done())
	for _, synced := range syncStatus {
		if !synced {
			return false
		}
	}
	return len(syncStatus) > 0
}

// SetRules replaces the watched services with those named by rules and
// refreshes readiness for each of them.
func (e *EndpointWatcher) SetRules(rules map[string]config.ProxyRule) {
	mapping := make(map[string]map[string]struct{})
	for prefix, rule := range rules {
		service, ok := ServiceNameForTarget(rule.Target)
		if !ok {
			continue
		}
		if _, exists := mapping[service]; !exists {
			mapping[service] = make(map[string]struct{})
		}
		mapping[service][prefix] = struct{}{}
	}

	e.mu.Lock()
	e.serviceToPrefixes = mapping
	e.mu.Unlock()

	for service := range mapping {
		e.triggerUpdate(service)
	}
}

// ServiceNameForTarget derives the Kubernetes service name from a target
// URL: the first label of a non-IP host name.
func ServiceNameForTarget(target string) (string, bool) {
	u, err := url.Parse(target)
	if err != nil {
		return "", false
	}
	host := u.Hostname()
	if host == "" || net.ParseIP(host) != nil || host == "localhost" {
		return "", false
	}
	name, _, _ := strings.Cut(host, ".")
	return name, name != ""
}

func (e *EndpointWatcher) onAdd(obj interface{}) {
	e.handleEvent(obj)
}

func (e *EndpointWatcher) onUpdate(_, newObj interface{}) {
	e.handleEvent(newObj)
}

func (e *EndpointWatcher) onDelete(obj interface{}) {
	e.handleEvent(obj)
}

func (e *EndpointWatcher) handleEvent(obj interface{}) {
	slice, ok := obj.(*discoveryv1.EndpointSlice)
	if !ok {
		tombstone, ok := obj.(cache.DeletedFinalStateUnknown)
		if !ok {
			return
		}
		slice, ok = tombstone.Obj.(*discoveryv1.EndpointSlice)
		if !ok {
			return
		}
	}

	serviceName := slice.Labels[serviceNameLabel]
	if serviceName == "" {
		return
	}
	e.triggerUpdate(serviceName)
}

func (e *EndpointWatcher) triggerUpdate(serviceName string) {
	e.mu.RLock()
	prefixSet, ok := e.serviceToPrefixes[serviceName]
	if !ok || len(prefixSet) == 0 {
		e.mu.RUnlock()
		return
	}
	prefixes := make([]string, 0, len(prefixSet))
	for p := range prefixSet {
		prefixes = append(prefixes, p)
	}
	e.mu.RUnlock()

	lister := e.factory.Discovery().V1().EndpointSlices().Lister()
	selector := labels.SelectorFromSet(labels.Set{serviceNameLabel: serviceName})
	slices, err := lister.EndpointSlices(e.namespace).List(selector)
	if err != nil {
		e.logger.Warn("failed to list EndpointSlices", "namespace", e.namespace, "service", serviceName, "error", err)
		return
	}

	ready, total := aggregateEndpointReadiness(slices)
	for _, prefix := range prefixes {
		e.updater.Update(prefix, func(u *Upstream) {
			prevReady := u.ReadyEndpoints
			u.ReadyEndpoints = &ready
			u.TotalEndpoints = &total
			if ready == 0 && (prevReady == nil || *prevReady > 0) {
				e.logger.Warn("no ready endpoints for proxy target",
					"prefix", prefix,
					"service", serviceName,
					"namespace", e.namespace,
					"total", total,
				)
			}
		})
	}
}

// ServiceCount returns the number of services being watched.
func (e *EndpointWatcher) ServiceCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.serviceToPrefixes)
}

// aggregateEndpointReadiness counts ready and total endpoints across all slices.
func aggregateEndpointReadiness(slices []*discoveryv1.EndpointSlice) (ready, total int) {
	for _, slice := range slices {
		for _, ep := range slice.Endpoints {
			total++
			if ep.Conditions.Ready != nil && *ep.Conditions.Ready {
				ready++
			}
		}
	}
	return ready, total
}
