// Package upstream tracks the reachability of proxy targets.
package upstream

import (
	"sort"
	"sync"
	"time"

	"github.com/rathix/devproxy/internal/config"
)

// Status is the reachability of a proxy target.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusReachable   Status = "reachable"
	StatusUnreachable Status = "unreachable"
)

// Upstream is the last known state of one proxy rule's target.
type Upstream struct {
	Prefix          string     `json:"prefix"`
	Target          string     `json:"target"`
	Status          Status     `json:"status"`
	HTTPCode        *int       `json:"httpCode,omitempty"`
	ResponseTimeMs  *int64     `json:"responseTimeMs,omitempty"`
	LastChecked     *time.Time `json:"lastChecked,omitempty"`
	LastStateChange *time.Time `json:"lastStateChange,omitempty"`
	LastError       *string    `json:"lastError,omitempty"`
	ReadyEndpoints  *int       `json:"readyEndpoints,omitempty"`
	TotalEndpoints  *int       `json:"totalEndpoints,omitempty"`
}

// Store is a concurrency-safe set of upstreams keyed by rule prefix.
type Store struct {
	mu        sync.RWMutex
	upstreams map[string]Upstream
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{upstreams: make(map[string]Upstream)}
}

// Sync makes the store mirror rules. Upstreams whose prefix and target are
// unchanged keep their state; everything else starts as unknown. It returns
// the prefixes that were dropped.
func (s *Store) Sync(rules map[string]config.ProxyRule) (removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for prefix := range s.upstreams {
		if _, ok := rules[prefix]; !ok {
			delete(s.upstreams, prefix)
			removed = append(removed, prefix)
		}
	}
	for prefix, rule := range rules {
		if existing, ok := s.upstreams[prefix]; ok && existing.Target == rule.Target {
			continue
		}
		s.upstreams[prefix] = Upstream{
			Prefix: prefix,
			Target: rule.Target,
			Status: StatusUnknown,
		}
	}
	sort.Strings(removed)
	return removed
}

// Get returns a copy of the upstream for prefix.
func (s *Store) Get(prefix string) (Upstream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.upstreams[prefix]
	if !ok {
		return Upstream{}, false
	}
	return u.DeepCopy(), true
}

// All returns a snapshot of all upstreams sorted by prefix.
func (s *Store) All() []Upstream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Upstream, 0, len(s.upstreams))
	for _, u := range s.upstreams {
		result = append(result, u.DeepCopy())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Prefix < result[j].Prefix })
	return result
}

// Update performs a read-modify-write on one upstream under the store lock.
// If prefix is unknown, fn is not called.
func (s *Store) Update(prefix string, fn func(*Upstream)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.upstreams[prefix]
	if !ok {
		return
	}
	fn(&u)
	s.upstreams[prefix] = u
}

// DeepCopy copies u including pointer fields.
func (u Upstream) DeepCopy() Upstream {
	cp := u
	if u.HTTPCode != nil {
		val := *u.HTTPCode
		cp.HTTPCode = &val
	}
	if u.ResponseTimeMs != nil {
		val := *u.ResponseTimeMs
		cp.ResponseTimeMs = &val
	}
	if u.LastChecked != nil {
		val := *u.LastChecked
		cp.LastChecked = &val
	}
	if u.LastStateChange != nil {
		val := *u.LastStateChange
		cp.LastStateChange = &val
	}
	if u.LastError != nil {
		val := *u.LastError
		cp.LastError = &val
	}
	if u.ReadyEndpoints != nil {
		val := *u.ReadyEndpoints
		cp.ReadyEndpoints = &val
	}
	if u.TotalEndpoints != nil {
		val := *u.TotalEndpoints
		cp.TotalEndpoints = &val
	}
	return cp
}
