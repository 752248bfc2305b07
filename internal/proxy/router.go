package proxy

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/meshkv/internal/cluster"
	"github.com/dreamware/meshkv/internal/hashring"
	"github.com/dreamware/meshkv/internal/health"
	"github.com/dreamware/meshkv/internal/metrics"
)

// ErrNoAvailableNodes is returned when the ring has no members.
var ErrNoAvailableNodes = errors.New("no available nodes")

// ErrNodeUnhealthy is returned when the health cache does not report the
// key's owning node as HEALTHY: UNHEALTHY, UNKNOWN, or any status once the
// cache's snapshot is stale. The
// router never silently re-routes to a different node: the data lives on
// exactly one node.
var ErrNodeUnhealthy = errors.New("node unhealthy")

// Router picks the single backend connection that owns a key, gated by
// the proxy's local health snapshot.
type Router struct {
	ring    *hashring.Manager
	health  *health.Cache
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	backends map[string]*Backend
}

// NewRouter builds a Router over ring and health. logger may be nil.
func NewRouter(ring *hashring.Manager, healthCache *health.Cache, logger *zap.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		ring:     ring,
		health:   healthCache,
		logger:   logger,
		metrics:  m,
		backends: make(map[string]*Backend),
	}
}

// SetNodes rebuilds the hash ring and ensures a Backend exists for every
// node; it never touches backends for nodes that remain, and closes
// connections to nodes that left.
func (r *Router) SetNodes(nodes []cluster.NodeInfo) {
	r.ring.Update(nodes)

	r.mu.Lock()
	defer r.mu.Unlock()

	current := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		current[n.ID] = true
		if _, ok := r.backends[n.ID]; !ok {
			r.backends[n.ID] = NewBackend(n, r.logger, r.metrics)
		}
	}
	for id, b := range r.backends {
		if !current[id] {
			b.Close()
			delete(r.backends, id)
		}
	}
}

// Route returns the backend owning key, after checking the health gate.
func (r *Router) Route(key string) (*Backend, error) {
	node, ok := r.ring.Lookup(key)
	if !ok {
		return nil, ErrNoAvailableNodes
	}
	r.metrics.IncRingLookup()

	switch r.health.Status(node.ID) {
	case health.StatusHealthy:
		// proceed
	default:
		return nil, ErrNodeUnhealthy
	}

	r.mu.RLock()
	b := r.backends[node.ID]
	r.mu.RUnlock()
	if b == nil {
		return nil, ErrNoAvailableNodes
	}
	return b, nil
}

// Close releases every backend connection.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.backends {
		b.Close()
	}
}
