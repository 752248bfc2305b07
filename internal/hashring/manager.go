package hashring

import (
	"sync/atomic"

	"github.com/dreamware/meshkv/internal/cluster"
)

// Manager holds the cluster's live ring behind an atomic pointer so that
// Lookup never observes a partially rebuilt ring: a membership change
// builds an entirely new Ring and swaps it in with a single atomic store
//.
type Manager struct {
	ring         atomic.Pointer[Ring]
	virtualNodes int
}

// NewManager returns a Manager with an empty ring. Call Update to populate
// it before the first Lookup.
func NewManager(virtualNodes int) *Manager {
	m := &Manager{virtualNodes: virtualNodes}
	m.ring.Store(New(nil, virtualNodes))
	return m
}

// Update rebuilds the ring for the given node set and atomically
// publishes it. Concurrent Lookup calls in flight during Update continue
// to see the prior ring to completion.
func (m *Manager) Update(nodes []cluster.NodeInfo) {
	m.ring.Store(New(nodes, m.virtualNodes))
}

// Current returns the ring currently in effect.
func (m *Manager) Current() *Ring {
	return m.ring.Load()
}

// Lookup routes key through the current ring.
func (m *Manager) Lookup(key string) (cluster.NodeInfo, bool) {
	return m.Current().Lookup(key)
}
