package health

import (
	"context"
	"sync"
	"time"

	"github.com/dreamware/meshkv/internal/cluster"
)

// Cache is a proxy's local, read-only snapshot of the health registry
//: it polls the registry's REST
// surface at its own cadence and answers Status lookups from the last
// successful poll, without ever touching a backend node directly.
type Cache struct {
	registryURL string
	staleAfter  time.Duration

	mu       sync.RWMutex
	statuses map[string]Status
	polledAt time.Time
}

// NewCache builds a Cache polling registryURL (the health service's base
// URL, e.g. "http://healthd:8090"). staleAfter is the snapshot's maximum
// age before lookups degrade to UNKNOWN (default 2x the checker's
// interval, T_stale).
func NewCache(registryURL string, staleAfter time.Duration) *Cache {
	return &Cache{
		registryURL: registryURL,
		staleAfter:  staleAfter,
		statuses:    make(map[string]Status),
	}
}

// Poll fetches the current healthy and unhealthy node sets and replaces
// the local snapshot. A node present in neither response is treated as
// UNKNOWN by Status.
func (c *Cache) Poll(ctx context.Context) error {
	var healthy, unhealthy []Record
	if err := cluster.GetJSON(ctx, c.registryURL+"/health/healthy", &healthy); err != nil {
		return err
	}
	if err := cluster.GetJSON(ctx, c.registryURL+"/health/unhealthy", &unhealthy); err != nil {
		return err
	}

	next := make(map[string]Status, len(healthy)+len(unhealthy))
	for _, r := range healthy {
		next[r.NodeID] = StatusHealthy
	}
	for _, r := range unhealthy {
		next[r.NodeID] = StatusUnhealthy
	}

	c.mu.Lock()
	c.statuses = next
	c.polledAt = time.Now()
	c.mu.Unlock()
	return nil
}

// Run polls on interval until ctx is canceled. Poll errors are reported
// via onErr (nil is a valid no-op sink) and do not stop the loop — a
// single failed poll just leaves the snapshot to age toward stale.
func (c *Cache) Run(ctx context.Context, interval time.Duration, onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := c.Poll(ctx); err != nil && onErr != nil {
		onErr(err)
	}

	for {
		select {
		case <-ticker.C:
			if err := c.Poll(ctx); err != nil && onErr != nil {
				onErr(err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Status returns the cached status for nodeID. A snapshot older than
// staleAfter, or a node absent from the snapshot entirely, reports
// UNKNOWN — never HEALTHY, since the gate in must fail closed.
func (c *Cache) Status(nodeID string) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.polledAt.IsZero() || time.Since(c.polledAt) > c.staleAfter {
		return StatusUnknown
	}
	if s, ok := c.statuses[nodeID]; ok {
		return s
	}
	return StatusUnknown
}
