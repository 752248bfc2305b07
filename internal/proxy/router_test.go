package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dreamware/meshkv/internal/cluster"
	"github.com/dreamware/meshkv/internal/hashring"
	"github.com/dreamware/meshkv/internal/health"
)

func newTestRouter(t *testing.T, nodes []cluster.NodeInfo, healthyIDs []string) *Router {
	t.Helper()
	reg := health.NewRegistry()
	for _, id := range healthyIDs {
		reg.ReportSuccess(id, time.Now(), time.Millisecond)
	}
	mux := http.NewServeMux()
	health.NewHandlers(reg).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cache := health.NewCache(srv.URL, time.Minute)
	if err := cache.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	ring := hashring.NewManager(150)
	r := NewRouter(ring, cache, nil, nil)
	r.SetNodes(nodes)
	return r
}

func TestRouterNoNodesReturnsNoAvailable(t *testing.T) {
	r := newTestRouter(t, nil, nil)
	if _, err := r.Route("k"); err != ErrNoAvailableNodes {
		t.Fatalf("Route = %v, want ErrNoAvailableNodes", err)
	}
}

func TestRouterUnhealthyNodeIsGated(t *testing.T) {
	nodes := []cluster.NodeInfo{{ID: "n1", Host: "127.0.0.1", Port: 1}}
	r := newTestRouter(t, nodes, nil) // n1 never reported healthy -> UNKNOWN

	if _, err := r.Route("k"); err != ErrNodeUnhealthy {
		t.Fatalf("Route = %v, want ErrNodeUnhealthy", err)
	}
}

func TestRouterHealthyNodeRoutes(t *testing.T) {
	nodes := []cluster.NodeInfo{{ID: "n1", Host: "127.0.0.1", Port: 1}}
	r := newTestRouter(t, nodes, []string{"n1"})

	b, err := r.Route("k")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if b.Node().ID != "n1" {
		t.Fatalf("Route backend = %s, want n1", b.Node().ID)
	}
}
