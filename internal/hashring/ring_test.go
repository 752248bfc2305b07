package hashring

import (
	"strconv"
	"testing"

	"github.com/dreamware/meshkv/internal/cluster"
)

func testNodes(ids ...string) []cluster.NodeInfo {
	out := make([]cluster.NodeInfo, len(ids))
	for i, id := range ids {
		out[i] = cluster.NodeInfo{ID: id, Host: "127.0.0.1", Port: 6380 + i}
	}
	return out
}

func TestRingEmptyHasNoOwner(t *testing.T) {
	r := New(nil, 150)
	if _, ok := r.Lookup("anything"); ok {
		t.Fatal("expected no owner for an empty ring")
	}
}

func TestRingSingleNodeOwnsEverything(t *testing.T) {
	r := New(testNodes("n1"), 150)
	for i := 0; i < 50; i++ {
		node, ok := r.Lookup("key" + strconv.Itoa(i))
		if !ok || node.ID != "n1" {
			t.Fatalf("Lookup(key%d) = %+v, %v; want n1", i, node, ok)
		}
	}
}

func TestRingLookupDeterministic(t *testing.T) {
	r := New(testNodes("n1", "n2", "n3"), 150)
	first, ok := r.Lookup("user:123")
	if !ok {
		t.Fatal("expected an owner")
	}
	for i := 0; i < 10; i++ {
		again, ok := r.Lookup("user:123")
		if !ok || again.ID != first.ID {
			t.Fatalf("Lookup not stable: got %s, want %s", again.ID, first.ID)
		}
	}
}

func TestRingRemovalOnlyMovesAffectedKeys(t *testing.T) {
	before := New(testNodes("n1", "n2", "n3"), 150)
	after := New(testNodes("n1", "n3"), 150)

	keys := make([]string, 200)
	for i := range keys {
		keys[i] = "key:" + strconv.Itoa(i)
	}

	for _, k := range keys {
		prevOwner, _ := before.Lookup(k)
		newOwner, _ := after.Lookup(k)
		if prevOwner.ID != "n2" && prevOwner.ID != newOwner.ID {
			t.Fatalf("key %q owned by %s before removal moved to %s despite its owner surviving", k, prevOwner.ID, newOwner.ID)
		}
	}
}

func TestRingDistributionIsRoughlyBalanced(t *testing.T) {
	r := New(testNodes("n1", "n2", "n3"), 150)
	counts := map[string]int{}
	const n = 3000
	for i := 0; i < n; i++ {
		node, _ := r.Lookup("k" + strconv.Itoa(i))
		counts[node.ID]++
	}
	for id, c := range counts {
		frac := float64(c) / float64(n)
		if frac < 0.15 || frac > 0.55 {
			t.Fatalf("node %s got %.2f fraction of keys, want roughly 1/3", id, frac)
		}
	}
}

func TestRingNodesAndNumNodes(t *testing.T) {
	r := New(testNodes("n1", "n2"), 150)
	if r.NumNodes() != 2 {
		t.Fatalf("NumNodes = %d, want 2", r.NumNodes())
	}
	if len(r.Nodes()) != 2 {
		t.Fatalf("Nodes() len = %d, want 2", len(r.Nodes()))
	}
}
