package hashring

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/dreamware/meshkv/internal/cluster"
)

// DefaultVirtualNodes is the default number of virtual positions per
// node, chosen to keep per-node load variance low without inflating the
// position table for small clusters.
const DefaultVirtualNodes = 150

// Ring is an immutable consistent hash ring over a fixed node set. Build a
// new Ring on every membership change and swap it in via Manager; never
// mutate a Ring in place.
type Ring struct {
	positions []uint64
	owners    []cluster.NodeInfo
	nodes     []cluster.NodeInfo
}

// New builds a ring placing each node at virtualNodes positions, one per
// hash of "nodeId#i" for i in [0, virtualNodes). virtualNodes <= 0 falls
// back to DefaultVirtualNodes.
func New(nodes []cluster.NodeInfo, virtualNodes int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}

	r := &Ring{
		nodes: append([]cluster.NodeInfo(nil), nodes...),
	}
	if len(nodes) == 0 {
		return r
	}

	r.positions = make([]uint64, 0, len(nodes)*virtualNodes)
	r.owners = make([]cluster.NodeInfo, 0, len(nodes)*virtualNodes)
	for _, n := range nodes {
		for i := 0; i < virtualNodes; i++ {
			pos := virtualPosition(n.ID, i)
			r.positions = append(r.positions, pos)
			r.owners = append(r.owners, n)
		}
	}

	sort.Sort(byPosition{r.positions, r.owners})
	return r
}

func virtualPosition(nodeID string, i int) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s#%d", nodeID, i))
}

// byPosition sorts positions and owners together, keeping each virtual
// position paired with the node it belongs to.
type byPosition struct {
	positions []uint64
	owners    []cluster.NodeInfo
}

func (b byPosition) Len() int      { return len(b.positions) }
func (b byPosition) Swap(i, j int) {
	b.positions[i], b.positions[j] = b.positions[j], b.positions[i]
	b.owners[i], b.owners[j] = b.owners[j], b.owners[i]
}
func (b byPosition) Less(i, j int) bool { return b.positions[i] < b.positions[j] }

// Lookup returns the node owning key: the node at the smallest position
// greater than or equal to hash(key), wrapping around to position 0 if
// the key's hash falls past every position on the ring. ok is false iff
// the ring has no nodes.
func (r *Ring) Lookup(key string) (node cluster.NodeInfo, ok bool) {
	if len(r.positions) == 0 {
		return cluster.NodeInfo{}, false
	}
	h := xxhash.Sum64String(key)
	i := sort.Search(len(r.positions), func(i int) bool { return r.positions[i] >= h })
	if i == len(r.positions) {
		i = 0
	}
	return r.owners[i], true
}

// NumNodes returns the count of distinct nodes in the ring.
func (r *Ring) NumNodes() int { return len(r.nodes) }

// Nodes returns a copy of the ring's distinct node set.
func (r *Ring) Nodes() []cluster.NodeInfo {
	return append([]cluster.NodeInfo(nil), r.nodes...)
}
