// Package integration drives in-process node/proxy/health instances
// through their real network listeners, the way the prior system's
// test/integration package drove external binaries via os/exec — adapted
// here to spawn the components as goroutines instead, since nothing else
// in the pack spawns real subprocesses for its integration coverage.
package integration

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/meshkv/internal/cluster"
	"github.com/dreamware/meshkv/internal/durability"
	"github.com/dreamware/meshkv/internal/hashring"
	"github.com/dreamware/meshkv/internal/health"
	"github.com/dreamware/meshkv/internal/node"
	"github.com/dreamware/meshkv/internal/proxy"
	"github.com/dreamware/meshkv/internal/store"
)

// respClient is a minimal RESP2 client good enough to drive the system
// under test without pulling in a real client library.
type respClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialRESP(t *testing.T, addr string) *respClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &respClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *respClient) send(args ...string) string {
	c.t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(args))
	for _, a := range args {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(a), a)
	}
	_, err := c.conn.Write([]byte(b.String()))
	require.NoError(c.t, err)
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return c.readReply()
}

func (c *respClient) readReply() string {
	c.t.Helper()
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	line = strings.TrimRight(line, "\r\n")

	switch line[0] {
	case '+', '-', ':':
		return line
	case '$':
		n, err := strconv.Atoi(line[1:])
		require.NoError(c.t, err)
		if n == -1 {
			return "$-1"
		}
		buf := make([]byte, n+2)
		_, err = io.ReadFull(c.r, buf)
		require.NoError(c.t, err)
		return string(buf[:n])
	case '*':
		n, err := strconv.Atoi(line[1:])
		require.NoError(c.t, err)
		if n == -1 {
			return "*-1"
		}
		parts := make([]string, n)
		for i := 0; i < n; i++ {
			parts[i] = c.readReply()
		}
		return strings.Join(parts, ",")
	default:
		c.t.Fatalf("unexpected reply line %q", line)
		return ""
	}
}

// startNode wires a durable node.Server over a real TCP listener, backed
// by internal/store + internal/durability/§4.3.
func startNode(t *testing.T, dataDir, nodeID string) (cluster.NodeInfo, *store.Engine, *durability.WAL) {
	t.Helper()

	eng := store.NewEngine(4, 1000, cluster.EvictionLRU, nil, nil)
	wal, err := durability.Recover(dataDir, nodeID, eng, nil)
	require.NoError(t, err)
	eng2 := store.NewEngine(4, 1000, cluster.EvictionLRU, wal, nil)
	eng2.Restore(eng.Dump())
	eng2.StartSweepers(50 * time.Millisecond)
	t.Cleanup(eng2.Stop)

	srv := node.NewServer(nodeID, eng2, zap.NewNop(), nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(srv.Shutdown)

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return cluster.NodeInfo{ID: nodeID, Host: host, Port: port}, eng2, wal
}

// startHealthd wires an in-process registry + checker + REST surface,
// probing nodeInfo's real RESP listener with the PING protocol.
func startHealthd(t *testing.T, nodes []cluster.NodeInfo) *httptest.Server {
	t.Helper()
	registry := health.NewRegistry()
	checker := health.NewChecker(registry, health.Config{
		Interval:         20 * time.Millisecond,
		Timeout:          200 * time.Millisecond,
		FailureThreshold: 2,
	}, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go checker.Start(ctx, func() []cluster.NodeInfo { return nodes })
	t.Cleanup(func() {
		cancel()
		checker.Stop()
	})

	mux := http.NewServeMux()
	health.NewHandlers(registry).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// startProxy wires a proxy.Server over the ring/health-cache/router stack
// routing to nodes.
func startProxy(t *testing.T, nodes []cluster.NodeInfo, healthURL string) net.Listener {
	t.Helper()
	ring := hashring.NewManager(150)
	ring.Update(nodes)

	cache := health.NewCache(healthURL, time.Minute)
	router := proxy.NewRouter(ring, cache, zap.NewNop(), nil)
	router.SetNodes(nodes)
	t.Cleanup(router.Close)

	srv := proxy.NewServer(router, zap.NewNop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(srv.Shutdown)

	// Poll synchronously until every node reads HEALTHY so the first
	// request doesn't race the cache's first successful registry read.
	waitForHealthy(t, cache, nodes)
	return ln
}

func waitForHealthy(t *testing.T, cache *health.Cache, nodes []cluster.NodeInfo) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := cache.Poll(context.Background()); err == nil {
			allHealthy := true
			for _, n := range nodes {
				if cache.Status(n.ID) != health.StatusHealthy {
					allHealthy = false
				}
			}
			if allHealthy {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for nodes to become healthy in the proxy's cache")
}

// TestEndToEndSetGetThroughProxy exercises the full write path described in
// data-flow narrative: client -> proxy -> router -> backend ->
// node -> store, and the mirrored read path back.
func TestEndToEndSetGetThroughProxy(t *testing.T) {
	dataDir := t.TempDir()
	nodeInfo, _, _ := startNode(t, dataDir, "node-1")
	healthSrv := startHealthd(t, []cluster.NodeInfo{nodeInfo})
	proxyLn := startProxy(t, []cluster.NodeInfo{nodeInfo}, healthSrv.URL)

	client := dialRESP(t, proxyLn.Addr().String())
	require.Equal(t, "+OK", client.send("SET", "greeting", "hello"))
	require.Equal(t, "hello", client.send("GET", "greeting"))
	require.Equal(t, ":1", client.send("DEL", "greeting"))
	require.Equal(t, "$-1", client.send("GET", "greeting"))
}

// TestKillMinusNineAndRestart implements scenario 6: crash mid-write,
// then restart and confirm every applied key survives via WAL replay.
func TestKillMinusNineAndRestart(t *testing.T) {
	dataDir := t.TempDir()

	eng := store.NewEngine(4, 10_000, cluster.EvictionLRU, nil, nil)
	wal, err := durability.Recover(dataDir, "node-1", eng, nil)
	require.NoError(t, err)
	live := store.NewEngine(4, 10_000, cluster.EvictionLRU, wal, nil)
	live.Restore(eng.Dump())

	for i := 0; i < 50; i++ {
		require.NoError(t, live.Set(fmt.Sprintf("k%d", i), []byte(fmt.Sprintf("v%d", i)), 0))
	}
	_, err = durability.WriteSnapshot(dataDir, "node-1", live, wal, wal.Seq(), time.Now(), nil, true)
	require.NoError(t, err)

	for i := 50; i < 75; i++ {
		require.NoError(t, live.Set(fmt.Sprintf("k%d", i), []byte(fmt.Sprintf("v%d", i)), 0))
	}

	// Simulate kill -9: no Close(), no final snapshot, no graceful path.

	recoveredBase := store.NewEngine(4, 10_000, cluster.EvictionLRU, nil, nil)
	wal2, err := durability.Recover(dataDir, "node-1", recoveredBase, nil)
	require.NoError(t, err)
	defer wal2.Close()
	recovered := store.NewEngine(4, 10_000, cluster.EvictionLRU, wal2, nil)
	recovered.Restore(recoveredBase.Dump())

	for i := 0; i < 75; i++ {
		val, err := recovered.Get(fmt.Sprintf("k%d", i))
		require.NoError(t, err, "key k%d missing after recovery", i)
		require.Equal(t, fmt.Sprintf("v%d", i), string(val))
	}
}

// TestProxyGatesUnreachableNode implements the multi-process health-gating
// scenario: a node the checker has never successfully probed is never
// HEALTHY (UNKNOWN until FailureThreshold failed probes, UNHEALTHY after),
// and the proxy must refuse to route to it rather than silently trying
// anyway.
func TestProxyGatesUnreachableNode(t *testing.T) {
	downNode := cluster.NodeInfo{ID: "node-down", Host: "127.0.0.1", Port: 1}
	healthSrv := startHealthd(t, []cluster.NodeInfo{downNode})

	// Give the checker a chance to run at least once and confirm it
	// correctly fails to mark the unreachable node healthy.
	time.Sleep(100 * time.Millisecond)

	ring := hashring.NewManager(150)
	ring.Update([]cluster.NodeInfo{downNode})
	cache := health.NewCache(healthSrv.URL, time.Minute)
	require.NoError(t, cache.Poll(context.Background()))
	require.NotEqual(t, health.StatusHealthy, cache.Status(downNode.ID))

	router := proxy.NewRouter(ring, cache, zap.NewNop(), nil)
	router.SetNodes([]cluster.NodeInfo{downNode})
	defer router.Close()

	srv := proxy.NewServer(router, zap.NewNop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	defer srv.Shutdown()

	client := dialRESP(t, ln.Addr().String())
	reply := client.send("GET", "anything")
	require.True(t, strings.HasPrefix(reply, "-ERR node unhealthy"), "reply = %q", reply)
}

// TestSortedSetsThroughProxy exercises the ZADD/ZRANGE/ZSCORE family end to
// end, confirming the proxy relays the node's multi-element array replies
// byte-for-byte rather than re-encoding them.
func TestSortedSetsThroughProxy(t *testing.T) {
	dataDir := t.TempDir()
	nodeInfo, _, _ := startNode(t, dataDir, "node-1")
	healthSrv := startHealthd(t, []cluster.NodeInfo{nodeInfo})
	proxyLn := startProxy(t, []cluster.NodeInfo{nodeInfo}, healthSrv.URL)

	client := dialRESP(t, proxyLn.Addr().String())
	require.Equal(t, ":1", client.send("ZADD", "leaderboard", "10", "alice"))
	require.Equal(t, ":1", client.send("ZADD", "leaderboard", "20", "bob"))
	require.Equal(t, "alice,bob", client.send("ZRANGE", "leaderboard", "0", "-1"))
	require.Equal(t, "20", client.send("ZSCORE", "leaderboard", "bob"))
}
