// Command node runs a single meshkv storage node: a partitioned in-memory
// store served over RESP2, durably backed by a write-ahead log and
// periodic snapshots.
//
// Configuration:
//   - --host, --port: RESP listener bind address
//   - --node-id: unique identifier for this node, also the WAL/snapshot
//     file prefix under --data-dir
//   - --data-dir: root of this node's durable state (wal/, snapshots/)
//   - --max-size, --shards, --eviction-policy: store sizing and eviction
//   - --persistence-enabled: disable WAL/snapshot entirely for ephemeral runs
//   - --snapshot-interval: period between automatic snapshots
//   - --snapshot-compression: zstd-compress snapshot files (default on)
//   - --admin-addr: optional /metrics + /healthz listener
//   - --config: YAML file merged under explicit flags (flags win)
//
// Example usage:
//
//	./node --node-id=node-1 --host=0.0.0.0 --port=6381 --data-dir=/var/lib/meshkv/node-1
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/meshkv/internal/cluster"
	"github.com/dreamware/meshkv/internal/durability"
	"github.com/dreamware/meshkv/internal/metrics"
	"github.com/dreamware/meshkv/internal/node"
	"github.com/dreamware/meshkv/internal/store"
)

func main() {
	cfg := cluster.DefaultConfig()

	configPath := flag.String("config", "", "optional YAML config file, merged under explicit flags")
	host := flag.String("host", cfg.Host, "RESP listener bind host")
	port := flag.Int("port", cfg.Port, "RESP listener bind port")
	nodeID := flag.String("node-id", "", "unique node identifier (required)")
	dataDir := flag.String("data-dir", cfg.DataDir, "durable state directory")
	maxSize := flag.Int("max-size", cfg.MaxSize, "max entries per shard before eviction")
	shards := flag.Int("shards", cfg.Shards, "number of store shards (rounded up to a power of two)")
	evictionPolicy := flag.String("eviction-policy", string(cfg.EvictionPolicy), "lru|lfu|random|ttl")
	persistenceEnabled := flag.Bool("persistence-enabled", cfg.PersistenceOn, "enable WAL + snapshot durability")
	snapshotInterval := flag.Duration("snapshot-interval", 3*time.Minute, "period between automatic snapshots")
	snapshotCompression := flag.Bool("snapshot-compression", cfg.SnapshotCompress, "zstd-compress snapshot files on disk")
	adminAddr := flag.String("admin-addr", "", "optional admin HTTP listener for /metrics and /healthz (disabled if empty)")
	flag.Parse()

	if *configPath != "" {
		loaded, err := cluster.LoadYAML(*configPath, cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
		explicit := map[string]bool{}
		flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
		for name, val := range map[string]string{
			"host": cfg.Host, "port": strconv.Itoa(cfg.Port), "node-id": cfg.NodeID,
			"data-dir": cfg.DataDir, "max-size": strconv.Itoa(cfg.MaxSize), "shards": strconv.Itoa(cfg.Shards),
			"eviction-policy": string(cfg.EvictionPolicy), "admin-addr": cfg.AdminAddr,
			"persistence-enabled":  strconv.FormatBool(cfg.PersistenceOn),
			"snapshot-compression": strconv.FormatBool(cfg.SnapshotCompress),
		} {
			if !explicit[name] {
				_ = flag.Set(name, val)
			}
		}
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "node: build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if *nodeID == "" {
		sugar.Fatal("missing required --node-id")
	}
	policy := cluster.EvictionPolicy(*evictionPolicy)
	switch policy {
	case cluster.EvictionLRU, cluster.EvictionLFU, cluster.EvictionRandom, cluster.EvictionTTL:
	default:
		sugar.Fatalw("invalid --eviction-policy", "value", *evictionPolicy)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	eng, wal, err := buildEngine(*dataDir, *nodeID, *shards, *maxSize, policy, *persistenceEnabled, m)
	if err != nil {
		sugar.Fatalw("recovery failed", "error", err)
	}

	eng.StartSweepers(time.Second)
	defer eng.Stop()

	srv := node.NewServer(*nodeID, eng, logger.Named("node"), m)

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", *host, *port))
	if err != nil {
		sugar.Fatalw("listen failed", "addr", fmt.Sprintf("%s:%d", *host, *port), "error", err)
	}
	sugar.Infow("node listening", "node_id", *nodeID, "addr", ln.Addr().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := srv.Serve(ln)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	if *adminAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		admin := &http.Server{Addr: *adminAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return admin.Shutdown(shutdownCtx)
		})
	}

	if *persistenceEnabled && wal != nil {
		g.Go(func() error {
			ticker := time.NewTicker(*snapshotInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if _, err := durability.WriteSnapshot(*dataDir, *nodeID, eng, wal, wal.Seq(), time.Now(), m, *snapshotCompression); err != nil {
						sugar.Errorw("periodic snapshot failed", "error", err)
					}
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})

	<-gctx.Done()
	sugar.Info("shutting down, draining")

	if err := g.Wait(); err != nil {
		sugar.Errorw("component error during shutdown", "error", err)
	}

	if *persistenceEnabled && wal != nil {
		if _, err := durability.WriteSnapshot(*dataDir, *nodeID, eng, wal, wal.Seq(), time.Now(), m, *snapshotCompression); err != nil {
			sugar.Errorw("final snapshot failed", "error", err)
		}
	}
	sugar.Info("node stopped")
}

// buildEngine wires up a node's store recovery procedure:
// when persistence is enabled, recovery replays the latest snapshot and WAL
// tail into a throwaway, WAL-less engine, then that dump seeds the engine
// future writes actually append through (NewEngine wires the WALAppender
// at construction time, so the WAL-attached engine can't be the same one
// recovery loads into). With persistence disabled, buildEngine just
// returns a bare in-memory engine and a nil WAL.
func buildEngine(dataDir, nodeID string, shards, maxSize int, policy cluster.EvictionPolicy, persistenceEnabled bool, m *metrics.Metrics) (*store.Engine, *durability.WAL, error) {
	eng := store.NewEngine(shards, maxSize, policy, nil, m)
	if !persistenceEnabled {
		return eng, nil, nil
	}

	wal, err := durability.Recover(dataDir, nodeID, eng, m)
	if err != nil {
		return nil, nil, err
	}
	live := store.NewEngine(shards, maxSize, policy, wal, m)
	live.Restore(eng.Dump())
	return live, wal, nil
}
